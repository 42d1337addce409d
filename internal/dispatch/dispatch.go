// Package dispatch runs keyed units of work with a bounded, adjustable
// number of goroutines and reports their lifecycle over a single channel.
//
// Each executed unit produces exactly one Started event followed by exactly
// one Finished event, both sent from the goroutine running the unit. Units
// still pending when CancelAll is called are discarded without events.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mediacheck/mediacheck/internal/errors"
)

// eventBuffer bounds how far workers can run ahead of the consumer.
const eventBuffer = 64

// Outcome is what a unit reports when it finishes.
type Outcome struct {
	Success bool
	Details string
	// Path is set by units that relocate a file.
	Path string
	Err  error
}

// Task is the body of a unit. It receives the dispatcher's context, which is
// only cancelled by Stop.
type Task func(ctx context.Context) Outcome

// Unit is one schedulable piece of work. Key must be unique among the units
// the dispatcher currently owns.
type Unit struct {
	Key  string
	Task Task
}

// EventKind tells a unit's start from its completion.
type EventKind int

const (
	Started EventKind = iota + 1
	Finished
)

func (k EventKind) String() string {
	switch k {
	case Started:
		return "started"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event reports that the unit with Key started or finished. Outcome is
// only set on Finished.
type Event struct {
	Kind    EventKind
	Key     string
	Outcome Outcome
}

// Dispatcher is a bounded worker pool with a FIFO backlog.
type Dispatcher struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.SugaredLogger
	events chan Event

	mu      sync.Mutex
	pending []Unit
	owned   map[string]struct{}
	running int
	limit   int
	closed  bool
	idle    chan struct{}
}

// New returns a dispatcher running at most limit units at once.
func New(ctx context.Context, limit int, logger *zap.SugaredLogger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(ctx)
	idle := make(chan struct{})
	close(idle)
	return &Dispatcher{
		ctx:    ctx,
		cancel: cancel,
		log:    logger.Named("dispatch"),
		events: make(chan Event, eventBuffer),
		owned:  make(map[string]struct{}),
		limit:  max(limit, 1),
		idle:   idle,
	}
}

// Events returns the channel carrying Started and Finished events.
func (d *Dispatcher) Events() <-chan Event {
	return d.events
}

// Submit queues u for execution.
func (d *Dispatcher) Submit(u Unit) error {
	if u.Task == nil {
		return errors.Wrapf(errors.ErrInvalidArgument, "unit %s has no task", u.Key)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errors.Wrapf(errors.ErrClosed, "submit %s", u.Key)
	}
	if _, dup := d.owned[u.Key]; dup {
		return errors.Wrapf(errors.ErrInvalidArgument, "unit %s already submitted", u.Key)
	}
	d.owned[u.Key] = struct{}{}
	d.pending = append(d.pending, u)
	d.dispatchLocked()
	return nil
}

// SetLimit changes the concurrency bound. Running units are never
// preempted; a lower limit only delays future starts.
func (d *Dispatcher) SetLimit(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.limit = max(n, 1)
	d.log.Debugw("limit changed", "limit", d.limit, "running", d.running)
	d.dispatchLocked()
}

// Limit returns the current concurrency limit.
func (d *Dispatcher) Limit() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.limit
}

// Active returns the number of executing units.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Pending returns the number of units waiting for a free slot.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// CancelAll discards every unit that has not started and returns their keys.
func (d *Dispatcher) CancelAll() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := make([]string, 0, len(d.pending))
	for _, u := range d.pending {
		keys = append(keys, u.Key)
		delete(d.owned, u.Key)
	}
	d.pending = nil
	if len(keys) > 0 {
		d.log.Debugw("discarded pending units", "count", len(keys))
	}
	return keys
}

// DrainAndWait blocks until no unit is executing or ctx is done.
// Callers must keep consuming Events while waiting.
func (d *Dispatcher) DrainAndWait(ctx context.Context) error {
	d.mu.Lock()
	idle := d.idle
	d.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "drain dispatcher")
	}
}

// Close rejects further submissions. Pending and running units continue.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// Stop cancels the context handed to running tasks. Events that cannot be
// delivered after Stop are dropped.
func (d *Dispatcher) Stop() {
	d.Close()
	d.cancel()
}

func (d *Dispatcher) dispatchLocked() {
	for d.running < d.limit && len(d.pending) > 0 {
		u := d.pending[0]
		d.pending[0] = Unit{}
		d.pending = d.pending[1:]
		if d.running == 0 {
			select {
			case <-d.idle:
				d.idle = make(chan struct{})
			default:
			}
		}
		d.running++
		go d.run(u)
	}
}

func (d *Dispatcher) run(u Unit) {
	defer d.done()

	if !d.emit(Event{Kind: Started, Key: u.Key}) {
		d.release(u.Key)
		return
	}
	out := d.execute(u)
	// The key is released before Finished so the consumer may resubmit it
	// as soon as it sees the event.
	d.release(u.Key)
	d.emit(Event{Kind: Finished, Key: u.Key, Outcome: out})
}

func (d *Dispatcher) execute(u Unit) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorw("unit panicked", "key", u.Key, "panic", r)
			out = Outcome{
				Details: fmt.Sprint(r),
				Err:     errors.AssertionFailedf("unit %s panicked: %v", u.Key, r),
			}
		}
	}()
	return u.Task(d.ctx)
}

func (d *Dispatcher) emit(ev Event) bool {
	select {
	case d.events <- ev:
		return true
	case <-d.ctx.Done():
		d.log.Debugw("event dropped after stop", "key", ev.Key, "kind", ev.Kind)
		return false
	}
}

func (d *Dispatcher) release(key string) {
	d.mu.Lock()
	delete(d.owned, key)
	d.mu.Unlock()
}

func (d *Dispatcher) done() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running--
	d.dispatchLocked()
	if d.running == 0 {
		close(d.idle)
	}
}
