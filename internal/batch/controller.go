// Package batch owns the job list and drives check runs through the
// dispatcher.
//
// All state lives on a single goroutine (the loop). Public methods send a
// closure to the loop and wait for its reply; dispatcher events arrive on
// the same loop, so job status, counters and the batch state are never
// touched concurrently.
package batch

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mediacheck/mediacheck/internal/checker"
	"github.com/mediacheck/mediacheck/internal/dispatch"
	"github.com/mediacheck/mediacheck/internal/errors"
	"github.com/mediacheck/mediacheck/internal/job"
	"github.com/mediacheck/mediacheck/internal/results"
)

const storeTimeout = 5 * time.Second

// Settings are the dispatch-time parameters of a run.
type Settings struct {
	Concurrency    int  `json:"concurrency"`
	MaxConcurrency int  `json:"max_concurrency"`
	FastCheck      bool `json:"fast_check"`
	FastSeconds    int  `json:"fast_seconds"`
}

const (
	MinFastSeconds     = 10
	MaxFastSeconds     = 600
	DefaultFastSeconds = 60
)

// Prober checks that the verification tool can be invoked.
type Prober interface {
	Probe(ctx context.Context) (checker.Tool, error)
}

// Option configures a Controller.
type Option func(*Controller)

// WithStore persists every job change to s.
func WithStore(s job.Store) Option {
	return func(c *Controller) { c.store = s }
}

// WithPublisher sets the receiver of controller events.
func WithPublisher(p Publisher) Option {
	return func(c *Controller) { c.pub = p }
}

// WithLogger sets the controller's logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Controller) { c.log = l }
}

// WithSettings sets the initial concurrency and fast-check settings.
func WithSettings(s Settings) Option {
	return func(c *Controller) { c.settings = s }
}

// WithProber overrides the prober used by VerifyTool. By default the
// checker is used when it implements Prober.
func WithProber(p Prober) Option {
	return func(c *Controller) { c.prober = p }
}

// Controller is the batch state machine. Create it with New and release it
// with Close.
type Controller struct {
	pool    *dispatch.Dispatcher
	checker checker.Checker
	prober  Prober
	store   job.Store
	pub     Publisher
	log     *zap.SugaredLogger

	cmds chan func()
	quit chan struct{}
	done chan struct{}

	closeOnce sync.Once
	closeErr  error

	// Everything below is owned by the loop goroutine.
	jobs      []*job.Job
	byID      map[string]*job.Job
	byPath    map[string]string
	seq       int64
	state     State
	run       int
	processed int
	target    int
	// submitted holds the IDs of jobs handed to the dispatcher whose
	// Finished event has not arrived yet.
	submitted   map[string]struct{}
	settings    Settings
	toolErr     error
	move        *moveRun
	lastSummary *results.Summary
	lastMove    *results.MoveSummary
	idleWaiters []chan struct{}
	closing     bool
}

// New wires a controller to an explicitly constructed dispatcher and starts
// its loop. The controller becomes the only consumer of pool.Events().
func New(pool *dispatch.Dispatcher, chk checker.Checker, opts ...Option) *Controller {
	c := &Controller{
		pool:      pool,
		checker:   chk,
		cmds:      make(chan func()),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		byID:      make(map[string]*job.Job),
		byPath:    make(map[string]string),
		submitted: make(map[string]struct{}),
		state:     StateIdle,
		settings:  Settings{Concurrency: pool.Limit(), FastSeconds: DefaultFastSeconds},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = zap.NewNop().Sugar()
	}
	c.log = c.log.Named("batch")
	if c.pub == nil {
		c.pub = nopPublisher{}
	}
	if c.prober == nil {
		if p, ok := chk.(Prober); ok {
			c.prober = p
		}
	}
	c.settings = normalizeSettings(c.settings)
	pool.SetLimit(c.settings.Concurrency)

	go c.loop()
	return c
}

func normalizeSettings(s Settings) Settings {
	if s.MaxConcurrency < 1 {
		s.MaxConcurrency = max(runtime.NumCPU(), s.Concurrency)
	}
	if s.Concurrency < 1 {
		s.Concurrency = max(1, runtime.NumCPU()/2)
	}
	s.Concurrency = min(s.Concurrency, s.MaxConcurrency)
	if s.FastSeconds == 0 {
		s.FastSeconds = DefaultFastSeconds
	}
	s.FastSeconds = min(max(s.FastSeconds, MinFastSeconds), MaxFastSeconds)
	return s
}

func (c *Controller) loop() {
	defer close(c.done)
	events := c.pool.Events()
	for {
		select {
		case fn := <-c.cmds:
			fn()
		case ev := <-events:
			c.handle(ev)
		case <-c.quit:
			// Apply whatever the dispatcher already reported.
			for {
				select {
				case ev := <-events:
					c.handle(ev)
				default:
					return
				}
			}
		}
	}
}

// do runs fn on the loop and returns its error.
func (c *Controller) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case c.cmds <- func() { errc <- fn() }:
	case <-c.done:
		return errors.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-errc
}

// transition moves the state machine and publishes the change.
func (c *Controller) transition(next State) {
	if !c.state.CanTransition(next) {
		c.log.Errorw("illegal state transition", "from", c.state, "to", next)
		return
	}
	c.log.Debugw("state", "from", c.state, "to", next, "run", c.run)
	c.state = next
	c.emit(Event{Type: EventState, State: next})
	if next == StateIdle {
		for _, w := range c.idleWaiters {
			close(w)
		}
		c.idleWaiters = nil
	}
}

func (c *Controller) emit(ev Event) {
	ev.Time = time.Now().UTC()
	if ev.Run == 0 {
		ev.Run = c.run
	}
	c.pub.Publish(ev)
}

func (c *Controller) emitJob(j *job.Job) {
	c.emit(Event{Type: EventJobStatus, Job: j.Clone()})
}

func (c *Controller) emitProgress() {
	c.emit(Event{Type: EventProgress, Processed: c.processed, Target: c.target})
}

func (c *Controller) persist(jobs ...*job.Job) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	for _, j := range jobs {
		if err := c.store.Upsert(ctx, j); err != nil {
			c.log.Warnw("persist job", "job_id", j.ID, "error", err)
		}
	}
}

func (c *Controller) forget(ids ...string) {
	if c.store == nil || len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := c.store.Delete(ctx, ids...); err != nil {
		c.log.Warnw("delete jobs", "count", len(ids), "error", err)
	}
}

// Actions reports which operations are currently available.
type Actions struct {
	Start         bool `json:"start"`
	Pause         bool `json:"pause"`
	Resume        bool `json:"resume"`
	Cancel        bool `json:"cancel"`
	RetryFailed   bool `json:"retry_failed"`
	ClearVerified bool `json:"clear_verified"`
	MoveFailed    bool `json:"move_failed"`
	EditQueue     bool `json:"edit_queue"`
}

// Status is a point-in-time view of the controller.
type Status struct {
	State       State                `json:"state"`
	Run         int                  `json:"run"`
	Processed   int                  `json:"processed"`
	Target      int                  `json:"target"`
	Active      int                  `json:"active"`
	Pending     int                  `json:"pending"`
	Tally       results.Tally        `json:"tally"`
	Settings    Settings             `json:"settings"`
	Tool        ToolStatus           `json:"tool"`
	Actions     Actions              `json:"actions"`
	LastSummary *results.Summary     `json:"last_summary,omitempty"`
	LastMove    *results.MoveSummary `json:"last_move,omitempty"`
}

// Status returns a snapshot of the state, progress, tally and the actions
// currently allowed.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, func() error {
		st = c.statusLocked()
		return nil
	})
	return st, err
}

func (c *Controller) statusLocked() Status {
	tally := results.Count(c.jobs)
	idle := c.state == StateIdle
	paused := c.state == StatePaused
	toolOK := c.toolErr == nil
	st := Status{
		State:     c.state,
		Run:       c.run,
		Processed: c.processed,
		Target:    c.target,
		Active:    c.pool.Active(),
		Pending:   c.pool.Pending(),
		Tally:     tally,
		Settings:  c.settings,
		Tool:      c.toolStatus(),
		Actions: Actions{
			Start:         idle && toolOK && tally.Total > tally.OK,
			Pause:         c.state == StateRunning,
			Resume:        paused,
			Cancel:        c.state == StateRunning || paused,
			RetryFailed:   (idle || paused) && toolOK && tally.Has(job.StatusFailed),
			ClearVerified: (idle || paused) && tally.Has(job.StatusOK),
			MoveFailed:    idle && tally.Has(job.StatusFailed),
			EditQueue:     idle,
		},
		LastSummary: c.lastSummary,
		LastMove:    c.lastMove,
	}
	return st
}

func (c *Controller) toolStatus() ToolStatus {
	if c.toolErr != nil {
		return ToolStatus{Error: c.toolErr.Error()}
	}
	return ToolStatus{Available: true}
}

// Jobs returns copies of all jobs in queue order.
func (c *Controller) Jobs(ctx context.Context) ([]*job.Job, error) {
	var out []*job.Job
	err := c.do(ctx, func() error {
		out = make([]*job.Job, 0, len(c.jobs))
		for _, j := range c.jobs {
			out = append(out, j.Clone())
		}
		return nil
	})
	return out, err
}

// Job returns a copy of one job.
func (c *Controller) Job(ctx context.Context, id string) (*job.Job, error) {
	var out *job.Job
	err := c.do(ctx, func() error {
		j, ok := c.byID[id]
		if !ok {
			return errors.Wrapf(errors.ErrNotFound, "job %s", id)
		}
		out = j.Clone()
		return nil
	})
	return out, err
}

// WaitIdle blocks until the controller is IDLE.
func (c *Controller) WaitIdle(ctx context.Context) error {
	ch := make(chan struct{})
	err := c.do(ctx, func() error {
		if c.state == StateIdle {
			close(ch)
		} else {
			c.idleWaiters = append(c.idleWaiters, ch)
		}
		return nil
	})
	if err != nil {
		return err
	}
	select {
	case <-ch:
		return nil
	case <-c.done:
		return errors.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts the controller down. With a check run active it returns
// ErrRunActive unless force is set, in which case the run is cancelled.
// Running units get until ctx expires to finish; after that their context
// is cancelled. Close is idempotent once it has started shutting down.
func (c *Controller) Close(ctx context.Context, force bool) error {
	err := c.do(ctx, func() error {
		if c.state.RunActive() && !force {
			return errors.WithHint(errors.ErrRunActive, "cancel the run or close with force")
		}
		c.closing = true
		if c.state == StateRunning || c.state == StatePaused {
			c.cancelLocked()
		}
		return nil
	})
	if err != nil && !errors.Is(err, errors.ErrClosed) {
		return err
	}

	c.closeOnce.Do(func() {
		c.pool.Close()
		if derr := c.pool.DrainAndWait(ctx); derr != nil {
			c.log.Warnw("forcing exit with units still running", "active", c.pool.Active(), "error", derr)
			c.pool.Stop()
			c.closeErr = derr
		}
		close(c.quit)
		<-c.done
		c.pool.Stop()
	})
	return c.closeErr
}
