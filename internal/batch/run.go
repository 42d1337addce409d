package batch

import (
	"context"
	"strings"
	"time"

	"github.com/mediacheck/mediacheck/internal/checker"
	"github.com/mediacheck/mediacheck/internal/dispatch"
	"github.com/mediacheck/mediacheck/internal/errors"
	"github.com/mediacheck/mediacheck/internal/job"
	"github.com/mediacheck/mediacheck/internal/results"
)

// Details texts shown for each phase of a job.
const (
	DetailsQueued    = job.DefaultDetails
	DetailsRetry     = "Queued for retry"
	DetailsChecking  = "Checking file, please wait."
	DetailsVerified  = "File integrity verified."
	DetailsCorrupt   = "File may be corrupt."
	DetailsCancelled = "Cancelled before check started."
)

// Start begins a run over every job that is not already OK.
func (c *Controller) Start(ctx context.Context) error {
	return c.do(ctx, func() error {
		if err := c.runnableLocked(); err != nil {
			return err
		}
		if c.state != StateIdle {
			return errors.Wrapf(errors.ErrInvalidState, "start while %s", c.state)
		}
		if len(c.jobs) == 0 {
			return errors.Wrap(errors.ErrNothingToDo, "queue is empty")
		}
		var eligible []*job.Job
		for _, j := range c.jobs {
			if j.Status != job.StatusOK {
				eligible = append(eligible, j)
			}
		}
		if len(eligible) == 0 {
			return errors.Wrap(errors.ErrNothingToDo, "every file is already verified")
		}
		c.beginRun(eligible, DetailsQueued)
		return nil
	})
}

// runnableLocked rejects new work while closing or without a usable tool.
func (c *Controller) runnableLocked() error {
	if c.closing {
		return errors.ErrClosed
	}
	if c.toolErr != nil {
		return errors.WithDetail(errors.ErrToolUnavailable, c.toolErr.Error())
	}
	return nil
}

func (c *Controller) beginRun(list []*job.Job, details string) {
	c.run++
	c.processed = 0
	c.target = len(list)
	c.lastSummary = nil
	for _, j := range list {
		c.requeue(j, details)
	}
	c.log.Infow("run started", "run", c.run, "target", c.target,
		"concurrency", c.settings.Concurrency, "fast_check", c.settings.FastCheck)
	c.transition(StateRunning)
	c.emitProgress()
	c.submitQueued()
}

func (c *Controller) requeue(j *job.Job, details string) {
	if j.Status != job.StatusQueued && !c.setStatus(j, job.StatusQueued) {
		return
	}
	j.Details = details
	j.StartedAt = nil
	j.CompletedAt = nil
	c.persist(j)
	c.emitJob(j)
}

// submitQueued hands every QUEUED job not already owned by the dispatcher
// to it, in queue order.
func (c *Controller) submitQueued() {
	opts := checker.Options{Fast: c.settings.FastCheck, FastSeconds: c.settings.FastSeconds}
	for _, j := range c.jobs {
		if j.Status != job.StatusQueued {
			continue
		}
		if _, owned := c.submitted[j.ID]; owned {
			continue
		}
		if err := c.pool.Submit(c.checkUnit(j.ID, j.Path, opts)); err != nil {
			c.log.Warnw("submit check", "job_id", j.ID, "error", err)
			return
		}
		c.submitted[j.ID] = struct{}{}
	}
}

func (c *Controller) checkUnit(id, path string, opts checker.Options) dispatch.Unit {
	chk := c.checker
	return dispatch.Unit{
		Key: id,
		Task: func(ctx context.Context) dispatch.Outcome {
			res, err := chk.Check(ctx, path, opts)
			return dispatch.Outcome{
				Success: err == nil && res.Success,
				Details: res.Details,
				Err:     err,
			}
		},
	}
}

// Pause stops new checks from starting. Checks already running finish
// normally. Pausing a paused run is a no-op.
func (c *Controller) Pause(ctx context.Context) error {
	return c.do(ctx, func() error {
		switch c.state {
		case StatePaused:
			return nil
		case StateRunning:
		default:
			return errors.Wrapf(errors.ErrInvalidState, "pause while %s", c.state)
		}
		c.transition(StatePaused)
		withdrawn := c.pool.CancelAll()
		for _, id := range withdrawn {
			delete(c.submitted, id)
		}
		c.log.Infow("run paused", "run", c.run, "withdrawn", len(withdrawn), "running", len(c.submitted))
		return nil
	})
}

// Resume restarts dispatch of the jobs still QUEUED. Resuming a running
// batch is a no-op.
func (c *Controller) Resume(ctx context.Context) error {
	return c.do(ctx, func() error {
		switch c.state {
		case StateRunning:
			return nil
		case StatePaused:
		default:
			return errors.Wrapf(errors.ErrInvalidState, "resume while %s", c.state)
		}
		if c.closing {
			return errors.ErrClosed
		}
		c.transition(StateRunning)
		c.submitQueued()
		c.log.Infow("run resumed", "run", c.run)
		return nil
	})
}

// Cancel discards pending checks and ends the run once the running ones
// report back. Cancelling twice is a no-op.
func (c *Controller) Cancel(ctx context.Context) error {
	return c.do(ctx, func() error {
		switch c.state {
		case StateCancelling:
			return nil
		case StateRunning, StatePaused:
		default:
			return errors.Wrapf(errors.ErrInvalidState, "cancel while %s", c.state)
		}
		c.cancelLocked()
		return nil
	})
}

func (c *Controller) cancelLocked() {
	c.transition(StateCancelling)
	for _, id := range c.pool.CancelAll() {
		delete(c.submitted, id)
	}
	c.log.Infow("run cancelling", "run", c.run, "outstanding", len(c.submitted))
	if len(c.submitted) == 0 {
		c.finalize()
	}
}

// RetryFailed re-queues every FAILED job. From IDLE it starts a new run
// scoped to those jobs; from PAUSED the jobs join the paused run.
func (c *Controller) RetryFailed(ctx context.Context) error {
	return c.do(ctx, func() error {
		if err := c.runnableLocked(); err != nil {
			return err
		}
		if c.state != StateIdle && c.state != StatePaused {
			return errors.Wrapf(errors.ErrInvalidState, "retry while %s", c.state)
		}
		var failed []*job.Job
		for _, j := range c.jobs {
			if j.Status == job.StatusFailed {
				failed = append(failed, j)
			}
		}
		if len(failed) == 0 {
			return errors.Wrap(errors.ErrNothingToDo, "there are no failed files to retry")
		}
		if c.state == StateIdle {
			c.beginRun(failed, DetailsRetry)
			return nil
		}
		for _, j := range failed {
			c.requeue(j, DetailsRetry)
		}
		c.target += len(failed)
		c.emitProgress()
		c.log.Infow("failed jobs added to paused run", "run", c.run, "count", len(failed), "target", c.target)
		return nil
	})
}

func (c *Controller) handle(ev dispatch.Event) {
	if c.move != nil && c.move.owns(ev.Key) {
		if ev.Kind == dispatch.Finished {
			c.moveFinished(ev.Key, ev.Outcome)
		}
		return
	}
	switch ev.Kind {
	case dispatch.Started:
		c.checkStarted(ev.Key)
	case dispatch.Finished:
		c.checkFinished(ev.Key, ev.Outcome)
	}
}

func (c *Controller) checkStarted(id string) {
	j, ok := c.byID[id]
	if !ok {
		c.log.Warnw("started event for unknown job", "job_id", id)
		return
	}
	if !c.setStatus(j, job.StatusRunning) {
		return
	}
	now := time.Now().UTC()
	j.Details = DetailsChecking
	j.Attempts++
	j.StartedAt = &now
	j.CompletedAt = nil
	c.persist(j)
	c.emitJob(j)
}

func (c *Controller) checkFinished(id string, out dispatch.Outcome) {
	delete(c.submitted, id)

	if j, ok := c.byID[id]; ok {
		to, details := job.StatusFailed, DetailsCorrupt+"\n\n"+strings.TrimSpace(out.Details)
		if out.Success {
			to, details = job.StatusOK, DetailsVerified
		}
		if c.setStatus(j, to) {
			now := time.Now().UTC()
			j.Details = details
			j.CompletedAt = &now
			c.processed++
			c.persist(j)
			c.emitJob(j)
			c.emitProgress()
		}

		if errors.Is(out.Err, errors.ErrInvocation) && c.toolErr == nil {
			c.toolErr = out.Err
			c.log.Errorw("verification tool unavailable", "error", out.Err)
			tool := c.toolStatus()
			c.emit(Event{Type: EventToolStatus, Tool: &tool})
		}
	} else {
		c.log.Warnw("finished event for unknown job", "job_id", id)
	}

	switch c.state {
	case StateCancelling:
		if len(c.submitted) == 0 {
			c.finalize()
		}
	case StateRunning, StatePaused:
		if c.processed >= c.target {
			c.finalize()
		}
	}
}

// setStatus moves j to the given status. Edges outside job.CanTransition
// are logged and ignored.
func (c *Controller) setStatus(j *job.Job, to job.Status) bool {
	if !job.CanTransition(j.Status, to) {
		c.log.Warnw("ignoring illegal job status change", "job_id", j.ID, "path", j.Path, "from", j.Status, "to", to)
		return false
	}
	j.Status = to
	return true
}

// finalize ends the current run. It runs exactly once per run because it
// always leaves the run states.
func (c *Controller) finalize() {
	cancelled := c.state == StateCancelling
	if cancelled {
		for _, j := range c.jobs {
			if j.Status == job.StatusQueued && c.setStatus(j, job.StatusCancelled) {
				j.Details = DetailsCancelled
				c.persist(j)
				c.emitJob(j)
			}
		}
	}
	c.processed = c.target
	c.emitProgress()

	summary := results.Summarize(c.jobs, cancelled)
	summary.Run = c.run
	summary.Processed = c.processed
	summary.Target = c.target
	c.lastSummary = &summary

	c.log.Infow("run finished", "run", c.run, "cancelled", cancelled,
		"ok", summary.Tally.OK, "failed", summary.Tally.Failed, "cancelled_jobs", summary.Tally.Cancelled)
	c.transition(StateIdle)
	c.emit(Event{Type: EventBatchFinished, Summary: &summary, Processed: c.processed, Target: c.target})
}
