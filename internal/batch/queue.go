package batch

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/mediacheck/mediacheck/internal/errors"
	"github.com/mediacheck/mediacheck/internal/job"
	"github.com/mediacheck/mediacheck/internal/results"
)

// AddResult lists what AddJobs did with each path.
type AddResult struct {
	Added      []*job.Job `json:"added"`
	Duplicates []string   `json:"duplicates,omitempty"`
}

func (c *Controller) editableLocked(op string) error {
	if c.closing {
		return errors.ErrClosed
	}
	if c.state != StateIdle {
		return errors.Wrapf(errors.ErrInvalidState, "%s while %s", op, c.state)
	}
	return nil
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return filepath.Clean(p)
}

func (c *Controller) appendLocked(j *job.Job) {
	c.seq++
	j.Seq = c.seq
	c.jobs = append(c.jobs, j)
	c.byID[j.ID] = j
	c.byPath[j.Path] = j.ID
}

// AddJobs queues new paths. Paths already in the queue are skipped and
// reported as duplicates.
func (c *Controller) AddJobs(ctx context.Context, paths []string) (AddResult, error) {
	var res AddResult
	err := c.do(ctx, func() error {
		if err := c.editableLocked("add"); err != nil {
			return err
		}
		for _, p := range paths {
			p = normalizePath(p)
			if p == "" {
				continue
			}
			if _, dup := c.byPath[p]; dup {
				res.Duplicates = append(res.Duplicates, p)
				continue
			}
			j := job.New(p)
			c.appendLocked(j)
			c.persist(j)
			c.emit(Event{Type: EventJobAdded, Job: j.Clone()})
			res.Added = append(res.Added, j.Clone())
		}
		return nil
	})
	return res, err
}

// RemoveJobs drops the jobs with the given paths and returns how many were
// removed. Unknown paths are ignored.
func (c *Controller) RemoveJobs(ctx context.Context, paths []string) (int, error) {
	var n int
	err := c.do(ctx, func() error {
		if err := c.editableLocked("remove"); err != nil {
			return err
		}
		ids := make(map[string]bool)
		for _, p := range paths {
			if id, ok := c.byPath[normalizePath(p)]; ok {
				ids[id] = true
			}
		}
		n = c.removeLocked(func(j *job.Job) bool { return ids[j.ID] })
		return nil
	})
	return n, err
}

// RemoveJob drops one job by ID.
func (c *Controller) RemoveJob(ctx context.Context, id string) error {
	return c.do(ctx, func() error {
		if err := c.editableLocked("remove"); err != nil {
			return err
		}
		if _, ok := c.byID[id]; !ok {
			return errors.Wrapf(errors.ErrNotFound, "job %s", id)
		}
		c.removeLocked(func(j *job.Job) bool { return j.ID == id })
		return nil
	})
}

// Clear empties the queue.
func (c *Controller) Clear(ctx context.Context) (int, error) {
	var n int
	err := c.do(ctx, func() error {
		if err := c.editableLocked("clear"); err != nil {
			return err
		}
		n = c.removeLocked(func(*job.Job) bool { return true })
		return nil
	})
	return n, err
}

// ClearVerified removes every OK job. It is allowed while paused because
// dispatcher units are keyed by job ID and OK jobs are never in flight.
func (c *Controller) ClearVerified(ctx context.Context) (int, error) {
	var n int
	err := c.do(ctx, func() error {
		if c.state != StateIdle && c.state != StatePaused {
			return errors.Wrapf(errors.ErrInvalidState, "clear verified while %s", c.state)
		}
		n = c.removeLocked(func(j *job.Job) bool { return j.Status == job.StatusOK })
		if n == 0 {
			return errors.Wrap(errors.ErrNothingToDo, "no verified files")
		}
		return nil
	})
	return n, err
}

func (c *Controller) removeLocked(match func(*job.Job) bool) int {
	var removed []string
	kept := c.jobs[:0]
	for _, j := range c.jobs {
		if match(j) {
			removed = append(removed, j.ID)
			delete(c.byID, j.ID)
			delete(c.byPath, j.Path)
			continue
		}
		kept = append(kept, j)
	}
	clear(c.jobs[len(kept):])
	c.jobs = kept
	if len(removed) > 0 {
		c.forget(removed...)
		c.emit(Event{Type: EventJobRemoved, JobIDs: removed})
	}
	return len(removed)
}

// Replace swaps the whole queue for the entries of a loaded snapshot.
func (c *Controller) Replace(ctx context.Context, entries []results.Entry) ([]*job.Job, error) {
	var out []*job.Job
	err := c.do(ctx, func() error {
		if err := c.editableLocked("load"); err != nil {
			return err
		}
		c.removeLocked(func(*job.Job) bool { return true })
		for _, e := range entries {
			p := normalizePath(e.Path)
			if p == "" {
				continue
			}
			if _, dup := c.byPath[p]; dup {
				continue
			}
			st, err := job.ParseStatus(e.Status)
			if err != nil || !st.IsTerminal() {
				st = job.StatusQueued
			}
			j := job.New(p)
			j.Status = st
			if e.Details != "" {
				j.Details = e.Details
			}
			c.appendLocked(j)
			c.persist(j)
			c.emit(Event{Type: EventJobAdded, Job: j.Clone()})
			out = append(out, j.Clone())
		}
		c.log.Infow("queue loaded", "jobs", len(out))
		return nil
	})
	return out, err
}

// RecoverReport describes a queue restored from the store.
type RecoverReport struct {
	Loaded  int `json:"loaded"`
	Reset   int `json:"reset"`
	Missing int `json:"missing"`
}

// Recover restores the persisted queue. Jobs interrupted while RUNNING go
// back to QUEUED and jobs whose file disappeared are dropped.
func (c *Controller) Recover(ctx context.Context) (RecoverReport, error) {
	var rep RecoverReport
	err := c.do(ctx, func() error {
		if c.store == nil {
			return errors.Wrap(errors.ErrInvalidArgument, "no store configured")
		}
		if err := c.editableLocked("recover"); err != nil {
			return err
		}
		reset, err := c.store.ResetRunning(ctx)
		if err != nil {
			return errors.Wrap(err, "reset running jobs")
		}
		rep.Reset = len(reset)

		stored, err := c.store.List(ctx)
		if err != nil {
			return errors.Wrap(err, "load queue")
		}

		c.jobs = nil
		clear(c.byID)
		clear(c.byPath)
		var missing []string
		for _, j := range stored {
			c.seq = max(c.seq, j.Seq)
			if _, err := os.Stat(j.Path); err != nil {
				missing = append(missing, j.ID)
				continue
			}
			if _, dup := c.byPath[j.Path]; dup {
				missing = append(missing, j.ID)
				continue
			}
			c.jobs = append(c.jobs, j)
			c.byID[j.ID] = j
			c.byPath[j.Path] = j.ID
			c.emit(Event{Type: EventJobAdded, Job: j.Clone()})
		}
		c.forget(missing...)
		rep.Loaded = len(c.jobs)
		rep.Missing = len(missing)
		c.log.Infow("queue recovered", "loaded", rep.Loaded, "reset", rep.Reset, "missing", rep.Missing)
		return nil
	})
	return rep, err
}
