package batch

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/mediacheck/mediacheck/internal/dispatch"
	"github.com/mediacheck/mediacheck/internal/errors"
	"github.com/mediacheck/mediacheck/internal/job"
	"github.com/mediacheck/mediacheck/internal/mover"
	"github.com/mediacheck/mediacheck/internal/results"
)

const moveKeyPrefix = "move/"

// moveRun tracks an in-progress MoveFailed operation.
type moveRun struct {
	resolver *mover.Resolver
	summary  results.MoveSummary
	// outstanding maps unit keys to job IDs.
	outstanding map[string]string
}

func (m *moveRun) owns(key string) bool {
	_, ok := m.outstanding[key]
	return ok
}

// MoveFailed moves the file of every FAILED job into dest. Name collisions
// get a _copy suffix; per-file errors are collected in the move summary
// published with move_finished. Files already inside dest are left alone
// and counted as skipped.
func (c *Controller) MoveFailed(ctx context.Context, dest string) error {
	info, err := os.Stat(dest)
	if err != nil || !info.IsDir() {
		return errors.Wrapf(errors.ErrInvalidArgument, "destination %q is not a directory", dest)
	}
	dest, err = filepath.Abs(dest)
	if err != nil {
		return errors.Wrapf(errors.ErrInvalidArgument, "destination %q: %v", dest, err)
	}

	return c.do(ctx, func() error {
		if err := c.editableLocked("move"); err != nil {
			return err
		}
		var failed []*job.Job
		skipped := 0
		for _, j := range c.jobs {
			if j.Status != job.StatusFailed {
				continue
			}
			if inDir(j.Path, dest) {
				skipped++
				continue
			}
			failed = append(failed, j)
		}
		if len(failed) == 0 {
			if skipped > 0 {
				return errors.Wrapf(errors.ErrNothingToDo, "corrupt files are already in %s", dest)
			}
			return errors.Wrap(errors.ErrNothingToDo, "no corrupt files found")
		}

		m := &moveRun{
			resolver:    mover.NewResolver(dest),
			summary:     results.MoveSummary{Destination: dest, Skipped: skipped},
			outstanding: make(map[string]string, len(failed)),
		}
		c.move = m
		c.lastMove = nil
		c.transition(StateMoving)
		c.log.Infow("moving failed files", "count", len(failed), "destination", dest)

		for _, j := range failed {
			key := moveKeyPrefix + j.ID
			if err := c.pool.Submit(moveUnit(key, j.Path, m.resolver)); err != nil {
				m.summary.Errors = append(m.summary.Errors, filepath.Base(j.Path)+": "+err.Error())
				continue
			}
			m.outstanding[key] = j.ID
		}
		if len(m.outstanding) == 0 {
			c.finishMove()
		}
		return nil
	})
}

// inDir reports whether path is a direct child of the absolute dir.
func inDir(path, dir string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return filepath.Dir(abs) == filepath.Clean(dir)
}

func moveUnit(key, src string, r *mover.Resolver) dispatch.Unit {
	return dispatch.Unit{
		Key: key,
		Task: func(context.Context) dispatch.Outcome {
			dst := r.Claim(src)
			if err := mover.Move(src, dst); err != nil {
				return dispatch.Outcome{Details: err.Error(), Err: err}
			}
			return dispatch.Outcome{Success: true, Path: dst}
		},
	}
}

func (c *Controller) moveFinished(key string, out dispatch.Outcome) {
	m := c.move
	id := m.outstanding[key]
	delete(m.outstanding, key)

	j, ok := c.byID[id]
	switch {
	case !ok:
		c.log.Warnw("move finished for unknown job", "job_id", id)
	case out.Success:
		delete(c.byPath, j.Path)
		j.Path = out.Path
		c.byPath[j.Path] = j.ID
		j.Details = strings.TrimRight(j.Details, "\n") + "\n\nMoved to " + out.Path
		m.summary.Moved++
		c.persist(j)
		c.emitJob(j)
	default:
		m.summary.Errors = append(m.summary.Errors, filepath.Base(j.Path)+": "+out.Details)
		c.log.Warnw("move failed", "path", j.Path, "error", out.Err)
	}

	if len(m.outstanding) == 0 {
		c.finishMove()
	}
}

func (c *Controller) finishMove() {
	summary := c.move.summary
	c.move = nil
	c.lastMove = &summary
	c.log.Infow("move finished", "moved", summary.Moved, "errors", len(summary.Errors))
	c.transition(StateIdle)
	c.emit(Event{Type: EventMoveFinished, Move: &summary})
}
