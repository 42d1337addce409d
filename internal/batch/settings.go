package batch

import (
	"context"

	"github.com/mediacheck/mediacheck/internal/checker"
	"github.com/mediacheck/mediacheck/internal/errors"
)

// SetConcurrency changes the number of simultaneous checks. It is allowed
// in any state and only affects checks that have not started yet.
func (c *Controller) SetConcurrency(ctx context.Context, n int) error {
	return c.do(ctx, func() error {
		if n < 1 || n > c.settings.MaxConcurrency {
			return errors.Wrapf(errors.ErrInvalidArgument,
				"concurrency must be between 1 and %d, got %d", c.settings.MaxConcurrency, n)
		}
		c.settings.Concurrency = n
		c.pool.SetLimit(n)
		c.log.Infow("concurrency changed", "concurrency", n, "state", c.state)
		return nil
	})
}

// SetFastCheck toggles tail-only checking. A zero seconds value keeps the
// current window. The setting applies to checks submitted afterwards.
func (c *Controller) SetFastCheck(ctx context.Context, enabled bool, seconds int) error {
	return c.do(ctx, func() error {
		if seconds != 0 && (seconds < MinFastSeconds || seconds > MaxFastSeconds) {
			return errors.Wrapf(errors.ErrInvalidArgument,
				"fast check duration must be between %d and %d seconds, got %d", MinFastSeconds, MaxFastSeconds, seconds)
		}
		c.settings.FastCheck = enabled
		if seconds != 0 {
			c.settings.FastSeconds = seconds
		}
		c.log.Infow("fast check changed", "enabled", enabled, "seconds", c.settings.FastSeconds)
		return nil
	})
}

// Settings returns the current dispatch settings.
func (c *Controller) Settings(ctx context.Context) (Settings, error) {
	var s Settings
	err := c.do(ctx, func() error {
		s = c.settings
		return nil
	})
	return s, err
}

// VerifyTool probes the verification tool. A failure marks the tool
// unavailable, which disables Start and RetryFailed until a later probe
// succeeds.
func (c *Controller) VerifyTool(ctx context.Context) (checker.Tool, error) {
	if c.prober == nil {
		return checker.Tool{}, nil
	}
	tool, perr := c.prober.Probe(ctx)
	err := c.do(ctx, func() error {
		c.toolErr = perr
		if perr != nil {
			c.log.Errorw("verification tool probe failed", "error", perr)
		} else {
			c.log.Infow("verification tool available", "path", tool.Path, "version", tool.Version)
		}
		st := c.toolStatus()
		c.emit(Event{Type: EventToolStatus, Tool: &st})
		return nil
	})
	if err != nil {
		return tool, err
	}
	return tool, perr
}
