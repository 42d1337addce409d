package main

import (
	"context"

	"github.com/mediacheck/mediacheck/internal/batch"
	"github.com/mediacheck/mediacheck/internal/checker"
	"github.com/mediacheck/mediacheck/internal/dispatch"
)

// newController builds the ffmpeg checker, its dispatcher and the batch
// controller from the loaded configuration.
func (a *app) newController(pub batch.Publisher, extra ...batch.Option) (*batch.Controller, error) {
	cfg, log := a.cfg, a.log

	ffmpeg, err := checker.New(cfg.FFmpeg.Path, cfg.FFmpeg.ExtraArgs)
	if err != nil {
		return nil, err
	}
	pool := dispatch.New(context.Background(), cfg.Check.Concurrency, log.SugaredLogger)
	opts := append([]batch.Option{
		batch.WithPublisher(pub),
		batch.WithLogger(log.SugaredLogger),
		batch.WithSettings(batch.Settings{
			Concurrency:    cfg.Check.Concurrency,
			MaxConcurrency: cfg.Check.MaxConcurrency,
			FastCheck:      cfg.Check.Fast,
			FastSeconds:    cfg.Check.FastSeconds,
		}),
	}, extra...)
	return batch.New(pool, ffmpeg, opts...), nil
}
