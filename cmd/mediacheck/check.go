package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/mediacheck/mediacheck/internal/batch"
	"github.com/mediacheck/mediacheck/internal/display"
	"github.com/mediacheck/mediacheck/internal/errors"
	"github.com/mediacheck/mediacheck/internal/job"
	"github.com/mediacheck/mediacheck/internal/notify"
	"github.com/mediacheck/mediacheck/internal/results"
)

const exitInterrupted exitCode = 130

type checkOptions struct {
	concurrency int
	fast        bool
	fastSeconds int
	retryFailed bool
	export      string
	saveQueue   string
	loadQueue   string
	moveFailed  string
	verbose     bool
	plain       bool
}

func newCheckCmd(a *app) *cobra.Command {
	var o checkOptions
	cmd := &cobra.Command{
		Use:   "check [paths...]",
		Short: "Check media files and directories",
		Long: `Check decodes every media file found under the given paths with ffmpeg.

Press Ctrl+C once to cancel the run (checks in progress finish), twice to
exit immediately. The exit status is 1 when any file failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && o.loadQueue == "" {
				return errors.WithHint(
					errors.Wrap(errors.ErrInvalidArgument, "nothing to check"),
					"pass files or directories, or --load-queue")
			}
			if cmd.Flags().Changed("concurrency") {
				a.cfg.Check.Concurrency = o.concurrency
				a.cfg.Check.MaxConcurrency = max(a.cfg.Check.MaxConcurrency, o.concurrency)
			}
			if cmd.Flags().Changed("fast") {
				a.cfg.Check.Fast = o.fast
			}
			if cmd.Flags().Changed("fast-seconds") {
				a.cfg.Check.FastSeconds = o.fastSeconds
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			return a.runCheck(cmd.Context(), args, o)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&o.concurrency, "concurrency", "j", 0, "simultaneous ffmpeg processes (default check.concurrency)")
	f.BoolVar(&o.fast, "fast", false, "only decode the end of each file")
	f.IntVar(&o.fastSeconds, "fast-seconds", 0, "seconds decoded by --fast (10-600)")
	f.BoolVar(&o.retryFailed, "retry-failed", false, "check failed files once more after the run")
	f.StringVar(&o.export, "export", "", "write the results table to this file (.csv, .json, .yaml, .toml)")
	f.StringVar(&o.saveQueue, "save-queue", "", "save the queue snapshot to this file")
	f.StringVar(&o.loadQueue, "load-queue", "", "start from a saved queue snapshot")
	f.StringVar(&o.moveFailed, "move-failed", "", "move failed files into this directory after the run")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "list verified files too")
	f.BoolVar(&o.plain, "plain", false, "no progress bar")
	return cmd
}

func (a *app) runCheck(ctx context.Context, args []string, o checkOptions) error {
	cfg := a.cfg

	hub := notify.NewHub[batch.Event]()
	ctrl, err := a.newController(hub)
	if err != nil {
		return err
	}

	r := display.New(os.Stdout, display.Options{Verbose: o.verbose, Plain: o.plain})
	events := hub.Subscribe(4096)
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		r.Run(events)
	}()
	defer func() {
		ctrl.Close(context.Background(), true) //nolint:errcheck
		hub.Close()
		<-rendered
	}()

	var interrupted atomic.Bool
	stop := handleInterrupts(ctrl, &interrupted)
	defer stop()

	tool, err := ctrl.VerifyTool(ctx)
	if err != nil {
		return err
	}
	if cfg.Check.Fast && !tool.SupportsFastCheck() {
		pterm.Warning.Printfln("%s may not support fast checks", tool.Version)
	}

	if err := loadJobs(ctx, ctrl, args, o.loadQueue); err != nil {
		return err
	}

	if err := startRun(ctx, ctrl, &interrupted); err != nil {
		return err
	}
	if o.retryFailed && !interrupted.Load() {
		if err := runAndWait(ctx, ctrl.RetryFailed, ctrl); err != nil && !errors.Is(err, errors.ErrNothingToDo) {
			return err
		}
	}
	if o.moveFailed != "" && !interrupted.Load() {
		move := func(ctx context.Context) error { return ctrl.MoveFailed(ctx, o.moveFailed) }
		if err := runAndWait(ctx, move, ctrl); err != nil && !errors.Is(err, errors.ErrNothingToDo) {
			return err
		}
	}

	jobs, err := ctrl.Jobs(ctx)
	if err != nil {
		return err
	}
	if err := writeReports(jobs, o); err != nil {
		return err
	}

	switch {
	case interrupted.Load():
		return exitInterrupted
	case results.Count(jobs).Failed > 0:
		return exitCode(1)
	}
	return nil
}

// handleInterrupts cancels the run on the first SIGINT or SIGTERM and exits
// on the second.
func handleInterrupts(ctrl *batch.Controller, interrupted *atomic.Bool) (stop func()) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-sigs:
			}
			if interrupted.CompareAndSwap(false, true) {
				pterm.Warning.Println("Cancelling, press Ctrl+C again to exit immediately")
				ctrl.Cancel(context.Background()) //nolint:errcheck
				continue
			}
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			ctrl.Close(ctx, true) //nolint:errcheck
			os.Exit(int(exitInterrupted))
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func loadJobs(ctx context.Context, ctrl *batch.Controller, args []string, snapshot string) error {
	if snapshot != "" {
		rep, err := results.LoadFile(snapshot)
		if err != nil {
			return err
		}
		if _, err := ctrl.Replace(ctx, rep.Entries); err != nil {
			return err
		}
		if n := rep.Skipped(); n > 0 {
			pterm.Warning.Printfln("Skipped %d entries (%d missing, %d invalid, %d duplicate)",
				n, rep.Missing, rep.Invalid, rep.Duplicates)
		}
	}
	if len(args) > 0 {
		paths, err := results.Discover(args...)
		if err != nil {
			return err
		}
		if len(paths) == 0 && snapshot == "" {
			return errors.WithHintf(
				errors.Wrap(errors.ErrNothingToDo, "no media files found"),
				"recognized extensions: %v", results.MediaExtensions())
		}
		if _, err := ctrl.AddJobs(ctx, paths); err != nil {
			return err
		}
	}
	return nil
}

// startRun starts the check and waits for it unless an interrupt arrived
// while the queue was being built. An interrupt landing between the flag
// check and Start finds the controller idle, so the fresh run is cancelled
// here instead.
func startRun(ctx context.Context, ctrl *batch.Controller, interrupted *atomic.Bool) error {
	if interrupted.Load() {
		return exitInterrupted
	}
	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	if interrupted.Load() {
		if err := ctrl.Cancel(ctx); err != nil && !errors.Is(err, errors.ErrInvalidState) {
			return err
		}
	}
	return ctrl.WaitIdle(ctx)
}

func runAndWait(ctx context.Context, op func(context.Context) error, ctrl *batch.Controller) error {
	if err := op(ctx); err != nil {
		return err
	}
	return ctrl.WaitIdle(ctx)
}

func writeReports(jobs []*job.Job, o checkOptions) error {
	entries := results.Entries(jobs)
	if o.export != "" {
		path := o.export
		if filepath.Ext(path) == "" {
			path += ".csv"
		}
		if err := results.SaveFile(path, entries); err != nil {
			return errors.Wrapf(err, "export %s", path)
		}
		pterm.Info.Printfln("Results written to %s", path)
	}
	if o.saveQueue != "" {
		if err := results.SaveFile(o.saveQueue, entries); err != nil {
			return errors.Wrapf(err, "save queue %s", o.saveQueue)
		}
		pterm.Info.Printfln("Queue saved to %s", o.saveQueue)
	}
	return nil
}
