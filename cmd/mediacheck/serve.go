package main

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/mediacheck/mediacheck/internal/api"
	"github.com/mediacheck/mediacheck/internal/batch"
	"github.com/mediacheck/mediacheck/internal/config"
	"github.com/mediacheck/mediacheck/internal/errors"
	"github.com/mediacheck/mediacheck/internal/job"
	"github.com/mediacheck/mediacheck/internal/notify"
	"github.com/mediacheck/mediacheck/internal/webhook"
)

func newServeCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		Short:   "Serve the HTTP control API",
		Long: `Serve exposes the batch controller over HTTP with server-sent events and
WebSocket streams. The queue is persisted in SQLite and restored on start.
Concurrency, fast-check and log level follow edits to the config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				a.cfg.Server.ListenAddr = listen
			}
			if err := a.cfg.ValidateServer(); err != nil {
				return err
			}
			return a.runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (default server.listen_addr)")
	return cmd
}

func (a *app) runServe(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	store, err := job.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return errors.Wrapf(err, "open database %s", cfg.Database.Path)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := notify.NewHub[batch.Event]()
	pubs := batch.Publishers{hub}
	var notifier *webhook.Notifier
	if cfg.Server.CallbackURL != "" {
		// Deliveries outlive the signal so the last summary is still sent.
		notifyCtx, cancelNotify := context.WithCancel(context.WithoutCancel(ctx))
		defer cancelNotify()
		notifier = webhook.New(notifyCtx, cfg.Server.CallbackURL, cfg.Server.CallbackAllowPrivate, log.SugaredLogger)
		pubs = append(pubs, notifier)
	}

	ctrl, err := a.newController(pubs, batch.WithStore(store))
	if err != nil {
		return err
	}
	rep, err := ctrl.Recover(ctx)
	if err != nil {
		ctrl.Close(context.Background(), true) //nolint:errcheck
		return errors.Wrap(err, "restore queue")
	}
	if _, err := ctrl.VerifyTool(ctx); err != nil {
		log.Warnw("ffmpeg unavailable, runs are disabled until verify-tool succeeds", "error", err)
	}

	if cfg.File != "" {
		w, err := config.NewWatcher(cfg.File, log.SugaredLogger)
		if err != nil {
			log.Warnw("config hot reload disabled", "error", err)
		} else {
			defer w.Close()
			w.OnReload(a.applyReload(ctrl))
		}
	}

	h := api.NewHandler(ctrl, hub, api.Options{
		FFmpegPath:     cfg.FFmpeg.Path,
		AllowedOrigins: cfg.Server.CORSOrigins,
	}, log.SugaredLogger)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	mws := []api.Middleware{
		api.CORS(cfg.Server.CORSOrigins),
		api.RequestID,
		api.Logging(log.SugaredLogger),
	}
	if cfg.Server.InsecureNoAuth {
		log.Warnw("API authentication disabled")
	} else {
		mws = append(mws, api.Auth(cfg.Server.APIKeys))
	}
	if cfg.Server.RateLimit > 0 {
		rl := api.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
		defer rl.Stop()
		mws = append(mws, rl.Middleware)
	}

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      api.Chain(mux, mws...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	// Event streams end when the hub closes, so Shutdown does not wait on them.
	srv.RegisterOnShutdown(hub.Close)

	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		ctrl.Close(context.Background(), true) //nolint:errcheck
		return errors.Wrapf(err, "listen on %s", cfg.Server.ListenAddr)
	}
	pterm.Success.Printfln("mediacheck %s listening on %s (%d jobs restored)", version, ln.Addr(), rep.Loaded)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	select {
	case err := <-serveErr:
		ctrl.Close(context.Background(), true) //nolint:errcheck
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
	}

	log.Infow("shutting down", "drain_timeout", cfg.Shutdown.DrainTimeout)
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.DrainTimeout)
	defer cancel()

	if err := srv.Shutdown(drainCtx); err != nil {
		log.Warnw("http shutdown", "error", err)
	}
	if err := ctrl.Close(drainCtx, true); err != nil {
		log.Warnw("checks still running at exit were interrupted", "error", err)
	}
	if notifier != nil {
		notifier.Wait()
	}
	return nil
}

// applyReload pushes reloadable settings to the running controller.
// Listen address, API keys and the database need a restart.
func (a *app) applyReload(ctrl *batch.Controller) config.ReloadFunc {
	return func(nc *config.Config) error {
		ctx := context.Background()
		var errs []error
		if err := ctrl.SetConcurrency(ctx, nc.Check.Concurrency); err != nil {
			errs = append(errs, err)
		}
		if err := ctrl.SetFastCheck(ctx, nc.Check.Fast, nc.Check.FastSeconds); err != nil {
			errs = append(errs, err)
		}
		if err := a.log.SetLevel(nc.Log.Level); err != nil {
			errs = append(errs, err)
		}
		a.log.Infow("settings reloaded",
			"concurrency", nc.Check.Concurrency, "fast", nc.Check.Fast, "fast_seconds", nc.Check.FastSeconds, "level", nc.Log.Level)
		return errors.Join(errs...)
	}
}
