package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"noticeboard/notice"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the view sync job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(*configFile)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			return serve(cmd.Context(), a)
		},
	}
}

func serve(parent context.Context, a *app) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.connectCache(ctx); err != nil {
		return err
	}
	if err := a.openFiles(); err != nil {
		return err
	}
	if a.memory != nil {
		a.memory.StartJanitor(ctx)
	}

	cfg := a.cfg
	h := notice.NewHandler(notice.Options{
		Service:      a.service(),
		Logger:       a.logger,
		MaxBodyBytes: cfg.Uploads.MaxBytes,
		UploadsDir:   a.files.Dir(),
	})
	h = notice.ConcurrencyLimit(notice.ConcurrencyOptions{
		Max:            cfg.Concurrency.Max,
		AcquireTimeout: cfg.Concurrency.Timeout,
	})(h)
	if cfg.Rate.Enabled {
		limiters := notice.NewClientLimiters(cfg.Rate.RPS, cfg.Rate.Burst, cfg.Rate.IdleTTL, cfg.Rate.MaxClients)
		limiters.StartJanitor(ctx)
		h = notice.RateLimit(limiters, notice.RateLimitOptions{
			RetryAfter: cfg.Rate.RetryAfter,
			TrustXFF:   cfg.HTTP.TrustXFF,
		})(h)
	}
	h = notice.AccessLog(a.logger)(h)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("noticeboard listening", "addr", cfg.HTTP.Addr, "db", cfg.DB.Path, "redis", cfg.Redis.Addr)
		a.logger.Info("throttling", "rate", cfg.Rate.Enabled, "rps", cfg.Rate.RPS, "burst", cfg.Rate.Burst, "concurrency", cfg.Concurrency.Max)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return a.viewSync().Start(gctx, cfg.Views.SyncEvery)
	})

	err := g.Wait()
	a.logger.Info("noticeboard stopped")
	return err
}
