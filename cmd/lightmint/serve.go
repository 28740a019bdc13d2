package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/trang393934/angelaithutrang-sub004/pkg/api"
	"github.com/trang393934/angelaithutrang-sub004/pkg/config"
	"github.com/trang393934/angelaithutrang-sub004/pkg/engine"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configFrom(cmd.Context()))
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := commonRun(cfg)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		a.Close(shutdownCtx)
	}()

	if cfg.JWTSecret == "" && len(cfg.APIKeys) == 0 {
		logger.Warn("no JWT secret or API keys configured; authenticated routes will reject every request")
	}
	limiter := api.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer limiter.Close()

	handler := api.NewHandler(a.engine, api.Options{
		Auth: api.NewAuthenticator(api.AuthConfig{
			JWTSecret:  []byte(cfg.JWTSecret),
			APIKeys:    cfg.APIKeys,
			Quota:      a.quota,
			QuotaLimit: cfg.APIKeyQuota,
			AdminKey:   cfg.AdminKey,
		}),
		Limiter:  limiter,
		Gatherer: a.registry,
		Ready:    a.ready,
		Logger:   logger,
		Traced:   cfg.OTLPEnabled,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.HTTPAddr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := a.engine.Run(gctx, engine.Schedule{
			ReleaseEvery: cfg.ReleaseInterval,
			ResumeEvery:  cfg.ResumeInterval,
			AuditEvery:   cfg.AuditInterval,
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
