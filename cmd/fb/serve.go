package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"flowboard/internal/app"
	"flowboard/internal/jobs"
	"flowboard/internal/notify"
	"flowboard/internal/server"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, notification socket and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			log := newLogger(cfg)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Open(ctx, cfg, log, app.Options{Migrate: true, Storage: true})
			if err != nil {
				return err
			}
			defer a.Close()

			handler, err := server.New(server.Config{
				Engine:      a.Engine,
				Hub:         a.Hub,
				Metrics:     a.Metrics,
				Log:         log.With().Str("component", "http").Logger(),
				BasePath:    cfg.Server.BasePath,
				CORSOrigins: cfg.Server.CORSOrigins,
				Auth: server.AuthConfig{
					JWTSecret:        cfg.Auth.JWTSecret,
					AccessTTL:        cfg.Auth.AccessTTL,
					RefreshTTL:       cfg.Auth.RefreshTTL,
					ExposeResetToken: cfg.Auth.ExposeResetToken,
				},
				WS: notify.ServeOptions{
					PingInterval: cfg.Notifications.PingInterval,
					WriteTimeout: cfg.Notifications.WriteTimeout,
				},
			})
			if err != nil {
				return err
			}
			sched, err := jobs.Setup(ctx, a.Engine, cfg, log.With().Str("component", "jobs").Logger(), a.Metrics)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info().Str("addr", cfg.Server.Addr).Str("base_path", cfg.Server.BasePath).
					Msg("serving FlowBoard API (OpenAPI at /openapi.json, docs at /docs)")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				return sched.Run(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				log.Info().Msg("shutting down")
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
