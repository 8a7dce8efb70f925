// Package app wires the database, engine and notification hub from a config.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"flowboard/internal/config"
	"flowboard/internal/db"
	"flowboard/internal/engine"
	"flowboard/internal/metrics"
	"flowboard/internal/migrate"
	"flowboard/internal/notify"
	"flowboard/internal/storage"
)

type App struct {
	Config  *config.Config
	Log     zerolog.Logger
	DB      *sql.DB
	Dialect db.Dialect
	Engine  engine.Engine
	Hub     *notify.Hub
	Metrics *metrics.Metrics
}

type Options struct {
	// Migrate applies pending migrations before the engine is built.
	Migrate bool
	// Storage opens the attachment store. CLI commands that never touch files skip it.
	Storage bool
}

// Open connects to the configured database and assembles the engine around it.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts Options) (*App, error) {
	conn, dialect, err := db.Open(db.Config{
		Driver:    cfg.Database.Driver,
		DSN:       cfg.Database.DSN,
		Workspace: cfg.Database.Workspace,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if opts.Migrate {
		if err := migrate.Migrate(conn, dialect); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	m := metrics.New()
	hub := notify.NewHub(log.With().Str("component", "notify").Logger(), m)

	e := engine.New(conn, dialect, cfg)
	e.Log = log.With().Str("component", "engine").Logger()
	e.Metrics = m
	e.Notifier = notify.Notifier{Hub: hub, Log: log}
	if opts.Storage {
		store, err := storage.New(ctx, cfg.Uploads)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("open uploads store: %w", err)
		}
		e.Store = store
	}
	return &App{
		Config:  cfg,
		Log:     log,
		DB:      conn,
		Dialect: dialect,
		Engine:  e,
		Hub:     hub,
		Metrics: m,
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
