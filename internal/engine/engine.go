package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"flowboard/internal/config"
	"flowboard/internal/db"
	"flowboard/internal/domain"
	"flowboard/internal/engine/auth"
	"flowboard/internal/events"
	"flowboard/internal/metrics"
	"flowboard/internal/repo"
	"flowboard/internal/storage"
)

// Pusher delivers an already persisted notification to the recipient's live connections.
type Pusher interface {
	Push(ctx context.Context, n domain.Notification)
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Auth     auth.Service
	Config   *config.Config
	Notifier Pusher
	Store    storage.Store
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
	Now      func() time.Time
}

func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config) Engine {
	r := repo.Repo{DB: conn, Dialect: dialect}
	return Engine{
		DB:     conn,
		Repo:   r,
		Events: events.Writer{Dialect: dialect},
		Auth:   auth.Service{Repo: r},
		Config: cfg,
		Log:    zerolog.Nop(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return domain.FormatTime(e.now())
}

// events returns the writer stamped with the engine clock.
func (e Engine) events() events.Writer {
	w := e.Events
	w.Now = e.now
	return w
}

// push hands committed notifications to the live fan-out. Failures stay inside the notifier.
func (e Engine) push(ctx context.Context, notes []domain.Notification) {
	if e.Notifier == nil {
		return
	}
	for _, n := range notes {
		e.Notifier.Push(ctx, n)
	}
}

func newID() string {
	return uuid.NewString()
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func sameStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func conflictOn(err error, msg string) error {
	if db.IsUniqueViolation(err) {
		return ConflictError{Msg: msg}
	}
	return err
}
