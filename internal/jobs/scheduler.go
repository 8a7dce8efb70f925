// Package jobs runs the background work of the server on cron schedules: webhook
// delivery and notification retention.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"flowboard/internal/config"
	"flowboard/internal/engine"
	"flowboard/internal/metrics"
)

// cronLogger routes cron's own messages into zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug().Fields(kv).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error().Err(err).Fields(kv).Msg(msg)
}

type Scheduler struct {
	ctx  context.Context
	cron *cron.Cron
	log  zerolog.Logger
	jobs map[string]cron.EntryID
}

// New builds a scheduler whose jobs run with ctx. A job still running when its next
// tick fires is skipped, and panics are recovered.
func New(ctx context.Context, log zerolog.Logger) *Scheduler {
	cl := cronLogger{log: log}
	return &Scheduler{
		ctx: ctx,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:  log,
		jobs: make(map[string]cron.EntryID),
	}
}

// Add registers fn under name. An empty schedule leaves the job disabled.
func (s *Scheduler) Add(name, schedule string, fn func(ctx context.Context)) error {
	if schedule == "" {
		s.log.Info().Str("job", name).Msg("job disabled")
		return nil
	}
	id, err := s.cron.AddFunc(schedule, func() {
		start := time.Now()
		fn(s.ctx)
		s.log.Debug().Str("job", name).Dur("duration", time.Since(start)).Msg("job finished")
	})
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}
	s.jobs[name] = id
	return nil
}

func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

// Run starts the scheduler and blocks until ctx is done, then waits for running jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

// Setup registers the server's jobs from cfg.
func Setup(ctx context.Context, e engine.Engine, cfg *config.Config, log zerolog.Logger, m *metrics.Metrics) (*Scheduler, error) {
	s := New(ctx, log)
	if len(cfg.Webhooks) > 0 {
		d := NewDispatcher(e.Repo, e.DB, cfg.Webhooks, log, m)
		if err := s.Add("webhooks", cfg.Jobs.WebhookSchedule, d.Dispatch); err != nil {
			return nil, err
		}
	}
	retention := cfg.Notifications.Retention
	if retention > 0 {
		err := s.Add("notification-retention", cfg.Jobs.RetentionSchedule, func(ctx context.Context) {
			n, err := e.PurgeReadNotifications(ctx, retention)
			if err != nil {
				log.Error().Err(err).Msg("purge read notifications")
				return
			}
			if n > 0 {
				log.Info().Int("deleted", n).Msg("purged read notifications")
			}
		})
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}
