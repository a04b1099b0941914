// Package maintenance runs scheduled housekeeping against the shared store:
// purging delivered and failed notification tasks past retention,
// recomputing stale trust scores, and publishing backlog gauges.
package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron"

	"sentinel/internal/config"
	"sentinel/internal/logging"
	"sentinel/internal/metrics"
	"sentinel/internal/store"
	"sentinel/internal/trust"
)

// Report summarizes one maintenance pass.
type Report struct {
	NotificationsPurged  int64
	TrustRecomputed      int
	ModerationPending    int
	NotificationsBacklog int
	Duration             time.Duration
}

// Scheduler runs maintenance passes on a cron schedule.
type Scheduler struct {
	store   *store.Store
	trust   *trust.Aggregator
	cfg     config.Maintenance
	logger  *slog.Logger
	metrics metrics.Sink
	now     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
	last *Report
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetrics sets the sink that receives backlog gauges.
func WithMetrics(sink metrics.Sink) Option {
	return func(s *Scheduler) {
		s.metrics = metrics.OrNop(sink)
	}
}

// New builds a scheduler. A nil aggregator skips trust recomputation.
func New(st *store.Store, aggregator *trust.Aggregator, cfg config.Maintenance, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:   st,
		trust:   aggregator,
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "maintenance"),
		metrics: metrics.Nop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules passes until ctx ends or Stop is called. It is a no-op
// when maintenance is disabled.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Info("maintenance disabled")
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("maintenance already running")
	}
	c := cron.New()
	if err := c.AddFunc(s.cfg.Schedule, func() { s.runScheduled(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	s.logger.Info("maintenance scheduled", logging.String("schedule", s.cfg.Schedule))
	return nil
}

// Stop halts the schedule. A pass already running is not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return
	}
	s.cron.Stop()
	s.cron = nil
}

// Last returns the most recent pass, or nil before the first one.
func (s *Scheduler) Last() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	report := *s.last
	return &report
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.RunOnce(ctx); err != nil {
		logging.WarnWithContext(s.logger, "maintenance pass failed", "maintenance_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check store connectivity"),
			logging.String(logging.FieldImpact, "housekeeping retried on the next schedule"),
		)
	}
}

// RunOnce performs one maintenance pass. Every step runs even when an
// earlier one fails; the errors are joined.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	start := s.now()
	var (
		report Report
		errs   []error
	)

	if days := s.cfg.NotificationRetentionDays; days > 0 {
		cutoff := start.Add(-time.Duration(days) * 24 * time.Hour)
		purged, err := s.store.PurgeNotifications(ctx, cutoff)
		if err != nil {
			errs = append(errs, err)
		}
		report.NotificationsPurged = purged
	}

	if s.trust != nil && s.cfg.TrustStaleHours > 0 {
		cutoff := start.Add(-time.Duration(s.cfg.TrustStaleHours) * time.Hour)
		refreshed, err := s.trust.RecomputeStale(ctx, cutoff, max(s.cfg.TrustBatchSize, 1))
		if err != nil {
			errs = append(errs, err)
		}
		report.TrustRecomputed = refreshed
	}

	pending, err := s.store.CountPendingModeration(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		report.ModerationPending = pending
		s.metrics.Set(metrics.ModerationPending, float64(pending))
	}
	backlog, err := s.store.CountPendingNotifications(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		report.NotificationsBacklog = backlog
		s.metrics.Set(metrics.NotificationsBacklog, float64(backlog))
	}

	report.Duration = s.now().Sub(start)
	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()

	s.logger.Info("maintenance pass complete",
		logging.Int64("notifications_purged", report.NotificationsPurged),
		logging.Int("trust_recomputed", report.TrustRecomputed),
		logging.Int("moderation_pending", report.ModerationPending),
		logging.Int("notifications_backlog", report.NotificationsBacklog),
		logging.Duration("duration", report.Duration),
	)
	return report, errors.Join(errs...)
}
