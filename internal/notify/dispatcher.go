package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sentinel/internal/config"
	"sentinel/internal/logging"
	"sentinel/internal/metrics"
	"sentinel/internal/store"
)

// DispatchStats summarizes one dispatch pass.
type DispatchStats struct {
	Claimed int
	Sent    int
	Retried int
	Failed  int
	// Lost counts tasks another dispatcher settled first after our lease expired.
	Lost int
}

// Dispatcher leases due notification tasks and delivers them.
type Dispatcher struct {
	store          *store.Store
	channels       Channels
	logger         *slog.Logger
	metrics        metrics.Sink
	now            func() time.Time
	workerID       string
	batchSize      int
	lease          time.Duration
	attemptTimeout time.Duration
	pollInterval   time.Duration
	wake           chan struct{}
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithClock overrides the time source used for eligibility and leases.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(sink metrics.Sink) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = metrics.OrNop(sink)
	}
}

// WithWorkerID sets the lease owner name.
func WithWorkerID(id string) DispatcherOption {
	return func(d *Dispatcher) {
		if id != "" {
			d.workerID = id
		}
	}
}

// NewDispatcher builds a dispatcher from the notifications configuration.
func NewDispatcher(st *store.Store, channels Channels, cfg config.Notifications, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Dispatcher{
		store:          st,
		channels:       channels,
		logger:         logging.NewComponentLogger(logger, "dispatcher"),
		metrics:        metrics.Nop{},
		now:            time.Now,
		workerID:       "dispatcher-" + uuid.NewString()[:8],
		batchSize:      cfg.BatchSize,
		lease:          time.Duration(cfg.LeaseSeconds) * time.Second,
		attemptTimeout: time.Duration(cfg.AttemptTimeoutSeconds) * time.Second,
		pollInterval:   time.Duration(cfg.PollInterval) * time.Second,
		wake:           make(chan struct{}, 1),
	}
	if d.batchSize <= 0 {
		d.batchSize = 25
	}
	if d.attemptTimeout <= 0 {
		d.attemptTimeout = 15 * time.Second
	}
	if d.lease <= d.attemptTimeout {
		d.lease = 2 * d.attemptTimeout
	}
	if d.pollInterval <= 0 {
		d.pollInterval = 5 * time.Second
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Wake triggers an immediate pass in Run.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run dispatches until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("notification dispatcher started",
		logging.String(logging.FieldWorker, d.workerID),
		logging.Duration("poll_interval", d.pollInterval),
	)
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		stats, err := d.DispatchOnce(ctx)
		if err != nil && ctx.Err() == nil {
			logging.WarnWithContext(d.logger, "dispatch pass failed", "dispatch_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check store connectivity"),
				logging.String(logging.FieldImpact, "notifications delayed until the next pass"),
			)
		}
		if stats.Claimed == d.batchSize {
			continue
		}
		select {
		case <-ctx.Done():
			d.logger.Info("notification dispatcher stopped", logging.String(logging.FieldWorker, d.workerID))
			return nil
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// DispatchOnce claims one batch of due tasks and attempts each once.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (DispatchStats, error) {
	var stats DispatchStats
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	tasks, err := d.store.ClaimNotifications(ctx, d.workerID, d.now(), d.lease, d.batchSize)
	stats.Claimed = len(tasks)
	if err != nil {
		return stats, err
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(config.NotificationDeliveryConcurrency)
	for _, task := range tasks {
		group.Go(func() error {
			outcome, err := d.deliver(groupCtx, task)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeSent:
				stats.Sent++
			case outcomeRetried:
				stats.Retried++
			case outcomeFailed:
				stats.Failed++
			case outcomeLost:
				stats.Lost++
			}
			if err != nil {
				errs = append(errs, err)
			}
			return nil
		})
	}
	_ = group.Wait()

	if backlog, err := d.store.CountPendingNotifications(ctx); err == nil {
		d.metrics.Set(metrics.NotificationsBacklog, float64(backlog))
	}
	if stats.Claimed > 0 {
		d.logger.Debug("dispatch pass complete",
			logging.Int("claimed", stats.Claimed),
			logging.Int("sent", stats.Sent),
			logging.Int("retried", stats.Retried),
			logging.Int("failed", stats.Failed),
			logging.Int("lost", stats.Lost),
		)
	}
	return stats, errors.Join(errs...)
}

type deliveryOutcome int

const (
	outcomeNone deliveryOutcome = iota
	outcomeSent
	outcomeRetried
	outcomeFailed
	outcomeLost
)

// deliver makes one attempt. Only store failures are returned; channel
// failures are recorded on the task.
func (d *Dispatcher) deliver(ctx context.Context, task *store.NotificationTask) (deliveryOutcome, error) {
	logger := d.logger.With(
		logging.String(logging.FieldTaskID, task.ID),
		logging.String("channel", string(task.Channel)),
		logging.String("event", task.Event),
	)

	sendErr := d.attempt(ctx, task)
	now := d.now()
	if sendErr == nil {
		ok, err := d.store.MarkNotificationSent(ctx, task.ID, now)
		if err != nil {
			return outcomeNone, err
		}
		if !ok {
			return outcomeLost, nil
		}
		d.metrics.Inc(metrics.NotificationsSent, 1)
		logger.Debug("notification sent")
		return outcomeSent, nil
	}

	decision := NextAttempt(task.RetryCount, task.MaxRetries, now, sendErr.Error())
	ok, err := d.store.RecordDeliveryFailure(ctx, task.ID, task.RetryCount, decision, now)
	if err != nil {
		return outcomeNone, err
	}
	if !ok {
		return outcomeLost, nil
	}
	if decision.Status == store.NotificationFailed {
		d.metrics.Inc(metrics.NotificationsFailed, 1)
		logging.WarnWithContext(logger, "notification failed permanently", "notification_failed",
			logging.Int("retry_count", decision.RetryCount),
			logging.Error(sendErr),
			logging.String(logging.FieldErrorHint, "check channel credentials and the recipient address"),
			logging.String(logging.FieldImpact, "recipient was not notified"),
		)
		return outcomeFailed, nil
	}
	d.metrics.Inc(metrics.NotificationsRetried, 1)
	logger.Info("notification attempt failed; retry scheduled",
		logging.Int("retry_count", decision.RetryCount),
		logging.Time("next_eligible_at", decision.NextEligibleAt),
		logging.Error(sendErr),
	)
	return outcomeRetried, nil
}

func (d *Dispatcher) attempt(ctx context.Context, task *store.NotificationTask) (err error) {
	channel, ok := d.channels[task.Channel]
	if !ok || channel == nil {
		return deliveryError(string(task.Channel), "no channel configured", nil)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = deliveryError(channel.Name(), fmt.Sprintf("channel panic: %v", r), nil)
		}
	}()
	return channel.Deliver(attemptCtx, task.RecipientID, PayloadFor(task))
}
