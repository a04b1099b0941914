package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"sentinel/internal/config"
	"sentinel/internal/logging"
	"sentinel/internal/metrics"
	"sentinel/internal/moderation"
	"sentinel/internal/notify"
	"sentinel/internal/rules"
	"sentinel/internal/scoring"
	"sentinel/internal/store"
	"sentinel/internal/trust"
)

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Store      *store.Store
	Providers  scoring.Registry
	Rules      *rules.Engine
	Moderation *moderation.Queue
	Trust      *trust.Aggregator
	Notifier   *notify.Queue
}

// Orchestrator runs analysis workers against the shared store.
type Orchestrator struct {
	store      *store.Store
	providers  scoring.Registry
	aggregator Aggregator
	moderation *moderation.Queue
	trust      *trust.Aggregator
	notifier   *notify.Queue
	security   []string
	logger     *slog.Logger
	metrics    metrics.Sink
	now        func() time.Time

	workers           int
	workerPrefix      string
	providerTimeout   time.Duration
	pollInterval      time.Duration
	errorRetry        time.Duration
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	flagAccountAbove  float64

	wake chan struct{}

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(sink metrics.Sink) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics.OrNop(sink)
	}
}

// WithWorkerPrefix names the workers; the default is a random per-process prefix.
func WithWorkerPrefix(prefix string) Option {
	return func(o *Orchestrator) {
		if prefix != "" {
			o.workerPrefix = prefix
		}
	}
}

// New builds an orchestrator from configuration.
func New(cfg *config.Config, deps Deps, logger *slog.Logger, opts ...Option) *Orchestrator {
	a := cfg.Analysis
	o := &Orchestrator{
		store:     deps.Store,
		providers: deps.Providers,
		aggregator: Aggregator{
			Thresholds:         ThresholdsFrom(cfg.Scoring),
			Rules:              deps.Rules,
			ReviewWhenUnscored: a.ReviewWhenUnscored,
		},
		moderation:        deps.Moderation,
		trust:             deps.Trust,
		notifier:          deps.Notifier,
		security:          cfg.Moderation.SecurityAlertRecipients(),
		logger:            logging.NewComponentLogger(logger, "analysis"),
		metrics:           metrics.Nop{},
		now:               time.Now,
		workers:           max(a.Workers, 1),
		workerPrefix:      "analysis-" + uuid.NewString()[:8],
		providerTimeout:   time.Duration(a.ProviderTimeoutSeconds) * time.Second,
		pollInterval:      secondsOr(a.PollInterval, 5*time.Second),
		errorRetry:        secondsOr(a.ErrorRetryInterval, 10*time.Second),
		heartbeatInterval: secondsOr(a.HeartbeatInterval, 15*time.Second),
		heartbeatTimeout:  time.Duration(a.HeartbeatTimeout) * time.Second,
		flagAccountAbove:  cfg.Scoring.AccountFlagThreshold,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.wake = make(chan struct{}, o.workers)
	return o
}

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// Start launches the workers and the stale-analysis reaper.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return errors.New("analysis already running")
	}
	if len(o.providers) == 0 {
		o.mu.Unlock()
		return errors.New("no scoring providers registered")
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true
	o.wg.Add(o.workers + 1)
	o.mu.Unlock()

	for i := 0; i < o.workers; i++ {
		go o.runWorker(runCtx, fmt.Sprintf("%s-%d", o.workerPrefix, i+1))
	}
	go o.runReaper(runCtx)
	o.logger.Info("analysis started", logging.Int("workers", o.workers), logging.Int("providers", len(o.providers)))
	return nil
}

// Stop cancels the workers and waits for in-flight analyses to finish.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel := o.cancel
	o.running = false
	o.cancel = nil
	o.mu.Unlock()

	cancel()
	o.wg.Wait()
	o.logger.Info("analysis stopped")
}

// Wake nudges idle workers to poll immediately.
func (o *Orchestrator) Wake() {
	for i := 0; i < cap(o.wake); i++ {
		select {
		case o.wake <- struct{}{}:
		default:
			return
		}
	}
}

// Status is a snapshot of orchestrator health.
type Status struct {
	Running   bool
	Workers   int
	LastError string
	Counts    map[store.SubmissionStatus]int
}

// Status reports whether workers are running and the submission counts.
func (o *Orchestrator) Status(ctx context.Context) Status {
	o.mu.RLock()
	status := Status{Running: o.running, Workers: o.workers}
	if o.lastErr != nil {
		status.LastError = o.lastErr.Error()
	}
	o.mu.RUnlock()

	counts, err := o.store.SubmissionStats(ctx)
	if err != nil {
		o.logger.Warn("failed to read submission stats", logging.Error(err))
	}
	status.Counts = counts
	return status
}

func (o *Orchestrator) setLastError(err error) {
	o.mu.Lock()
	o.lastErr = err
	o.mu.Unlock()
}

func (o *Orchestrator) runWorker(ctx context.Context, workerID string) {
	defer o.wg.Done()
	logger := o.logger.With(logging.String(logging.FieldWorker, workerID))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed, err := o.processNext(ctx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.setLastError(err)
			logging.ErrorWithContext(logger, "analysis worker error", "analysis_worker_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check store connectivity"),
			)
			o.sleep(ctx, o.errorRetry)
			continue
		}
		if !processed {
			o.sleep(ctx, o.pollInterval)
		}
	}
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-o.wake:
	}
}

func (o *Orchestrator) runReaper(ctx context.Context) {
	defer o.wg.Done()
	if o.heartbeatTimeout <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(o.heartbeatInterval)
	defer ticker.Stop()
	for {
		if _, err := o.ReapStale(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(o.logger, "stale analysis reap failed", "analysis_reap_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check store connectivity"),
				logging.String(logging.FieldImpact, "crashed analyses stay in analyzing until the next pass"),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ReapStale fails analyzing submissions whose heartbeat is older than the
// configured timeout.
func (o *Orchestrator) ReapStale(ctx context.Context) (int64, error) {
	if o.heartbeatTimeout <= 0 {
		return 0, nil
	}
	now := o.now()
	count, err := o.store.FailStaleAnalyses(ctx, now.Add(-o.heartbeatTimeout), "analysis worker heartbeat expired", now)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		o.metrics.Inc(metrics.AnalysesFailed, count)
		logging.WarnWithContext(o.logger, "failed stale analyses", "analysis_reaped",
			logging.Int64("count", count),
			logging.Duration("heartbeat_timeout", o.heartbeatTimeout),
			logging.String(logging.FieldErrorHint, "resubmit affected items; check for crashed workers"),
			logging.String(logging.FieldImpact, "submissions marked failed without a verdict"),
		)
	}
	return count, nil
}
