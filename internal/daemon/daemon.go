package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"sentinel/internal/analysis"
	"sentinel/internal/config"
	"sentinel/internal/logging"
	"sentinel/internal/metrics"
	"sentinel/internal/preflight"
)

// Daemon coordinates the background loops and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	svc    *Services
	logger *slog.Logger
	api    *apiServer

	lockPath string
	lock     *flock.Flock

	mu        sync.RWMutex
	running   atomic.Bool
	cancel    context.CancelFunc
	loops     sync.WaitGroup
	startedAt time.Time
	preflight []preflight.Result
}

// Status represents daemon runtime information.
type Status struct {
	Running              bool
	PID                  int
	StoreDriver          string
	LockFilePath         string
	StartedAt            time.Time
	Analysis             analysis.Status
	ModerationPending    int
	NotificationsBacklog int
	Preflight            []preflight.Result
}

// New constructs a daemon over an already wired service graph.
func New(cfg *config.Config, svc *Services, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || svc == nil {
		return nil, errors.New("daemon requires config and services")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		svc:      svc,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Services exposes the component graph the daemon drives.
func (d *Daemon) Services() *Services {
	return d.svc
}

// RecordPreflight stores the startup check results reported by Status.
func (d *Daemon) RecordPreflight(results []preflight.Result) {
	d.mu.Lock()
	d.preflight = append([]preflight.Result(nil), results...)
	d.mu.Unlock()
}

// Start acquires the daemon lock and launches analysis, notification
// dispatch, maintenance, and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another sentinel daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	fail := func(err error) error {
		cancel()
		d.svc.Orchestrator.Stop()
		d.svc.Maintenance.Stop()
		d.loops.Wait()
		_ = d.lock.Unlock()
		return err
	}

	if err := d.svc.Orchestrator.Start(runCtx); err != nil {
		return fail(fmt.Errorf("start analysis: %w", err))
	}
	d.loops.Add(1)
	go func() {
		defer d.loops.Done()
		if err := d.svc.Dispatcher.Run(runCtx); err != nil {
			d.logger.Error("notification dispatcher exited", logging.Error(err))
		}
	}()
	if err := d.svc.Maintenance.Start(runCtx); err != nil {
		return fail(fmt.Errorf("start maintenance: %w", err))
	}
	if err := d.api.start(runCtx); err != nil {
		return fail(fmt.Errorf("start api: %w", err))
	}

	d.mu.Lock()
	d.cancel = cancel
	d.startedAt = time.Now()
	d.mu.Unlock()
	d.running.Store(true)
	d.logger.Info("sentinel daemon started",
		logging.String("lock", d.lockPath),
		logging.String("store_driver", d.svc.Store.Driver()),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.api.stop()
	d.svc.Maintenance.Stop()
	d.svc.Orchestrator.Stop()
	d.loops.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("sentinel daemon stopped")
}

// Close stops the daemon and releases the service graph.
func (d *Daemon) Close() error {
	d.Stop()
	return d.svc.Close()
}

// APIAddr returns the address the HTTP API is listening on, or "" when the
// API is disabled or stopped.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Status returns the current daemon status and refreshes the backlog gauges.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.RLock()
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StoreDriver:  d.svc.Store.Driver(),
		LockFilePath: d.lockPath,
		StartedAt:    d.startedAt,
		Preflight:    append([]preflight.Result(nil), d.preflight...),
	}
	d.mu.RUnlock()

	status.Analysis = d.svc.Orchestrator.Status(ctx)
	if pending, err := d.svc.Store.CountPendingModeration(ctx); err != nil {
		d.logger.Warn("failed to count pending moderation", logging.Error(err))
	} else {
		status.ModerationPending = pending
		d.svc.Metrics.Set(metrics.ModerationPending, float64(pending))
	}
	if backlog, err := d.svc.Store.CountPendingNotifications(ctx); err != nil {
		d.logger.Warn("failed to count notification backlog", logging.Error(err))
	} else {
		status.NotificationsBacklog = backlog
		d.svc.Metrics.Set(metrics.NotificationsBacklog, float64(backlog))
	}
	return status
}
