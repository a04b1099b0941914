package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sentinel/internal/analysis"
	"sentinel/internal/config"
	"sentinel/internal/intake"
	"sentinel/internal/logging"
	"sentinel/internal/maintenance"
	"sentinel/internal/metrics"
	"sentinel/internal/moderation"
	"sentinel/internal/notify"
	"sentinel/internal/objectstore"
	"sentinel/internal/rules"
	"sentinel/internal/scoring"
	"sentinel/internal/store"
	"sentinel/internal/trust"
)

// Services is the wired component graph shared by the daemon and the CLI.
type Services struct {
	Config       *config.Config
	Store        *store.Store
	Objects      objectstore.Store
	Metrics      *metrics.Memory
	Rules        *rules.Engine
	Trust        *trust.Aggregator
	Notifier     *notify.Queue
	Channels     notify.Channels
	Dispatcher   *notify.Dispatcher
	Moderation   *moderation.Queue
	Orchestrator *analysis.Orchestrator
	Intake       *intake.Service
	Maintenance  *maintenance.Scheduler
}

type servicesOptions struct {
	now          func() time.Time
	providers    scoring.Registry
	channels     notify.Channels
	workerPrefix string
}

// ServicesOption customizes NewServices.
type ServicesOption func(*servicesOptions)

// WithClock overrides the time source of every component.
func WithClock(now func() time.Time) ServicesOption {
	return func(o *servicesOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithProviders replaces the configured scoring providers.
func WithProviders(providers scoring.Registry) ServicesOption {
	return func(o *servicesOptions) {
		o.providers = providers
	}
}

// WithChannels replaces the configured notification transports.
func WithChannels(channels notify.Channels) ServicesOption {
	return func(o *servicesOptions) {
		o.channels = channels
	}
}

// WithWorkerPrefix names analysis workers.
func WithWorkerPrefix(prefix string) ServicesOption {
	return func(o *servicesOptions) {
		o.workerPrefix = prefix
	}
}

// NewServices opens the store and object storage and wires every component
// against them.
func NewServices(cfg *config.Config, logger *slog.Logger, opts ...ServicesOption) (*Services, error) {
	if cfg == nil {
		return nil, errors.New("services require a config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	o := servicesOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	engine, err := rules.Compile(cfg.Rules.Escalation)
	if err != nil {
		return nil, fmt.Errorf("compile escalation rules: %w", err)
	}
	objects, err := objectstore.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("open object storage: %w", err)
	}
	channels := o.channels
	if channels == nil {
		channels, err = notify.NewChannels(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("build notification channels: %w", err)
		}
	}
	st, err := store.Open(cfg)
	if err != nil {
		_ = channels.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	providers := o.providers
	if providers == nil {
		providers = scoring.NewDefaultRegistry(cfg, objects)
	}

	sink := metrics.NewMemory()
	svc := &Services{
		Config:   cfg,
		Store:    st,
		Objects:  objects,
		Metrics:  sink,
		Rules:    engine,
		Channels: channels,
	}
	svc.Trust = trust.New(st, logger, trust.WithClock(o.now), trust.WithMetrics(sink))
	svc.Notifier = notify.NewQueue(st, cfg.Notifications.MaxRetries, logger, o.now)
	svc.Dispatcher = notify.NewDispatcher(st, channels, cfg.Notifications, logger,
		notify.WithClock(o.now), notify.WithMetrics(sink))
	svc.Moderation = moderation.New(st, svc.Trust, svc.Notifier, cfg.Moderation, logger,
		moderation.WithClock(o.now), moderation.WithMetrics(sink))

	orchOpts := []analysis.Option{analysis.WithClock(o.now), analysis.WithMetrics(sink)}
	if o.workerPrefix != "" {
		orchOpts = append(orchOpts, analysis.WithWorkerPrefix(o.workerPrefix))
	}
	svc.Orchestrator = analysis.New(cfg, analysis.Deps{
		Store:      st,
		Providers:  providers,
		Rules:      engine,
		Moderation: svc.Moderation,
		Trust:      svc.Trust,
		Notifier:   svc.Notifier,
	}, logger, orchOpts...)
	svc.Intake = intake.New(st, objects, svc.Moderation, cfg.Intake, logger,
		intake.WithClock(o.now), intake.WithMetrics(sink), intake.WithWake(svc.Orchestrator.Wake))
	svc.Maintenance = maintenance.New(st, svc.Trust, cfg.Maintenance, logger,
		maintenance.WithClock(o.now), maintenance.WithMetrics(sink))
	return svc, nil
}

// Close releases the notification transports and the store.
func (s *Services) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.Channels != nil {
		errs = append(errs, s.Channels.Close())
	}
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	return errors.Join(errs...)
}
