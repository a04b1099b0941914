package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/daemon"
	"sentinel/internal/logging"
	"sentinel/internal/preflight"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// SkipPreflight starts the daemon even when startup checks fail.
	SkipPreflight bool
}

// Run starts the sentinel daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("sentinel-%s.log", runID))
	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update sentinel.log link: %v\n", err)
	}
	logConfigSnapshot(logger, cfg)

	pidPath := filepath.Join(cfg.Paths.DataDir, "sentineld.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	svc, err := daemon.NewServices(cfg, logger)
	if err != nil {
		logger.Error("wire services", logging.Error(err))
		return err
	}

	results := preflight.RunAll(signalCtx, cfg, svc.Store)
	if failed := preflight.Failed(results); len(failed) > 0 {
		for _, r := range failed {
			logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
				logging.String(logging.FieldErrorHint, "fix the reported check or start with --skip-preflight"),
			)
		}
		if !opts.SkipPreflight {
			_ = svc.Close()
			return fmt.Errorf("%d preflight check(s) failed", len(failed))
		}
	}

	d, err := daemon.New(cfg, svc, logger)
	if err != nil {
		_ = svc.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()
	d.RecordPreflight(results)

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration, store access, and the API bind address"),
			logging.String(logging.FieldImpact, "no submissions will be analyzed"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("sentinel daemon shutting down")
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "sentinel.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("store_driver", cfg.Store.Driver),
		logging.String("object_backend", cfg.ObjectStorage.Backend),
		logging.String("content_classifier", cfg.Scoring.Content.Classifier),
		logging.Int("analysis_workers", cfg.Analysis.Workers),
		logging.String("push_backend", cfg.Notifications.PushBackend),
		logging.String("email_backend", cfg.Notifications.EmailBackend),
		logging.Int("escalation_rules", len(cfg.Rules.Escalation)),
		logging.Bool("maintenance_enabled", cfg.Maintenance.Enabled),
		logging.String("api_bind", cfg.API.Bind),
		logging.Bool("api_token_present", strings.TrimSpace(cfg.API.Token) != ""),
	)
}
