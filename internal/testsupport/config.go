package testsupport

import (
	"path/filepath"
	"testing"

	"sentinel/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ObjectDir = filepath.Join(base, "objects")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Maintenance.MinFreeSpaceMiB = 1
	cfgVal.Notifications.PushBackend = config.BackendLog
	cfgVal.Notifications.EmailBackend = config.BackendLog

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithAPIToken sets the bearer token required by the daemon API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.Token = token
	}
}

// WithModerators sets the reviewer and security notification recipients.
func WithModerators(reviewers, security []string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Moderation.Reviewers = reviewers
		b.cfg.Moderation.SecurityRecipients = security
	}
}

// WithEscalationRule appends a CEL escalation rule.
func WithEscalationRule(name, expression, priority string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Rules.Escalation = append(b.cfg.Rules.Escalation, config.EscalationRule{
			Name:       name,
			Expression: expression,
			Priority:   priority,
		})
	}
}

// WithMaxRetries overrides the notification retry budget.
func WithMaxRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.MaxRetries = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
