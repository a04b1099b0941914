package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"sentinel/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("SENTINEL_CONFIG", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "sentinel")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.API.Bind != "127.0.0.1:7620" {
		t.Fatalf("unexpected api bind: %q", cfg.API.Bind)
	}
	if cfg.Store.Driver != config.StoreDriverSQLite {
		t.Fatalf("expected sqlite driver by default, got %q", cfg.Store.Driver)
	}
	if got := cfg.StoreDSN(); got != filepath.Join(wantData, "sentinel.db") {
		t.Fatalf("unexpected sqlite dsn: %q", got)
	}
	if cfg.Notifications.MaxRetries != 3 {
		t.Fatalf("expected 3 notification retries, got %d", cfg.Notifications.MaxRetries)
	}
	if cfg.Intake.MaxUploadBytes != 10<<20 {
		t.Fatalf("unexpected max upload bytes: %d", cfg.Intake.MaxUploadBytes)
	}
	if len(cfg.Scoring.Content.Terms) == 0 {
		t.Fatal("expected default content lexicon")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir, cfg.Paths.ObjectDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "sentinel.toml")

	type payload struct {
		Analysis struct {
			Workers           int `toml:"workers"`
			HeartbeatInterval int `toml:"heartbeat_interval"`
			HeartbeatTimeout  int `toml:"heartbeat_timeout"`
		} `toml:"analysis"`
		Moderation struct {
			Reviewers []string `toml:"reviewers"`
		} `toml:"moderation"`
		Notifications struct {
			PushBackend string `toml:"push_backend"`
		} `toml:"notifications"`
	}
	custom := payload{}
	custom.Analysis.Workers = 4
	custom.Analysis.HeartbeatInterval = 20
	custom.Analysis.HeartbeatTimeout = 200
	custom.Moderation.Reviewers = []string{" alice ", "", "bob"}
	custom.Notifications.PushBackend = " NTFY "
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Analysis.Workers != 4 {
		t.Fatalf("expected 4 workers, got %d", cfg.Analysis.Workers)
	}
	if cfg.Analysis.HeartbeatTimeout != 200 {
		t.Fatalf("expected heartbeat timeout 200, got %d", cfg.Analysis.HeartbeatTimeout)
	}
	if strings.Join(cfg.Moderation.Reviewers, ",") != "alice,bob" {
		t.Fatalf("unexpected reviewers: %v", cfg.Moderation.Reviewers)
	}
	if cfg.Notifications.PushBackend != config.BackendNtfy {
		t.Fatalf("expected normalized push backend, got %q", cfg.Notifications.PushBackend)
	}
}

func TestEnvOverridesConfigFileSecrets(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "sentinel.toml")

	type payload struct {
		API struct {
			Token string `toml:"token"`
		} `toml:"api"`
		Store struct {
			Driver string `toml:"driver"`
			DSN    string `toml:"dsn"`
		} `toml:"store"`
	}
	custom := payload{}
	custom.API.Token = "file-token"
	custom.Store.Driver = "postgres"
	custom.Store.DSN = "postgres://file"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	t.Setenv("SENTINEL_API_TOKEN", "env-token")
	t.Setenv("SENTINEL_STORE_DSN", "postgres://env")
	t.Setenv("SENTINEL_ANALYSIS_WORKERS", "6")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.API.Token != "env-token" {
		t.Errorf("expected API token from env, got %q", cfg.API.Token)
	}
	if cfg.StoreDSN() != "postgres://env" {
		t.Errorf("expected store dsn from env, got %q", cfg.StoreDSN())
	}
	if cfg.Analysis.Workers != 6 {
		t.Errorf("expected workers from env, got %d", cfg.Analysis.Workers)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "[[rules.escalation]]") {
		t.Fatalf("sample config missing escalation rule example: %s", contents)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if len(cfg.Rules.Escalation) != 1 || cfg.Rules.Escalation[0].Priority != "high" {
		t.Fatalf("unexpected escalation rules: %+v", cfg.Rules.Escalation)
	}
	if !strings.Contains(cfg.Paths.DataDir, "sentinel") {
		t.Fatalf("expected data dir to contain sentinel, got %q", cfg.Paths.DataDir)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"heartbeat interval", func(c *config.Config) { c.Analysis.HeartbeatInterval = 0 }},
		{"timeout not above interval", func(c *config.Config) { c.Analysis.HeartbeatTimeout = c.Analysis.HeartbeatInterval }},
		{"workers", func(c *config.Config) { c.Analysis.Workers = 0 }},
		{"threshold range", func(c *config.Config) { c.Scoring.FraudThreshold = 1.5 }},
		{"postgres without dsn", func(c *config.Config) { c.Store.Driver = config.StoreDriverPostgres }},
		{"unknown driver", func(c *config.Config) { c.Store.Driver = "mysql" }},
		{"s3 without bucket", func(c *config.Config) { c.ObjectStorage.Backend = config.ObjectBackendS3 }},
		{"model without key", func(c *config.Config) { c.Scoring.Content.Classifier = config.ClassifierModel }},
		{"redis without address", func(c *config.Config) { c.Notifications.PushBackend = config.BackendRedis }},
		{"smtp without host", func(c *config.Config) { c.Notifications.EmailBackend = config.BackendSMTP }},
		{"lease shorter than attempt", func(c *config.Config) { c.Notifications.LeaseSeconds = c.Notifications.AttemptTimeoutSeconds }},
		{"lease shorter than batch drain", func(c *config.Config) { c.Notifications.BatchSize = 100 }},
		{"account flag below fraud threshold", func(c *config.Config) {
			c.Scoring.FraudThreshold = 0.9
			c.Scoring.AccountFlagThreshold = 0.8
		}},
		{"bad schedule", func(c *config.Config) { c.Maintenance.Schedule = "whenever" }},
		{"rule without expression", func(c *config.Config) {
			c.Rules.Escalation = []config.EscalationRule{{Name: "r", Priority: "high"}}
		}},
		{"rule with bad priority", func(c *config.Config) {
			c.Rules.Escalation = []config.EscalationRule{{Name: "r", Expression: "true", Priority: "urgent"}}
		}},
		{"report priority", func(c *config.Config) { c.Intake.ReportPriority = "critical" }},
	}
	for _, tc := range cases {
		cfg := config.Default()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateLeaseCoversBatchDrain(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.BatchSize = 8
	cfg.Notifications.AttemptTimeoutSeconds = 30
	cfg.Notifications.LeaseSeconds = 60
	if err := cfg.Validate(); err != nil {
		t.Fatalf("two delivery rounds of 30s should fit a 60s lease: %v", err)
	}

	cfg.Notifications.BatchSize = 9
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "at least 90") {
		t.Fatalf("expected lease error naming 90s, got %v", err)
	}
}

func TestSecurityAlertRecipientsFallBackToReviewers(t *testing.T) {
	m := config.Moderation{Reviewers: []string{"rev-1", "rev-2"}}
	if got := m.SecurityAlertRecipients(); len(got) != 2 || got[0] != "rev-1" || got[1] != "rev-2" {
		t.Fatalf("expected reviewers as fallback, got %v", got)
	}

	m.SecurityRecipients = []string{"sec-1"}
	if got := m.SecurityAlertRecipients(); len(got) != 1 || got[0] != "sec-1" {
		t.Fatalf("expected security recipients, got %v", got)
	}

	if got := (config.Moderation{}).SecurityAlertRecipients(); len(got) != 0 {
		t.Fatalf("expected no recipients, got %v", got)
	}
}
