package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	LogDir    string `toml:"log_dir"`
	ObjectDir string `toml:"object_dir"`
}

// API contains the daemon HTTP listener configuration.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Store selects the persistence backend shared by every worker process.
type Store struct {
	Driver       string `toml:"driver"`
	DSN          string `toml:"dsn"`
	MaxOpenConns int    `toml:"max_open_conns"`
}

// Intake contains upload validation limits.
type Intake struct {
	MaxUploadBytes    int64    `toml:"max_upload_bytes"`
	AllowedMediaTypes []string `toml:"allowed_media_types"`
	SniffContent      bool     `toml:"sniff_content"`
	ReportPriority    string   `toml:"report_priority"`
}

// ObjectStorage selects the artifact backend.
type ObjectStorage struct {
	Backend      string `toml:"backend"`
	Bucket       string `toml:"bucket"`
	Endpoint     string `toml:"endpoint"`
	Region       string `toml:"region"`
	AccessKey    string `toml:"access_key"`
	SecretKey    string `toml:"secret_key"`
	UsePathStyle bool   `toml:"use_path_style"`
}

// Analysis contains orchestrator worker timing.
type Analysis struct {
	Workers                int  `toml:"workers"`
	PollInterval           int  `toml:"poll_interval"`
	ErrorRetryInterval     int  `toml:"error_retry_interval"`
	HeartbeatInterval      int  `toml:"heartbeat_interval"`
	HeartbeatTimeout       int  `toml:"heartbeat_timeout"`
	ProviderTimeoutSeconds int  `toml:"provider_timeout_seconds"`
	ReviewWhenUnscored     bool `toml:"review_when_unscored"`
}

// ContentScoring configures the content safety classifier.
type ContentScoring struct {
	Classifier          string             `toml:"classifier"`
	Terms               map[string]float64 `toml:"terms"`
	BlockedHashes       []string           `toml:"blocked_hashes"`
	ModelAPIKey         string             `toml:"model_api_key"`
	ModelBaseURL        string             `toml:"model_base_url"`
	ModelName           string             `toml:"model_name"`
	ModelTimeoutSeconds int                `toml:"model_timeout_seconds"`
}

// CulturalScoring configures the cultural sensitivity lexicons.
type CulturalScoring struct {
	SacredTerms         []string `toml:"sacred_terms"`
	MassProductionTerms []string `toml:"mass_production_terms"`
	AuthenticityTerms   []string `toml:"authenticity_terms"`
}

// FraudScoring configures the payment fraud signals.
type FraudScoring struct {
	VelocityThreshold int     `toml:"velocity_threshold"`
	AmountMultiplier  float64 `toml:"amount_multiplier"`
	NewAccountDays    int     `toml:"new_account_days"`
	HighValueAmount   float64 `toml:"high_value_amount"`
	TrustedScore      float64 `toml:"trusted_score"`
	LowTrustScore     float64 `toml:"low_trust_score"`
}

// Scoring contains enrollment thresholds and per-provider settings.
type Scoring struct {
	ContentThreshold     float64         `toml:"content_threshold"`
	CulturalThreshold    float64         `toml:"cultural_threshold"`
	FraudThreshold       float64         `toml:"fraud_threshold"`
	AccountFlagThreshold float64         `toml:"account_flag_threshold"`
	HighPriorityAt       float64         `toml:"high_priority_at"`
	MediumPriorityAt     float64         `toml:"medium_priority_at"`
	Content              ContentScoring  `toml:"content"`
	Cultural             CulturalScoring `toml:"cultural"`
	Fraud                FraudScoring    `toml:"fraud"`
}

// Moderation lists the recipients of reviewer-facing notifications.
type Moderation struct {
	Reviewers          []string `toml:"reviewers"`
	SecurityRecipients []string `toml:"security_recipients"`
}

// SecurityAlertRecipients returns who receives account security alerts. The
// reviewers stand in when no security recipients are configured.
func (m Moderation) SecurityAlertRecipients() []string {
	if len(m.SecurityRecipients) > 0 {
		return append([]string(nil), m.SecurityRecipients...)
	}
	return append([]string(nil), m.Reviewers...)
}

// EscalationRule is a CEL expression that forces review when it evaluates true.
type EscalationRule struct {
	Name       string `toml:"name"`
	Expression string `toml:"expression"`
	Priority   string `toml:"priority"`
}

// Rules contains operator-defined escalation rules.
type Rules struct {
	Escalation []EscalationRule `toml:"escalation"`
}

// Ntfy contains configuration for ntfy push delivery.
type Ntfy struct {
	Server         string `toml:"server"`
	TopicPrefix    string `toml:"topic_prefix"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Email contains SMTP delivery settings.
type Email struct {
	SMTPHost        string `toml:"smtp_host"`
	SMTPPort        int    `toml:"smtp_port"`
	Username        string `toml:"username"`
	Password        string `toml:"password"`
	From            string `toml:"from"`
	RecipientDomain string `toml:"recipient_domain"`
}

// Redis contains settings for the Redis stream push backend.
type Redis struct {
	Address  string `toml:"address"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Stream   string `toml:"stream"`
	MaxLen   int64  `toml:"max_len"`
}

// NotificationDeliveryConcurrency is how many leased tasks a dispatcher
// delivers at once.
const NotificationDeliveryConcurrency = 4

// Notifications contains delivery queue and channel configuration.
type Notifications struct {
	MaxRetries            int    `toml:"max_retries"`
	BatchSize             int    `toml:"batch_size"`
	PollInterval          int    `toml:"poll_interval"`
	AttemptTimeoutSeconds int    `toml:"attempt_timeout_seconds"`
	LeaseSeconds          int    `toml:"lease_seconds"`
	PushBackend           string `toml:"push_backend"`
	EmailBackend          string `toml:"email_backend"`
	Ntfy                  Ntfy   `toml:"ntfy"`
	Email                 Email  `toml:"email"`
	Redis                 Redis  `toml:"redis"`
}

// Maintenance contains scheduled housekeeping settings.
type Maintenance struct {
	Enabled                   bool   `toml:"enabled"`
	Schedule                  string `toml:"schedule"`
	NotificationRetentionDays int    `toml:"notification_retention_days"`
	TrustStaleHours           int    `toml:"trust_stale_hours"`
	TrustBatchSize            int    `toml:"trust_batch_size"`
	MinFreeSpaceMiB           int64  `toml:"min_free_space_mib"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Sentinel.
//
// Configuration sections by subsystem:
//   - Paths: data, log, and object directories
//   - API: daemon HTTP bind address and bearer token
//   - Store: sqlite or postgres backend for the shared durable store
//   - Intake: upload size and media type limits, report priority
//   - ObjectStorage: filesystem or S3 artifact backend
//   - Analysis: orchestrator workers, heartbeats, provider timeout
//   - Scoring: thresholds and provider lexicons
//   - Moderation: reviewer and security notification recipients
//   - Rules: CEL escalation rules
//   - Notifications: delivery queue and channels
//   - Maintenance: scheduled purge and trust refresh
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	API           API           `toml:"api"`
	Store         Store         `toml:"store"`
	Intake        Intake        `toml:"intake"`
	ObjectStorage ObjectStorage `toml:"object_storage"`
	Analysis      Analysis      `toml:"analysis"`
	Scoring       Scoring       `toml:"scoring"`
	Moderation    Moderation    `toml:"moderation"`
	Rules         Rules         `toml:"rules"`
	Notifications Notifications `toml:"notifications"`
	Maintenance   Maintenance   `toml:"maintenance"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded, environment overrides applied, and defaults filled in.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv("SENTINEL_CONFIG"))
	}
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("sentinel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir}
	if c.ObjectStorage.Backend == ObjectBackendFilesystem {
		dirs = append(dirs, c.Paths.ObjectDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StoreDSN returns the connection string for the configured driver. SQLite defaults to a
// database file inside the data directory.
func (c *Config) StoreDSN() string {
	if dsn := strings.TrimSpace(c.Store.DSN); dsn != "" {
		return dsn
	}
	if c.Store.Driver == StoreDriverSQLite {
		return filepath.Join(c.Paths.DataDir, "sentinel.db")
	}
	return ""
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "sentineld.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
