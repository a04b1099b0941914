package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateIntake(); err != nil {
		return err
	}
	if err := c.validateObjectStorage(); err != nil {
		return err
	}
	if err := c.validateAnalysis(); err != nil {
		return err
	}
	if err := c.validateScoring(); err != nil {
		return err
	}
	if err := c.validateRules(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateMaintenance(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case StoreDriverSQLite:
	case StoreDriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn must be set when store.driver is postgres (or set SENTINEL_STORE_DSN)")
		}
	default:
		return fmt.Errorf("store.driver %q is not supported (use sqlite or postgres)", c.Store.Driver)
	}
	return nil
}

func (c *Config) validateIntake() error {
	if len(c.Intake.AllowedMediaTypes) == 0 {
		return errors.New("intake.allowed_media_types must include at least one media type")
	}
	if !validPriority(c.Intake.ReportPriority) {
		return fmt.Errorf("intake.report_priority %q must be low, medium, or high", c.Intake.ReportPriority)
	}
	return nil
}

func (c *Config) validateObjectStorage() error {
	switch c.ObjectStorage.Backend {
	case ObjectBackendFilesystem:
		if c.Paths.ObjectDir == "" {
			return errors.New("paths.object_dir must be set when object_storage.backend is filesystem")
		}
	case ObjectBackendS3:
		if c.ObjectStorage.Bucket == "" {
			return errors.New("object_storage.bucket must be set when object_storage.backend is s3")
		}
	default:
		return fmt.Errorf("object_storage.backend %q is not supported (use filesystem or s3)", c.ObjectStorage.Backend)
	}
	return nil
}

func (c *Config) validateAnalysis() error {
	if err := ensurePositiveMap(map[string]int{
		"analysis.workers":                  c.Analysis.Workers,
		"analysis.poll_interval":            c.Analysis.PollInterval,
		"analysis.error_retry_interval":     c.Analysis.ErrorRetryInterval,
		"analysis.provider_timeout_seconds": c.Analysis.ProviderTimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Analysis.HeartbeatInterval <= 0 {
		return errors.New("analysis.heartbeat_interval must be positive")
	}
	if c.Analysis.HeartbeatTimeout <= 0 {
		return errors.New("analysis.heartbeat_timeout must be positive")
	}
	if c.Analysis.HeartbeatTimeout <= c.Analysis.HeartbeatInterval {
		return errors.New("analysis.heartbeat_timeout must be greater than analysis.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateScoring() error {
	s := c.Scoring
	for key, value := range map[string]float64{
		"scoring.content_threshold":      s.ContentThreshold,
		"scoring.cultural_threshold":     s.CulturalThreshold,
		"scoring.fraud_threshold":        s.FraudThreshold,
		"scoring.account_flag_threshold": s.AccountFlagThreshold,
		"scoring.high_priority_at":       s.HighPriorityAt,
		"scoring.medium_priority_at":     s.MediumPriorityAt,
	} {
		if value < 0 || value > 1 {
			return fmt.Errorf("%s must be between 0 and 1", key)
		}
	}
	if s.MediumPriorityAt > s.HighPriorityAt {
		return errors.New("scoring.medium_priority_at must not exceed scoring.high_priority_at")
	}
	if s.AccountFlagThreshold < s.FraudThreshold {
		return errors.New("scoring.account_flag_threshold must not be below scoring.fraud_threshold")
	}
	for term, weight := range s.Content.Terms {
		if weight < 0 || weight > 1 {
			return fmt.Errorf("scoring.content.terms[%q] must be between 0 and 1", term)
		}
	}
	switch s.Content.Classifier {
	case ClassifierLexicon:
	case ClassifierModel:
		if strings.TrimSpace(s.Content.ModelAPIKey) == "" {
			return errors.New("scoring.content.model_api_key must be set when scoring.content.classifier is model (or set SENTINEL_CONTENT_MODEL_API_KEY)")
		}
	default:
		return fmt.Errorf("scoring.content.classifier %q is not supported (use lexicon or model)", s.Content.Classifier)
	}
	if s.Fraud.VelocityThreshold <= 0 {
		return errors.New("scoring.fraud.velocity_threshold must be positive")
	}
	if s.Fraud.AmountMultiplier <= 0 {
		return errors.New("scoring.fraud.amount_multiplier must be positive")
	}
	if s.Fraud.NewAccountDays < 0 {
		return errors.New("scoring.fraud.new_account_days must be >= 0")
	}
	if s.Fraud.LowTrustScore > s.Fraud.TrustedScore {
		return errors.New("scoring.fraud.low_trust_score must not exceed scoring.fraud.trusted_score")
	}
	return nil
}

func (c *Config) validateRules() error {
	seen := make(map[string]struct{}, len(c.Rules.Escalation))
	for i, rule := range c.Rules.Escalation {
		if rule.Name == "" {
			return fmt.Errorf("rules.escalation[%d].name must be set", i)
		}
		if _, exists := seen[rule.Name]; exists {
			return fmt.Errorf("rules.escalation name %q is duplicated", rule.Name)
		}
		seen[rule.Name] = struct{}{}
		if rule.Expression == "" {
			return fmt.Errorf("rules.escalation[%s].expression must be set", rule.Name)
		}
		if !validPriority(rule.Priority) {
			return fmt.Errorf("rules.escalation[%s].priority %q must be low, medium, or high", rule.Name, rule.Priority)
		}
	}
	return nil
}

func (c *Config) validateNotifications() error {
	n := c.Notifications
	if n.MaxRetries < 0 {
		return errors.New("notifications.max_retries must be >= 0")
	}
	if err := ensurePositiveMap(map[string]int{
		"notifications.batch_size":              n.BatchSize,
		"notifications.poll_interval":           n.PollInterval,
		"notifications.attempt_timeout_seconds": n.AttemptTimeoutSeconds,
		"notifications.lease_seconds":           n.LeaseSeconds,
		"notifications.ntfy.request_timeout":    n.Ntfy.RequestTimeout,
	}); err != nil {
		return err
	}
	if n.LeaseSeconds <= n.AttemptTimeoutSeconds {
		return errors.New("notifications.lease_seconds must be greater than notifications.attempt_timeout_seconds")
	}
	// A claimed batch drains NotificationDeliveryConcurrency tasks at a time;
	// the last task must still hold its lease when its attempt ends.
	rounds := (n.BatchSize + NotificationDeliveryConcurrency - 1) / NotificationDeliveryConcurrency
	if n.LeaseSeconds < rounds*n.AttemptTimeoutSeconds {
		return fmt.Errorf("notifications.lease_seconds must be at least %d (ceil(batch_size/%d) * attempt_timeout_seconds)",
			rounds*n.AttemptTimeoutSeconds, NotificationDeliveryConcurrency)
	}
	switch n.PushBackend {
	case BackendLog, BackendNtfy:
	case BackendRedis:
		if n.Redis.Address == "" {
			return errors.New("notifications.redis.address must be set when notifications.push_backend is redis")
		}
	default:
		return fmt.Errorf("notifications.push_backend %q is not supported (use log, ntfy, or redis)", n.PushBackend)
	}
	switch n.EmailBackend {
	case BackendLog:
	case BackendSMTP:
		if n.Email.SMTPHost == "" {
			return errors.New("notifications.email.smtp_host must be set when notifications.email_backend is smtp")
		}
		if n.Email.From == "" {
			return errors.New("notifications.email.from must be set when notifications.email_backend is smtp")
		}
		if n.Email.SMTPPort <= 0 {
			return errors.New("notifications.email.smtp_port must be positive")
		}
	default:
		return fmt.Errorf("notifications.email_backend %q is not supported (use log or smtp)", n.EmailBackend)
	}
	return nil
}

func (c *Config) validateMaintenance() error {
	m := c.Maintenance
	if !m.Enabled {
		return nil
	}
	if _, err := cron.Parse(m.Schedule); err != nil {
		return fmt.Errorf("maintenance.schedule %q: %w", m.Schedule, err)
	}
	if err := ensurePositiveMap(map[string]int{
		"maintenance.notification_retention_days": m.NotificationRetentionDays,
		"maintenance.trust_stale_hours":           m.TrustStaleHours,
		"maintenance.trust_batch_size":            m.TrustBatchSize,
	}); err != nil {
		return err
	}
	return nil
}

func validPriority(value string) bool {
	switch value {
	case "low", "medium", "high":
		return true
	}
	return false
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
