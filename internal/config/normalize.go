package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStore()
	c.normalizeIntake()
	c.normalizeObjectStorage()
	c.normalizeScoring()
	c.normalizeModeration()
	c.normalizeRules()
	c.normalizeNotifications()
	c.normalizeMaintenance()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ObjectDir) == "" {
		c.Paths.ObjectDir = defaultObjectDir
	}
	if c.Paths.ObjectDir, err = expandPath(c.Paths.ObjectDir); err != nil {
		return fmt.Errorf("paths.object_dir: %w", err)
	}
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	return nil
}

func (c *Config) normalizeStore() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case "", "sqlite3":
		c.Store.Driver = StoreDriverSQLite
	case "postgresql", "pg":
		c.Store.Driver = StoreDriverPostgres
	}
	c.Store.DSN = strings.TrimSpace(c.Store.DSN)
	if c.Store.MaxOpenConns <= 0 {
		c.Store.MaxOpenConns = defaultStoreMaxOpenConnections
	}
}

func (c *Config) normalizeIntake() {
	if c.Intake.MaxUploadBytes <= 0 {
		c.Intake.MaxUploadBytes = defaultMaxUploadBytes
	}
	types := make([]string, 0, len(c.Intake.AllowedMediaTypes))
	seen := make(map[string]struct{}, len(c.Intake.AllowedMediaTypes))
	for _, mediaType := range c.Intake.AllowedMediaTypes {
		normalized := strings.ToLower(strings.TrimSpace(mediaType))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		types = append(types, normalized)
	}
	c.Intake.AllowedMediaTypes = types
	c.Intake.ReportPriority = strings.ToLower(strings.TrimSpace(c.Intake.ReportPriority))
	if c.Intake.ReportPriority == "" {
		c.Intake.ReportPriority = defaultReportPriority
	}
}

func (c *Config) normalizeObjectStorage() {
	c.ObjectStorage.Backend = strings.ToLower(strings.TrimSpace(c.ObjectStorage.Backend))
	if c.ObjectStorage.Backend == "" {
		c.ObjectStorage.Backend = ObjectBackendFilesystem
	}
	c.ObjectStorage.Bucket = strings.TrimSpace(c.ObjectStorage.Bucket)
	c.ObjectStorage.Endpoint = strings.TrimSpace(c.ObjectStorage.Endpoint)
	c.ObjectStorage.Region = strings.TrimSpace(c.ObjectStorage.Region)
	if c.ObjectStorage.Region == "" {
		c.ObjectStorage.Region = "us-east-1"
	}
}

func (c *Config) normalizeScoring() {
	content := &c.Scoring.Content
	content.Classifier = strings.ToLower(strings.TrimSpace(content.Classifier))
	if content.Classifier == "" {
		content.Classifier = ClassifierLexicon
	}
	if len(content.Terms) == 0 {
		content.Terms = DefaultContentTerms()
	} else {
		terms := make(map[string]float64, len(content.Terms))
		for term, weight := range content.Terms {
			normalized := strings.ToLower(strings.TrimSpace(term))
			if normalized != "" {
				terms[normalized] = weight
			}
		}
		content.Terms = terms
	}
	hashes := content.BlockedHashes[:0]
	for _, hash := range content.BlockedHashes {
		if normalized := strings.ToLower(strings.TrimSpace(hash)); normalized != "" {
			hashes = append(hashes, normalized)
		}
	}
	content.BlockedHashes = hashes
	content.ModelBaseURL = strings.TrimSpace(content.ModelBaseURL)
	if content.ModelBaseURL == "" {
		content.ModelBaseURL = defaultModelBaseURL
	}
	content.ModelName = strings.TrimSpace(content.ModelName)
	if content.ModelName == "" {
		content.ModelName = defaultModelName
	}
	if content.ModelTimeoutSeconds <= 0 {
		content.ModelTimeoutSeconds = defaultModelTimeoutSeconds
	}

	cultural := &c.Scoring.Cultural
	if len(cultural.SacredTerms) == 0 {
		cultural.SacredTerms = DefaultSacredTerms()
	}
	if len(cultural.MassProductionTerms) == 0 {
		cultural.MassProductionTerms = DefaultMassProductionTerms()
	}
	if len(cultural.AuthenticityTerms) == 0 {
		cultural.AuthenticityTerms = DefaultAuthenticityTerms()
	}
}

func (c *Config) normalizeModeration() {
	c.Moderation.Reviewers = trimList(c.Moderation.Reviewers)
	c.Moderation.SecurityRecipients = trimList(c.Moderation.SecurityRecipients)
}

func (c *Config) normalizeRules() {
	for i := range c.Rules.Escalation {
		rule := &c.Rules.Escalation[i]
		rule.Name = strings.TrimSpace(rule.Name)
		rule.Expression = strings.TrimSpace(rule.Expression)
		rule.Priority = strings.ToLower(strings.TrimSpace(rule.Priority))
		if rule.Priority == "" {
			rule.Priority = "high"
		}
	}
}

func (c *Config) normalizeNotifications() {
	n := &c.Notifications
	n.PushBackend = strings.ToLower(strings.TrimSpace(n.PushBackend))
	if n.PushBackend == "" {
		n.PushBackend = BackendLog
	}
	n.EmailBackend = strings.ToLower(strings.TrimSpace(n.EmailBackend))
	if n.EmailBackend == "" {
		n.EmailBackend = BackendLog
	}
	n.Ntfy.Server = strings.TrimRight(strings.TrimSpace(n.Ntfy.Server), "/")
	if n.Ntfy.Server == "" {
		n.Ntfy.Server = defaultNtfyServer
	}
	n.Ntfy.TopicPrefix = strings.TrimSpace(n.Ntfy.TopicPrefix)
	if n.Ntfy.TopicPrefix == "" {
		n.Ntfy.TopicPrefix = defaultNtfyTopicPrefix
	}
	n.Email.SMTPHost = strings.TrimSpace(n.Email.SMTPHost)
	n.Email.From = strings.TrimSpace(n.Email.From)
	n.Email.RecipientDomain = strings.TrimPrefix(strings.TrimSpace(n.Email.RecipientDomain), "@")
	n.Redis.Address = strings.TrimSpace(n.Redis.Address)
	n.Redis.Stream = strings.TrimSpace(n.Redis.Stream)
	if n.Redis.Stream == "" {
		n.Redis.Stream = defaultRedisStream
	}
	if n.Redis.MaxLen < 0 {
		n.Redis.MaxLen = 0
	}
}

func (c *Config) normalizeMaintenance() {
	c.Maintenance.Schedule = strings.TrimSpace(c.Maintenance.Schedule)
	if c.Maintenance.Schedule == "" {
		c.Maintenance.Schedule = defaultMaintenanceSchedule
	}
	if c.Maintenance.MinFreeSpaceMiB < 0 {
		c.Maintenance.MinFreeSpaceMiB = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
