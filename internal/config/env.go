package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// envPrefix is prepended to every override variable, e.g. SENTINEL_STORE_DSN.
const envPrefix = "sentinel"

// envOverrides holds secrets and deployment knobs that operators commonly inject
// through the environment rather than the config file.
type envOverrides struct {
	StoreDriver     string `envconfig:"STORE_DRIVER"`
	StoreDSN        string `envconfig:"STORE_DSN"`
	APIBind         string `envconfig:"API_BIND"`
	APIToken        string `envconfig:"API_TOKEN"`
	S3AccessKey     string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey     string `envconfig:"S3_SECRET_KEY"`
	ModelAPIKey     string `envconfig:"CONTENT_MODEL_API_KEY"`
	SMTPPassword    string `envconfig:"SMTP_PASSWORD"`
	RedisPassword   string `envconfig:"REDIS_PASSWORD"`
	LogLevel        string `envconfig:"LOG_LEVEL"`
	AnalysisWorkers int    `envconfig:"ANALYSIS_WORKERS"`
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("read environment overrides: %w", err)
	}
	override := func(dst *string, value string) {
		if value = strings.TrimSpace(value); value != "" {
			*dst = value
		}
	}
	override(&c.Store.Driver, env.StoreDriver)
	override(&c.Store.DSN, env.StoreDSN)
	override(&c.API.Bind, env.APIBind)
	override(&c.API.Token, env.APIToken)
	override(&c.ObjectStorage.AccessKey, env.S3AccessKey)
	override(&c.ObjectStorage.SecretKey, env.S3SecretKey)
	override(&c.Scoring.Content.ModelAPIKey, env.ModelAPIKey)
	override(&c.Notifications.Email.Password, env.SMTPPassword)
	override(&c.Notifications.Redis.Password, env.RedisPassword)
	override(&c.Logging.Level, env.LogLevel)
	if env.AnalysisWorkers > 0 {
		c.Analysis.Workers = env.AnalysisWorkers
	}
	return nil
}
