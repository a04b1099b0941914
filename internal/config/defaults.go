package config

const (
	defaultConfigPath = "~/.config/sentinel/config.toml"
	defaultDataDir    = "~/.local/share/sentinel"
	defaultLogDir     = "~/.local/share/sentinel/logs"
	defaultObjectDir  = "~/.local/share/sentinel/objects"
	defaultAPIBind    = "127.0.0.1:7620"
	defaultLogFormat  = "console"
	defaultLogLevel   = "info"

	defaultMaxUploadBytes = 10 << 20
	defaultReportPriority = "medium"

	defaultAnalysisWorkers         = 2
	defaultAnalysisPollInterval    = 2
	defaultAnalysisErrorRetry      = 5
	defaultAnalysisHeartbeat       = 10
	defaultAnalysisHeartbeatTTL    = 60
	defaultProviderTimeoutSeconds  = 10
	defaultModelTimeoutSeconds     = 20
	defaultModelBaseURL            = "https://openrouter.ai/api/v1/chat/completions"
	defaultModelName               = "google/gemini-3-flash-preview"
	defaultNotifyMaxRetries        = 3
	defaultNotifyBatchSize         = 25
	defaultNotifyPollInterval      = 5
	defaultNotifyAttemptTimeout    = 15
	defaultNotifyLeaseSeconds      = 120
	defaultNtfyServer              = "https://ntfy.sh"
	defaultNtfyTopicPrefix         = "sentinel"
	defaultNtfyRequestTimeout      = 10
	defaultSMTPPort                = 587
	defaultRedisStream             = "sentinel:push"
	defaultRedisMaxLen             = 10000
	defaultMaintenanceSchedule     = "@every 1h"
	defaultNotificationRetention   = 30
	defaultTrustStaleHours         = 24
	defaultTrustBatchSize          = 100
	defaultMinFreeSpaceMiB         = 512
	defaultStoreMaxOpenConnections = 8
)

// Store drivers.
const (
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"
)

// Object storage backends.
const (
	ObjectBackendFilesystem = "filesystem"
	ObjectBackendS3         = "s3"
)

// Notification backends.
const (
	BackendLog   = "log"
	BackendNtfy  = "ntfy"
	BackendRedis = "redis"
	BackendSMTP  = "smtp"
)

// Content classifiers.
const (
	ClassifierLexicon = "lexicon"
	ClassifierModel   = "model"
)

// DefaultContentTerms is the built-in policy lexicon. Weights are per-term violation
// probabilities combined as a noisy-OR.
func DefaultContentTerms() map[string]float64 {
	return map[string]float64{
		"counterfeit":   0.55,
		"replica":       0.35,
		"knockoff":      0.35,
		"stolen":        0.6,
		"firearm":       0.7,
		"ammunition":    0.7,
		"explosive":     0.9,
		"narcotic":      0.85,
		"ivory":         0.75,
		"human remains": 0.9,
		"hate symbol":   0.85,
		"nsfw":          0.6,
	}
}

// DefaultSacredTerms lists sacred or ceremonial vocabulary.
func DefaultSacredTerms() []string {
	return []string{
		"sacred", "ceremonial", "ritual", "holy", "shrine", "funerary",
		"ancestral spirit", "war bonnet", "headdress", "medicine bundle", "initiation",
	}
}

// DefaultMassProductionTerms lists vocabulary that suggests mass-produced goods.
func DefaultMassProductionTerms() []string {
	return []string{
		"mass produced", "mass-produced", "factory made", "factory-made",
		"wholesale", "bulk lot", "machine made", "dropship",
	}
}

// DefaultAuthenticityTerms lists vocabulary that signals provenance.
func DefaultAuthenticityTerms() []string {
	return []string{
		"handmade", "hand-made", "handcrafted", "artisan", "authentic",
		"certified", "fair trade", "community made", "made by",
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
			ObjectDir: defaultObjectDir,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Store: Store{
			Driver:       StoreDriverSQLite,
			MaxOpenConns: defaultStoreMaxOpenConnections,
		},
		Intake: Intake{
			MaxUploadBytes:    defaultMaxUploadBytes,
			AllowedMediaTypes: []string{"image/jpeg", "image/png", "image/webp", "image/gif"},
			SniffContent:      true,
			ReportPriority:    defaultReportPriority,
		},
		ObjectStorage: ObjectStorage{
			Backend: ObjectBackendFilesystem,
			Region:  "us-east-1",
		},
		Analysis: Analysis{
			Workers:                defaultAnalysisWorkers,
			PollInterval:           defaultAnalysisPollInterval,
			ErrorRetryInterval:     defaultAnalysisErrorRetry,
			HeartbeatInterval:      defaultAnalysisHeartbeat,
			HeartbeatTimeout:       defaultAnalysisHeartbeatTTL,
			ProviderTimeoutSeconds: defaultProviderTimeoutSeconds,
			ReviewWhenUnscored:     true,
		},
		Scoring: Scoring{
			ContentThreshold:     0.8,
			CulturalThreshold:    0.7,
			FraudThreshold:       0.8,
			AccountFlagThreshold: 0.8,
			HighPriorityAt:       0.8,
			MediumPriorityAt:     0.5,
			Content: ContentScoring{
				Classifier:          ClassifierLexicon,
				Terms:               DefaultContentTerms(),
				ModelBaseURL:        defaultModelBaseURL,
				ModelName:           defaultModelName,
				ModelTimeoutSeconds: defaultModelTimeoutSeconds,
			},
			Cultural: CulturalScoring{
				SacredTerms:         DefaultSacredTerms(),
				MassProductionTerms: DefaultMassProductionTerms(),
				AuthenticityTerms:   DefaultAuthenticityTerms(),
			},
			Fraud: FraudScoring{
				VelocityThreshold: 5,
				AmountMultiplier:  3,
				NewAccountDays:    7,
				HighValueAmount:   500,
				TrustedScore:      8,
				LowTrustScore:     3,
			},
		},
		Notifications: Notifications{
			MaxRetries:            defaultNotifyMaxRetries,
			BatchSize:             defaultNotifyBatchSize,
			PollInterval:          defaultNotifyPollInterval,
			AttemptTimeoutSeconds: defaultNotifyAttemptTimeout,
			LeaseSeconds:          defaultNotifyLeaseSeconds,
			PushBackend:           BackendLog,
			EmailBackend:          BackendLog,
			Ntfy: Ntfy{
				Server:         defaultNtfyServer,
				TopicPrefix:    defaultNtfyTopicPrefix,
				RequestTimeout: defaultNtfyRequestTimeout,
			},
			Email: Email{
				SMTPPort: defaultSMTPPort,
			},
			Redis: Redis{
				Stream: defaultRedisStream,
				MaxLen: defaultRedisMaxLen,
			},
		},
		Maintenance: Maintenance{
			Enabled:                   true,
			Schedule:                  defaultMaintenanceSchedule,
			NotificationRetentionDays: defaultNotificationRetention,
			TrustStaleHours:           defaultTrustStaleHours,
			TrustBatchSize:            defaultTrustBatchSize,
			MinFreeSpaceMiB:           defaultMinFreeSpaceMiB,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
