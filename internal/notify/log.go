package notify

import (
	"context"
	"log/slog"

	"sentinel/internal/config"
	"sentinel/internal/logging"
	"sentinel/internal/store"
)

// LogChannel writes notifications to the log instead of sending them. It is
// the default for both channels so a fresh install works without credentials.
type LogChannel struct {
	kind   store.NotificationChannel
	logger *slog.Logger
}

// NewLogChannel builds a log channel for kind.
func NewLogChannel(kind store.NotificationChannel, logger *slog.Logger) *LogChannel {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LogChannel{kind: kind, logger: logging.NewComponentLogger(logger, "notify")}
}

func (l *LogChannel) Name() string { return config.BackendLog }

func (l *LogChannel) Deliver(_ context.Context, recipient string, payload Payload) error {
	l.logger.Info("notification delivered to log",
		logging.String(logging.FieldTaskID, payload.TaskID),
		logging.String("channel", string(l.kind)),
		logging.String("recipient", recipient),
		logging.String("event", payload.Event),
		logging.String("subject", payload.Subject),
	)
	return nil
}
