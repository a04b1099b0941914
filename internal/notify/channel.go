package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"sentinel/internal/config"
	"sentinel/internal/logging"
	"sentinel/internal/services"
	"sentinel/internal/store"
)

// Payload is what a channel delivers for one task.
type Payload struct {
	TaskID   string
	Event    string
	Subject  string
	Body     string
	Priority store.Priority
	Data     map[string]string
}

// PayloadFor converts a stored task into a channel payload.
func PayloadFor(task *store.NotificationTask) Payload {
	return Payload{
		TaskID:   task.ID,
		Event:    task.Event,
		Subject:  task.Subject,
		Body:     task.Body,
		Priority: task.Priority,
		Data:     task.Data,
	}
}

// Channel delivers a payload to one recipient. A returned error means the
// attempt failed and may be retried.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, recipient string, payload Payload) error
}

// Channels maps each channel kind to its transport.
type Channels map[store.NotificationChannel]Channel

// Close releases transports that hold connections.
func (c Channels) Close() error {
	var errs []error
	for _, ch := range c {
		if closer, ok := ch.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// NewChannels builds the push and email transports selected in cfg.
func NewChannels(cfg *config.Config, logger *slog.Logger) (Channels, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	n := cfg.Notifications
	channels := Channels{}

	switch n.PushBackend {
	case config.BackendNtfy:
		channels[store.ChannelPush] = NewNtfyChannel(n.Ntfy)
	case config.BackendRedis:
		channels[store.ChannelPush] = NewRedisChannel(n.Redis)
	case config.BackendLog, "":
		channels[store.ChannelPush] = NewLogChannel(store.ChannelPush, logger)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "notify", "channels",
			fmt.Sprintf("unsupported push backend %q", n.PushBackend), nil)
	}

	switch n.EmailBackend {
	case config.BackendSMTP:
		channels[store.ChannelEmail] = NewSMTPChannel(n.Email)
	case config.BackendLog, "":
		channels[store.ChannelEmail] = NewLogChannel(store.ChannelEmail, logger)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "notify", "channels",
			fmt.Sprintf("unsupported email backend %q", n.EmailBackend), nil)
	}
	return channels, nil
}

func deliveryError(channel, message string, err error) error {
	return services.Wrap(services.ErrDelivery, "notify", channel, message, err)
}
