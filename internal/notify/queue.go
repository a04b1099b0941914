package notify

import (
	"context"
	"log/slog"
	"time"

	"sentinel/internal/logging"
	"sentinel/internal/services"
	"sentinel/internal/store"
)

// Message is a request to notify one recipient.
type Message struct {
	RecipientID string
	Channel     store.NotificationChannel
	Event       Event
	Data        map[string]string
	Priority    store.Priority
}

// Queue persists rendered notifications for the Dispatcher.
type Queue struct {
	store      *store.Store
	maxRetries int
	logger     *slog.Logger
	now        func() time.Time
}

// NewQueue builds a queue whose tasks allow maxRetries failed attempts.
func NewQueue(st *store.Store, maxRetries int, logger *slog.Logger, now func() time.Time) *Queue {
	if logger == nil {
		logger = logging.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Queue{
		store:      st,
		maxRetries: maxRetries,
		logger:     logging.NewComponentLogger(logger, "notify"),
		now:        now,
	}
}

// Enqueue renders msg and stores it as a pending task eligible now.
func (q *Queue) Enqueue(ctx context.Context, msg Message) (*store.NotificationTask, error) {
	subject, body, err := Render(msg.Event, msg.Data)
	if err != nil {
		return nil, services.Invalid("event", err.Error())
	}
	now := q.now()
	task := &store.NotificationTask{
		RecipientID:    msg.RecipientID,
		Channel:        msg.Channel,
		Event:          string(msg.Event),
		Subject:        subject,
		Body:           body,
		Data:           msg.Data,
		Priority:       msg.Priority,
		MaxRetries:     q.maxRetries,
		NextEligibleAt: now,
		CreatedAt:      now,
	}
	if err := q.store.InsertNotification(ctx, task); err != nil {
		return nil, err
	}
	q.logger.Debug("notification queued",
		logging.String(logging.FieldTaskID, task.ID),
		logging.String("recipient", task.RecipientID),
		logging.String("channel", string(task.Channel)),
		logging.String("event", task.Event),
	)
	return task, nil
}

// Broadcast enqueues the same message for every recipient. It stops at the
// first failure and returns the tasks created so far.
func (q *Queue) Broadcast(ctx context.Context, recipients []string, msg Message) ([]*store.NotificationTask, error) {
	tasks := make([]*store.NotificationTask, 0, len(recipients))
	for _, recipient := range recipients {
		msg.RecipientID = recipient
		task, err := q.Enqueue(ctx, msg)
		if err != nil {
			return tasks, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}
