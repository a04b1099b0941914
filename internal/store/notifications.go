package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"sentinel/internal/services"
)

const notificationColumns = `id, recipient_id, channel, event, subject, body, data_json, priority, status,
    retry_count, max_retries, next_eligible_at, last_error, claimed_by, claimed_until,
    created_at, updated_at, sent_at`

type notificationRow struct {
	ID             string         `db:"id"`
	RecipientID    string         `db:"recipient_id"`
	Channel        string         `db:"channel"`
	Event          string         `db:"event"`
	Subject        string         `db:"subject"`
	Body           string         `db:"body"`
	DataJSON       string         `db:"data_json"`
	Priority       int            `db:"priority"`
	Status         string         `db:"status"`
	RetryCount     int            `db:"retry_count"`
	MaxRetries     int            `db:"max_retries"`
	NextEligibleAt string         `db:"next_eligible_at"`
	LastError      sql.NullString `db:"last_error"`
	ClaimedBy      sql.NullString `db:"claimed_by"`
	ClaimedUntil   sql.NullString `db:"claimed_until"`
	CreatedAt      string         `db:"created_at"`
	UpdatedAt      string         `db:"updated_at"`
	SentAt         sql.NullString `db:"sent_at"`
}

func (r notificationRow) toTask() *NotificationTask {
	return &NotificationTask{
		ID:             r.ID,
		RecipientID:    r.RecipientID,
		Channel:        NotificationChannel(r.Channel),
		Event:          r.Event,
		Subject:        r.Subject,
		Body:           r.Body,
		Data:           unmarshalStringMap(r.DataJSON),
		Priority:       Priority(r.Priority),
		Status:         NotificationStatus(r.Status),
		RetryCount:     r.RetryCount,
		MaxRetries:     r.MaxRetries,
		NextEligibleAt: parseTime(r.NextEligibleAt),
		LastError:      r.LastError.String,
		ClaimedBy:      r.ClaimedBy.String,
		ClaimedUntil:   parseNullTime(r.ClaimedUntil),
		CreatedAt:      parseTime(r.CreatedAt),
		UpdatedAt:      parseTime(r.UpdatedAt),
		SentAt:         parseNullTime(r.SentAt),
	}
}

// InsertNotification persists a pending task, eligible immediately unless
// NextEligibleAt is already set.
func (s *Store) InsertNotification(ctx context.Context, task *NotificationTask) error {
	if task == nil {
		return services.Invalid("notification", "required")
	}
	if strings.TrimSpace(task.RecipientID) == "" {
		return services.Invalid("recipient_id", "required")
	}
	switch task.Channel {
	case ChannelEmail, ChannelPush:
	default:
		return services.Invalid("channel", fmt.Sprintf("unsupported channel %q", task.Channel))
	}
	if task.ID == "" {
		task.ID = newID()
	}
	if task.Priority == 0 {
		task.Priority = PriorityMedium
	}
	if task.MaxRetries < 0 {
		task.MaxRetries = 0
	}
	task.CreatedAt = normalizeNow(task.CreatedAt)
	task.UpdatedAt = task.CreatedAt
	if task.NextEligibleAt.IsZero() {
		task.NextEligibleAt = task.CreatedAt
	}
	task.Status = NotificationPending
	task.RetryCount = 0

	if _, err := s.exec(ctx,
		`INSERT INTO notification_tasks (
            id, recipient_id, channel, event, subject, body, data_json, priority, status,
            retry_count, max_retries, next_eligible_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.RecipientID,
		string(task.Channel),
		task.Event,
		task.Subject,
		task.Body,
		marshalJSON(task.Data, "{}"),
		int(task.Priority),
		string(task.Status),
		task.RetryCount,
		task.MaxRetries,
		formatTime(task.NextEligibleAt),
		formatTime(task.CreatedAt),
		formatTime(task.UpdatedAt),
	); err != nil {
		return infraError("insert notification", err)
	}
	return nil
}

// GetNotification fetches a task by id.
func (s *Store) GetNotification(ctx context.Context, id string) (*NotificationTask, error) {
	var row notificationRow
	err := s.get(ctx, &row, `SELECT `+notificationColumns+` FROM notification_tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "get notification", fmt.Sprintf("notification %s not found", id), nil)
	}
	if err != nil {
		return nil, infraError("get notification", err)
	}
	return row.toTask(), nil
}

// ListNotifications returns tasks matching filter, newest first.
func (s *Store) ListNotifications(ctx context.Context, filter NotificationFilter) ([]*NotificationTask, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.RecipientID != "" {
		clauses = append(clauses, "recipient_id = ?")
		args = append(args, filter.RecipientID)
	}
	query := `SELECT ` + notificationColumns + ` FROM notification_tasks`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	var rows []notificationRow
	if err := s.selectRows(ctx, &rows, query, args...); err != nil {
		return nil, infraError("list notifications", err)
	}
	out := make([]*NotificationTask, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toTask())
	}
	return out, nil
}

// ClaimNotifications leases up to limit due tasks to worker. A task is due
// when pending, eligible, and not held by an unexpired lease. Higher
// priorities are claimed first, then earliest eligibility.
func (s *Store) ClaimNotifications(ctx context.Context, worker string, now time.Time, lease time.Duration, limit int) ([]*NotificationTask, error) {
	if limit <= 0 {
		return nil, nil
	}
	now = normalizeNow(now)
	nowText := formatTime(now)
	var candidates []string
	if err := s.selectRows(ctx, &candidates,
		`SELECT id FROM notification_tasks
         WHERE status = ? AND next_eligible_at <= ?
           AND (claimed_until IS NULL OR claimed_until <= ?)
         ORDER BY priority DESC, next_eligible_at, created_at, id
         LIMIT ?`,
		string(NotificationPending), nowText, nowText, limit,
	); err != nil {
		return nil, infraError("select due notifications", err)
	}

	until := formatTime(now.Add(lease))
	claimed := make([]*NotificationTask, 0, len(candidates))
	for _, id := range candidates {
		res, err := s.exec(ctx,
			`UPDATE notification_tasks
             SET claimed_by = ?, claimed_until = ?, updated_at = ?
             WHERE id = ? AND status = ? AND next_eligible_at <= ?
               AND (claimed_until IS NULL OR claimed_until <= ?)`,
			worker, until, nowText, id, string(NotificationPending), nowText, nowText,
		)
		if err != nil {
			return claimed, infraError("claim notification", err)
		}
		n, err := rowsAffected(res)
		if err != nil {
			return claimed, infraError("claim notification", err)
		}
		if n == 0 {
			continue
		}
		task, err := s.GetNotification(ctx, id)
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, task)
	}
	return claimed, nil
}

// MarkNotificationSent records a successful delivery. Tasks that already left
// pending are not touched and the call reports false.
func (s *Store) MarkNotificationSent(ctx context.Context, id string, now time.Time) (bool, error) {
	nowText := formatTime(normalizeNow(now))
	res, err := s.exec(ctx,
		`UPDATE notification_tasks
         SET status = ?, sent_at = ?, updated_at = ?, claimed_by = NULL, claimed_until = NULL
         WHERE id = ? AND status = ?`,
		string(NotificationSent), nowText, nowText, id, string(NotificationPending),
	)
	if err != nil {
		return false, infraError("mark notification sent", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, infraError("mark notification sent", err)
	}
	return n == 1, nil
}

// RecordDeliveryFailure applies a retry decision if the task is still pending
// at expectedRetry. A false result means another attempt already moved it on.
func (s *Store) RecordDeliveryFailure(ctx context.Context, id string, expectedRetry int, failure DeliveryFailure, now time.Time) (bool, error) {
	switch failure.Status {
	case NotificationPending, NotificationFailed:
	default:
		return false, services.Invalid("status", fmt.Sprintf("unexpected failure status %q", failure.Status))
	}
	nowText := formatTime(normalizeNow(now))
	next := failure.NextEligibleAt
	if next.IsZero() {
		next = normalizeNow(now)
	}
	res, err := s.exec(ctx,
		`UPDATE notification_tasks
         SET status = ?, retry_count = ?, next_eligible_at = ?, last_error = ?,
             claimed_by = NULL, claimed_until = NULL, updated_at = ?
         WHERE id = ? AND status = ? AND retry_count = ?`,
		string(failure.Status), failure.RetryCount, formatTime(next), nullableString(failure.LastError), nowText,
		id, string(NotificationPending), expectedRetry,
	)
	if err != nil {
		return false, infraError("record delivery failure", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, infraError("record delivery failure", err)
	}
	return n == 1, nil
}

// CountPendingNotifications reports the delivery backlog.
func (s *Store) CountPendingNotifications(ctx context.Context) (int, error) {
	var count int
	if err := s.get(ctx, &count,
		`SELECT COUNT(*) FROM notification_tasks WHERE status = ?`,
		string(NotificationPending),
	); err != nil {
		return 0, infraError("count pending notifications", err)
	}
	return count, nil
}

// PurgeNotifications removes terminal tasks last updated before cutoff.
func (s *Store) PurgeNotifications(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx,
		`DELETE FROM notification_tasks WHERE status IN (?, ?) AND updated_at < ?`,
		string(NotificationSent), string(NotificationFailed), formatTime(cutoff),
	)
	if err != nil {
		return 0, infraError("purge notifications", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return 0, infraError("purge notifications", err)
	}
	return n, nil
}
