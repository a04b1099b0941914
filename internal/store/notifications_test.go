package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"sentinel/internal/services"
	"sentinel/internal/store"
	"sentinel/internal/testsupport"
)

func insertTask(t *testing.T, st *store.Store, recipient string, priority store.Priority, createdAt time.Time) *store.NotificationTask {
	t.Helper()
	task := &store.NotificationTask{
		RecipientID: recipient,
		Channel:     store.ChannelPush,
		Event:       "moderation_enrolled",
		Subject:     "Review needed",
		Body:        "An item needs review",
		Data:        map[string]string{"entity_id": "sub-1"},
		Priority:    priority,
		MaxRetries:  3,
		CreatedAt:   createdAt,
	}
	if err := st.InsertNotification(context.Background(), task); err != nil {
		t.Fatalf("InsertNotification failed: %v", err)
	}
	return task
}

func TestInsertNotificationValidates(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	err := st.InsertNotification(ctx, &store.NotificationTask{Channel: store.ChannelEmail})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing recipient, got %v", err)
	}
	err = st.InsertNotification(ctx, &store.NotificationTask{RecipientID: "r", Channel: "pager"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown channel, got %v", err)
	}
}

func TestClaimNotificationsOrderAndLease(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	low := insertTask(t, st, "alice", store.PriorityLow, base)
	high := insertTask(t, st, "bob", store.PriorityHigh, base.Add(time.Second))
	future := insertTask(t, st, "carol", store.PriorityHigh, base)
	if ok, err := st.RecordDeliveryFailure(ctx, future.ID, 0, store.DeliveryFailure{
		Status:         store.NotificationPending,
		RetryCount:     1,
		NextEligibleAt: base.Add(time.Hour),
		LastError:      "connection refused",
	}, base); err != nil || !ok {
		t.Fatalf("RecordDeliveryFailure = %v, %v", ok, err)
	}

	now := base.Add(time.Minute)
	claimed, err := st.ClaimNotifications(ctx, "dispatcher-a", now, 2*time.Minute, 10)
	if err != nil {
		t.Fatalf("ClaimNotifications failed: %v", err)
	}
	if len(claimed) != 2 || claimed[0].ID != high.ID || claimed[1].ID != low.ID {
		t.Fatalf("unexpected claim order: %#v", claimed)
	}
	if claimed[0].ClaimedBy != "dispatcher-a" || claimed[0].ClaimedUntil == nil {
		t.Fatalf("expected lease on claimed task, got %#v", claimed[0])
	}
	if claimed[0].Data["entity_id"] != "sub-1" {
		t.Fatalf("expected data to round trip, got %v", claimed[0].Data)
	}

	again, err := st.ClaimNotifications(ctx, "dispatcher-b", now.Add(time.Minute), 2*time.Minute, 10)
	if err != nil {
		t.Fatalf("ClaimNotifications failed: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected leased tasks to be hidden, got %d", len(again))
	}

	expired, err := st.ClaimNotifications(ctx, "dispatcher-b", now.Add(3*time.Minute), 2*time.Minute, 10)
	if err != nil {
		t.Fatalf("ClaimNotifications failed: %v", err)
	}
	if len(expired) != 2 || expired[0].ClaimedBy != "dispatcher-b" {
		t.Fatalf("expected expired leases to be reclaimable, got %#v", expired)
	}
}

func TestNotificationTerminalStates(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sent := insertTask(t, st, "alice", store.PriorityMedium, base)
	failed := insertTask(t, st, "bob", store.PriorityMedium, base)

	if ok, err := st.MarkNotificationSent(ctx, sent.ID, base); err != nil || !ok {
		t.Fatalf("MarkNotificationSent = %v, %v", ok, err)
	}
	if ok, err := st.MarkNotificationSent(ctx, sent.ID, base); err != nil || ok {
		t.Fatalf("second MarkNotificationSent = %v, %v; want false", ok, err)
	}

	if ok, err := st.RecordDeliveryFailure(ctx, failed.ID, 0, store.DeliveryFailure{
		Status: store.NotificationFailed, RetryCount: 1, LastError: "smtp 550",
	}, base); err != nil || !ok {
		t.Fatalf("RecordDeliveryFailure = %v, %v", ok, err)
	}
	if ok, err := st.RecordDeliveryFailure(ctx, failed.ID, 0, store.DeliveryFailure{
		Status: store.NotificationPending, RetryCount: 1,
	}, base); err != nil || ok {
		t.Fatalf("stale RecordDeliveryFailure = %v, %v; want false", ok, err)
	}

	got, err := st.GetNotification(ctx, failed.ID)
	if err != nil {
		t.Fatalf("GetNotification failed: %v", err)
	}
	if got.Status != store.NotificationFailed || got.LastError != "smtp 550" || got.RetryCount != 1 {
		t.Fatalf("unexpected failed task: %#v", got)
	}

	pending, err := st.CountPendingNotifications(ctx)
	if err != nil {
		t.Fatalf("CountPendingNotifications failed: %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected empty backlog, got %d", pending)
	}

	listed, err := st.ListNotifications(ctx, store.NotificationFilter{Status: store.NotificationSent})
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != sent.ID || listed[0].SentAt == nil {
		t.Fatalf("unexpected sent list: %#v", listed)
	}

	purged, err := st.PurgeNotifications(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgeNotifications failed: %v", err)
	}
	if purged != 2 {
		t.Fatalf("expected 2 purged, got %d", purged)
	}
	if _, err := st.GetNotification(ctx, sent.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected purged task to be gone, got %v", err)
	}
}
