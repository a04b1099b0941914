package api_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"sentinel/internal/api"
	"sentinel/internal/metrics"
	"sentinel/internal/store"
)

func TestFromSubmissionIncludesSummaryAndPayment(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("EST", -5*3600))
	opened := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	sub := &store.Submission{
		ID:          "sub-1",
		SubmitterID: "buyer-1",
		Kind:        store.KindPayment,
		Status:      store.StatusCompleted,
		Disposition: store.DispositionFlagged,
		Payment:     &store.PaymentPayload{Amount: 2500, Currency: "USD", AccountCreatedAt: &opened},
		Summary: &store.AnalysisSummary{
			Disposition:    store.DispositionFlagged,
			MaxRisk:        0.92,
			Priority:       "high",
			Scores:         map[string]float64{"fraud": 0.92},
			ModerationID:   "mod-1",
			AccountFlagged: true,
		},
		CreatedAt: created,
		UpdatedAt: created,
	}

	got := api.FromSubmission(sub)
	if got.Kind != "payment" || got.Status != "completed" || got.Disposition != "flagged" {
		t.Fatalf("unexpected enums: %#v", got)
	}
	if got.CreatedAt != "2026-03-01T17:00:00.000Z" {
		t.Fatalf("expected UTC millisecond timestamp, got %q", got.CreatedAt)
	}
	if got.Payment == nil || got.Payment.AccountCreatedAt != "2025-01-02T00:00:00.000Z" {
		t.Fatalf("unexpected payment: %#v", got.Payment)
	}
	if got.Summary == nil || !got.Summary.AccountFlagged || got.Summary.ModerationID != "mod-1" {
		t.Fatalf("unexpected summary: %#v", got.Summary)
	}
	if got.CompletedAt != "" {
		t.Fatalf("expected empty completedAt, got %q", got.CompletedAt)
	}

	encoded, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(encoded), `"submitterId":"buyer-1"`) || !strings.Contains(string(encoded), `"maxRisk":0.92`) {
		t.Fatalf("unexpected JSON: %s", encoded)
	}
}

func TestFromModerationUsesPriorityWords(t *testing.T) {
	item := &store.ModerationItem{
		ID:          "mod-1",
		EntityKind:  store.EntityUserReport,
		EntityID:    "user-9",
		Priority:    store.PriorityMedium,
		Status:      store.ModerationPending,
		Source:      store.SourceReport,
		EnrollCount: 2,
		EnrolledAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	got := api.FromModeration(item)
	if got.Priority != "medium" || got.EntityKind != "user_report" || got.Source != "report" || got.EnrollCount != 2 {
		t.Fatalf("unexpected item: %#v", got)
	}
	if got.AssignedAt != "" || got.ResolvedAt != "" {
		t.Fatalf("expected empty optional timestamps: %#v", got)
	}
}

func TestFromNotificationOmitsEligibilityWhenTerminal(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	task := &store.NotificationTask{
		ID:             "n-1",
		Channel:        store.ChannelPush,
		Priority:       store.PriorityHigh,
		Status:         store.NotificationFailed,
		NextEligibleAt: base,
		CreatedAt:      base,
	}
	if got := api.FromNotification(task); got.NextEligibleAt != "" || got.Priority != "high" {
		t.Fatalf("unexpected terminal notification: %#v", got)
	}
	task.Status = store.NotificationPending
	if got := api.FromNotification(task); got.NextEligibleAt == "" {
		t.Fatal("expected eligibility for pending notification")
	}
}

func TestFromMetricsSplitsKinds(t *testing.T) {
	sink := metrics.NewMemory()
	sink.Inc(metrics.SubmissionsAccepted, 3)
	sink.Set(metrics.ModerationPending, 2)

	got := api.FromMetrics(sink.Snapshot())
	if got.Counters["submissions_accepted"] != 3 || got.Gauges["moderation_pending"] != 2 {
		t.Fatalf("unexpected metrics: %#v", got)
	}
}

func TestParseTime(t *testing.T) {
	if got, err := api.ParseTime(""); err != nil || got != nil {
		t.Fatalf("ParseTime(\"\") = %v, %v", got, err)
	}
	got, err := api.ParseTime("2025-06-01T00:00:00Z")
	if err != nil || got == nil || got.Year() != 2025 {
		t.Fatalf("ParseTime = %v, %v", got, err)
	}
	if _, err := api.ParseTime("yesterday"); err == nil {
		t.Fatal("expected error for invalid time")
	}
}
