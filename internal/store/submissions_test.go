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

func TestOpenAppliesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	sub := testsupport.NewUpload(t, st, "user-1", "Beaded necklace")
	if sub.ID == "" {
		t.Fatal("expected submission ID to be assigned")
	}

	fetched, err := st.GetSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubmission failed: %v", err)
	}
	if fetched.Status != store.StatusIntake || fetched.Title != "Beaded necklace" {
		t.Fatalf("unexpected fetched submission: %#v", fetched)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	if _, err := reopened.GetSubmission(ctx, sub.ID); err != nil {
		t.Fatalf("GetSubmission after reopen failed: %v", err)
	}
}

func TestGetSubmissionNotFound(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))

	_, err := st.GetSubmission(context.Background(), "missing")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmissionLifecycleIsMonotonic(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	sub := testsupport.NewUpload(t, st, "user-1", "Pottery")
	now := time.Now().UTC()

	claimed, err := st.BeginAnalysis(ctx, sub.ID, "worker-a", now)
	if err != nil || !claimed {
		t.Fatalf("BeginAnalysis = %v, %v; want true", claimed, err)
	}
	claimed, err = st.BeginAnalysis(ctx, sub.ID, "worker-b", now)
	if err != nil || claimed {
		t.Fatalf("second BeginAnalysis = %v, %v; want false", claimed, err)
	}

	summary := store.AnalysisSummary{
		Disposition: store.DispositionSafe,
		MaxRisk:     0.2,
		Scores:      map[string]float64{"content": 0.2, "cultural": 0.1},
	}
	results := []store.AnalysisResult{
		{Provider: "content", Outcome: store.OutcomeOK, RiskScore: 0.2, Flags: []string{}},
		{Provider: "cultural", Outcome: store.OutcomeOK, RiskScore: 0.1, Recommendations: "none"},
	}
	if err := st.CompleteAnalysis(ctx, sub.ID, summary, results, now); err != nil {
		t.Fatalf("CompleteAnalysis failed: %v", err)
	}

	err = st.CompleteAnalysis(ctx, sub.ID, summary, results, now)
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict on second completion, got %v", err)
	}
	if err := st.FailAnalysis(ctx, sub.ID, "late failure", now); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict failing a completed submission, got %v", err)
	}

	fetched, err := st.GetSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubmission failed: %v", err)
	}
	if fetched.Status != store.StatusCompleted || fetched.Disposition != store.DispositionSafe {
		t.Fatalf("unexpected final state: status=%s disposition=%s", fetched.Status, fetched.Disposition)
	}
	if !fetched.IsTerminal() {
		t.Fatal("expected completed submission to be terminal")
	}
	if fetched.Summary == nil || fetched.Summary.Scores["content"] != 0.2 {
		t.Fatalf("unexpected summary: %#v", fetched.Summary)
	}

	stored, err := st.ListResults(ctx, sub.ID)
	if err != nil {
		t.Fatalf("ListResults failed: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 results, got %d", len(stored))
	}
	if stored[0].Provider != "content" || stored[1].Recommendations != "none" {
		t.Fatalf("unexpected results: %#v", stored)
	}
}

func TestCompleteAnalysisRequiresAnalyzing(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	sub := testsupport.NewUpload(t, st, "user-1", "Quilt")

	err := st.CompleteAnalysis(ctx, sub.ID, store.AnalysisSummary{Disposition: store.DispositionSafe}, nil, time.Now())
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict completing an intake submission, got %v", err)
	}
	err = st.CompleteAnalysis(ctx, "missing", store.AnalysisSummary{}, nil, time.Now())
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	results, err := st.ListResults(ctx, sub.ID)
	if err != nil {
		t.Fatalf("ListResults failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results after rejected completion, got %d", len(results))
	}
}

func TestClaimNextSubmissionOldestFirst(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	newer := testsupport.NewPayment(t, st, "buyer", 20, base.Add(time.Minute))
	older := testsupport.NewPayment(t, st, "buyer", 10, base)

	first, err := st.ClaimNextSubmission(ctx, "worker", base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ClaimNextSubmission failed: %v", err)
	}
	if first == nil || first.ID != older.ID {
		t.Fatalf("expected oldest submission first, got %#v", first)
	}
	if first.Status != store.StatusAnalyzing || first.WorkerID != "worker" {
		t.Fatalf("unexpected claimed state: %#v", first)
	}
	if first.Payment == nil || first.Payment.Amount != 10 {
		t.Fatalf("expected payment payload to round trip, got %#v", first.Payment)
	}

	second, err := st.ClaimNextSubmission(ctx, "worker", base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ClaimNextSubmission failed: %v", err)
	}
	if second == nil || second.ID != newer.ID {
		t.Fatalf("expected newer submission second, got %#v", second)
	}

	none, err := st.ClaimNextSubmission(ctx, "worker", base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ClaimNextSubmission failed: %v", err)
	}
	if none != nil {
		t.Fatalf("expected empty queue, got %#v", none)
	}
}

func TestFailStaleAnalyses(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	stale := testsupport.NewUpload(t, st, "user-1", "stale")
	fresh := testsupport.NewUpload(t, st, "user-2", "fresh")
	if _, err := st.BeginAnalysis(ctx, stale.ID, "w1", base); err != nil {
		t.Fatalf("BeginAnalysis failed: %v", err)
	}
	if _, err := st.BeginAnalysis(ctx, fresh.ID, "w2", base); err != nil {
		t.Fatalf("BeginAnalysis failed: %v", err)
	}
	if err := st.UpdateSubmissionHeartbeat(ctx, fresh.ID, base.Add(5*time.Minute)); err != nil {
		t.Fatalf("UpdateSubmissionHeartbeat failed: %v", err)
	}

	count, err := st.FailStaleAnalyses(ctx, base.Add(time.Minute), "worker heartbeat expired", base.Add(6*time.Minute))
	if err != nil {
		t.Fatalf("FailStaleAnalyses failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 stale analysis, got %d", count)
	}

	got, err := st.GetSubmission(ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetSubmission failed: %v", err)
	}
	if got.Status != store.StatusFailed || got.ErrorMessage != "worker heartbeat expired" {
		t.Fatalf("unexpected stale submission: status=%s error=%q", got.Status, got.ErrorMessage)
	}
	got, err = st.GetSubmission(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("GetSubmission failed: %v", err)
	}
	if got.Status != store.StatusAnalyzing {
		t.Fatalf("expected fresh submission to keep analyzing, got %s", got.Status)
	}

	stats, err := st.SubmissionStats(ctx)
	if err != nil {
		t.Fatalf("SubmissionStats failed: %v", err)
	}
	if stats[store.StatusFailed] != 1 || stats[store.StatusAnalyzing] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

func TestPaymentHistory(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	testsupport.NewPayment(t, st, "buyer", 10, base.Add(-48*time.Hour))
	testsupport.NewPayment(t, st, "buyer", 30, base.Add(-time.Hour))
	current := testsupport.NewPayment(t, st, "buyer", 500, base)
	testsupport.NewPayment(t, st, "someone-else", 1000, base)

	history, err := st.PaymentHistory(ctx, "buyer", current.ID, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PaymentHistory failed: %v", err)
	}
	if history.Count != 2 || history.RecentCount != 1 {
		t.Fatalf("unexpected counts: %#v", history)
	}
	if history.AverageAmount != 20 {
		t.Fatalf("expected average 20, got %v", history.AverageAmount)
	}
}

func TestListSubmissionsFilters(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	testsupport.NewUpload(t, st, "user-1", "a")
	b := testsupport.NewUpload(t, st, "user-2", "b")
	if _, err := st.BeginAnalysis(ctx, b.ID, "w", time.Now()); err != nil {
		t.Fatalf("BeginAnalysis failed: %v", err)
	}

	all, err := st.ListSubmissions(ctx, store.SubmissionFilter{})
	if err != nil {
		t.Fatalf("ListSubmissions failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(all))
	}

	analyzing, err := st.ListSubmissions(ctx, store.SubmissionFilter{Status: store.StatusAnalyzing})
	if err != nil {
		t.Fatalf("ListSubmissions failed: %v", err)
	}
	if len(analyzing) != 1 || analyzing[0].ID != b.ID {
		t.Fatalf("unexpected filtered list: %#v", analyzing)
	}

	mine, err := st.ListSubmissions(ctx, store.SubmissionFilter{SubmitterID: "user-1"})
	if err != nil {
		t.Fatalf("ListSubmissions failed: %v", err)
	}
	if len(mine) != 1 || mine[0].SubmitterID != "user-1" {
		t.Fatalf("unexpected submitter list: %#v", mine)
	}
}
