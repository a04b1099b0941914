package analysis_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"testing"
	"time"

	"sentinel/internal/analysis"
	"sentinel/internal/config"
	"sentinel/internal/logging"
	"sentinel/internal/metrics"
	"sentinel/internal/moderation"
	"sentinel/internal/notify"
	"sentinel/internal/rules"
	"sentinel/internal/scoring"
	"sentinel/internal/services"
	"sentinel/internal/store"
	"sentinel/internal/testsupport"
	"sentinel/internal/trust"
)

type fixture struct {
	cfg   *config.Config
	st    *store.Store
	clock *testsupport.Clock
	sink  *metrics.Memory
	trust *trust.Aggregator
	orch  *analysis.Orchestrator
}

func newFixture(t *testing.T, providers scoring.Registry, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	opts = append([]testsupport.ConfigOption{testsupport.WithModerators([]string{"rev-1"}, []string{"sec-1"})}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	return newFixtureFromConfig(t, cfg, providers)
}

type fixtureOption func(*fixtureSetup)

type fixtureSetup struct {
	logger       *slog.Logger
	withoutTrust bool
}

func withLogger(logger *slog.Logger) fixtureOption {
	return func(s *fixtureSetup) { s.logger = logger }
}

func withoutTrust() fixtureOption {
	return func(s *fixtureSetup) { s.withoutTrust = true }
}

func newFixtureFromConfig(t *testing.T, cfg *config.Config, providers scoring.Registry, opts ...fixtureOption) *fixture {
	t.Helper()
	setup := fixtureSetup{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&setup)
	}
	st := testsupport.MustOpenStore(t, cfg)
	clock := testsupport.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	sink := metrics.NewMemory()
	logger := setup.logger
	aggregator := trust.New(st, logger, trust.WithClock(clock.Now), trust.WithMetrics(sink))
	notifier := notify.NewQueue(st, cfg.Notifications.MaxRetries, logger, clock.Now)
	queue := moderation.New(st, aggregator, notifier, cfg.Moderation, logger,
		moderation.WithClock(clock.Now), moderation.WithMetrics(sink))
	engine, err := rules.Compile(cfg.Rules.Escalation)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	deps := analysis.Deps{
		Store:      st,
		Providers:  providers,
		Rules:      engine,
		Moderation: queue,
		Trust:      aggregator,
		Notifier:   notifier,
	}
	if setup.withoutTrust {
		deps.Trust = nil
	}
	orch := analysis.New(cfg, deps, logger, analysis.WithClock(clock.Now), analysis.WithMetrics(sink), analysis.WithWorkerPrefix("test"))
	return &fixture{cfg: cfg, st: st, clock: clock, sink: sink, trust: aggregator, orch: orch}
}

func (f *fixture) upload(t *testing.T, sub *store.Submission) *store.Submission {
	t.Helper()
	sub.Kind = store.KindUpload
	sub.MediaType = "image/png"
	sub.SizeBytes = int64(len(testsupport.PNGBytes()))
	sub.CreatedAt = f.clock.Now()
	if err := f.st.InsertSubmission(context.Background(), sub); err != nil {
		t.Fatalf("InsertSubmission failed: %v", err)
	}
	return sub
}

func (f *fixture) notifications(t *testing.T, recipient string) []*store.NotificationTask {
	t.Helper()
	tasks, err := f.st.ListNotifications(context.Background(), store.NotificationFilter{RecipientID: recipient})
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	return tasks
}

func TestCulturalAppropriationIsFlaggedHigh(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithModerators([]string{"rev-1"}, nil))
	f := newFixtureFromConfig(t, cfg, scoring.NewRegistry(
		testsupport.NewFakeProvider(scoring.KindContent, 0.1),
		scoring.NewCultural(cfg.Scoring.Cultural),
	))
	ctx := context.Background()
	sub := f.upload(t, &store.Submission{
		SubmitterID:  "seller-1",
		Title:        "Sacred ceremonial headdress",
		Description:  "Factory made, wholesale pricing available",
		CulturalTags: []string{"Lakota"},
	})

	done, err := f.orch.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if done == nil || done.ID != sub.ID {
		t.Fatalf("expected %s to be analyzed, got %#v", sub.ID, done)
	}
	if done.Status != store.StatusCompleted || done.Disposition != store.DispositionFlagged {
		t.Fatalf("unexpected final state: status=%s disposition=%s", done.Status, done.Disposition)
	}
	summary := done.Summary
	if summary == nil || summary.Scores["cultural"] != 1 || summary.MaxRisk != 1 || summary.Priority != "high" {
		t.Fatalf("unexpected summary: %#v", summary)
	}
	if summary.ModerationID == "" {
		t.Fatal("expected moderation item to be recorded on the summary")
	}

	item, err := f.st.GetModeration(ctx, summary.ModerationID)
	if err != nil {
		t.Fatalf("GetModeration failed: %v", err)
	}
	if item.EntityKind != store.EntitySubmission || item.EntityID != sub.ID || item.Priority != store.PriorityHigh {
		t.Fatalf("unexpected moderation item: %#v", item)
	}
	if item.Source != store.SourceAutomatic || item.MetadataString(moderation.MetaSubmitterID) != "seller-1" {
		t.Fatalf("unexpected moderation provenance: %#v", item)
	}
	if flagged, _ := item.Metadata[moderation.MetaCulturalFlag].(bool); !flagged {
		t.Fatalf("expected cultural flag in metadata, got %v", item.Metadata)
	}

	results, err := f.st.ListResults(ctx, sub.ID)
	if err != nil {
		t.Fatalf("ListResults failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected a result per provider, got %d", len(results))
	}
	var cultural store.AnalysisResult
	for _, r := range results {
		if r.Provider == "cultural" {
			cultural = r
		}
	}
	for _, flag := range []string{scoring.FlagNoCulturalConnection, scoring.FlagSacredContent, scoring.FlagMassProducedUnverified} {
		if !slices.Contains(cultural.Flags, flag) {
			t.Fatalf("expected cultural flag %s, got %v", flag, cultural.Flags)
		}
	}

	if tasks := f.notifications(t, "seller-1"); len(tasks) != 1 || tasks[0].Event != string(notify.EventSubmissionUnderReview) {
		t.Fatalf("expected submitter to be told about review, got %#v", tasks)
	}
	if tasks := f.notifications(t, "rev-1"); len(tasks) != 1 || tasks[0].Channel != store.ChannelPush {
		t.Fatalf("expected reviewer push, got %#v", tasks)
	}
	if f.sink.Count(metrics.SubmissionsFlagged) != 1 || f.sink.Count(metrics.AnalysesCompleted) != 1 {
		t.Fatalf("unexpected metrics: %v", f.sink.Snapshot())
	}
}

func TestSafeUploadIsNotEnrolled(t *testing.T) {
	f := newFixture(t, scoring.NewRegistry(
		testsupport.NewFakeProvider(scoring.KindContent, 0.1),
		testsupport.NewFakeProvider(scoring.KindCultural, 0.2),
	))
	ctx := context.Background()
	sub := f.upload(t, &store.Submission{SubmitterID: "seller-1", Title: "Woven basket"})

	done, err := f.orch.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if done.Disposition != store.DispositionSafe || done.Summary.ModerationID != "" {
		t.Fatalf("expected safe verdict, got %#v", done.Summary)
	}
	items, err := f.st.ListModerationForEntity(ctx, store.EntitySubmission, sub.ID)
	if err != nil {
		t.Fatalf("ListModerationForEntity failed: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("safe submission must not be enrolled, got %d items", len(items))
	}
	if tasks := f.notifications(t, "seller-1"); len(tasks) != 0 {
		t.Fatalf("expected no submitter notification, got %d", len(tasks))
	}
}

func TestHighFraudFlagsAccount(t *testing.T) {
	f := newFixture(t, scoring.NewRegistry(testsupport.NewFakeProvider(scoring.KindFraud, 0.92)))
	ctx := context.Background()
	sub := testsupport.NewPayment(t, f.st, "buyer-1", 2500, f.clock.Now())

	done, err := f.orch.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if done.ID != sub.ID || done.Disposition != store.DispositionFlagged {
		t.Fatalf("unexpected result: %#v", done)
	}
	if !done.Summary.AccountFlagged || done.Summary.Priority != "high" {
		t.Fatalf("expected account flag on summary, got %#v", done.Summary)
	}

	trustRow, err := f.trust.Get(ctx, "buyer-1")
	if err != nil {
		t.Fatalf("trust Get failed: %v", err)
	}
	if !trustRow.AccountFlag {
		t.Fatal("expected account to be flagged")
	}
	flags, err := f.st.ListAccountFlags(ctx, "buyer-1")
	if err != nil {
		t.Fatalf("ListAccountFlags failed: %v", err)
	}
	if len(flags) != 1 || flags[0].SubmissionID != sub.ID || flags[0].RiskScore != 0.92 {
		t.Fatalf("unexpected account flags: %#v", flags)
	}

	security := f.notifications(t, "sec-1")
	if len(security) != 1 || security[0].Event != string(notify.EventAccountFlagged) || security[0].Priority != store.PriorityHigh {
		t.Fatalf("expected security alert, got %#v", security)
	}
	if security[0].Data["risk_score"] != "0.92" || security[0].Data["user_id"] != "buyer-1" {
		t.Fatalf("unexpected alert data: %v", security[0].Data)
	}
	if f.sink.Count(metrics.AccountsFlagged) != 1 {
		t.Fatalf("expected accounts_flagged metric, got %v", f.sink.Snapshot())
	}
}

func TestFraudAtThresholdEnrollsWithoutAccountFlag(t *testing.T) {
	f := newFixture(t, scoring.NewRegistry(testsupport.NewFakeProvider(scoring.KindFraud, 0.8)))
	ctx := context.Background()
	testsupport.NewPayment(t, f.st, "buyer-2", 100, f.clock.Now())

	done, err := f.orch.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if done.Disposition != store.DispositionFlagged || done.Summary.AccountFlagged {
		t.Fatalf("expected review without account flag, got %#v", done.Summary)
	}
	if tasks := f.notifications(t, "sec-1"); len(tasks) != 0 {
		t.Fatalf("expected no security alert, got %d", len(tasks))
	}
}

func TestAllProvidersFailingQueuesLowPriorityReview(t *testing.T) {
	boom := errors.New("classifier unavailable")
	f := newFixture(t, scoring.NewRegistry(
		testsupport.NewFakeProvider(scoring.KindContent, 0).Failing(boom),
		testsupport.NewFakeProvider(scoring.KindCultural, 0).Failing(boom),
	))
	ctx := context.Background()
	sub := f.upload(t, &store.Submission{SubmitterID: "seller-1", Title: "Rug"})

	done, err := f.orch.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if done.Status != store.StatusCompleted || done.Disposition != store.DispositionFlagged {
		t.Fatalf("unexpected state: %s/%s", done.Status, done.Disposition)
	}
	if done.Summary.Priority != "low" || !slices.Equal(done.Summary.Reasons, []string{analysis.ReasonNoVerdict}) {
		t.Fatalf("unexpected summary: %#v", done.Summary)
	}
	results, err := f.st.ListResults(ctx, sub.ID)
	if err != nil {
		t.Fatalf("ListResults failed: %v", err)
	}
	for _, r := range results {
		if r.Outcome != store.OutcomeFailed || r.Error == "" {
			t.Fatalf("expected failed result with error, got %#v", r)
		}
	}
	if f.sink.Count(metrics.ProviderFailures) != 2 {
		t.Fatalf("expected 2 provider failures, got %v", f.sink.Snapshot())
	}
}

func TestProviderTimeoutIsRecorded(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Analysis.ProviderTimeoutSeconds = 1
	f := newFixtureFromConfig(t, cfg, scoring.NewRegistry(
		testsupport.NewFakeProvider(scoring.KindContent, 0.1).Stalling(30*time.Second),
		testsupport.NewFakeProvider(scoring.KindCultural, 0.2),
	))
	ctx := context.Background()
	sub := f.upload(t, &store.Submission{SubmitterID: "seller-1", Title: "Vase"})

	done, err := f.orch.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if done.Disposition != store.DispositionSafe || !slices.Equal(done.Summary.Skipped, []string{"content"}) {
		t.Fatalf("unexpected summary: %#v", done.Summary)
	}
	results, err := f.st.ListResults(ctx, sub.ID)
	if err != nil {
		t.Fatalf("ListResults failed: %v", err)
	}
	outcomes := map[string]store.ResultOutcome{}
	for _, r := range results {
		outcomes[r.Provider] = r.Outcome
	}
	if outcomes["content"] != store.OutcomeTimeout || outcomes["cultural"] != store.OutcomeOK {
		t.Fatalf("unexpected outcomes: %v", outcomes)
	}
	if f.sink.Count(metrics.ProviderTimeouts) != 1 {
		t.Fatalf("expected a provider timeout, got %v", f.sink.Snapshot())
	}
}

func TestUnregisteredProviderIsSkipped(t *testing.T) {
	f := newFixture(t, scoring.NewRegistry(testsupport.NewFakeProvider(scoring.KindContent, 0.3)))
	f.upload(t, &store.Submission{SubmitterID: "seller-1", Title: "Bowl"})

	done, err := f.orch.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if done.Disposition != store.DispositionSafe || !slices.Equal(done.Summary.Skipped, []string{"cultural"}) {
		t.Fatalf("unexpected summary: %#v", done.Summary)
	}
}

func TestResultsAreWriteOnce(t *testing.T) {
	content := testsupport.NewFakeProvider(scoring.KindContent, 0.1)
	f := newFixture(t, scoring.NewRegistry(content, testsupport.NewFakeProvider(scoring.KindCultural, 0.1)))
	ctx := context.Background()
	sub := f.upload(t, &store.Submission{SubmitterID: "seller-1", Title: "Mask"})

	if _, err := f.orch.Analyze(ctx, sub.ID); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if _, err := f.orch.Analyze(ctx, sub.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict re-analyzing, got %v", err)
	}
	if _, err := f.orch.Analyze(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if calls := content.Calls(); len(calls) != 1 {
		t.Fatalf("expected provider to run once, got %v", calls)
	}
	results, err := f.st.ListResults(ctx, sub.ID)
	if err != nil {
		t.Fatalf("ListResults failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected results to be unchanged, got %d", len(results))
	}
}

func TestRunOnceOnEmptyQueue(t *testing.T) {
	f := newFixture(t, scoring.NewRegistry(testsupport.NewFakeProvider(scoring.KindContent, 0)))
	done, err := f.orch.RunOnce(context.Background())
	if err != nil || done != nil {
		t.Fatalf("RunOnce = %#v, %v; want nil, nil", done, err)
	}
}

func TestReapStaleFailsAbandonedAnalyses(t *testing.T) {
	f := newFixture(t, scoring.NewRegistry(testsupport.NewFakeProvider(scoring.KindContent, 0)))
	ctx := context.Background()
	sub := f.upload(t, &store.Submission{SubmitterID: "seller-1", Title: "Drum"})
	if claimed, err := f.st.BeginAnalysis(ctx, sub.ID, "crashed-worker", f.clock.Now()); err != nil || !claimed {
		t.Fatalf("BeginAnalysis = %v, %v", claimed, err)
	}

	f.clock.Advance(30 * time.Second)
	if n, err := f.orch.ReapStale(ctx); err != nil || n != 0 {
		t.Fatalf("ReapStale before timeout = %d, %v", n, err)
	}
	f.clock.Advance(2 * time.Minute)
	n, err := f.orch.ReapStale(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ReapStale = %d, %v; want 1", n, err)
	}
	got, err := f.st.GetSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubmission failed: %v", err)
	}
	if got.Status != store.StatusFailed || got.ErrorMessage == "" {
		t.Fatalf("expected failed submission, got %s %q", got.Status, got.ErrorMessage)
	}
	if f.sink.Count(metrics.AnalysesFailed) != 1 {
		t.Fatalf("expected analyses_failed metric, got %v", f.sink.Snapshot())
	}
}

func TestStartProcessesQueuedSubmissions(t *testing.T) {
	f := newFixture(t, scoring.NewRegistry(
		testsupport.NewFakeProvider(scoring.KindContent, 0.1),
		testsupport.NewFakeProvider(scoring.KindCultural, 0.1),
	))
	ctx := context.Background()
	first := f.upload(t, &store.Submission{SubmitterID: "seller-1", Title: "Shawl"})
	second := f.upload(t, &store.Submission{SubmitterID: "seller-2", Title: "Hat"})

	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(f.orch.Stop)
	if err := f.orch.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail")
	}
	f.orch.Wake()

	deadline := time.Now().Add(5 * time.Second)
	for _, id := range []string{first.ID, second.ID} {
		for {
			got, err := f.st.GetSubmission(ctx, id)
			if err != nil {
				t.Fatalf("GetSubmission failed: %v", err)
			}
			if got.Status == store.StatusCompleted {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("submission %s still %s", id, got.Status)
			}
			time.Sleep(20 * time.Millisecond)
		}
	}

	status := f.orch.Status(ctx)
	if !status.Running || status.Counts[store.StatusCompleted] != 2 {
		t.Fatalf("unexpected status: %#v", status)
	}
	f.orch.Stop()
	if f.orch.Status(ctx).Running {
		t.Fatal("expected orchestrator to stop")
	}
}

func TestStartRequiresProviders(t *testing.T) {
	f := newFixture(t, scoring.Registry{})
	if err := f.orch.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail without providers")
	}
}

func TestStopFinishesInFlightAnalysis(t *testing.T) {
	content := testsupport.NewFakeProvider(scoring.KindContent, 0.1).Stalling(500 * time.Millisecond)
	f := newFixture(t, scoring.NewRegistry(content, testsupport.NewFakeProvider(scoring.KindCultural, 0.1)))
	ctx := context.Background()
	sub := f.upload(t, &store.Submission{SubmitterID: "seller-1", Title: "Rug"})

	if err := f.orch.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(f.orch.Stop)
	f.orch.Wake()

	deadline := time.Now().Add(5 * time.Second)
	for len(content.Calls()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("content provider was never called")
		}
		time.Sleep(10 * time.Millisecond)
	}
	f.orch.Stop()

	got, err := f.st.GetSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubmission failed: %v", err)
	}
	if got.Status != store.StatusCompleted || got.Disposition != store.DispositionSafe {
		t.Fatalf("expected completed safe submission after Stop, got status=%s error=%q", got.Status, got.ErrorMessage)
	}
	results, err := f.st.ListResults(ctx, sub.ID)
	if err != nil {
		t.Fatalf("ListResults failed: %v", err)
	}
	for _, r := range results {
		if r.Outcome != store.OutcomeOK {
			t.Fatalf("expected %s to finish ok, got %s", r.Provider, r.Outcome)
		}
	}
}

func TestAccountFlagAlwaysEnrolls(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithModerators([]string{"rev-1"}, []string{"sec-1"}))
	cfg.Scoring.FraudThreshold = 0.9
	cfg.Scoring.AccountFlagThreshold = 0.8
	f := newFixtureFromConfig(t, cfg, scoring.NewRegistry(testsupport.NewFakeProvider(scoring.KindFraud, 0.85)))
	ctx := context.Background()
	sub := testsupport.NewPayment(t, f.st, "buyer-3", 900, f.clock.Now())

	done, err := f.orch.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if done.Disposition != store.DispositionFlagged || !done.Summary.AccountFlagged {
		t.Fatalf("expected flagged disposition with account flag, got %#v", done.Summary)
	}
	if done.Summary.Priority != "high" || !slices.Contains(done.Summary.Reasons, analysis.ReasonAccountFlag) {
		t.Fatalf("unexpected summary: %#v", done.Summary)
	}
	items, err := f.st.ListModerationForEntity(ctx, store.EntitySubmission, sub.ID)
	if err != nil {
		t.Fatalf("ListModerationForEntity failed: %v", err)
	}
	if len(items) != 1 || done.Summary.ModerationID != items[0].ID {
		t.Fatalf("expected one moderation item, got %#v", items)
	}
}

func TestHighFraudAlertsReviewersWithoutSecurityRecipients(t *testing.T) {
	f := newFixtureFromConfig(t,
		testsupport.NewConfig(t, testsupport.WithModerators([]string{"rev-1"}, nil)),
		scoring.NewRegistry(testsupport.NewFakeProvider(scoring.KindFraud, 0.95)))
	testsupport.NewPayment(t, f.st, "buyer-4", 4000, f.clock.Now())

	if _, err := f.orch.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	var alerted bool
	for _, task := range f.notifications(t, "rev-1") {
		if task.Event == string(notify.EventAccountFlagged) && task.Priority == store.PriorityHigh {
			alerted = true
		}
	}
	if !alerted {
		t.Fatal("expected reviewer to receive the account security alert")
	}
}

func TestHighFraudOnDefaultConfigWarnsWhenUnrouted(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	f := newFixtureFromConfig(t, testsupport.NewConfig(t),
		scoring.NewRegistry(testsupport.NewFakeProvider(scoring.KindFraud, 0.92)), withLogger(logger))
	ctx := context.Background()
	testsupport.NewPayment(t, f.st, "buyer-5", 2500, f.clock.Now())

	done, err := f.orch.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if done.Disposition != store.DispositionFlagged || !done.Summary.AccountFlagged {
		t.Fatalf("expected flagged account, got %#v", done.Summary)
	}
	trustRow, err := f.trust.Get(ctx, "buyer-5")
	if err != nil {
		t.Fatalf("trust Get failed: %v", err)
	}
	if !trustRow.AccountFlag {
		t.Fatal("expected account to be flagged")
	}

	var warned bool
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		if entry[logging.FieldEventType] == "security_alert_unrouted" && entry[logging.FieldUserID] == "buyer-5" {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected an unrouted security alert warning, got logs:\n%s", buf.String())
	}
}

func TestAccountFlagFailureLeavesNoModerationItem(t *testing.T) {
	f := newFixtureFromConfig(t,
		testsupport.NewConfig(t, testsupport.WithModerators([]string{"rev-1"}, []string{"sec-1"})),
		scoring.NewRegistry(testsupport.NewFakeProvider(scoring.KindFraud, 0.92)), withoutTrust())
	ctx := context.Background()
	sub := testsupport.NewPayment(t, f.st, "buyer-6", 2500, f.clock.Now())

	done, err := f.orch.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if done.Status != store.StatusFailed {
		t.Fatalf("expected failed submission, got %s", done.Status)
	}
	items, err := f.st.ListModerationForEntity(ctx, store.EntitySubmission, sub.ID)
	if err != nil {
		t.Fatalf("ListModerationForEntity failed: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no moderation item without an account flag, got %d", len(items))
	}
	if tasks := f.notifications(t, "buyer-6"); len(tasks) != 0 {
		t.Fatalf("expected no submitter notification, got %d", len(tasks))
	}
}
