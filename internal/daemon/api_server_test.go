package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"sentinel/internal/api"
	"sentinel/internal/config"
	"sentinel/internal/daemon"
	"sentinel/internal/testsupport"
)

type apiFixture struct {
	svc    *daemon.Services
	server *httptest.Server
	token  string
}

func newAPIFixture(t *testing.T, opts ...testsupport.ConfigOption) *apiFixture {
	t.Helper()
	opts = append([]testsupport.ConfigOption{testsupport.WithAPIToken("secret")}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	svc, _ := newServices(t, cfg, fakeProviders(0.1, 0.9, 0.2))
	d := newDaemon(t, cfg, svc)
	server := httptest.NewServer(d.Handler())
	t.Cleanup(server.Close)
	return &apiFixture{svc: svc, server: server, token: cfg.API.Token}
}

func (f *apiFixture) do(t *testing.T, method, path string, body, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestAPIRequiresBearerToken(t *testing.T) {
	f := newAPIFixture(t)

	var body api.ErrorResponse
	f.token = ""
	if code := f.do(t, http.MethodGet, "/api/status", nil, &body); code != http.StatusUnauthorized || body.Error != "unauthorized" {
		t.Fatalf("expected 401 unauthorized, got %d %#v", code, body)
	}
	f.token = "wrong"
	if code := f.do(t, http.MethodGet, "/api/status", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", code)
	}

	f.token = "secret"
	var status api.DaemonStatus
	if code := f.do(t, http.MethodGet, "/api/status", nil, &status); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if status.Running || status.StoreDriver != config.StoreDriverSQLite || status.PID == 0 {
		t.Fatalf("unexpected status: %#v", status)
	}
}

func TestAPIUploadThenAnalyze(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	var submitted api.SubmitResponse
	code := f.do(t, http.MethodPost, "/api/submissions/upload", api.UploadRequest{
		SubmitterID:  "seller-1",
		MediaType:    "image/png",
		Data:         testsupport.PNGBytes(),
		Title:        "Ceremonial pipe",
		CulturalTags: []string{"Lakota"},
	}, &submitted)
	if code != http.StatusAccepted || submitted.ID == "" {
		t.Fatalf("expected 202 with id, got %d %#v", code, submitted)
	}

	var detail api.SubmissionDetail
	if code := f.do(t, http.MethodGet, "/api/submissions/"+submitted.ID, nil, &detail); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if detail.Submission.Status != "intake" || detail.Submission.CulturalTags[0] != "Lakota" {
		t.Fatalf("unexpected submission: %#v", detail.Submission)
	}

	if _, err := f.svc.Orchestrator.Analyze(ctx, submitted.ID); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if code := f.do(t, http.MethodGet, "/api/submissions/"+submitted.ID, nil, &detail); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if detail.Submission.Status != "completed" || detail.Submission.Disposition != "flagged" {
		t.Fatalf("unexpected analyzed submission: %#v", detail.Submission)
	}
	if len(detail.Results) != 2 || len(detail.Moderation) != 1 || detail.Moderation[0].Status != "pending" {
		t.Fatalf("expected two results and one pending review, got %#v", detail)
	}

	var metrics api.MetricsResponse
	if code := f.do(t, http.MethodGet, "/api/metrics", nil, &metrics); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if metrics.Counters["submissions_accepted"] != 1 || metrics.Counters["submissions_flagged"] != 1 {
		t.Fatalf("unexpected counters: %#v", metrics.Counters)
	}
}

func TestAPIErrorMapping(t *testing.T) {
	f := newAPIFixture(t)

	var body api.ErrorResponse
	code := f.do(t, http.MethodPost, "/api/submissions/upload", api.UploadRequest{
		MediaType: "image/png",
		Data:      testsupport.PNGBytes(),
	}, &body)
	if code != http.StatusBadRequest || body.Kind != "validation" || body.Field != "submitter_id" {
		t.Fatalf("expected validation error on submitter_id, got %d %#v", code, body)
	}

	body = api.ErrorResponse{}
	code = f.do(t, http.MethodPost, "/api/submissions/payment", api.PaymentRequest{
		SubmitterID:      "buyer-1",
		Amount:           10,
		Currency:         "USD",
		AccountCreatedAt: "last tuesday",
	}, &body)
	if code != http.StatusBadRequest || body.Field != "account_created_at" {
		t.Fatalf("expected validation error on account_created_at, got %d %#v", code, body)
	}

	body = api.ErrorResponse{}
	if code := f.do(t, http.MethodGet, "/api/submissions/missing", nil, &body); code != http.StatusNotFound || body.Kind != "not_found" {
		t.Fatalf("expected 404, got %d %#v", code, body)
	}

	if code := f.do(t, http.MethodGet, "/api/moderation?priority=urgent", nil, &body); code != http.StatusBadRequest || body.Field != "priority" {
		t.Fatalf("expected invalid priority, got %d %#v", code, body)
	}
}

func TestAPIModerationFlow(t *testing.T) {
	f := newAPIFixture(t)

	var created api.ModerationItemResponse
	code := f.do(t, http.MethodPost, "/api/reports", api.ReportRequest{
		ReporterID: "buyer-1",
		EntityKind: "user_report",
		EntityID:   "seller-9",
		Reason:     "counterfeit regalia",
		Cultural:   true,
	}, &created)
	if code != http.StatusCreated || created.Item == nil || created.Item.Source != "report" {
		t.Fatalf("expected created report item, got %d %#v", code, created)
	}
	id := created.Item.ID

	var list api.ModerationListResponse
	if code := f.do(t, http.MethodGet, "/api/moderation", nil, &list); code != http.StatusOK || len(list.Items) != 1 {
		t.Fatalf("expected one pending item, got %d %#v", code, list)
	}

	var assigned api.ModerationItemResponse
	if code := f.do(t, http.MethodPost, "/api/moderation/"+id+"/assign", api.ReviewerRequest{Reviewer: "rev-1"}, &assigned); code != http.StatusOK {
		t.Fatalf("expected assign to succeed, got %d", code)
	}
	if assigned.Item.Assignee != "rev-1" || assigned.Item.Status != "assigned" {
		t.Fatalf("unexpected assigned item: %#v", assigned.Item)
	}

	var body api.ErrorResponse
	if code := f.do(t, http.MethodPost, "/api/moderation/"+id+"/assign", api.ReviewerRequest{Reviewer: "rev-2"}, &body); code != http.StatusConflict {
		t.Fatalf("expected 409 for second assignee, got %d %#v", code, body)
	}
	if code := f.do(t, http.MethodPost, "/api/moderation/"+id+"/resolve", api.ResolveRequest{Reviewer: "rev-2", Outcome: "upheld"}, &body); code != http.StatusConflict {
		t.Fatalf("expected 409 resolving as non-assignee, got %d", code)
	}

	var resolved api.ModerationItemResponse
	code = f.do(t, http.MethodPost, "/api/moderation/"+id+"/resolve", api.ResolveRequest{Reviewer: "rev-1", Outcome: "upheld", Note: "confirmed"}, &resolved)
	if code != http.StatusOK || resolved.Item.Status != "resolved" || resolved.Item.Outcome != "upheld" {
		t.Fatalf("unexpected resolution: %d %#v", code, resolved.Item)
	}

	var next api.ModerationItemResponse
	if code := f.do(t, http.MethodPost, "/api/moderation/next", api.ReviewerRequest{Reviewer: "rev-1"}, &next); code != http.StatusOK || next.Item != nil {
		t.Fatalf("expected empty queue, got %d %#v", code, next)
	}

	var score api.TrustScore
	if code := f.do(t, http.MethodGet, "/api/trust/seller-9", nil, &score); code != http.StatusOK {
		t.Fatalf("expected trust lookup to succeed, got %d", code)
	}
	if score.Counters.ReportsReceived != 1 || score.Counters.UpheldCulturalFlags != 1 {
		t.Fatalf("expected upheld cultural report on seller, got %#v", score.Counters)
	}
	if code := f.do(t, http.MethodPost, "/api/trust/seller-9/recompute", nil, &score); code != http.StatusOK || score.ComputedAt == "" {
		t.Fatalf("expected recompute to stamp computedAt, got %d %#v", code, score)
	}
}
