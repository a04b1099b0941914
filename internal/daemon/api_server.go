package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sentinel/internal/api"
	"sentinel/internal/config"
	"sentinel/internal/intake"
	"sentinel/internal/logging"
	"sentinel/internal/preflight"
	"sentinel/internal/services"
	"sentinel/internal/store"
)

const maxJSONBody = 1 << 20

type apiServer struct {
	bind      string
	logger    *slog.Logger
	daemon    *Daemon
	maxUpload int64

	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
		// base64 inflates uploads by a third; leave room for the other fields.
		maxUpload: cfg.Intake.MaxUploadBytes*4/3 + maxJSONBody,
	}

	srv.handler = authMiddleware(cfg.API.Token, srv.routes())
	return srv, nil
}

// Handler returns the daemon's HTTP API with authentication applied. It is
// nil when the API is disabled.
func (d *Daemon) Handler() http.Handler {
	if d.api == nil {
		return nil
	}
	return d.api.handler
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	mux.HandleFunc("POST /api/submissions/upload", s.handleUpload)
	mux.HandleFunc("POST /api/submissions/payment", s.handlePayment)
	mux.HandleFunc("GET /api/submissions/{id}", s.handleSubmission)
	mux.HandleFunc("POST /api/reports", s.handleReport)
	mux.HandleFunc("GET /api/moderation", s.handleModerationList)
	mux.HandleFunc("POST /api/moderation/next", s.handleModerationNext)
	mux.HandleFunc("POST /api/moderation/{id}/assign", s.handleModerationAssign)
	mux.HandleFunc("POST /api/moderation/{id}/resolve", s.handleModerationResolve)
	mux.HandleFunc("GET /api/trust/{user}", s.handleTrust)
	mux.HandleFunc("POST /api/trust/{user}/recompute", s.handleTrustRecompute)
	return mux
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	server, listener := s.server, s.listener
	s.server, s.listener = nil, nil
	s.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
	if listener != nil {
		_ = listener.Close()
	}
}

func (s *apiServer) addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	counts := make(map[string]int, len(status.Analysis.Counts))
	for k, v := range status.Analysis.Counts {
		counts[string(k)] = v
	}
	payload := api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		StoreDriver:  status.StoreDriver,
		LockFilePath: status.LockFilePath,
		Analysis: api.AnalysisStatus{
			Running:   status.Analysis.Running,
			Workers:   status.Analysis.Workers,
			LastError: status.Analysis.LastError,
			Counts:    counts,
		},
		ModerationPending:    status.ModerationPending,
		NotificationsBacklog: status.NotificationsBacklog,
		Preflight:            fromPreflight(status.Preflight),
	}
	if !status.StartedAt.IsZero() {
		payload.StartedAt = status.StartedAt.UTC().Format(time.RFC3339)
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func fromPreflight(results []preflight.Result) []api.CheckResult {
	if len(results) == 0 {
		return nil
	}
	out := make([]api.CheckResult, 0, len(results))
	for _, r := range results {
		out = append(out, api.CheckResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
	}
	return out
}

func (s *apiServer) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.FromMetrics(s.daemon.svc.Metrics.Snapshot()))
}

func (s *apiServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req api.UploadRequest
	if !s.decode(w, r, s.maxUpload, &req) {
		return
	}
	sub, err := s.daemon.svc.Intake.SubmitUpload(r.Context(), intake.UploadRequest{
		SubmitterID: req.SubmitterID,
		ItemID:      req.ItemID,
		Title:       req.Title,
		Description: req.Description,
		Artifact: intake.Artifact{
			Data:      req.Data,
			MediaType: req.MediaType,
			Filename:  req.Filename,
		},
		CulturalTags:       req.CulturalTags,
		CulturalBackground: req.CulturalBackground,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.SubmitResponse{ID: sub.ID})
}

func (s *apiServer) handlePayment(w http.ResponseWriter, r *http.Request) {
	var req api.PaymentRequest
	if !s.decode(w, r, maxJSONBody, &req) {
		return
	}
	opened, err := api.ParseTime(req.AccountCreatedAt)
	if err != nil {
		s.writeServiceError(w, r, services.Invalid("account_created_at", "must be an RFC3339 timestamp"))
		return
	}
	sub, err := s.daemon.svc.Intake.SubmitPaymentForFraudCheck(r.Context(), intake.PaymentRequest{
		SubmitterID:      req.SubmitterID,
		ItemID:           req.ItemID,
		Amount:           req.Amount,
		Currency:         req.Currency,
		BillingCountry:   req.BillingCountry,
		ShippingCountry:  req.ShippingCountry,
		PaymentMethod:    req.PaymentMethod,
		AccountCreatedAt: opened,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.SubmitResponse{ID: sub.ID})
}

func (s *apiServer) handleSubmission(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st := s.daemon.svc.Store
	sub, err := st.GetSubmission(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	results, err := st.ListResults(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	items, err := s.daemon.svc.Moderation.ForEntity(r.Context(), store.EntitySubmission, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	converted := make([]api.AnalysisResult, 0, len(results))
	for _, res := range results {
		converted = append(converted, api.FromResult(res))
	}
	s.writeJSON(w, http.StatusOK, api.SubmissionDetail{
		Submission: api.FromSubmission(sub),
		Results:    converted,
		Moderation: api.FromModerationItems(items),
	})
}

func (s *apiServer) handleReport(w http.ResponseWriter, r *http.Request) {
	var req api.ReportRequest
	if !s.decode(w, r, maxJSONBody, &req) {
		return
	}
	item, err := s.daemon.svc.Intake.SubmitUserReport(r.Context(), intake.ReportRequest{
		ReporterID:     req.ReporterID,
		EntityKind:     store.EntityKind(strings.ToLower(strings.TrimSpace(req.EntityKind))),
		EntityID:       req.EntityID,
		ReportedUserID: req.ReportedUserID,
		Reason:         req.Reason,
		Cultural:       req.Cultural,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	converted := api.FromModeration(item)
	s.writeJSON(w, http.StatusCreated, api.ModerationItemResponse{Item: &converted})
}

func (s *apiServer) handleModerationList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var priority store.Priority
	if value := strings.TrimSpace(query.Get("priority")); value != "" {
		parsed, err := store.ParsePriority(value)
		if err != nil {
			s.writeServiceError(w, r, services.Invalid("priority", err.Error()))
			return
		}
		priority = parsed
	}
	limit := 0
	if value := strings.TrimSpace(query.Get("limit")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			s.writeServiceError(w, r, services.Invalid("limit", "must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	items, err := s.daemon.svc.Moderation.ListPending(r.Context(), priority, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ModerationListResponse{Items: api.FromModerationItems(items)})
}

func (s *apiServer) handleModerationNext(w http.ResponseWriter, r *http.Request) {
	var req api.ReviewerRequest
	if !s.decode(w, r, maxJSONBody, &req) {
		return
	}
	if strings.TrimSpace(req.Reviewer) == "" {
		s.writeServiceError(w, r, services.Invalid("reviewer", "required"))
		return
	}
	item, err := s.daemon.svc.Moderation.Next(r.Context(), req.Reviewer)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, itemResponse(item))
}

func (s *apiServer) handleModerationAssign(w http.ResponseWriter, r *http.Request) {
	var req api.ReviewerRequest
	if !s.decode(w, r, maxJSONBody, &req) {
		return
	}
	if strings.TrimSpace(req.Reviewer) == "" {
		s.writeServiceError(w, r, services.Invalid("reviewer", "required"))
		return
	}
	item, err := s.daemon.svc.Moderation.Assign(r.Context(), r.PathValue("id"), req.Reviewer)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, itemResponse(item))
}

func (s *apiServer) handleModerationResolve(w http.ResponseWriter, r *http.Request) {
	var req api.ResolveRequest
	if !s.decode(w, r, maxJSONBody, &req) {
		return
	}
	outcome, err := store.ParseOutcome(req.Outcome)
	if err != nil {
		s.writeServiceError(w, r, services.Invalid("outcome", err.Error()))
		return
	}
	item, err := s.daemon.svc.Moderation.Resolve(r.Context(), r.PathValue("id"), req.Reviewer, outcome, req.Note)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, itemResponse(item))
}

func itemResponse(item *store.ModerationItem) api.ModerationItemResponse {
	if item == nil {
		return api.ModerationItemResponse{}
	}
	converted := api.FromModeration(item)
	return api.ModerationItemResponse{Item: &converted}
}

func (s *apiServer) handleTrust(w http.ResponseWriter, r *http.Request) {
	score, err := s.daemon.svc.Trust.Get(r.Context(), r.PathValue("user"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromTrust(score))
}

func (s *apiServer) handleTrustRecompute(w http.ResponseWriter, r *http.Request) {
	score, err := s.daemon.svc.Trust.Recompute(r.Context(), r.PathValue("user"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromTrust(score))
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, limit int64, dest any) bool {
	body := http.MaxBytesReader(w, r.Body, limit)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeJSON(w, http.StatusRequestEntityTooLarge, api.ErrorResponse{
				Error: "request body too large",
				Kind:  string(services.KindValidation),
			})
			return false
		}
		s.writeJSON(w, http.StatusBadRequest, api.ErrorResponse{
			Error: "invalid JSON body: " + err.Error(),
			Kind:  string(services.KindValidation),
		})
		return false
	}
	return true
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := services.Classify(err)
	resp := api.ErrorResponse{Error: err.Error(), Kind: string(kind)}
	var status int
	switch kind {
	case services.KindValidation:
		status = http.StatusBadRequest
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			resp.Field = verr.Field
		}
	case services.KindNotFound:
		status = http.StatusNotFound
	case services.KindConflict:
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
		requestID := uuid.NewString()
		ctx := services.WithRequestID(r.Context(), requestID)
		logging.ErrorWithContext(logging.WithContext(ctx, s.logger), "api request failed", "api_request_failed",
			logging.Error(err),
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.String(logging.FieldErrorHint, "inspect the daemon log for the failing component"),
		)
		resp.Error = fmt.Sprintf("internal error (request %s)", requestID)
	}
	s.writeJSON(w, status, resp)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}
