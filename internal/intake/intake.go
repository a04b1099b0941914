package intake

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"slices"
	"strings"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/logging"
	"sentinel/internal/metrics"
	"sentinel/internal/moderation"
	"sentinel/internal/objectstore"
	"sentinel/internal/services"
	"sentinel/internal/store"
)

// Artifact is the raw upload as received.
type Artifact struct {
	Data      []byte
	MediaType string
	Filename  string
}

// UploadRequest is a complete upload submission.
type UploadRequest struct {
	SubmitterID        string
	ItemID             string
	Title              string
	Description        string
	Artifact           Artifact
	CulturalTags       []string
	CulturalBackground []string
}

// PaymentRequest asks for a fraud check on one payment.
type PaymentRequest struct {
	SubmitterID      string
	ItemID           string
	Amount           float64
	Currency         string
	BillingCountry   string
	ShippingCountry  string
	PaymentMethod    string
	AccountCreatedAt *time.Time
}

// ReportRequest is a user's report about another user or a listing.
type ReportRequest struct {
	ReporterID     string
	EntityKind     store.EntityKind
	EntityID       string
	ReportedUserID string
	Reason         string
	// Cultural marks a cultural-appropriation report; upholding it counts
	// against the reported user's cultural score.
	Cultural bool
}

// Service is the single entry point for new work.
type Service struct {
	store          *store.Store
	objects        objectstore.Store
	moderation     *moderation.Queue
	cfg            config.Intake
	reportPriority store.Priority
	logger         *slog.Logger
	metrics        metrics.Sink
	now            func() time.Time
	wake           func()
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(sink metrics.Sink) Option {
	return func(s *Service) {
		s.metrics = metrics.OrNop(sink)
	}
}

// WithWake registers the callback that nudges idle analysis workers.
func WithWake(fn func()) Option {
	return func(s *Service) {
		s.wake = fn
	}
}

// New builds the intake service.
func New(st *store.Store, objects objectstore.Store, queue *moderation.Queue, cfg config.Intake, logger *slog.Logger, opts ...Option) *Service {
	priority, err := store.ParsePriority(cfg.ReportPriority)
	if err != nil {
		priority = store.PriorityMedium
	}
	s := &Service{
		store:          st,
		objects:        objects,
		moderation:     queue,
		cfg:            cfg,
		reportPriority: priority,
		logger:         logging.NewComponentLogger(logger, "intake"),
		metrics:        metrics.Nop{},
		now:            time.Now,
		wake:           func() {},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.wake == nil {
		s.wake = func() {}
	}
	return s
}

// Submit stores an artifact and creates an upload submission for it,
// returning its id without waiting for analysis.
func (s *Service) Submit(ctx context.Context, submitterID string, artifact Artifact, culturalTags []string) (string, error) {
	sub, err := s.SubmitUpload(ctx, UploadRequest{
		SubmitterID:  submitterID,
		Artifact:     artifact,
		CulturalTags: culturalTags,
	})
	if err != nil {
		return "", err
	}
	return sub.ID, nil
}

// SubmitUpload validates the upload, stores its bytes, and inserts the
// submission. Nothing is persisted when validation fails.
func (s *Service) SubmitUpload(ctx context.Context, req UploadRequest) (*store.Submission, error) {
	submitter := strings.TrimSpace(req.SubmitterID)
	mediaType, err := s.validateUpload(submitter, req.Artifact)
	if err != nil {
		s.reject("upload", submitter, err)
		return nil, err
	}

	handle, err := s.objects.Put(ctx, req.Artifact.Data, objectstore.Metadata{
		SubmitterID: submitter,
		MediaType:   mediaType,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrInfrastructure, "intake", "store artifact", "object storage write failed", err)
	}

	sub := &store.Submission{
		SubmitterID:        submitter,
		ItemID:             strings.TrimSpace(req.ItemID),
		Kind:               store.KindUpload,
		ArtifactHandle:     string(handle),
		MediaType:          mediaType,
		SizeBytes:          int64(len(req.Artifact.Data)),
		CulturalTags:       NormalizeTags(req.CulturalTags),
		CulturalBackground: NormalizeTags(req.CulturalBackground),
		Title:              strings.TrimSpace(req.Title),
		Description:        strings.TrimSpace(req.Description),
		CreatedAt:          s.now(),
	}
	if err := s.store.InsertSubmission(ctx, sub); err != nil {
		return nil, err
	}
	s.accept(sub)
	return sub, nil
}

// SubmitPaymentForFraudCheck creates a payment submission carrying the
// payment inline.
func (s *Service) SubmitPaymentForFraudCheck(ctx context.Context, req PaymentRequest) (*store.Submission, error) {
	submitter := strings.TrimSpace(req.SubmitterID)
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if err := validatePayment(submitter, currency, req.Amount); err != nil {
		s.reject("payment", submitter, err)
		return nil, err
	}

	sub := &store.Submission{
		SubmitterID: submitter,
		ItemID:      strings.TrimSpace(req.ItemID),
		Kind:        store.KindPayment,
		Payment: &store.PaymentPayload{
			Amount:           req.Amount,
			Currency:         currency,
			BillingCountry:   strings.ToUpper(strings.TrimSpace(req.BillingCountry)),
			ShippingCountry:  strings.ToUpper(strings.TrimSpace(req.ShippingCountry)),
			PaymentMethod:    strings.TrimSpace(req.PaymentMethod),
			AccountCreatedAt: req.AccountCreatedAt,
		},
		CreatedAt: s.now(),
	}
	if err := s.store.InsertSubmission(ctx, sub); err != nil {
		return nil, err
	}
	s.accept(sub)
	return sub, nil
}

// SubmitUserReport enrolls the reported entity for review at the configured
// report priority. Reports are not scored.
func (s *Service) SubmitUserReport(ctx context.Context, req ReportRequest) (*store.ModerationItem, error) {
	reporter := strings.TrimSpace(req.ReporterID)
	entityID := strings.TrimSpace(req.EntityID)
	kind := req.EntityKind
	if kind == "" {
		kind = store.EntityUserReport
	}
	switch {
	case reporter == "":
		return nil, services.Invalid("reporter_id", "required")
	case entityID == "":
		return nil, services.Invalid("entity_id", "required")
	case strings.TrimSpace(req.Reason) == "":
		return nil, services.Invalid("reason", "required")
	}
	if _, err := store.ParseEntityKind(string(kind)); err != nil {
		return nil, services.Invalid("entity_kind", err.Error())
	}

	reported := strings.TrimSpace(req.ReportedUserID)
	if reported == "" && kind == store.EntityUserReport {
		reported = entityID
	}
	if reported != "" && reported == reporter {
		return nil, services.Invalid("reported_user_id", "users cannot report themselves")
	}

	metadata := map[string]any{moderation.MetaReporterID: reporter}
	if reported != "" {
		metadata[moderation.MetaReportedUserID] = reported
	}
	if req.Cultural {
		metadata[moderation.MetaCulturalFlag] = true
	}
	item, _, err := s.moderation.Enroll(ctx, moderation.EnrollRequest{
		EntityKind: kind,
		EntityID:   entityID,
		Priority:   s.reportPriority,
		Source:     store.SourceReport,
		Reason:     strings.TrimSpace(req.Reason),
		Metadata:   metadata,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("user report accepted",
		logging.String(logging.FieldModerationID, item.ID),
		logging.String("reporter_id", reporter),
		logging.String("entity_kind", string(kind)),
		logging.String("entity_id", entityID),
	)
	return item, nil
}

func (s *Service) validateUpload(submitter string, artifact Artifact) (string, error) {
	if submitter == "" {
		return "", services.Invalid("submitter_id", "required")
	}
	if len(artifact.Data) == 0 {
		return "", services.Invalid("artifact", "empty")
	}
	if int64(len(artifact.Data)) > s.cfg.MaxUploadBytes {
		return "", services.Invalid("artifact", fmt.Sprintf("%d bytes exceeds limit of %d", len(artifact.Data), s.cfg.MaxUploadBytes))
	}
	declared := baseMediaType(artifact.MediaType)
	if declared == "" {
		return "", services.Invalid("media_type", "required")
	}
	if !slices.Contains(s.cfg.AllowedMediaTypes, declared) {
		return "", services.Invalid("media_type", fmt.Sprintf("%s is not allowed", declared))
	}
	if s.cfg.SniffContent {
		if sniffed := baseMediaType(http.DetectContentType(artifact.Data)); sniffed != declared {
			return "", services.Invalid("media_type", fmt.Sprintf("declared %s but content looks like %s", declared, sniffed))
		}
	}
	return declared, nil
}

func validatePayment(submitter, currency string, amount float64) error {
	switch {
	case submitter == "":
		return services.Invalid("submitter_id", "required")
	case !(amount > 0):
		return services.Invalid("amount", "must be positive")
	case len(currency) != 3 || strings.IndexFunc(currency, func(r rune) bool { return r < 'A' || r > 'Z' }) >= 0:
		return services.Invalid("currency", fmt.Sprintf("%q is not an ISO 4217 code", currency))
	}
	return nil
}

func (s *Service) accept(sub *store.Submission) {
	s.metrics.Inc(metrics.SubmissionsAccepted, 1)
	s.logger.Info("submission accepted",
		logging.String(logging.FieldSubmissionID, sub.ID),
		logging.String(logging.FieldUserID, sub.SubmitterID),
		logging.String("kind", string(sub.Kind)),
		logging.Int64("size_bytes", sub.SizeBytes),
	)
	s.wake()
}

func (s *Service) reject(kind, submitter string, err error) {
	s.metrics.Inc(metrics.SubmissionsRejected, 1)
	s.logger.Info("submission rejected",
		logging.String("kind", kind),
		logging.String(logging.FieldUserID, submitter),
		logging.Error(err),
	)
}

// NormalizeTags trims, drops blanks, and removes case-insensitive duplicates
// while keeping first-seen order and spelling.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func baseMediaType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	parsed, _, err := mime.ParseMediaType(value)
	if err != nil {
		return strings.ToLower(value)
	}
	return parsed
}
