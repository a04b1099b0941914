package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Payment describes the transaction under a payment submission.
type Payment struct {
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	BillingCountry   string  `json:"billingCountry,omitempty"`
	ShippingCountry  string  `json:"shippingCountry,omitempty"`
	PaymentMethod    string  `json:"paymentMethod,omitempty"`
	AccountCreatedAt string  `json:"accountCreatedAt,omitempty"`
}

// Summary is the aggregated verdict for a completed submission.
type Summary struct {
	Disposition    string             `json:"disposition"`
	MaxRisk        float64            `json:"maxRisk"`
	Priority       string             `json:"priority,omitempty"`
	Scores         map[string]float64 `json:"scores"`
	Skipped        []string           `json:"skipped,omitempty"`
	Reasons        []string           `json:"reasons,omitempty"`
	MatchedRules   []string           `json:"matchedRules,omitempty"`
	ModerationID   string             `json:"moderationId,omitempty"`
	AccountFlagged bool               `json:"accountFlagged,omitempty"`
}

// Submission describes a submission in a transport-friendly format.
type Submission struct {
	ID                 string   `json:"id"`
	SubmitterID        string   `json:"submitterId"`
	ItemID             string   `json:"itemId,omitempty"`
	Kind               string   `json:"kind"`
	Status             string   `json:"status"`
	Disposition        string   `json:"disposition,omitempty"`
	ArtifactHandle     string   `json:"artifactHandle,omitempty"`
	MediaType          string   `json:"mediaType,omitempty"`
	SizeBytes          int64    `json:"sizeBytes,omitempty"`
	Title              string   `json:"title,omitempty"`
	Description        string   `json:"description,omitempty"`
	CulturalTags       []string `json:"culturalTags,omitempty"`
	CulturalBackground []string `json:"culturalBackground,omitempty"`
	Payment            *Payment `json:"payment,omitempty"`
	Summary            *Summary `json:"summary,omitempty"`
	ErrorMessage       string   `json:"errorMessage,omitempty"`
	WorkerID           string   `json:"workerId,omitempty"`
	CreatedAt          string   `json:"createdAt"`
	UpdatedAt          string   `json:"updatedAt"`
	CompletedAt        string   `json:"completedAt,omitempty"`
}

// AnalysisResult is one provider's persisted outcome.
type AnalysisResult struct {
	Provider        string            `json:"provider"`
	Outcome         string            `json:"outcome"`
	RiskScore       float64           `json:"riskScore"`
	Flags           []string          `json:"flags"`
	Recommendations string            `json:"recommendations,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Error           string            `json:"error,omitempty"`
	DurationMS      int64             `json:"durationMs"`
}

// SubmissionDetail is a submission with its results and review history.
type SubmissionDetail struct {
	Submission Submission       `json:"submission"`
	Results    []AnalysisResult `json:"results"`
	Moderation []ModerationItem `json:"moderation"`
}

// ModerationItem describes a review queue entry.
type ModerationItem struct {
	ID             string         `json:"id"`
	EntityKind     string         `json:"entityKind"`
	EntityID       string         `json:"entityId"`
	Priority       string         `json:"priority"`
	Status         string         `json:"status"`
	Source         string         `json:"source"`
	Assignee       string         `json:"assignee,omitempty"`
	Outcome        string         `json:"outcome,omitempty"`
	ResolutionNote string         `json:"resolutionNote,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	EnrollCount    int64          `json:"enrollCount"`
	EnrolledAt     string         `json:"enrolledAt"`
	AssignedAt     string         `json:"assignedAt,omitempty"`
	ResolvedAt     string         `json:"resolvedAt,omitempty"`
}

// TrustCounters are the raw inputs to the trust sub-scores.
type TrustCounters struct {
	TotalTransactions      int64 `json:"totalTransactions"`
	SuccessfulTransactions int64 `json:"successfulTransactions"`
	Disputes               int64 `json:"disputes"`
	ReportsReceived        int64 `json:"reportsReceived"`
	HelpfulMarks           int64 `json:"helpfulMarks"`
	VerifiedCulturalItems  int64 `json:"verifiedCulturalItems"`
	UpheldCulturalFlags    int64 `json:"upheldCulturalFlags"`
}

// TrustScore describes a user's trust profile.
type TrustScore struct {
	UserID        string        `json:"userId"`
	Verification  float64       `json:"verification"`
	Transaction   float64       `json:"transaction"`
	Community     float64       `json:"community"`
	Cultural      float64       `json:"cultural"`
	Overall       float64       `json:"overall"`
	Counters      TrustCounters `json:"counters"`
	Verifications []string      `json:"verifications"`
	AccountFlag   bool          `json:"accountFlag"`
	FlagReason    string        `json:"flagReason,omitempty"`
	FlaggedAt     string        `json:"flaggedAt,omitempty"`
	ComputedAt    string        `json:"computedAt,omitempty"`
}

// Notification describes a queued notification task.
type Notification struct {
	ID             string `json:"id"`
	RecipientID    string `json:"recipientId"`
	Channel        string `json:"channel"`
	Event          string `json:"event"`
	Subject        string `json:"subject"`
	Priority       string `json:"priority"`
	Status         string `json:"status"`
	RetryCount     int    `json:"retryCount"`
	MaxRetries     int    `json:"maxRetries"`
	NextEligibleAt string `json:"nextEligibleAt,omitempty"`
	LastError      string `json:"lastError,omitempty"`
	CreatedAt      string `json:"createdAt"`
	SentAt         string `json:"sentAt,omitempty"`
}

// CheckResult mirrors a preflight check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// AnalysisStatus summarizes orchestrator state.
type AnalysisStatus struct {
	Running   bool           `json:"running"`
	Workers   int            `json:"workers"`
	LastError string         `json:"lastError,omitempty"`
	Counts    map[string]int `json:"counts"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running              bool           `json:"running"`
	PID                  int            `json:"pid"`
	StoreDriver          string         `json:"storeDriver"`
	LockFilePath         string         `json:"lockFilePath"`
	StartedAt            string         `json:"startedAt,omitempty"`
	Analysis             AnalysisStatus `json:"analysis"`
	ModerationPending    int            `json:"moderationPending"`
	NotificationsBacklog int            `json:"notificationsBacklog"`
	Preflight            []CheckResult  `json:"preflight,omitempty"`
}

// MetricsResponse is a snapshot of every counter and gauge.
type MetricsResponse struct {
	Counters map[string]int64   `json:"counters"`
	Gauges   map[string]float64 `json:"gauges"`
}

// UploadRequest submits an artifact for analysis.
type UploadRequest struct {
	SubmitterID        string   `json:"submitterId"`
	ItemID             string   `json:"itemId,omitempty"`
	MediaType          string   `json:"mediaType"`
	Filename           string   `json:"filename,omitempty"`
	Data               []byte   `json:"data"`
	Title              string   `json:"title,omitempty"`
	Description        string   `json:"description,omitempty"`
	CulturalTags       []string `json:"culturalTags,omitempty"`
	CulturalBackground []string `json:"culturalBackground,omitempty"`
}

// PaymentRequest submits a transaction for a fraud check.
type PaymentRequest struct {
	SubmitterID      string  `json:"submitterId"`
	ItemID           string  `json:"itemId,omitempty"`
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	BillingCountry   string  `json:"billingCountry,omitempty"`
	ShippingCountry  string  `json:"shippingCountry,omitempty"`
	PaymentMethod    string  `json:"paymentMethod,omitempty"`
	AccountCreatedAt string  `json:"accountCreatedAt,omitempty"`
}

// ReportRequest files a user report for review.
type ReportRequest struct {
	ReporterID     string `json:"reporterId"`
	EntityKind     string `json:"entityKind"`
	EntityID       string `json:"entityId"`
	ReportedUserID string `json:"reportedUserId,omitempty"`
	Reason         string `json:"reason"`
	Cultural       bool   `json:"cultural,omitempty"`
}

// SubmitResponse returns the identifier of an accepted submission or report.
type SubmitResponse struct {
	ID string `json:"id"`
}

// ReviewerRequest identifies the reviewer claiming an item.
type ReviewerRequest struct {
	Reviewer string `json:"reviewer"`
}

// ResolveRequest closes an assigned item.
type ResolveRequest struct {
	Reviewer string `json:"reviewer"`
	Outcome  string `json:"outcome"`
	Note     string `json:"note,omitempty"`
}

// ModerationListResponse wraps pending review items.
type ModerationListResponse struct {
	Items []ModerationItem `json:"items"`
}

// ModerationItemResponse wraps a single review item. Item is nil when the
// queue was empty.
type ModerationItemResponse struct {
	Item *ModerationItem `json:"item"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Field string `json:"field,omitempty"`
}
