package store

import (
	"fmt"
	"strings"
	"time"
)

// SubmissionKind distinguishes file uploads from payment fraud checks.
type SubmissionKind string

const (
	KindUpload  SubmissionKind = "upload"
	KindPayment SubmissionKind = "payment"
)

// SubmissionStatus is the analysis lifecycle of a submission.
type SubmissionStatus string

const (
	StatusIntake    SubmissionStatus = "intake"
	StatusAnalyzing SubmissionStatus = "analyzing"
	StatusCompleted SubmissionStatus = "completed"
	StatusFailed    SubmissionStatus = "failed"
)

// Disposition is the aggregated verdict written when analysis completes.
type Disposition string

const (
	DispositionSafe    Disposition = "safe"
	DispositionFlagged Disposition = "flagged"
)

// PaymentPayload is the inline structured artifact of a payment submission.
type PaymentPayload struct {
	Amount           float64    `json:"amount"`
	Currency         string     `json:"currency"`
	BillingCountry   string     `json:"billing_country,omitempty"`
	ShippingCountry  string     `json:"shipping_country,omitempty"`
	PaymentMethod    string     `json:"payment_method,omitempty"`
	AccountCreatedAt *time.Time `json:"account_created_at,omitempty"`
}

// AnalysisSummary records how a disposition was reached.
type AnalysisSummary struct {
	Disposition    Disposition        `json:"disposition"`
	MaxRisk        float64            `json:"max_risk"`
	Priority       string             `json:"priority,omitempty"`
	Scores         map[string]float64 `json:"scores"`
	Skipped        []string           `json:"skipped,omitempty"`
	Reasons        []string           `json:"reasons,omitempty"`
	MatchedRules   []string           `json:"matched_rules,omitempty"`
	ModerationID   string             `json:"moderation_id,omitempty"`
	AccountFlagged bool               `json:"account_flagged,omitempty"`
}

// Submission is one upload or payment moving through analysis.
type Submission struct {
	ID                 string
	SubmitterID        string
	ItemID             string
	Kind               SubmissionKind
	Status             SubmissionStatus
	ArtifactHandle     string
	MediaType          string
	SizeBytes          int64
	Payment            *PaymentPayload
	CulturalTags       []string
	CulturalBackground []string
	Title              string
	Description        string
	Disposition        Disposition
	Summary            *AnalysisSummary
	ErrorMessage       string
	WorkerID           string
	LastHeartbeat      *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
}

// IsTerminal reports whether the submission can no longer change state.
func (s *Submission) IsTerminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// ResultOutcome describes how a provider invocation ended.
type ResultOutcome string

const (
	OutcomeOK      ResultOutcome = "ok"
	OutcomeFailed  ResultOutcome = "failed"
	OutcomeTimeout ResultOutcome = "timeout"
)

// AnalysisResult is one provider's immutable verdict on a submission.
type AnalysisResult struct {
	SubmissionID    string
	Provider        string
	Outcome         ResultOutcome
	RiskScore       float64
	Flags           []string
	Recommendations string
	Metadata        map[string]string
	Error           string
	DurationMS      int64
	CreatedAt       time.Time
}

// EntityKind names what a moderation item refers to.
type EntityKind string

const (
	EntitySubmission EntityKind = "submission"
	EntityUserReport EntityKind = "user_report"
	EntityListing    EntityKind = "listing"
)

// ParseEntityKind validates an entity kind string.
func ParseEntityKind(value string) (EntityKind, error) {
	switch kind := EntityKind(strings.ToLower(strings.TrimSpace(value))); kind {
	case EntitySubmission, EntityUserReport, EntityListing:
		return kind, nil
	}
	return "", fmt.Errorf("unknown entity kind %q", value)
}

// Priority orders moderation work. Higher values are reviewed first.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority converts low/medium/high to a Priority.
func ParsePriority(value string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	}
	return 0, fmt.Errorf("unknown priority %q", value)
}

// ModerationStatus is the review lifecycle of a moderation item.
type ModerationStatus string

const (
	ModerationPending  ModerationStatus = "pending"
	ModerationAssigned ModerationStatus = "assigned"
	ModerationResolved ModerationStatus = "resolved"
)

// Outcome is a reviewer's decision.
type Outcome string

const (
	OutcomeUpheld    Outcome = "upheld"
	OutcomeDismissed Outcome = "dismissed"
)

// ParseOutcome validates a reviewer decision string.
func ParseOutcome(value string) (Outcome, error) {
	switch outcome := Outcome(strings.ToLower(strings.TrimSpace(value))); outcome {
	case OutcomeUpheld, OutcomeDismissed:
		return outcome, nil
	}
	return "", fmt.Errorf("unknown outcome %q", value)
}

// ModerationSource records how an item entered the queue.
type ModerationSource string

const (
	SourceAutomatic ModerationSource = "automatic"
	SourceReport    ModerationSource = "report"
)

// ModerationItem is one unit of human review work.
type ModerationItem struct {
	ID             string
	EntityKind     EntityKind
	EntityID       string
	Priority       Priority
	Status         ModerationStatus
	Assignee       string
	Outcome        Outcome
	ResolutionNote string
	Source         ModerationSource
	Metadata       map[string]any
	Version        int64
	EnrollCount    int64
	EnrolledAt     time.Time
	AssignedAt     *time.Time
	ResolvedAt     *time.Time
	UpdatedAt      time.Time
}

// MetadataString returns a string metadata value, or "" when absent.
func (m *ModerationItem) MetadataString(key string) string {
	if m == nil || m.Metadata == nil {
		return ""
	}
	if value, ok := m.Metadata[key].(string); ok {
		return value
	}
	return ""
}

// EnrollParams describes a request to place an entity under review.
type EnrollParams struct {
	EntityKind EntityKind
	EntityID   string
	Priority   Priority
	Source     ModerationSource
	Metadata   map[string]any
}

// TrustCounters are the raw event tallies a trust score is derived from.
type TrustCounters struct {
	TotalTransactions      int64
	SuccessfulTransactions int64
	Disputes               int64
	ReportsReceived        int64
	HelpfulMarks           int64
	VerifiedCulturalItems  int64
	UpheldCulturalFlags    int64
}

// Add returns the element-wise sum of two counter sets.
func (c TrustCounters) Add(delta TrustCounters) TrustCounters {
	return TrustCounters{
		TotalTransactions:      c.TotalTransactions + delta.TotalTransactions,
		SuccessfulTransactions: c.SuccessfulTransactions + delta.SuccessfulTransactions,
		Disputes:               c.Disputes + delta.Disputes,
		ReportsReceived:        c.ReportsReceived + delta.ReportsReceived,
		HelpfulMarks:           c.HelpfulMarks + delta.HelpfulMarks,
		VerifiedCulturalItems:  c.VerifiedCulturalItems + delta.VerifiedCulturalItems,
		UpheldCulturalFlags:    c.UpheldCulturalFlags + delta.UpheldCulturalFlags,
	}
}

// TrustScores holds the derived sub-scores, each in [0,10].
type TrustScores struct {
	Verification float64
	Transaction  float64
	Community    float64
	Cultural     float64
	Overall      float64
}

// TrustScore is a user's composite reputation row.
type TrustScore struct {
	UserID        string
	Scores        TrustScores
	Counters      TrustCounters
	Verifications []string
	AccountFlag   bool
	FlagReason    string
	FlaggedAt     *time.Time
	Version       int64
	ComputedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AccountFlag is one entry in the append-only security flag history.
type AccountFlag struct {
	ID           string
	UserID       string
	Reason       string
	SubmissionID string
	RiskScore    float64
	CreatedAt    time.Time
}

// NotificationChannel selects the delivery transport.
type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelPush  NotificationChannel = "push"
)

// NotificationStatus is the delivery lifecycle of a task.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// NotificationTask is one durable delivery obligation.
type NotificationTask struct {
	ID             string
	RecipientID    string
	Channel        NotificationChannel
	Event          string
	Subject        string
	Body           string
	Data           map[string]string
	Priority       Priority
	Status         NotificationStatus
	RetryCount     int
	MaxRetries     int
	NextEligibleAt time.Time
	LastError      string
	ClaimedBy      string
	ClaimedUntil   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	SentAt         *time.Time
}

// DeliveryFailure is the retry decision recorded after a failed attempt.
type DeliveryFailure struct {
	Status         NotificationStatus
	RetryCount     int
	NextEligibleAt time.Time
	LastError      string
}

// SubmissionFilter narrows ListSubmissions.
type SubmissionFilter struct {
	Status      SubmissionStatus
	SubmitterID string
	Limit       int
}

// NotificationFilter narrows ListNotifications.
type NotificationFilter struct {
	Status      NotificationStatus
	RecipientID string
	Limit       int
}

// PaymentHistory summarizes a submitter's earlier payment submissions.
type PaymentHistory struct {
	Count         int
	RecentCount   int
	AverageAmount float64
}
