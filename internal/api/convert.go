package api

import (
	"time"

	"sentinel/internal/metrics"
	"sentinel/internal/store"
)

// FromSubmission converts a store submission into its transport form.
func FromSubmission(sub *store.Submission) Submission {
	if sub == nil {
		return Submission{}
	}
	out := Submission{
		ID:                 sub.ID,
		SubmitterID:        sub.SubmitterID,
		ItemID:             sub.ItemID,
		Kind:               string(sub.Kind),
		Status:             string(sub.Status),
		Disposition:        string(sub.Disposition),
		ArtifactHandle:     sub.ArtifactHandle,
		MediaType:          sub.MediaType,
		SizeBytes:          sub.SizeBytes,
		Title:              sub.Title,
		Description:        sub.Description,
		CulturalTags:       sub.CulturalTags,
		CulturalBackground: sub.CulturalBackground,
		ErrorMessage:       sub.ErrorMessage,
		WorkerID:           sub.WorkerID,
		CreatedAt:          formatTime(sub.CreatedAt),
		UpdatedAt:          formatTime(sub.UpdatedAt),
		CompletedAt:        formatTimePtr(sub.CompletedAt),
	}
	if p := sub.Payment; p != nil {
		out.Payment = &Payment{
			Amount:           p.Amount,
			Currency:         p.Currency,
			BillingCountry:   p.BillingCountry,
			ShippingCountry:  p.ShippingCountry,
			PaymentMethod:    p.PaymentMethod,
			AccountCreatedAt: formatTimePtr(p.AccountCreatedAt),
		}
	}
	if s := sub.Summary; s != nil {
		out.Summary = &Summary{
			Disposition:    string(s.Disposition),
			MaxRisk:        s.MaxRisk,
			Priority:       s.Priority,
			Scores:         s.Scores,
			Skipped:        s.Skipped,
			Reasons:        s.Reasons,
			MatchedRules:   s.MatchedRules,
			ModerationID:   s.ModerationID,
			AccountFlagged: s.AccountFlagged,
		}
	}
	return out
}

// FromSubmissions converts a slice, preserving order.
func FromSubmissions(subs []*store.Submission) []Submission {
	out := make([]Submission, 0, len(subs))
	for _, sub := range subs {
		out = append(out, FromSubmission(sub))
	}
	return out
}

// FromResult converts a persisted provider result.
func FromResult(r store.AnalysisResult) AnalysisResult {
	flags := r.Flags
	if flags == nil {
		flags = []string{}
	}
	return AnalysisResult{
		Provider:        r.Provider,
		Outcome:         string(r.Outcome),
		RiskScore:       r.RiskScore,
		Flags:           flags,
		Recommendations: r.Recommendations,
		Metadata:        r.Metadata,
		Error:           r.Error,
		DurationMS:      r.DurationMS,
	}
}

// FromModeration converts a review queue entry.
func FromModeration(item *store.ModerationItem) ModerationItem {
	if item == nil {
		return ModerationItem{}
	}
	return ModerationItem{
		ID:             item.ID,
		EntityKind:     string(item.EntityKind),
		EntityID:       item.EntityID,
		Priority:       item.Priority.String(),
		Status:         string(item.Status),
		Source:         string(item.Source),
		Assignee:       item.Assignee,
		Outcome:        string(item.Outcome),
		ResolutionNote: item.ResolutionNote,
		Metadata:       item.Metadata,
		EnrollCount:    item.EnrollCount,
		EnrolledAt:     formatTime(item.EnrolledAt),
		AssignedAt:     formatTimePtr(item.AssignedAt),
		ResolvedAt:     formatTimePtr(item.ResolvedAt),
	}
}

// FromModerationItems converts a slice, preserving queue order.
func FromModerationItems(items []*store.ModerationItem) []ModerationItem {
	out := make([]ModerationItem, 0, len(items))
	for _, item := range items {
		out = append(out, FromModeration(item))
	}
	return out
}

// FromTrust converts a trust row.
func FromTrust(t *store.TrustScore) TrustScore {
	if t == nil {
		return TrustScore{}
	}
	verifications := t.Verifications
	if verifications == nil {
		verifications = []string{}
	}
	c := t.Counters
	return TrustScore{
		UserID:       t.UserID,
		Verification: t.Scores.Verification,
		Transaction:  t.Scores.Transaction,
		Community:    t.Scores.Community,
		Cultural:     t.Scores.Cultural,
		Overall:      t.Scores.Overall,
		Counters: TrustCounters{
			TotalTransactions:      c.TotalTransactions,
			SuccessfulTransactions: c.SuccessfulTransactions,
			Disputes:               c.Disputes,
			ReportsReceived:        c.ReportsReceived,
			HelpfulMarks:           c.HelpfulMarks,
			VerifiedCulturalItems:  c.VerifiedCulturalItems,
			UpheldCulturalFlags:    c.UpheldCulturalFlags,
		},
		Verifications: verifications,
		AccountFlag:   t.AccountFlag,
		FlagReason:    t.FlagReason,
		FlaggedAt:     formatTimePtr(t.FlaggedAt),
		ComputedAt:    formatTimePtr(t.ComputedAt),
	}
}

// FromNotification converts a notification task.
func FromNotification(task *store.NotificationTask) Notification {
	if task == nil {
		return Notification{}
	}
	out := Notification{
		ID:          task.ID,
		RecipientID: task.RecipientID,
		Channel:     string(task.Channel),
		Event:       task.Event,
		Subject:     task.Subject,
		Priority:    task.Priority.String(),
		Status:      string(task.Status),
		RetryCount:  task.RetryCount,
		MaxRetries:  task.MaxRetries,
		LastError:   task.LastError,
		CreatedAt:   formatTime(task.CreatedAt),
		SentAt:      formatTimePtr(task.SentAt),
	}
	if task.Status == store.NotificationPending {
		out.NextEligibleAt = formatTime(task.NextEligibleAt)
	}
	return out
}

// FromMetrics splits a metrics snapshot into counters and gauges.
func FromMetrics(samples []metrics.Sample) MetricsResponse {
	resp := MetricsResponse{Counters: map[string]int64{}, Gauges: map[string]float64{}}
	for _, s := range samples {
		switch s.Type {
		case "counter":
			resp.Counters[s.Name] = int64(s.Value)
		case "gauge":
			resp.Gauges[s.Name] = s.Value
		}
	}
	return resp
}

// ParseTime parses an optional RFC3339 timestamp from a request.
func ParseTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
