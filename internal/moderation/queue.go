package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/logging"
	"sentinel/internal/metrics"
	"sentinel/internal/notify"
	"sentinel/internal/services"
	"sentinel/internal/store"
	"sentinel/internal/trust"
)

// Metadata keys the queue reads back when an item is resolved.
const (
	MetaReason         = "reason"
	MetaSubmitterID    = "submitter_id"
	MetaReporterID     = "reporter_id"
	MetaReportedUserID = "reported_user_id"
	MetaUserIDs        = "user_ids"
	MetaCulturalFlag   = "cultural_flag"
	MetaMaxRisk        = "max_risk"
)

// EnrollRequest places an entity under review.
type EnrollRequest struct {
	EntityKind store.EntityKind
	EntityID   string
	Priority   store.Priority
	Source     store.ModerationSource
	Reason     string
	Metadata   map[string]any
}

// Queue wraps the store's moderation table with notifications and trust
// side effects.
type Queue struct {
	store     *store.Store
	trust     *trust.Aggregator
	notifier  *notify.Queue
	reviewers []string
	logger    *slog.Logger
	metrics   metrics.Sink
	now       func() time.Time
}

// Option customizes a Queue.
type Option func(*Queue)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(sink metrics.Sink) Option {
	return func(q *Queue) {
		q.metrics = metrics.OrNop(sink)
	}
}

// New builds a moderation queue. notifier may be nil to skip notifications.
func New(st *store.Store, aggregator *trust.Aggregator, notifier *notify.Queue, cfg config.Moderation, logger *slog.Logger, opts ...Option) *Queue {
	q := &Queue{
		store:     st,
		trust:     aggregator,
		notifier:  notifier,
		reviewers: append([]string(nil), cfg.Reviewers...),
		logger:    logging.NewComponentLogger(logger, "moderation"),
		metrics:   metrics.Nop{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enroll places an entity under review. An entity with an open item is merged
// into it and created is false; reviewers are only notified for new items.
func (q *Queue) Enroll(ctx context.Context, req EnrollRequest) (*store.ModerationItem, bool, error) {
	metadata := store.MergeMetadata(nil, req.Metadata)
	if req.Reason != "" {
		metadata[MetaReason] = req.Reason
	}
	item, created, err := q.store.EnrollModeration(ctx, store.EnrollParams{
		EntityKind: req.EntityKind,
		EntityID:   strings.TrimSpace(req.EntityID),
		Priority:   req.Priority,
		Source:     req.Source,
		Metadata:   metadata,
	}, q.now())
	if err != nil {
		return nil, false, err
	}

	logger := q.logger.With(
		logging.String(logging.FieldModerationID, item.ID),
		logging.String("entity_kind", string(item.EntityKind)),
		logging.String("entity_id", item.EntityID),
	)
	if !created {
		logger.Info("moderation item merged",
			logging.String("priority", item.Priority.String()),
			logging.Int64("enroll_count", item.EnrollCount),
		)
		return item, false, nil
	}

	q.metrics.Inc(metrics.ModerationEnrolled, 1)
	q.refreshGauge(ctx)
	logger.Info("moderation item enrolled",
		logging.String("priority", item.Priority.String()),
		logging.String("source", string(item.Source)),
		logging.String("reason", req.Reason),
	)
	q.notifyReviewers(ctx, item)
	return item, true, nil
}

// Get returns one item.
func (q *Queue) Get(ctx context.Context, id string) (*store.ModerationItem, error) {
	return q.store.GetModeration(ctx, id)
}

// ForEntity returns the review history of one entity.
func (q *Queue) ForEntity(ctx context.Context, kind store.EntityKind, entityID string) ([]*store.ModerationItem, error) {
	return q.store.ListModerationForEntity(ctx, kind, entityID)
}

// ListPending returns pending items in review order. A zero priority lists
// every level; a non-positive limit lists everything.
func (q *Queue) ListPending(ctx context.Context, priority store.Priority, limit int) ([]*store.ModerationItem, error) {
	return q.store.ListPendingModeration(ctx, priority, limit)
}

// Assign gives a pending item to reviewer. Losing a race returns
// services.ErrAlreadyAssigned.
func (q *Queue) Assign(ctx context.Context, id, reviewer string) (*store.ModerationItem, error) {
	item, err := q.store.AssignModeration(ctx, id, strings.TrimSpace(reviewer), q.now())
	if err != nil {
		return nil, err
	}
	q.refreshGauge(ctx)
	q.logger.Info("moderation item assigned",
		logging.String(logging.FieldModerationID, item.ID),
		logging.String("reviewer", item.Assignee),
	)
	return item, nil
}

// Next claims the head of the queue for reviewer, or returns nil when the
// queue is empty.
func (q *Queue) Next(ctx context.Context, reviewer string) (*store.ModerationItem, error) {
	item, err := q.store.ClaimNextModeration(ctx, strings.TrimSpace(reviewer), q.now())
	if err != nil || item == nil {
		return item, err
	}
	q.refreshGauge(ctx)
	q.logger.Info("moderation item claimed",
		logging.String(logging.FieldModerationID, item.ID),
		logging.String("reviewer", item.Assignee),
		logging.String("priority", item.Priority.String()),
	)
	return item, nil
}

// Resolve records the assignee's decision, applies its trust effects, and
// notifies the submitter or reporter. Follow-up failures are logged; the
// resolution itself stands once the store accepts it.
func (q *Queue) Resolve(ctx context.Context, id, reviewer string, outcome store.Outcome, note string) (*store.ModerationItem, error) {
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		return nil, services.Invalid("reviewer", "required")
	}
	item, err := q.store.ResolveModeration(ctx, id, reviewer, outcome, strings.TrimSpace(note), q.now())
	if err != nil {
		return nil, err
	}
	q.metrics.Inc(metrics.ModerationResolved, 1)
	q.logger.Info("moderation item resolved",
		logging.String(logging.FieldModerationID, item.ID),
		logging.String("reviewer", reviewer),
		logging.String("outcome", string(item.Outcome)),
	)

	q.applyTrust(ctx, item)
	q.notifyResolution(ctx, item)
	return item, nil
}

// Effects returns the trust effect of a resolved item for every user it
// references. Dismissed items yield empty effects, which still recompute.
func Effects(item *store.ModerationItem) map[string]trust.ModerationEffect {
	effects := map[string]trust.ModerationEffect{}
	for _, user := range ReferencedUsers(item) {
		effects[user] = trust.ModerationEffect{}
	}
	if item.Outcome != store.OutcomeUpheld {
		return effects
	}

	if item.EntityKind == store.EntityUserReport {
		reported := item.MetadataString(MetaReportedUserID)
		if reported == "" {
			reported = item.EntityID
		}
		effect := effects[reported]
		effect.ReportUpheld = true
		effects[reported] = effect
	}
	if culturalFlag(item) {
		target := item.MetadataString(MetaSubmitterID)
		if target == "" {
			target = item.MetadataString(MetaReportedUserID)
		}
		if target != "" {
			effect := effects[target]
			effect.CulturalFlagUpheld = true
			effects[target] = effect
		}
	}
	return effects
}

// ReferencedUsers lists the distinct users named in an item's metadata:
// submitter_id, reported_user_id, and every entry of user_ids. User reports
// always reference the reported user.
func ReferencedUsers(item *store.ModerationItem) []string {
	seen := map[string]struct{}{}
	var users []string
	add := func(user string) {
		user = strings.TrimSpace(user)
		if user == "" {
			return
		}
		if _, ok := seen[user]; ok {
			return
		}
		seen[user] = struct{}{}
		users = append(users, user)
	}
	add(item.MetadataString(MetaSubmitterID))
	add(item.MetadataString(MetaReportedUserID))
	if item.EntityKind == store.EntityUserReport {
		add(item.EntityID)
	}
	switch ids := item.Metadata[MetaUserIDs].(type) {
	case []string:
		for _, id := range ids {
			add(id)
		}
	case []any:
		for _, id := range ids {
			if s, ok := id.(string); ok {
				add(s)
			}
		}
	}
	return users
}

func culturalFlag(item *store.ModerationItem) bool {
	switch v := item.Metadata[MetaCulturalFlag].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return false
}

func (q *Queue) applyTrust(ctx context.Context, item *store.ModerationItem) {
	if q.trust == nil {
		return
	}
	for user, effect := range Effects(item) {
		if _, err := q.trust.RecordModerationOutcome(ctx, user, effect); err != nil {
			logging.WarnWithContext(q.logger, "trust update after resolution failed", "trust_update_failed",
				logging.String(logging.FieldModerationID, item.ID),
				logging.String(logging.FieldUserID, user),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "run `sentinel trust recompute` for the user"),
				logging.String(logging.FieldImpact, "trust score does not yet reflect the resolution"),
			)
		}
	}
}

func (q *Queue) notifyReviewers(ctx context.Context, item *store.ModerationItem) {
	if q.notifier == nil || len(q.reviewers) == 0 {
		return
	}
	data := map[string]string{
		"entity_kind":   string(item.EntityKind),
		"entity_id":     item.EntityID,
		"priority":      item.Priority.String(),
		"moderation_id": item.ID,
		"reason":        item.MetadataString(MetaReason),
	}
	if risk, ok := item.Metadata[MetaMaxRisk].(float64); ok {
		data["max_risk"] = fmt.Sprintf("%.2f", risk)
	}
	_, err := q.notifier.Broadcast(ctx, q.reviewers, notify.Message{
		Channel:  store.ChannelPush,
		Event:    notify.EventModerationEnrolled,
		Data:     data,
		Priority: item.Priority,
	})
	if err != nil {
		q.warnNotify(item, "reviewers", err)
	}
}

func (q *Queue) notifyResolution(ctx context.Context, item *store.ModerationItem) {
	if q.notifier == nil {
		return
	}
	recipient := item.MetadataString(MetaReporterID)
	if recipient == "" {
		recipient = item.MetadataString(MetaSubmitterID)
	}
	if recipient == "" {
		return
	}
	_, err := q.notifier.Enqueue(ctx, notify.Message{
		RecipientID: recipient,
		Channel:     store.ChannelEmail,
		Event:       notify.EventModerationResolved,
		Data: map[string]string{
			"entity_kind": string(item.EntityKind),
			"entity_id":   item.EntityID,
			"outcome":     string(item.Outcome),
			"note":        item.ResolutionNote,
		},
		Priority: store.PriorityMedium,
	})
	if err != nil {
		q.warnNotify(item, recipient, err)
	}
}

func (q *Queue) warnNotify(item *store.ModerationItem, recipient string, err error) {
	logging.WarnWithContext(q.logger, "moderation notification not queued", "notification_enqueue_failed",
		logging.String(logging.FieldModerationID, item.ID),
		logging.String("recipient", recipient),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check store connectivity"),
		logging.String(logging.FieldImpact, "recipient will not be notified about this item"),
	)
}

func (q *Queue) refreshGauge(ctx context.Context) {
	if pending, err := q.store.CountPendingModeration(ctx); err == nil {
		q.metrics.Set(metrics.ModerationPending, float64(pending))
	}
}
