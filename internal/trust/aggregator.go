package trust

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"sentinel/internal/logging"
	"sentinel/internal/metrics"
	"sentinel/internal/services"
	"sentinel/internal/store"
)

const (
	recomputeAttempts = 5
	recomputeBackoff  = 5 * time.Millisecond
)

// Aggregator maintains per-user trust scores. Counter updates are atomic
// increments in the store; derived scores are written with a version check so
// concurrent recomputes never overwrite a newer input with a stale result.
type Aggregator struct {
	store   *store.Store
	logger  *slog.Logger
	metrics metrics.Sink
	now     func() time.Time
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(sink metrics.Sink) Option {
	return func(a *Aggregator) {
		a.metrics = metrics.OrNop(sink)
	}
}

// New constructs an aggregator over st.
func New(st *store.Store, logger *slog.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = logging.NewNop()
	}
	a := &Aggregator{
		store:   st,
		logger:  logging.NewComponentLogger(logger, "trust"),
		metrics: metrics.Nop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Get returns the user's trust row, creating a neutral one if needed.
func (a *Aggregator) Get(ctx context.Context, userID string) (*store.TrustScore, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return a.store.EnsureTrust(ctx, userID, a.now())
}

// Recompute derives the user's sub-scores from current counters and writes
// them if no other writer changed the row in between. Lost races are retried
// against the fresh row.
func (a *Aggregator) Recompute(ctx context.Context, userID string) (*store.TrustScore, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	backoff := retry.WithMaxRetries(recomputeAttempts-1, retry.NewConstant(recomputeBackoff))
	var result *store.TrustScore
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		current, err := a.store.EnsureTrust(ctx, userID, a.now())
		if err != nil {
			return err
		}
		scores := Compute(current.Counters, current.Verifications)
		saved, err := a.store.SaveTrustScores(ctx, userID, current.Version, scores, a.now())
		if err != nil {
			return err
		}
		if !saved {
			return retry.RetryableError(services.Wrap(services.ErrConflict, "trust", "recompute",
				fmt.Sprintf("trust row for %s changed during recompute", userID), nil))
		}
		result, err = a.store.GetTrust(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	a.logger.Debug("trust recomputed",
		logging.String(logging.FieldUserID, userID),
		logging.Float64("overall", result.Scores.Overall),
		logging.Int64("version", result.Version),
	)
	return result, nil
}

// RecordTransaction counts a completed transaction for the user.
func (a *Aggregator) RecordTransaction(ctx context.Context, userID string, successful, disputed bool) (*store.TrustScore, error) {
	delta := store.TrustCounters{TotalTransactions: 1}
	if successful {
		delta.SuccessfulTransactions = 1
	}
	if disputed {
		delta.Disputes = 1
	}
	return a.increment(ctx, userID, delta)
}

// RecordHelpfulMark counts a community helpful mark.
func (a *Aggregator) RecordHelpfulMark(ctx context.Context, userID string) (*store.TrustScore, error) {
	return a.increment(ctx, userID, store.TrustCounters{HelpfulMarks: 1})
}

// RecordVerifiedCulturalItem counts an item whose cultural provenance was verified.
func (a *Aggregator) RecordVerifiedCulturalItem(ctx context.Context, userID string) (*store.TrustScore, error) {
	return a.increment(ctx, userID, store.TrustCounters{VerifiedCulturalItems: 1})
}

// ModerationEffect describes how a resolved review changes one user's counters.
type ModerationEffect struct {
	ReportUpheld       bool
	CulturalFlagUpheld bool
}

func (e ModerationEffect) counters() store.TrustCounters {
	var delta store.TrustCounters
	if e.ReportUpheld {
		delta.ReportsReceived = 1
	}
	if e.CulturalFlagUpheld {
		delta.UpheldCulturalFlags = 1
	}
	return delta
}

// RecordModerationOutcome applies a resolved review to the user and recomputes.
// An empty effect only recomputes.
func (a *Aggregator) RecordModerationOutcome(ctx context.Context, userID string, effect ModerationEffect) (*store.TrustScore, error) {
	return a.increment(ctx, userID, effect.counters())
}

// ApproveVerification records an approved verification from the catalog.
func (a *Aggregator) ApproveVerification(ctx context.Context, userID, verificationType string) (*store.TrustScore, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	verificationType = strings.ToLower(strings.TrimSpace(verificationType))
	if !KnownVerification(verificationType) {
		return nil, services.Invalid("verification_type",
			fmt.Sprintf("%q is not one of %s", verificationType, strings.Join(VerificationTypes(), ", ")))
	}
	if err := a.store.AddVerification(ctx, userID, verificationType, a.now()); err != nil {
		return nil, err
	}
	return a.Recompute(ctx, userID)
}

// FlagAccount raises the user's security flag and appends to its history.
// Scores are not recomputed.
func (a *Aggregator) FlagAccount(ctx context.Context, userID, reason, submissionID string, risk float64) (*store.AccountFlag, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	flag, err := a.store.FlagAccount(ctx, store.AccountFlag{
		UserID:       userID,
		Reason:       reason,
		SubmissionID: submissionID,
		RiskScore:    risk,
		CreatedAt:    a.now(),
	})
	if err != nil {
		return nil, err
	}
	a.metrics.Inc(metrics.AccountsFlagged, 1)
	logging.WarnWithContext(a.logger, "account flagged", "account_flagged",
		logging.String(logging.FieldUserID, userID),
		logging.String(logging.FieldSubmissionID, submissionID),
		logging.Float64("risk_score", risk),
		logging.String("reason", reason),
		logging.String(logging.FieldErrorHint, "review the account's recent payments"),
		logging.String(logging.FieldImpact, "account marked for security review"),
	)
	return flag, nil
}

// ClearAccountFlag lowers the security flag; history is kept.
func (a *Aggregator) ClearAccountFlag(ctx context.Context, userID string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if err := a.store.ClearAccountFlag(ctx, userID, a.now()); err != nil {
		return err
	}
	a.logger.Info("account flag cleared", logging.String(logging.FieldUserID, userID))
	return nil
}

// RecomputeStale refreshes up to limit users whose scores were computed
// before cutoff. Individual failures are logged and skipped.
func (a *Aggregator) RecomputeStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	users, err := a.store.ListStaleTrust(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}
	refreshed := 0
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return refreshed, err
		}
		if _, err := a.Recompute(ctx, userID); err != nil {
			logging.WarnWithContext(a.logger, "stale trust recompute failed", "trust_recompute_failed",
				logging.String(logging.FieldUserID, userID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "score stays stale until the next maintenance run"),
			)
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

func (a *Aggregator) increment(ctx context.Context, userID string, delta store.TrustCounters) (*store.TrustScore, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if delta != (store.TrustCounters{}) {
		if err := a.store.IncrementTrustCounters(ctx, userID, delta, a.now()); err != nil {
			return nil, err
		}
	}
	return a.Recompute(ctx, userID)
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return services.Invalid("user_id", "required")
	}
	return nil
}
