package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sentinel/internal/logging"
	"sentinel/internal/metrics"
	"sentinel/internal/moderation"
	"sentinel/internal/notify"
	"sentinel/internal/scoring"
	"sentinel/internal/services"
	"sentinel/internal/store"
)

const velocityWindow = 24 * time.Hour

// RunOnce claims and analyzes the oldest submission in intake. It returns
// the submission in its final state, or nil when nothing is waiting.
func (o *Orchestrator) RunOnce(ctx context.Context) (*store.Submission, error) {
	workerID := "run-once-" + uuid.NewString()[:8]
	sub, err := o.store.ClaimNextSubmission(ctx, workerID, o.now())
	if err != nil || sub == nil {
		return nil, err
	}
	if err := o.handle(ctx, sub, workerID); err != nil {
		return nil, err
	}
	return o.store.GetSubmission(ctx, sub.ID)
}

// Analyze claims one specific submission and analyzes it synchronously. A
// submission that is no longer in intake is a conflict.
func (o *Orchestrator) Analyze(ctx context.Context, id string) (*store.Submission, error) {
	workerID := "analyze-" + uuid.NewString()[:8]
	claimed, err := o.store.BeginAnalysis(ctx, id, workerID, o.now())
	if err != nil {
		return nil, err
	}
	if !claimed {
		if _, err := o.store.GetSubmission(ctx, id); err != nil {
			return nil, err
		}
		return nil, services.Wrap(services.ErrConflict, "analysis", "analyze",
			fmt.Sprintf("submission %s is not awaiting analysis", id), nil)
	}
	sub, err := o.store.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := o.handle(ctx, sub, workerID); err != nil {
		return nil, err
	}
	return o.store.GetSubmission(ctx, id)
}

func (o *Orchestrator) processNext(ctx context.Context, workerID string) (bool, error) {
	sub, err := o.store.ClaimNextSubmission(ctx, workerID, o.now())
	if err != nil {
		return false, err
	}
	if sub == nil {
		return false, nil
	}
	return true, o.handle(ctx, sub, workerID)
}

// handle analyzes a claimed submission and records a failure when analysis
// cannot finish. Only an error persisting that failure is returned. A claimed
// analysis runs to completion even when ctx is canceled; provider timeouts
// bound how long that takes.
func (o *Orchestrator) handle(ctx context.Context, sub *store.Submission, workerID string) error {
	ctx = context.WithoutCancel(ctx)
	ctx = services.WithSubmissionID(ctx, sub.ID)
	ctx = services.WithWorker(ctx, workerID)
	ctx = services.WithStage(ctx, "analysis")
	logger := logging.WithContext(ctx, o.logger)

	analyzeErr := o.analyze(ctx, logger, sub)
	if analyzeErr == nil {
		return nil
	}
	if errors.Is(analyzeErr, services.ErrConflict) {
		logging.WarnWithContext(logger, "analysis result discarded", "analysis_conflict",
			logging.Error(analyzeErr),
			logging.String(logging.FieldErrorHint, "the submission was settled elsewhere, usually by the stale reaper"),
			logging.String(logging.FieldImpact, "none; the existing terminal state is kept"),
		)
		return nil
	}

	failCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	message := strings.TrimSpace(analyzeErr.Error())
	if err := o.store.FailAnalysis(failCtx, sub.ID, message, o.now()); err != nil {
		if errors.Is(err, services.ErrConflict) {
			return nil
		}
		return fmt.Errorf("record analysis failure for %s: %w", sub.ID, err)
	}
	o.metrics.Inc(metrics.AnalysesFailed, 1)
	o.setLastError(analyzeErr)
	logging.ErrorWithContext(logger, "analysis failed", "analysis_failed",
		logging.Error(analyzeErr),
		logging.String("error_kind", string(services.Classify(analyzeErr))),
		logging.String(logging.FieldErrorHint, "resubmit once the dependency recovers; failed submissions are not retried"),
	)
	return nil
}

func (o *Orchestrator) analyze(ctx context.Context, logger *slog.Logger, sub *store.Submission) error {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go o.heartbeat(hbCtx, &hbWG, logger, sub.ID)
	defer func() {
		stopHeartbeat()
		hbWG.Wait()
	}()

	pc, err := o.providerContext(ctx, sub)
	if err != nil {
		return err
	}
	expected := scoring.KindsFor(sub.Kind)
	results := o.runProviders(ctx, logger, sub, pc, expected)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("analysis interrupted: %w", err)
	}

	trustOverall := 0.0
	if pc.Trust != nil {
		trustOverall = pc.Trust.Scores.Overall
	}
	verdict, err := o.aggregator.Aggregate(sub.Kind, expected, results, trustOverall)
	if err != nil {
		logging.WarnWithContext(logger, "escalation rule evaluation failed", "rule_eval_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check rules.escalation expressions"),
			logging.String(logging.FieldImpact, "failing rules were ignored for this submission"),
		)
	}
	fraud, scored := verdict.Scores[string(scoring.KindFraud)]
	accountFlag := scored && fraud > o.flagAccountAbove
	if accountFlag && !verdict.Flagged() {
		verdict.Disposition = store.DispositionFlagged
		verdict.Priority = store.PriorityHigh
		verdict.Reasons = append(verdict.Reasons, ReasonAccountFlag)
	}
	summary := verdict.Summary()

	if accountFlag {
		if err := o.flagAccount(ctx, logger, sub, fraud); err != nil {
			return err
		}
		summary.AccountFlagged = true
	}

	if verdict.Flagged() {
		item, err := o.enroll(ctx, sub, verdict)
		if err != nil {
			return err
		}
		summary.ModerationID = item.ID
		if err := o.notifySubmitter(ctx, sub); err != nil {
			return err
		}
		o.metrics.Inc(metrics.SubmissionsFlagged, 1)
	}

	records := make([]store.AnalysisResult, 0, len(results))
	for _, res := range results {
		records = append(records, res.Record(sub.ID))
	}
	if err := o.store.CompleteAnalysis(ctx, sub.ID, summary, records, o.now()); err != nil {
		return err
	}
	o.metrics.Inc(metrics.AnalysesCompleted, 1)
	logger.Info("analysis completed",
		logging.String("disposition", string(verdict.Disposition)),
		logging.Float64("max_risk", verdict.MaxRisk),
		logging.String("reasons", strings.Join(verdict.Reasons, ",")),
		logging.String("skipped", strings.Join(verdict.Skipped, ",")),
	)
	return nil
}

func (o *Orchestrator) heartbeat(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, id string) {
	defer wg.Done()
	ticker := time.NewTicker(o.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.store.UpdateSubmissionHeartbeat(ctx, id, o.now()); err != nil && ctx.Err() == nil {
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}

func (o *Orchestrator) providerContext(ctx context.Context, sub *store.Submission) (scoring.Context, error) {
	now := o.now()
	pc := scoring.Context{
		CulturalTags:       sub.CulturalTags,
		CulturalBackground: sub.CulturalBackground,
		Now:                now,
	}
	if o.trust != nil {
		snapshot, err := o.trust.Get(ctx, sub.SubmitterID)
		if err != nil {
			return pc, fmt.Errorf("load trust for %s: %w", sub.SubmitterID, err)
		}
		pc.Trust = snapshot
	}
	if sub.Kind == store.KindPayment {
		history, err := o.store.PaymentHistory(ctx, sub.SubmitterID, sub.ID, now.Add(-velocityWindow))
		if err != nil {
			return pc, err
		}
		pc.History = history
	}
	return pc, nil
}

// runProviders invokes every registered provider in expected concurrently.
// Results come back in expected order; unregistered kinds are omitted.
func (o *Orchestrator) runProviders(ctx context.Context, logger *slog.Logger, sub *store.Submission, pc scoring.Context, expected []scoring.Kind) []scoring.Result {
	slots := make([]*scoring.Result, len(expected))
	var group errgroup.Group
	for i, kind := range expected {
		provider, ok := o.providers[kind]
		if !ok {
			logger.Info("provider not registered; skipping", logging.String(logging.FieldProvider, string(kind)))
			continue
		}
		group.Go(func() error {
			res := scoring.Invoke(ctx, provider, sub, pc, o.providerTimeout)
			slots[i] = &res
			return nil
		})
	}
	_ = group.Wait()

	results := make([]scoring.Result, 0, len(expected))
	for _, res := range slots {
		if res == nil {
			continue
		}
		switch res.Outcome {
		case store.OutcomeTimeout:
			o.metrics.Inc(metrics.ProviderTimeouts, 1)
		case store.OutcomeFailed:
			o.metrics.Inc(metrics.ProviderFailures, 1)
		}
		attrs := []logging.Attr{
			logging.String(logging.FieldProvider, string(res.Kind)),
			logging.String("outcome", string(res.Outcome)),
			logging.Float64("risk_score", res.RiskScore),
			logging.Duration("duration", res.Duration),
		}
		if res.OK() {
			logger.Debug("provider scored", logging.Args(attrs...)...)
		} else {
			attrs = append(attrs,
				logging.Error(res.Err),
				logging.String(logging.FieldErrorHint, "check the provider's dependency"),
				logging.String(logging.FieldImpact, "provider skipped for this submission"),
			)
			logging.WarnWithContext(logger, "provider produced no score", "provider_failed", attrs...)
		}
		results = append(results, *res)
	}
	return results
}

func (o *Orchestrator) enroll(ctx context.Context, sub *store.Submission, verdict Verdict) (*store.ModerationItem, error) {
	if o.moderation == nil {
		return nil, services.Wrap(services.ErrConfiguration, "analysis", "enroll", "moderation queue not configured", nil)
	}
	scores := make(map[string]any, len(verdict.Scores))
	for k, v := range verdict.Scores {
		scores[k] = v
	}
	metadata := map[string]any{
		moderation.MetaSubmitterID: sub.SubmitterID,
		moderation.MetaMaxRisk:     verdict.MaxRisk,
		"submission_kind":          string(sub.Kind),
		"scores":                   scores,
		"flags":                    verdict.Flags,
	}
	if len(verdict.MatchedRules) > 0 {
		metadata["matched_rules"] = verdict.MatchedRules
	}
	if cultural, ok := verdict.Scores[string(scoring.KindCultural)]; ok && cultural >= o.aggregator.Thresholds.Cultural {
		metadata[moderation.MetaCulturalFlag] = true
	}
	if sub.Title != "" {
		metadata["title"] = sub.Title
	}
	item, _, err := o.moderation.Enroll(ctx, moderation.EnrollRequest{
		EntityKind: store.EntitySubmission,
		EntityID:   sub.ID,
		Priority:   verdict.Priority,
		Source:     store.SourceAutomatic,
		Reason:     strings.Join(verdict.Reasons, ","),
		Metadata:   metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("enroll moderation: %w", err)
	}
	return item, nil
}

func (o *Orchestrator) notifySubmitter(ctx context.Context, sub *store.Submission) error {
	if o.notifier == nil {
		return nil
	}
	_, err := o.notifier.Enqueue(ctx, notify.Message{
		RecipientID: sub.SubmitterID,
		Channel:     store.ChannelEmail,
		Event:       notify.EventSubmissionUnderReview,
		Data: map[string]string{
			"submission_id": sub.ID,
			"title":         sub.Title,
		},
		Priority: store.PriorityMedium,
	})
	if err != nil {
		return fmt.Errorf("notify submitter: %w", err)
	}
	return nil
}

func (o *Orchestrator) flagAccount(ctx context.Context, logger *slog.Logger, sub *store.Submission, fraud float64) error {
	if o.trust == nil {
		return services.Wrap(services.ErrConfiguration, "analysis", "flag account", "trust aggregator not configured", nil)
	}
	reason := fmt.Sprintf("payment fraud risk %.2f", fraud)
	if _, err := o.trust.FlagAccount(ctx, sub.SubmitterID, reason, sub.ID, fraud); err != nil {
		return fmt.Errorf("flag account: %w", err)
	}
	if o.notifier == nil {
		return nil
	}
	if len(o.security) == 0 {
		logging.WarnWithContext(logger, "no recipient for account security alert", "security_alert_unrouted",
			logging.String(logging.FieldUserID, sub.SubmitterID),
			logging.Float64("risk_score", fraud),
			logging.String(logging.FieldErrorHint, "set moderation.security_recipients or moderation.reviewers"),
			logging.String(logging.FieldImpact, "the account is flagged but nobody is alerted"),
		)
		return nil
	}
	_, err := o.notifier.Broadcast(ctx, o.security, notify.Message{
		Channel: store.ChannelPush,
		Event:   notify.EventAccountFlagged,
		Data: map[string]string{
			"user_id":       sub.SubmitterID,
			"submission_id": sub.ID,
			"risk_score":    fmt.Sprintf("%.2f", fraud),
			"reason":        reason,
		},
		Priority: store.PriorityHigh,
	})
	if err != nil {
		return fmt.Errorf("notify security: %w", err)
	}
	return nil
}
