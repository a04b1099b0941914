package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"sentinel/internal/services"
	"sentinel/internal/store"
)

// Kind identifies a scoring axis.
type Kind string

const (
	KindContent  Kind = "content"
	KindCultural Kind = "cultural"
	KindFraud    Kind = "fraud"
)

// DefaultTimeout bounds a provider call when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// KindsFor returns the providers that apply to a submission kind, in a stable order.
func KindsFor(kind store.SubmissionKind) []Kind {
	switch kind {
	case store.KindUpload:
		return []Kind{KindContent, KindCultural}
	case store.KindPayment:
		return []Kind{KindFraud}
	default:
		return nil
	}
}

// Context is the read-only input shared with every provider for one submission.
type Context struct {
	Trust              *store.TrustScore
	CulturalTags       []string
	CulturalBackground []string
	History            store.PaymentHistory
	Now                time.Time
}

// Result is a provider's normalized verdict. Outcome is ok only when RiskScore
// is a valid score in [0,1].
type Result struct {
	Kind            Kind
	Outcome         store.ResultOutcome
	RiskScore       float64
	Flags           []string
	Recommendations []string
	Metadata        map[string]string
	Err             error
	Duration        time.Duration
}

// OK reports whether the result carries a usable score.
func (r Result) OK() bool {
	return r.Outcome == store.OutcomeOK
}

// Record converts the result into its persisted form.
func (r Result) Record(submissionID string) store.AnalysisResult {
	record := store.AnalysisResult{
		SubmissionID:    submissionID,
		Provider:        string(r.Kind),
		Outcome:         r.Outcome,
		RiskScore:       r.RiskScore,
		Flags:           r.Flags,
		Recommendations: strings.Join(r.Recommendations, "\n"),
		Metadata:        r.Metadata,
		DurationMS:      r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		record.Error = r.Err.Error()
	}
	return record
}

// Provider scores one submission on one axis. Implementations must not mutate
// shared state and should honour ctx cancellation.
type Provider interface {
	Kind() Kind
	Score(ctx context.Context, sub *store.Submission, pc Context) (Result, error)
}

// Registry maps each kind to its provider. A missing kind is skipped by the
// orchestrator.
type Registry map[Kind]Provider

// NewRegistry indexes providers by kind; later entries replace earlier ones.
func NewRegistry(providers ...Provider) Registry {
	reg := make(Registry, len(providers))
	for _, p := range providers {
		if p != nil {
			reg[p.Kind()] = p
		}
	}
	return reg
}

// Invoke runs p under its own timeout and folds every failure mode into the
// returned Result: timeouts become OutcomeTimeout, errors, panics, and
// out-of-range scores become OutcomeFailed. It never returns an error.
func Invoke(ctx context.Context, p Provider, sub *store.Submission, pc Context, timeout time.Duration) Result {
	kind := p.Kind()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type scored struct {
		res Result
		err error
	}
	done := make(chan scored, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- scored{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		res, err := p.Score(callCtx, sub, pc)
		done <- scored{res: res, err: err}
	}()

	var (
		res Result
		err error
	)
	select {
	case out := <-done:
		res, err = out.res, out.err
	case <-callCtx.Done():
		err = callCtx.Err()
	}

	res.Kind = kind
	res.Duration = time.Since(start)
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return failed(res, store.OutcomeTimeout, services.Wrap(services.ErrProviderTimeout, "scoring", string(kind),
			fmt.Sprintf("no verdict within %s", timeout), nil))
	case err != nil:
		return failed(res, store.OutcomeFailed, err)
	case math.IsNaN(res.RiskScore) || res.RiskScore < 0 || res.RiskScore > 1:
		return failed(res, store.OutcomeFailed, services.Invalid("risk_score", fmt.Sprintf("%v outside [0,1]", res.RiskScore)))
	}
	res.Outcome = store.OutcomeOK
	if res.Flags == nil {
		res.Flags = []string{}
	}
	return res
}

func failed(res Result, outcome store.ResultOutcome, err error) Result {
	return Result{
		Kind:     res.Kind,
		Outcome:  outcome,
		Flags:    []string{},
		Metadata: res.Metadata,
		Err:      err,
		Duration: res.Duration,
	}
}

func round4(value float64) float64 {
	return math.Round(value*10000) / 10000
}

func clamp01(value float64) float64 {
	return math.Max(0, math.Min(1, value))
}
