package analysis

import (
	"math"
	"slices"

	"sentinel/internal/config"
	"sentinel/internal/rules"
	"sentinel/internal/scoring"
	"sentinel/internal/store"
)

// ReasonNoVerdict flags a submission none of whose providers produced a score.
const ReasonNoVerdict = "no_provider_verdict"

// ReasonAccountFlag marks a submission sent to review because its fraud
// score raised an account flag.
const ReasonAccountFlag = "account_flag"

// Thresholds are the per-axis scores at which a submission is flagged, and
// the max-risk cut-offs for review priority.
type Thresholds struct {
	Content          float64
	Cultural         float64
	Fraud            float64
	HighPriorityAt   float64
	MediumPriorityAt float64
}

// ThresholdsFrom reads thresholds from the scoring configuration.
func ThresholdsFrom(cfg config.Scoring) Thresholds {
	return Thresholds{
		Content:          cfg.ContentThreshold,
		Cultural:         cfg.CulturalThreshold,
		Fraud:            cfg.FraudThreshold,
		HighPriorityAt:   cfg.HighPriorityAt,
		MediumPriorityAt: cfg.MediumPriorityAt,
	}
}

func (t Thresholds) forKind(kind scoring.Kind) float64 {
	switch kind {
	case scoring.KindContent:
		return t.Content
	case scoring.KindCultural:
		return t.Cultural
	case scoring.KindFraud:
		return t.Fraud
	}
	return math.Inf(1)
}

// PriorityFor maps the highest risk score to a review priority.
func (t Thresholds) PriorityFor(maxRisk float64) store.Priority {
	switch {
	case maxRisk >= t.HighPriorityAt:
		return store.PriorityHigh
	case maxRisk >= t.MediumPriorityAt:
		return store.PriorityMedium
	default:
		return store.PriorityLow
	}
}

// Verdict is the aggregated outcome for one submission.
type Verdict struct {
	Disposition  store.Disposition
	MaxRisk      float64
	Priority     store.Priority
	Scores       map[string]float64
	Skipped      []string
	Reasons      []string
	MatchedRules []string
	Flags        []string
}

// Flagged reports whether the submission needs review.
func (v Verdict) Flagged() bool {
	return v.Disposition == store.DispositionFlagged
}

// Summary converts the verdict into its persisted form.
func (v Verdict) Summary() store.AnalysisSummary {
	summary := store.AnalysisSummary{
		Disposition:  v.Disposition,
		MaxRisk:      v.MaxRisk,
		Scores:       v.Scores,
		Skipped:      v.Skipped,
		Reasons:      v.Reasons,
		MatchedRules: v.MatchedRules,
	}
	if v.Flagged() {
		summary.Priority = v.Priority.String()
	}
	return summary
}

// Aggregator combines provider results into a verdict.
type Aggregator struct {
	Thresholds         Thresholds
	Rules              *rules.Engine
	ReviewWhenUnscored bool
}

// Aggregate decides the disposition. expected lists the providers that apply
// to the submission; any of them without an ok result is reported as skipped.
// A submission is safe only when every available score is below its
// threshold and no escalation rule matches. A rule evaluation error is
// returned alongside a verdict built from the rules that did evaluate.
func (a Aggregator) Aggregate(kind store.SubmissionKind, expected []scoring.Kind, results []scoring.Result, trustOverall float64) (Verdict, error) {
	v := Verdict{
		Disposition: store.DispositionSafe,
		Scores:      map[string]float64{},
	}
	byKind := make(map[scoring.Kind]scoring.Result, len(results))
	for _, res := range results {
		byKind[res.Kind] = res
	}

	for _, k := range expected {
		res, ok := byKind[k]
		if !ok || !res.OK() {
			v.Skipped = append(v.Skipped, string(k))
			continue
		}
		v.Scores[string(k)] = res.RiskScore
		v.Flags = append(v.Flags, res.Flags...)
		if res.RiskScore > v.MaxRisk {
			v.MaxRisk = res.RiskScore
		}
		if res.RiskScore >= a.Thresholds.forKind(k) {
			v.Reasons = append(v.Reasons, string(k))
		}
	}
	if len(v.Reasons) > 0 {
		v.Disposition = store.DispositionFlagged
		v.Priority = a.Thresholds.PriorityFor(v.MaxRisk)
	}

	if len(v.Scores) == 0 && len(expected) > 0 && a.ReviewWhenUnscored {
		v.Disposition = store.DispositionFlagged
		v.Priority = store.PriorityLow
		v.Reasons = append(v.Reasons, ReasonNoVerdict)
	}

	matches, err := a.Rules.Evaluate(rules.Input{
		Scores: v.Scores,
		Trust:  trustOverall,
		Kind:   string(kind),
		Flags:  v.Flags,
	})
	for _, m := range matches {
		v.MatchedRules = append(v.MatchedRules, m.Name)
		v.Reasons = append(v.Reasons, "rule:"+m.Name)
	}
	if len(matches) > 0 {
		if !v.Flagged() {
			v.Disposition = store.DispositionFlagged
			v.Priority = a.Thresholds.PriorityFor(v.MaxRisk)
		}
		v.Priority = max(v.Priority, rules.MaxPriority(matches))
	}

	slices.Sort(v.Flags)
	v.Flags = slices.Compact(v.Flags)
	return v, err
}
