package trust

import (
	"math"
	"sort"

	"sentinel/internal/store"
)

// Verification types accepted by ApproveVerification, with the weight each
// contributes to the verification sub-score.
var catalog = map[string]float64{
	"email":                1.0,
	"phone":                1.5,
	"government_id":        3.5,
	"address":              1.5,
	"payment_method":       1.0,
	"cultural_affiliation": 1.5,
}

// Sub-score weights in the overall score.
const (
	weightVerification = 0.25
	weightTransaction  = 0.35
	weightCommunity    = 0.20
	weightCultural     = 0.20
)

const maxScore = 10.0

// VerificationTypes lists the catalog in stable order.
func VerificationTypes() []string {
	types := make([]string, 0, len(catalog))
	for name := range catalog {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// KnownVerification reports whether name is in the catalog.
func KnownVerification(name string) bool {
	_, ok := catalog[name]
	return ok
}

// Compute derives every sub-score from raw counters and approved
// verifications. It is a pure function of its inputs.
func Compute(counters store.TrustCounters, verifications []string) store.TrustScores {
	verification := verificationScore(verifications)
	transaction := transactionScore(counters)
	community := clamp(5 + 0.25*float64(counters.HelpfulMarks) - 1.0*float64(counters.ReportsReceived))
	cultural := clamp(math.Min(maxScore, 5+0.5*float64(counters.VerifiedCulturalItems)) *
		math.Pow(0.75, float64(counters.UpheldCulturalFlags)))

	overall := clamp(weightVerification*verification +
		weightTransaction*transaction +
		weightCommunity*community +
		weightCultural*cultural)

	return store.TrustScores{
		Verification: round4(verification),
		Transaction:  round4(transaction),
		Community:    round4(community),
		Cultural:     round4(cultural),
		Overall:      round4(overall),
	}
}

func verificationScore(approved []string) float64 {
	var total, earned float64
	for _, weight := range catalog {
		total += weight
	}
	seen := make(map[string]struct{}, len(approved))
	for _, name := range approved {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		earned += catalog[name]
	}
	if total == 0 {
		return 0
	}
	return clamp(maxScore * earned / total)
}

func transactionScore(c store.TrustCounters) float64 {
	if c.TotalTransactions <= 0 {
		return 5
	}
	ratio := float64(c.SuccessfulTransactions) / float64(c.TotalTransactions)
	confidence := math.Min(1, math.Log10(float64(c.TotalTransactions)+1)/2)
	return clamp(5 + (ratio*10-5)*confidence - 0.5*float64(c.Disputes))
}

func clamp(value float64) float64 {
	if math.IsNaN(value) {
		return 0
	}
	return math.Max(0, math.Min(maxScore, value))
}

func round4(value float64) float64 {
	return math.Round(value*10000) / 10000
}
