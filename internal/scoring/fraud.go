package scoring

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/store"
)

// Fraud signal weights.
const (
	fraudMismatchRisk   = 0.30
	fraudVelocityRisk   = 0.25
	fraudAmountRisk     = 0.25
	fraudNewAccountRisk = 0.35
	fraudLowTrustRisk   = 0.15
	fraudTrustedFactor  = 0.8
)

// HighConfidenceFraudAt is the score above which fraud triggers an account flag.
const HighConfidenceFraudAt = 0.8

// Fraud flags.
const (
	FlagCountryMismatch     = "billing_shipping_mismatch"
	FlagVelocity            = "high_velocity"
	FlagAmountAnomaly       = "amount_anomaly"
	FlagNewAccountHighValue = "new_account_high_value"
	FlagLowTrust            = "low_trust"
)

// Fraud scores payment submissions from the inline payload, the submitter's
// payment history, and their trust snapshot.
type Fraud struct {
	cfg config.FraudScoring
}

// NewFraud builds the scorer from configured thresholds.
func NewFraud(cfg config.FraudScoring) *Fraud {
	return &Fraud{cfg: cfg}
}

func (f *Fraud) Kind() Kind { return KindFraud }

func (f *Fraud) Score(ctx context.Context, sub *store.Submission, pc Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	payment := sub.Payment
	if payment == nil {
		return Result{}, errors.New("payment payload missing")
	}
	now := pc.Now
	if now.IsZero() {
		now = time.Now()
	}

	var (
		risk     float64
		flags    []string
		recs     []string
		metadata = map[string]string{
			"amount":          strconv.FormatFloat(payment.Amount, 'f', 2, 64),
			"recent_count":    strconv.Itoa(pc.History.RecentCount),
			"history_count":   strconv.Itoa(pc.History.Count),
			"history_average": strconv.FormatFloat(pc.History.AverageAmount, 'f', 2, 64),
		}
	)
	add := func(weight float64, flag, rec string) {
		risk += weight
		flags = append(flags, flag)
		recs = append(recs, rec)
	}

	billing := strings.ToUpper(strings.TrimSpace(payment.BillingCountry))
	shipping := strings.ToUpper(strings.TrimSpace(payment.ShippingCountry))
	if billing != "" && shipping != "" && billing != shipping {
		add(fraudMismatchRisk, FlagCountryMismatch, "Verify the shipping address with the buyer.")
	}
	if f.cfg.VelocityThreshold > 0 && pc.History.RecentCount >= f.cfg.VelocityThreshold {
		add(fraudVelocityRisk, FlagVelocity, "Unusually many payments in the last 24 hours.")
	}
	highValue := f.cfg.HighValueAmount > 0 && payment.Amount >= f.cfg.HighValueAmount
	switch {
	case pc.History.Count > 0 && f.cfg.AmountMultiplier > 0 &&
		payment.Amount > f.cfg.AmountMultiplier*pc.History.AverageAmount:
		add(fraudAmountRisk, FlagAmountAnomaly, "Amount is far above this buyer's usual spend.")
	case pc.History.Count == 0 && highValue:
		add(fraudAmountRisk, FlagAmountAnomaly, "High-value first purchase.")
	}
	if created := accountCreatedAt(payment, pc.Trust); created != nil && f.cfg.NewAccountDays > 0 {
		age := now.Sub(*created)
		metadata["account_age_hours"] = strconv.FormatInt(int64(age/time.Hour), 10)
		if age < time.Duration(f.cfg.NewAccountDays)*24*time.Hour && highValue {
			add(fraudNewAccountRisk, FlagNewAccountHighValue, "New account placing a high-value order; hold for review.")
		}
	}
	if pc.Trust != nil {
		overall := pc.Trust.Scores.Overall
		metadata["trust_overall"] = strconv.FormatFloat(overall, 'f', 2, 64)
		switch {
		case overall < f.cfg.LowTrustScore:
			add(fraudLowTrustRisk, FlagLowTrust, "Buyer has a low trust score.")
		case f.cfg.TrustedScore > 0 && overall >= f.cfg.TrustedScore:
			risk *= fraudTrustedFactor
			metadata["trusted"] = "true"
		}
	}

	score := round4(clamp01(risk))
	if score > HighConfidenceFraudAt {
		metadata["confidence"] = "high"
	}
	return Result{
		RiskScore:       score,
		Flags:           flags,
		Recommendations: recs,
		Metadata:        metadata,
	}, nil
}

func accountCreatedAt(payment *store.PaymentPayload, trust *store.TrustScore) *time.Time {
	if payment.AccountCreatedAt != nil && !payment.AccountCreatedAt.IsZero() {
		return payment.AccountCreatedAt
	}
	if trust != nil && !trust.CreatedAt.IsZero() {
		created := trust.CreatedAt
		return &created
	}
	return nil
}
