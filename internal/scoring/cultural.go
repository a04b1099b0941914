package scoring

import (
	"context"
	"strings"

	"sentinel/internal/config"
	"sentinel/internal/store"
)

// Cultural signal weights. Signals add up and the total is capped at 1.
const (
	culturalNoConnectionRisk   = 0.4
	culturalSacredRisk         = 0.6
	culturalMassProductionRisk = 0.3
)

// Cultural flags.
const (
	FlagNoCulturalConnection   = "no_cultural_connection"
	FlagSacredContent          = "sacred_or_ceremonial_content"
	FlagMassProducedUnverified = "mass_produced_without_authenticity"
)

// Cultural scores cultural-sensitivity risk from declared tags, the seller's
// background, and listing text.
type Cultural struct {
	sacred         []string
	massProduction []string
	authenticity   []string
}

// NewCultural builds the scorer from configured lexicons, falling back to the
// defaults for any empty list.
func NewCultural(cfg config.CulturalScoring) *Cultural {
	pick := func(values, fallback []string) []string {
		if len(values) == 0 {
			values = fallback
		}
		return foldAll(values)
	}
	return &Cultural{
		sacred:         pick(cfg.SacredTerms, config.DefaultSacredTerms()),
		massProduction: pick(cfg.MassProductionTerms, config.DefaultMassProductionTerms()),
		authenticity:   pick(cfg.AuthenticityTerms, config.DefaultAuthenticityTerms()),
	}
}

func (c *Cultural) Kind() Kind { return KindCultural }

func (c *Cultural) Score(ctx context.Context, sub *store.Submission, pc Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	tags := pc.CulturalTags
	if len(tags) == 0 {
		tags = sub.CulturalTags
	}
	background := pc.CulturalBackground
	if len(background) == 0 {
		background = sub.CulturalBackground
	}
	foldedTags := foldAll(tags)
	foldedBackground := foldAll(background)
	text := fold(sub.Title + "\n" + sub.Description)

	var (
		risk     float64
		flags    []string
		recs     []string
		metadata = map[string]string{}
	)
	if len(foldedTags) > 0 && !overlaps(foldedTags, foldedBackground) {
		risk += culturalNoConnectionRisk
		flags = append(flags, FlagNoCulturalConnection)
		recs = append(recs, "Confirm the seller's connection to the declared cultural tradition or add provenance details.")
		metadata["declared_tags"] = strings.Join(foldedTags, ",")
	}
	if sacred := matchTerms(text, c.sacred); len(sacred) > 0 {
		risk += culturalSacredRisk
		flags = append(flags, FlagSacredContent)
		recs = append(recs, "Review whether this sacred or ceremonial item may be sold outside its community.")
		metadata["sacred_terms"] = strings.Join(sacred, ",")
	}
	if mass := matchTerms(text, c.massProduction); len(mass) > 0 && len(matchTerms(text, c.authenticity)) == 0 {
		risk += culturalMassProductionRisk
		flags = append(flags, FlagMassProducedUnverified)
		recs = append(recs, "Describe who made the item and how; mass-produced goods may not use cultural tags.")
		metadata["mass_production_terms"] = strings.Join(mass, ",")
	}

	return Result{
		RiskScore:       round4(clamp01(risk)),
		Flags:           flags,
		Recommendations: recs,
		Metadata:        metadata,
	}, nil
}
