package scoring

import (
	"sentinel/internal/config"
	"sentinel/internal/objectstore"
)

// NewDefaultRegistry builds the content, cultural, and fraud providers from
// configuration. objects backs the blocked-hash check and may be nil.
func NewDefaultRegistry(cfg *config.Config, objects objectstore.Store) Registry {
	scoring := cfg.Scoring
	return NewRegistry(
		NewContent(NewClassifier(scoring.Content), objects, scoring.Content.BlockedHashes),
		NewCultural(scoring.Cultural),
		NewFraud(scoring.Fraud),
	)
}
