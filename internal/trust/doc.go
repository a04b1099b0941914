// Package trust derives per-user reputation from transaction, community, and
// moderation history.
//
// Event methods (RecordTransaction, ApproveVerification, RecordHelpfulMark,
// RecordVerifiedCulturalItem, RecordModerationOutcome) update raw counters
// atomically and then call Recompute, which evaluates Compute and writes the
// result under a version check. FlagAccount and ClearAccountFlag only touch
// the security flag.
package trust
