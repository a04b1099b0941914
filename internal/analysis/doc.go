// Package analysis runs submissions through the scoring providers.
//
// Workers claim the oldest submission in intake, score it with every
// applicable provider concurrently, aggregate the verdicts against the
// configured thresholds and escalation rules, and route flagged work to
// moderation. Completion is written in one transaction together with the
// immutable per-provider results. Infrastructure failures mark the
// submission failed; nothing is retried automatically, so a reaper fails
// submissions whose worker stopped sending heartbeats.
package analysis
