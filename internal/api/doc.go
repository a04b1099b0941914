// Package api defines wire-format types and converters for the daemon HTTP
// API, plus a small client the CLI uses to reach a running daemon. It
// translates store models into transport-friendly DTOs so consumers never
// couple to internal types.
//
// # Key Types
//
// Submission/SubmissionDetail: a submission with its verdict summary,
// provider results, and any moderation items.
//
// ModerationItem: a review queue entry with priority as a lowercase word.
//
// TrustScore: sub-scores, counters, and the account security flag.
//
// DaemonStatus: analysis workers, queue counts, backlogs, and preflight.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Enums are exposed as lowercase strings.
// Timestamps use RFC3339 with milliseconds. Upload bytes travel as base64
// through the standard []byte JSON encoding.
package api
