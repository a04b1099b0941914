// Package intake validates and persists inbound submissions.
//
// Uploads and payment checks become Submissions in the intake state and are
// picked up asynchronously by the analysis orchestrator; callers never wait
// on scoring. User reports skip scoring and go straight to moderation.
package intake
