// Package moderation is the human review queue.
//
// Items are enrolled automatically by the analysis orchestrator or directly
// from user reports. Reviewers pull work in priority order, claim it, and
// resolve it. A resolution feeds back into the trust scores of the users the
// item references and notifies whoever started the review.
package moderation
