// Package llm provides a chat-completion client for the content safety model.
//
// The content scorer uses it when scoring.content.classifier is "model". The
// client sends listing text with a structured prompt requesting JSON output and
// returns a ContentVerdict with a confidence in [0,1], violated categories, and
// a one-line reason.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.CompleteJSON: send system/user prompts, receive a JSON payload.
// Client.ClassifyContent: policy classification for listing text.
// Client.HealthCheck: verify API key and model availability (used by preflight).
//
// # Retry Behaviour
//
// Requests are retried through go-retry on HTTP 408/429/5xx, network timeouts,
// and empty completions, with capped exponential backoff (base 1s, max 10s, 4
// attempts by default). A Retry-After header overrides the next delay.
// Context cancellation aborts retries immediately.
package llm
