// Package notify renders and durably delivers Sentinel notifications.
//
// Queue.Enqueue renders a per-event template and persists a pending task.
// The Dispatcher leases due tasks from the store, delivers each through the
// Channel registered for its channel kind, and records success or a retry
// decision from NextAttempt. Delivery is at-least-once: a lease that expires
// while a slow attempt is still in flight lets another dispatcher send the
// same task again.
//
// Channels:
//   - push: ntfy topic per recipient, a Redis stream, or the log
//   - email: SMTP, or the log
package notify
