// Package services defines shared utilities consumed by the pipeline components
// and their external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp submission IDs, stage names, worker names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so failures classify the
//     same way everywhere (validation, conflict, infrastructure, delivery).
//   - The typed ValidationError returned synchronously by intake.
//
// Provider and delivery failures are recorded as data by their components;
// only validation, conflict, not-found, and infrastructure errors reach callers.
package services
