// Package daemon coordinates the long-running Sentinel process.
//
// NewServices wires configuration, the shared store, object storage, scoring
// providers, and the moderation, trust, notification, and maintenance
// components into one graph used by both the daemon and the CLI. The Daemon
// wraps that graph in a single lifecycle with flock-based locking to prevent
// multiple instances, runs the analysis workers, notification dispatcher, and
// maintenance scheduler, and serves the bearer-authenticated HTTP API.
//
// Keep orchestration logic here: scoring, moderation, and delivery rules live
// in their own packages while the daemon focuses on startup, shutdown, and
// request routing.
package daemon
