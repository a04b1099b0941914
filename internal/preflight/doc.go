// Package preflight provides readiness checks for the directories, store,
// and remote services Sentinel depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and refuses to start when a
//     required check fails.
//   - The CLI "sentinel preflight" and "sentinel status" commands display
//     every result.
//
// Checks for optional collaborators are gated by their config; an
// unconfigured content model is not checked.
package preflight
