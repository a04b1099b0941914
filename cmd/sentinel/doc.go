// Command sentinel is the operator CLI for the Sentinel trust and safety
// pipeline.
//
// Most commands open the shared store directly, so they work whether or not
// the daemon is running; `status` asks a running daemon over its HTTP API.
// Every listing command accepts --json for machine-readable output.
package main
