// Package config loads, normalizes, and validates Sentinel configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and applies SENTINEL_* environment overrides
// for secrets such as the store DSN and API token. The Config type centralizes
// every knob the daemon and CLI need, from scoring thresholds to notification
// backends, so they are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical backend names, and clear validation errors.
package config
