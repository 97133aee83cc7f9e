// Package config loads, normalizes, and validates resonate configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// RESONATE_REDIS_URL. The Config type centralizes every knob the daemon and CLI
// need: storage locations, worker pool sizing, lease and backoff timing, event
// sinks, delivery signing, and the optional variant registry override.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
