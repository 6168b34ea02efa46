// Package config loads, validates, and normalizes ramp configuration.
//
// Configuration is read from a TOML file (~/.config/ramp/config.toml by
// default, or ./ramp.toml for development checkouts) layered over built-in
// defaults. Paths are tilde-expanded and made absolute during normalization
// so downstream packages never deal with relative locations.
package config
