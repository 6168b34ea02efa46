// Package logging wraps log/slog with ramp conventions: typed attribute
// helpers, standardized field names, and context-derived fields for item,
// batch, stage, and correlation identifiers.
package logging
