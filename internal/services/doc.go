// Package services defines the error taxonomy shared by stage handlers, the
// pipeline engine, and the API surface, plus context annotation helpers for
// structured logging.
//
// Handlers wrap failures with one of the sentinel markers (ErrValidation,
// ErrTransient, ErrPermanent) so the engine can drive the item state machine
// without inspecting handler internals. ErrNotFound and ErrConflict cover
// store lookups and lost compare-and-swap races.
package services
