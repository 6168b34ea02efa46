// Package pipeline advances content items through their declared stage
// sequences.
//
// The Engine claims an ingested item via compare-and-swap, then runs each
// stage handler under a per-attempt timeout, retrying transient failures
// with exponential backoff up to the configured attempt budget. Handler
// failures drive the item state machine (failed for validation errors,
// review for permanent failures and exhausted retries); infrastructure
// faults are returned to the caller and never recorded as item state.
// Stages execute strictly in plan order: an item's stage index only moves
// forward until a terminal state is reached.
package pipeline
