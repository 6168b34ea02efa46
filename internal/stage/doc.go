// Package stage defines the handler contract between the pipeline engine and
// the accessibility transformations, the per-kind stage plans, and the
// startup-time handler registry.
package stage
