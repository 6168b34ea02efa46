// Package workflow hosts the daemon's background loops: queue polling with a
// bounded worker pool, and reclamation of items whose workers stopped
// heartbeating.
package workflow
