// Package batch coordinates bulk ingests: it fans a manifest out into
// per-item pipeline jobs and maintains the batch's aggregate counters as
// children reach terminal states. Counters are always recomputed from the
// child rows under a revision compare-and-swap, never incremented blindly.
package batch
