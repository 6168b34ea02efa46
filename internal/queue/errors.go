package queue

import "errors"

// ErrConflict is returned by compare-and-swap transitions when the stored row
// no longer matches the caller's snapshot. The caller must re-read the item
// and decide whether to retry; exactly one of two racing writers observes it.
var ErrConflict = errors.New("queue: conflict")

// ErrNotFound is returned for identities that were never created.
var ErrNotFound = errors.New("queue: not found")
