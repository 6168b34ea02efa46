package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers classifying stage handler and store failures. Stage
// handlers tag their errors with one of these so the pipeline engine can
// decide between retrying, failing the item, or flagging it for review.
var (
	// ErrValidation marks client-caused, non-retriable failures (malformed input).
	ErrValidation = errors.New("validation error")
	// ErrTransient marks failures worth retrying (network hiccups, timeouts).
	ErrTransient = errors.New("transient failure")
	// ErrPermanent marks pipeline-side failures no retry will fix.
	ErrPermanent = errors.New("permanent failure")
	// ErrNotFound marks lookups for identities that were never created.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a lost compare-and-swap race; callers re-read and decide.
	ErrConflict = errors.New("conflict")
)

// Kind is the string classification recorded in stage results and logs.
type Kind string

const (
	KindValidation Kind = "validation"
	KindTransient  Kind = "transient"
	KindPermanent  Kind = "permanent"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindUnknown    Kind = "unknown"
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error to its Kind. Context deadline expiry counts as
// transient so a slow external service is retried rather than escalated.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrPermanent):
		return KindPermanent
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	default:
		return KindUnknown
	}
}

// Retriable reports whether a handler failure should consume a retry attempt
// rather than terminate the item immediately.
func Retriable(err error) bool {
	return Classify(err) == KindTransient || Classify(err) == KindUnknown
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
