package stage

import (
	"context"

	"ramp/internal/queue"
)

// Request carries everything a stage handler may consult: the item being
// processed, the results of every prior stage, and the compliance standards
// declared on the owning batch (empty for single-item submissions).
type Request struct {
	Item      *queue.Item
	Prior     map[string]queue.StageResult
	Standards []string
}

// Result is a successful stage outcome. Exactly one of the payload fields is
// typically set: a URI for generated artifacts, text for inline output such
// as transcripts or analysis findings.
type Result struct {
	PayloadURI  string
	PayloadText string
}

// Handler describes the contract the pipeline engine needs from each stage.
// The context carries the per-attempt timeout; implementations must return
// promptly once it expires. Failures are tagged with one of the services
// error markers (validation, transient, permanent) so the engine can drive
// the item state machine.
type Handler interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, req Request) (Result, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}
