package stage

import (
	"fmt"
	"sort"
	"sync"

	"ramp/internal/services"
)

// Registry maps stage identifiers to handlers. It is populated once during
// startup, sealed before the first job is accepted, and read-only afterwards,
// so arbitrary workers resolve handlers without locking concerns.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	sealed   bool
}

// NewRegistry returns an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler for a stage identifier. Registration after Seal or
// for a duplicate stage is a programming error and is rejected.
func (r *Registry) Register(stageID string, handler Handler) error {
	if stageID == "" {
		return fmt.Errorf("register stage: empty stage id")
	}
	if handler == nil {
		return fmt.Errorf("register stage %s: nil handler", stageID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("register stage %s: registry is sealed", stageID)
	}
	if _, exists := r.handlers[stageID]; exists {
		return fmt.Errorf("register stage %s: already registered", stageID)
	}
	r.handlers[stageID] = handler
	return nil
}

// Seal marks the registry read-only. Call it after startup registration and
// before accepting work.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Resolve returns the handler for a stage identifier.
func (r *Registry) Resolve(stageID string) (Handler, error) {
	r.mu.RLock()
	handler, ok := r.handlers[stageID]
	r.mu.RUnlock()
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, stageID, "resolve", "no handler registered", nil)
	}
	return handler, nil
}

// Stages returns the registered stage identifiers in sorted order.
func (r *Registry) Stages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
