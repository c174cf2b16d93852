// Package tasks holds the generation handlers, one per job kind, and the
// registry the worker pool uses to dispatch jobs.
package tasks

import (
	"context"
	"sync"

	"github.com/mohamad-damaj/shoptimizer/internal/domain"
)

// Handler executes the generation for one job kind. On success it returns
// the completed result record; on any failure it returns an error which the
// worker converts into a terminal failure record. Handlers never write to
// the store or the event channel themselves.
type Handler interface {
	Handle(ctx context.Context, job *domain.Job) (*domain.JobResult, error)
	Kind() domain.Kind
}

// Registry maps job kinds to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.Kind]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.Kind]Handler)}
}

// Register adds a handler. Safe to call concurrently.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Kind()] = h
}

// Get returns the handler for the given kind.
// Returns UnknownKindError if not registered.
func (r *Registry) Get(kind domain.Kind) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	if !ok {
		return nil, &domain.UnknownKindError{Kind: kind}
	}
	return h, nil
}
