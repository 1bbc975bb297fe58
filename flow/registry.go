package flow

import (
	"context"
	"fmt"
	"sync"

	"github.com/rickicode/bulkpanel/job"
)

// Definition binds a workflow kind to its stage list and terminal-state
// policy. The engine stays kind-agnostic: each kind supplies only this.
type Definition struct {
	// Kind is the workflow tag carried on the job.
	Kind job.Kind

	// StopStatus is the terminal status recorded when a stop request is
	// observed. The create workflow uses a dedicated cancelled status;
	// delete and wpadmin complete with partial results. Callers key off
	// this divergence, so it is per-kind policy, not unified.
	StopStatus job.Status

	// Build constructs the per-item workflow from the submission's
	// collaborator credentials. Build runs once per job; a Build error
	// is a setup error that fails the whole job before any item runs.
	Build func(ctx context.Context, creds job.Credentials) (ItemWorkflow, error)
}

// Registry maps workflow kinds to their definitions.
// Safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	defs map[job.Kind]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[job.Kind]Definition)}
}

// Register adds a definition. Registering the same kind twice is a
// programming error and returns an error.
func (r *Registry) Register(def Definition) error {
	if def.Kind == "" {
		return fmt.Errorf("flow: definition has empty kind")
	}
	if def.Build == nil {
		return fmt.Errorf("flow: definition %q has nil Build", def.Kind)
	}
	if !def.StopStatus.Terminal() {
		return fmt.Errorf("flow: definition %q stop status %q is not terminal", def.Kind, def.StopStatus)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Kind]; exists {
		return fmt.Errorf("flow: kind %q already registered", def.Kind)
	}
	r.defs[def.Kind] = def
	return nil
}

// Get returns the definition for a kind.
func (r *Registry) Get(kind job.Kind) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[kind]
	return def, ok
}

// Kinds returns all registered kinds.
func (r *Registry) Kinds() []job.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]job.Kind, 0, len(r.defs))
	for k := range r.defs {
		kinds = append(kinds, k)
	}
	return kinds
}
