package engine

import (
	"sort"
	"sync"

	"github.com/moazbuilds/codemachine/pkg/errors"
)

// Registry manages registered engines by id. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	engines   map[string]Engine
	defaultID string
}

// NewRegistry creates an empty engine registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]Engine)}
}

// Register adds an engine under its metadata id. The first registered engine
// becomes the default until SetDefault overrides it. Registering the same id
// twice overwrites the previous engine.
func (r *Registry) Register(e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := e.Metadata().ID
	r.engines[id] = e
	if r.defaultID == "" {
		r.defaultID = id
	}
}

// SetDefault selects the fallback engine for steps without an engine id.
func (r *Registry) SetDefault(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.engines[id]; !ok {
		return &errors.NotFoundError{Resource: "engine", ID: id}
	}
	r.defaultID = id
	return nil
}

// Get returns the engine registered under id.
func (r *Registry) Get(id string) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.engines[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "engine", ID: id}
	}
	return e, nil
}

// Default returns the fallback engine.
func (r *Registry) Default() (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.defaultID == "" {
		return nil, &errors.ValidationError{
			Field:      "engine",
			Message:    "no engines registered",
			Suggestion: "register at least one engine before running a workflow",
		}
	}
	return r.engines[r.defaultID], nil
}

// All returns every registered engine, sorted by id.
func (r *Registry) All() []Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	all := make([]Engine, 0, len(ids))
	for _, id := range ids {
		all = append(all, r.engines[id])
	}
	return all
}

// Resolve returns the engine for id, falling back to the default when id is
// empty or unknown. The bool reports whether a fallback happened — an unknown
// engine id in a step is a recoverable error the caller reports via
// message:log.
func (r *Registry) Resolve(id string) (Engine, bool, error) {
	if id == "" {
		e, err := r.Default()
		return e, false, err
	}
	if e, err := r.Get(id); err == nil {
		return e, false, nil
	}
	e, err := r.Default()
	if err != nil {
		return nil, false, &errors.ValidationError{
			Field:      "engine",
			Message:    "unknown engine id " + id + " and no default engine",
			Suggestion: "register the engine or configure a default",
		}
	}
	return e, true, nil
}
