// Package intent provides the static catalog of classifiable intents.
// The catalog is supplied by the calling service at construction time; the
// cascade only consults it for names, examples, and entity slots.
package intent

import (
	"sort"
	"sync"
)

// Unknown is the synthetic fallback intent returned when no layer produces
// an acceptable classification.
const Unknown = "unknown_query"

// Definition is a single catalog entry. Definitions are immutable at runtime;
// learned examples grow separately in the learning store.
type Definition struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Examples    []string `json:"examples"`
	EntitySlots []string `json:"entity_slots,omitempty"`
}

// Registry holds the closed set of intents the cascade may return.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]Definition
	names []string
}

// NewRegistry creates a registry pre-populated with the given definitions.
// The Unknown intent is always present so every cascade result names a
// catalog member.
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{defs: make(map[string]Definition)}
	r.register(Definition{
		Name:        Unknown,
		Description: "query could not be classified; ask the user to clarify",
	})
	for _, d := range defs {
		r.register(d)
	}
	return r
}

// Register adds or replaces a definition.
func (r *Registry) Register(d Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(d)
}

func (r *Registry) register(d Definition) {
	if d.Name == "" {
		return
	}
	if _, exists := r.defs[d.Name]; !exists {
		r.names = append(r.names, d.Name)
		sort.Strings(r.names)
	}
	r.defs[d.Name] = d
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// Valid reports whether name is a catalog member.
func (r *Registry) Valid(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[name]
	return ok
}

// Names returns all intent names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Definitions returns a snapshot of all catalog entries in name order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.defs[name])
	}
	return out
}

// ExampleSets returns the static example sentences per intent, skipping
// intents without examples. The semantic matcher compares query embeddings
// against these sets.
func (r *Registry) ExampleSets() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sets := make(map[string][]string, len(r.defs))
	for name, d := range r.defs {
		if len(d.Examples) == 0 {
			continue
		}
		examples := make([]string, len(d.Examples))
		copy(examples, d.Examples)
		sets[name] = examples
	}
	return sets
}
