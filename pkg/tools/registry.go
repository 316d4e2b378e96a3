package tools

import "fmt"

// Registry is the static map of tool name to its Definition, populated once
// at startup by pkg/handlers.
type Registry struct {
	defs map[string]Definition
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds def to the registry. Panics on duplicate registration — a
// programmer error caught at startup, never at request time.
func (r *Registry) Register(def Definition) {
	if _, exists := r.defs[def.Name]; exists {
		panic(fmt.Sprintf("tools: duplicate registration for %q", def.Name))
	}
	r.defs[def.Name] = def
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// Names returns every registered tool name, for permission validation and
// diagnostics.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	return names
}
