package tools

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the global name→Tool table. It is mutated only between
// completions; during a completion the engine treats it as read-only and
// layers per-call extras on top (see Set).
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. It fails if the name is already taken so that a
// misconfigured setup cannot silently shadow an existing tool.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}
	r.tools[name] = tool
	return nil
}

// Unregister removes a tool by name. Removing an absent name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name])
	}
	return out
}

// Names returns all registered tool names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Set is a per-call tool scope: extras layered over the registry. Extras
// shadow registry entries of the same name and are never visible outside
// the completion that carries the Set.
type Set struct {
	registry *Registry
	extras   []Tool
}

// NewSet builds a scope over registry with the given extras.
func NewSet(registry *Registry, extras ...Tool) *Set {
	return &Set{registry: registry, extras: extras}
}

// WithExtras returns a new Set with additional extras layered on. Later
// extras shadow earlier ones.
func (s *Set) WithExtras(extras ...Tool) *Set {
	combined := make([]Tool, 0, len(s.extras)+len(extras))
	combined = append(combined, s.extras...)
	combined = append(combined, extras...)
	return &Set{registry: s.registry, extras: combined}
}

// Lookup resolves a name, extras first.
func (s *Set) Lookup(name string) (Tool, bool) {
	for i := len(s.extras) - 1; i >= 0; i-- {
		if s.extras[i].Name() == name {
			return s.extras[i], true
		}
	}
	if s.registry == nil {
		return nil, false
	}
	return s.registry.Get(name)
}

// Descriptors returns the provider-facing descriptors of every visible
// tool, registry entries first, extras after. Duplicate-named extras
// advertise the later entry, the same one Lookup resolves.
func (s *Set) Descriptors() []Descriptor {
	seen := make(map[string]bool)
	var out []Descriptor
	if s.registry != nil {
		for _, t := range s.registry.List() {
			if shadowed(s.extras, t.Name()) {
				continue
			}
			out = append(out, Describe(t))
			seen[t.Name()] = true
		}
	}
	for i, t := range s.extras {
		if seen[t.Name()] || shadowed(s.extras[i+1:], t.Name()) {
			continue
		}
		out = append(out, Describe(t))
		seen[t.Name()] = true
	}
	return out
}

// Names returns every visible tool name sorted, for not_found errors.
func (s *Set) Names() []string {
	seen := make(map[string]bool)
	var names []string
	if s.registry != nil {
		for _, name := range s.registry.Names() {
			names = append(names, name)
			seen[name] = true
		}
	}
	for _, t := range s.extras {
		if !seen[t.Name()] {
			names = append(names, t.Name())
			seen[t.Name()] = true
		}
	}
	sort.Strings(names)
	return names
}

func shadowed(extras []Tool, name string) bool {
	for _, t := range extras {
		if t.Name() == name {
			return true
		}
	}
	return false
}
