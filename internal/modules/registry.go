package modules

import (
	"log"
	"sort"
	"strings"
)

// Registry is the set of named modules known to the agent. It is populated
// once at startup - internal modules first, then external modules
// discovered on disk - and is read-only afterwards, so concurrent lookups
// need no synchronization.
type Registry struct {
	modules map[string]Module
}

// NewRegistry returns an empty module registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register adds a module. A later registration for the same name overwrites
// the earlier one with a warning, so an external module can shadow a
// built-in.
func (r *Registry) Register(m Module) {
	if _, ok := r.modules[m.Name()]; ok {
		log.Printf("[WARN] Module '%s' is already registered; overwriting", m.Name())
	}
	r.modules[m.Name()] = m
}

// Lookup returns the module registered under name.
func (r *Registry) Lookup(name string) (Module, bool) {
	m, ok := r.modules[name]
	return m, ok
}

// Names returns the registered module names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LogLoaded logs each registered module with its action list.
func (r *Registry) LogLoaded() {
	for _, name := range r.Names() {
		m := r.modules[name]
		actions := m.Actions()
		if len(actions) == 0 {
			log.Printf("[DEBUG] Loaded '%s' module - found no action", name)
			continue
		}
		plural := ""
		if len(actions) > 1 {
			plural = "s"
		}
		log.Printf("[DEBUG] Loaded '%s' module - action%s: %s",
			name, plural, strings.Join(actions, ", "))
	}
}
