// Package validate wraps JSON-schema compilation and validation behind
// per-action registries. Every module keeps two registries, one for action
// inputs and one for action outputs, keyed by action name.
package validate

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Registry maps action names to compiled JSON schemas.
// Registration happens at module load time; validation is safe for
// concurrent use afterwards.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry returns an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*gojsonschema.Schema)}
}

// Register compiles the schema document and stores it under name.
// Registering the same name twice replaces the previous schema.
func (r *Registry) Register(name string, schema json.RawMessage) error {
	if name == "" {
		return fmt.Errorf("cannot register schema with empty name")
	}
	if len(schema) == 0 {
		// An absent schema accepts anything.
		schema = json.RawMessage(`{}`)
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return fmt.Errorf("failed to compile schema %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[name] = compiled
	return nil
}

// Has reports whether a schema is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[name]
	return ok
}

// Names returns the registered schema names, in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	return names
}

// Validate checks a JSON document against the schema registered under name.
// A nil document is validated as JSON null.
func (r *Registry) Validate(name string, doc json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no schema registered for %q", name)
	}

	if len(doc) == 0 {
		doc = json.RawMessage(`null`)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation for %q failed: %w", name, err)
	}
	if !result.Valid() {
		descriptions := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			descriptions = append(descriptions, resultErr.String())
		}
		return fmt.Errorf("document does not match schema %q: %s",
			name, strings.Join(descriptions, "; "))
	}
	return nil
}
