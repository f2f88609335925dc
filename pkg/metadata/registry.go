// ABOUTME: Definition registry, the entity metadata provider
// ABOUTME: Fails fast on unknown definitions

package metadata

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDefinitionNotRegistered is returned for unknown definition names.
var ErrDefinitionNotRegistered = errors.New("metadata: definition not registered")

// Registry holds every known definition, keyed by entity name.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates a registry holding the system definitions plus defs.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]*Definition)}
	for _, def := range append(SystemDefinitions(), defs...) {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds a definition
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("definition name is required")
	}

	seen := make(map[string]bool, len(def.Fields))
	for _, f := range def.Fields {
		if f.Name == "" {
			return fmt.Errorf("definition %s: field name is required", def.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("definition %s: duplicate field %s", def.Name, f.Name)
		}
		seen[f.Name] = true

		if IsAssociation(f) && f.Association == nil {
			return fmt.Errorf("definition %s: field %s has role %s but no association", def.Name, f.Name, f.Role)
		}
		if f.Role == RoleSubresource && f.Association.Cardinality != Many {
			return fmt.Errorf("definition %s: subresource %s must be many-cardinality", def.Name, f.Name)
		}
	}
	if _, ok := def.Field("id"); !ok {
		return fmt.Errorf("definition %s: id field is required", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("definition %s already registered", def.Name)
	}
	stored := def
	stored.Fields = append([]Field(nil), def.Fields...)
	r.defs[def.Name] = &stored
	return nil
}

// Validate checks that every association targets a registered definition.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, def := range r.defs {
		for _, f := range def.Fields {
			if !IsAssociation(f) {
				continue
			}
			ref := f.Association.Referenced
			if _, ok := r.defs[ref]; !ok {
				return fmt.Errorf("definition %s: field %s references %s: %w", def.Name, f.Name, ref, ErrDefinitionNotRegistered)
			}
			switch f.Association.Cardinality {
			case Many:
				if f.Association.ForeignKey == "" {
					return fmt.Errorf("definition %s: field %s needs a foreign key", def.Name, f.Name)
				}
			case One:
				if f.Association.LocalKey == "" {
					return fmt.Errorf("definition %s: field %s needs a local key", def.Name, f.Name)
				}
			}
		}
	}
	return nil
}

// Get returns the definition registered under name.
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDefinitionNotRegistered, name)
	}
	return def, nil
}

// Fields returns the ordered fields of a definition.
func (r *Registry) Fields(name string) ([]Field, error) {
	def, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return def.Fields, nil
}

// Filter returns the fields of a definition that match pred.
func (r *Registry) Filter(name string, pred func(Field) bool) ([]Field, error) {
	def, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return def.Filter(pred), nil
}

// Names lists registered definitions in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
