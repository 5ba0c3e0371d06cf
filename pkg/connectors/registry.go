package connectors

import (
	"fmt"
	"sort"
	"sync"

	"github.com/agentstation/fieldsync/pkg/errors"
)

// Registry maps source kinds to connector instances. It is populated once at
// process start, frozen, and then only read.
type Registry struct {
	mu         sync.RWMutex
	connectors map[Kind]Connector
	frozen     bool
}

// NewRegistry creates an empty registry, registering any connectors given.
func NewRegistry(cs ...Connector) (*Registry, error) {
	r := &Registry{connectors: make(map[Kind]Connector)}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a connector. It fails if the kind is already registered or
// the registry is frozen.
func (r *Registry) Register(c Connector) error {
	if c == nil {
		return errors.NewValidationError("connector", nil, "cannot register nil connector")
	}
	kind := c.Kind()
	if kind == "" {
		return errors.NewValidationError("kind", kind, "connector kind is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register %s: registry is frozen", kind)
	}
	if _, exists := r.connectors[kind]; exists {
		return fmt.Errorf("connector %s: %w", kind, errors.ErrAlreadyRegistered)
	}
	r.connectors[kind] = c
	return nil
}

// Freeze rejects any further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Get returns the connector for a kind.
func (r *Registry) Get(kind Kind) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.connectors[kind]
	if !ok {
		return nil, errors.NewNotFoundError("connector", string(kind))
	}
	return c, nil
}

// Has reports whether a kind is registered.
func (r *Registry) Has(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.connectors[kind]
	return ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.connectors))
	for k := range r.connectors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// List returns the registered connectors ordered by kind.
func (r *Registry) List() []Connector {
	kinds := r.Kinds()
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Connector, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, r.connectors[k])
	}
	return out
}
