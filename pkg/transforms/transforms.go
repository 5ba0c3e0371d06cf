// Package transforms normalizes raw source strings into typed field values.
//
// A Transform is total: for any input it returns a value and true, or nil and
// false, and never panics. The caller turns a false into a row warning and
// leaves the field unwritten. Transforms are built from a type name and an
// optional JSON configuration through a Registry; unknown types and invalid
// configurations fail when the transform is built, before any row is read.
package transforms

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/agentstation/fieldsync/pkg/errors"
)

// Transform converts one raw cell.
type Transform interface {
	Apply(raw string) (any, bool)
}

// Func adapts a plain function to Transform.
type Func func(raw string) (any, bool)

// Apply implements Transform.
func (f Func) Apply(raw string) (any, bool) { return f(raw) }

// Factory builds a Transform from its configuration blob.
type Factory func(cfg json.RawMessage) (Transform, error)

// Built-in transform type names.
const (
	Identity  = "identity"
	Trim      = "trim"
	Lowercase = "lowercase"
	Uppercase = "uppercase"
	Titlecase = "titlecase"
	Date      = "date"
	Currency  = "currency"
	Boolean   = "boolean"
	Number    = "number"
	JSON      = "json"
	List      = "list"
	Map       = "map"
)

// Registry maps transform type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	now       func() time.Time
	validate  *validator.Validate
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the clock used for dates written without a year.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry returns a registry holding the built-in transforms.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		now:       time.Now,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.registerBuiltins()
	return r
}

// Register adds a factory. Names are unique.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return errors.NewValidationError("transform", name, "name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("transform %s: %w", name, errors.ErrAlreadyRegistered)
	}
	r.factories[name] = f
	return nil
}

// Has reports whether a transform type is known.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build creates a transform. An empty name means identity. Unknown names and
// bad configurations are configuration errors.
func (r *Registry) Build(name string, cfg json.RawMessage) (Transform, error) {
	if name == "" {
		name = Identity
	}
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NewConfigError("transforms", fmt.Sprintf("unknown transform type %q", name), nil)
	}
	t, err := f(cfg)
	if err != nil {
		return nil, errors.NewConfigError("transforms", fmt.Sprintf("invalid %s transform config: %v", name, err), err)
	}
	return t, nil
}

// decode unmarshals an optional config blob into out and validates it.
func (r *Registry) decode(cfg json.RawMessage, out any) error {
	if len(cfg) > 0 && string(cfg) != "null" {
		if err := json.Unmarshal(cfg, out); err != nil {
			return errors.WrapParse("json", "transform_config", err)
		}
	}
	if err := r.validate.Struct(out); err != nil {
		return errors.WrapValidation("transform_config", err)
	}
	return nil
}

func (r *Registry) registerBuiltins() {
	stateless := map[string]Func{
		Identity:  identity,
		Trim:      trim,
		Lowercase: lowercase,
		Uppercase: uppercase,
		Titlecase: titlecase,
		JSON:      parseJSON,
	}
	for name, fn := range stateless {
		r.factories[name] = func(json.RawMessage) (Transform, error) { return fn, nil }
	}
	r.factories[Date] = r.dateFactory
	r.factories[Currency] = r.currencyFactory
	r.factories[Boolean] = r.booleanFactory
	r.factories[Number] = r.numberFactory
	r.factories[List] = r.listFactory
	r.factories[Map] = r.mapFactory
}
