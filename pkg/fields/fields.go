// Package fields is the entity field registry: per entity kind, the fields a
// mapping may target, their types, which one is the natural key, and how
// reference fields are materialized. The registry is data. The built-in kinds
// live in entities.yaml and deployments may extend them with their own file.
package fields

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/fieldsync/pkg/errors"
)

//go:embed entities.yaml
var builtin []byte

// Type is a field's value type.
type Type string

// Field types.
const (
	TypeText      Type = "text"
	TypeNumber    Type = "number"
	TypeDate      Type = "date"
	TypeBoolean   Type = "boolean"
	TypeReference Type = "reference"
	TypeArray     Type = "array"
)

// Storage is how a reference is materialized.
type Storage string

// Reference storages.
const (
	// Direct stores the target entity id in the field itself.
	Direct Storage = "direct"
	// Junction stores a role-tagged link row.
	Junction Storage = "junction"
)

// Reference describes a reference-typed field.
type Reference struct {
	Entity     string  `yaml:"entity" json:"entity"`
	MatchField string  `yaml:"match_field" json:"match_field"`
	Storage    Storage `yaml:"storage" json:"storage"`
	Role       string  `yaml:"role,omitempty" json:"role,omitempty"`
}

// Field is one field definition.
type Field struct {
	Name      string     `yaml:"name" json:"name"`
	Label     string     `yaml:"label" json:"label"`
	Type      Type       `yaml:"type" json:"type"`
	Group     string     `yaml:"group,omitempty" json:"group,omitempty"`
	Key       bool       `yaml:"key,omitempty" json:"key,omitempty"`
	Reference *Reference `yaml:"reference,omitempty" json:"reference,omitempty"`
}

// Kind is one entity kind and its fields.
type Kind struct {
	Name   string  `yaml:"name" json:"name"`
	Label  string  `yaml:"label" json:"label"`
	Fields []Field `yaml:"fields" json:"fields"`
}

type document struct {
	Kinds []Kind `yaml:"kinds"`
}

// Registry holds the entity kinds. It is read-only once built.
type Registry struct {
	kinds map[string]*Kind
}

// Default returns a registry with the built-in kinds.
func Default() (*Registry, error) {
	return Load(builtin)
}

// Load builds and validates a registry from YAML data. Later documents
// replace earlier kinds of the same name.
func Load(docs ...[]byte) (*Registry, error) {
	r := &Registry{kinds: make(map[string]*Kind)}
	for _, data := range docs {
		var doc document
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, errors.WrapParse("yaml", "fields", err)
		}
		for i := range doc.Kinds {
			k := doc.Kinds[i]
			r.kinds[k.Name] = &k
		}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadFile builds a registry from the built-in kinds extended by a YAML file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError("fields", "read "+path, err)
	}
	return Load(builtin, data)
}

// Validate checks the registry's structural rules: one key per kind, unique
// field names, known types, and resolvable references.
func (r *Registry) Validate() error {
	for _, name := range r.Kinds() {
		k := r.kinds[name]
		if name == "" {
			return errors.NewValidationError("kind", name, "kind name is required")
		}
		keys := 0
		seen := make(map[string]bool, len(k.Fields))
		for _, f := range k.Fields {
			if f.Name == "" {
				return errors.NewValidationError(name+".fields", nil, "field name is required")
			}
			if seen[f.Name] {
				return errors.NewValidationError(name+"."+f.Name, nil, "duplicate field")
			}
			seen[f.Name] = true
			if f.Key {
				keys++
			}
			if err := r.validateField(name, f); err != nil {
				return err
			}
		}
		if keys != 1 {
			return errors.NewValidationError(name, keys, fmt.Sprintf("kind must have exactly one key field, found %d", keys))
		}
	}
	return nil
}

func (r *Registry) validateField(kind string, f Field) error {
	path := kind + "." + f.Name
	switch f.Type {
	case TypeText, TypeNumber, TypeDate, TypeBoolean, TypeArray:
		if f.Reference != nil {
			return errors.NewValidationError(path, f.Type, "only reference fields may declare a reference")
		}
		return nil
	case TypeReference:
	default:
		return errors.NewValidationError(path, f.Type, "unknown field type")
	}

	ref := f.Reference
	if ref == nil {
		return errors.NewValidationError(path, nil, "reference field needs a reference")
	}
	if f.Key {
		return errors.NewValidationError(path, nil, "a key field cannot be a reference")
	}
	target, ok := r.kinds[ref.Entity]
	if !ok {
		return errors.NewValidationError(path, ref.Entity, "unknown reference target kind")
	}
	if !target.has(ref.MatchField) {
		return errors.NewValidationError(path, ref.MatchField, "unknown match field on "+ref.Entity)
	}
	switch ref.Storage {
	case Direct:
	case Junction:
		if ref.Role == "" {
			return errors.NewValidationError(path, nil, "junction reference needs a role")
		}
	default:
		return errors.NewValidationError(path, ref.Storage, "storage must be direct or junction")
	}
	return nil
}

func (k *Kind) has(field string) bool {
	for _, f := range k.Fields {
		if f.Name == field {
			return true
		}
	}
	return false
}

// Kinds returns the kind names, sorted.
func (r *Registry) Kinds() []string {
	names := make([]string, 0, len(r.kinds))
	for n := range r.kinds {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Kind returns a kind definition.
func (r *Registry) Kind(name string) (*Kind, error) {
	k, ok := r.kinds[name]
	if !ok {
		return nil, errors.NewNotFoundError("entity kind", name)
	}
	return k, nil
}

// Fields returns the fields of a kind.
func (r *Registry) Fields(kind string) ([]Field, error) {
	k, err := r.Kind(kind)
	if err != nil {
		return nil, err
	}
	return k.Fields, nil
}

// Field returns one field of a kind.
func (r *Registry) Field(kind, name string) (*Field, error) {
	k, err := r.Kind(kind)
	if err != nil {
		return nil, err
	}
	for i := range k.Fields {
		if k.Fields[i].Name == name {
			return &k.Fields[i], nil
		}
	}
	return nil, errors.NewNotFoundError("field", kind+"."+name)
}

// KeyField returns the natural key field of a kind.
func (r *Registry) KeyField(kind string) (*Field, error) {
	k, err := r.Kind(kind)
	if err != nil {
		return nil, err
	}
	for i := range k.Fields {
		if k.Fields[i].Key {
			return &k.Fields[i], nil
		}
	}
	// unreachable for a validated registry
	return nil, errors.NewNotFoundError("key field", kind)
}
