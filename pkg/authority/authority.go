// Package authority decides which computed fields a row may write.
//
// On create every field is written. On update only source_of_truth fields
// overwrite; reference fields inform only, unless the caller forces the sync.
package authority

import (
	"sort"

	"github.com/agentstation/fieldsync/pkg/models"
)

// Policy applies authority rules to computed field maps.
type Policy struct {
	// Force lets reference fields overwrite existing values.
	Force bool
}

// Normalize maps an unset authority to source_of_truth.
func Normalize(a models.Authority) models.Authority {
	if a == "" {
		return models.SourceOfTruth
	}
	return a
}

// Allows reports whether a field with authority a may be written.
func (p Policy) Allows(a models.Authority, change models.ChangeType) bool {
	if change == models.ChangeCreate || p.Force {
		return true
	}
	return Normalize(a) == models.SourceOfTruth
}

// Filter returns the subset of fields the policy allows, and the names of the
// fields it dropped in sorted order. byField maps a target field to the
// authority of the column that produced it.
func (p Policy) Filter(change models.ChangeType, computed map[string]any, byField map[string]models.Authority) (map[string]any, []string) {
	allowed := make(map[string]any, len(computed))
	var dropped []string
	for field, value := range computed {
		if p.Allows(byField[field], change) {
			allowed[field] = value
			continue
		}
		dropped = append(dropped, field)
	}
	sort.Strings(dropped)
	return allowed, dropped
}
