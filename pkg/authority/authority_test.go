package authority_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentstation/fieldsync/pkg/authority"
	"github.com/agentstation/fieldsync/pkg/models"
)

var byField = map[string]models.Authority{
	"status": models.SourceOfTruth,
	"tier":   models.Reference,
	"region": "",
}

func computed() map[string]any {
	return map[string]any{"status": "active", "tier": "gold", "region": "emea"}
}

func TestCreateAllowsEverything(t *testing.T) {
	allowed, dropped := authority.Policy{}.Filter(models.ChangeCreate, computed(), byField)
	assert.Equal(t, computed(), allowed)
	assert.Empty(t, dropped)
}

func TestUpdateDropsReferenceFields(t *testing.T) {
	allowed, dropped := authority.Policy{}.Filter(models.ChangeUpdate, computed(), byField)
	assert.Equal(t, map[string]any{"status": "active", "region": "emea"}, allowed)
	assert.Equal(t, []string{"tier"}, dropped)
}

func TestForceAllowsReferenceOnUpdate(t *testing.T) {
	allowed, dropped := authority.Policy{Force: true}.Filter(models.ChangeUpdate, computed(), byField)
	assert.Equal(t, computed(), allowed)
	assert.Empty(t, dropped)
}

func TestOnlyReferenceLeavesNothing(t *testing.T) {
	allowed, dropped := authority.Policy{}.Filter(models.ChangeUpdate,
		map[string]any{"tier": "gold"}, byField)
	assert.Empty(t, allowed)
	assert.Equal(t, []string{"tier"}, dropped)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, models.SourceOfTruth, authority.Normalize(""))
	assert.Equal(t, models.Reference, authority.Normalize(models.Reference))
}
