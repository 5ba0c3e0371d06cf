package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentstation/fieldsync/pkg/models"
)

func TestSourceDataMergeReplacesOnlyOneTab(t *testing.T) {
	base := models.SourceData{
		"spreadsheet": {
			"Brands":  {"Brand": "Acme", "Old": "x"},
			"Pricing": {"Brand": "Acme", "Price": "$1"},
		},
		"warehouse": {
			"brands_v": {"name": "Acme"},
		},
	}

	merged := base.Merge("spreadsheet", "Brands", map[string]string{"Brand": "Acme", "Status": "active"})

	assert.Equal(t, map[string]string{"Brand": "Acme", "Status": "active"}, merged.Snapshot("spreadsheet", "Brands"))
	assert.Equal(t, base["spreadsheet"]["Pricing"], merged.Snapshot("spreadsheet", "Pricing"))
	assert.Equal(t, base["warehouse"]["brands_v"], merged.Snapshot("warehouse", "brands_v"))

	// the receiver is not modified
	assert.Equal(t, "x", base["spreadsheet"]["Brands"]["Old"])
}

func TestSourceDataMergeOnNil(t *testing.T) {
	var sd models.SourceData
	merged := sd.Merge("tickets", "open", map[string]string{"id": "1"})
	assert.Equal(t, "1", merged.Snapshot("tickets", "open")["id"])
	assert.Nil(t, sd.Snapshot("tickets", "open"))
}

func TestSourceDataApply(t *testing.T) {
	sd := models.SourceData{"spreadsheet": {"Contacts": {"Owner": "Kim"}}}
	assert.Equal(t, sd, sd.Apply(nil))

	got := sd.Apply(&models.SourceSnapshot{Kind: "spreadsheet", Tab: "Brands", Row: map[string]string{"Brand": "Acme"}})
	assert.Equal(t, "Kim", got.Snapshot("spreadsheet", "Contacts")["Owner"])
	assert.Equal(t, "Acme", got.Snapshot("spreadsheet", "Brands")["Brand"])
}

func TestColumnMappingWrites(t *testing.T) {
	tests := []struct {
		name string
		cm   models.ColumnMapping
		want bool
	}{
		{"field", models.ColumnMapping{TargetField: "status", Category: models.CategoryField}, true},
		{"key", models.ColumnMapping{TargetField: "name", IsKey: true, Category: models.CategoryKey}, false},
		{"unmapped", models.ColumnMapping{Category: models.CategoryField}, false},
		{"weekly", models.ColumnMapping{TargetField: "status", Category: models.CategoryWeekly}, false},
		{"computed", models.ColumnMapping{TargetField: "total", Category: models.CategoryComputed}, false},
		{"skip", models.ColumnMapping{TargetField: "x", Category: models.CategorySkip}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cm.Writes())
		})
	}
}

func TestRowErrorString(t *testing.T) {
	assert.Equal(t, `row 3, column "Price": unparseable`, models.RowError{Row: 3, Column: "Price", Message: "unparseable"}.String())
	assert.Equal(t, "row 2: lookup failed", models.RowError{Row: 2, Message: "lookup failed"}.String())
	assert.Equal(t, "lineage skipped", models.RowError{Message: "lineage skipped"}.String())
}

func TestEntityChangeSkip(t *testing.T) {
	c := &models.EntityChange{Type: models.ChangeCreate}
	c.Skip("duplicate key")
	assert.Equal(t, models.ChangeSkip, c.Type)
	assert.Equal(t, "duplicate key", c.Reason)
}
