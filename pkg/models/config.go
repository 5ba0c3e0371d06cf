package models

import (
	"encoding/json"
	"time"
)

// DataSourceStatus is the lifecycle status of a DataSource.
type DataSourceStatus string

// DataSource statuses. Sources are archived, never deleted.
const (
	DataSourceActive   DataSourceStatus = "active"
	DataSourcePaused   DataSourceStatus = "paused"
	DataSourceError    DataSourceStatus = "error"
	DataSourceArchived DataSourceStatus = "archived"
)

// DataSource is one registered external system instance.
type DataSource struct {
	ID           string           `json:"id" yaml:"id" db:"id"`
	Name         string           `json:"name" yaml:"name" db:"name"`
	Kind         string           `json:"kind" yaml:"kind" db:"kind"`
	Config       json.RawMessage  `json:"config,omitempty" yaml:"config,omitempty" db:"config"`
	Status       DataSourceStatus `json:"status" yaml:"status" db:"status"`
	LastSyncedAt *time.Time       `json:"last_synced_at,omitempty" yaml:"last_synced_at,omitempty" db:"last_synced_at"`
	CreatedAt    time.Time        `json:"created_at" yaml:"created_at" db:"created_at"`
}

// TabStatus is the lifecycle status of a TabMapping.
type TabStatus string

// TabMapping statuses. Only active tabs take part in a data source sync.
const (
	TabActive    TabStatus = "active"
	TabReference TabStatus = "reference"
	TabHidden    TabStatus = "hidden"
	TabFlagged   TabStatus = "flagged"
)

// TabMapping binds one tab of a DataSource to a target entity kind.
type TabMapping struct {
	ID           string     `json:"id" yaml:"id" db:"id"`
	DataSourceID string     `json:"data_source_id" yaml:"data_source_id" db:"data_source_id"`
	TabName      string     `json:"tab_name" yaml:"tab_name" db:"tab_name"`
	HeaderRow    int        `json:"header_row" yaml:"header_row" db:"header_row"` // 0-based
	EntityKind   string     `json:"entity_kind" yaml:"entity_kind" db:"entity_kind"`
	Status       TabStatus  `json:"status" yaml:"status" db:"status"`
	Notes        string     `json:"notes,omitempty" yaml:"notes,omitempty" db:"notes"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty" yaml:"last_synced_at,omitempty" db:"last_synced_at"`
}

// ColumnCategory classifies what a source column feeds.
type ColumnCategory string

// Column categories.
const (
	CategoryKey      ColumnCategory = "key"
	CategoryField    ColumnCategory = "field"
	CategoryWeekly   ColumnCategory = "weekly"
	CategoryComputed ColumnCategory = "computed"
	CategorySkip     ColumnCategory = "skip"
)

// Authority decides whether a column may overwrite an existing value.
type Authority string

// Authorities.
const (
	// SourceOfTruth columns overwrite existing values on update.
	SourceOfTruth Authority = "source_of_truth"
	// Reference columns only inform: they are written on create, or when forced.
	Reference Authority = "reference"
)

// ColumnMapping wires one source column to a target field.
type ColumnMapping struct {
	ID              string          `json:"id" yaml:"id" db:"id"`
	TabMappingID    string          `json:"tab_mapping_id" yaml:"tab_mapping_id" db:"tab_mapping_id"`
	SourceColumn    string          `json:"source_column" yaml:"source_column" db:"source_column"`
	Ordinal         int             `json:"ordinal" yaml:"ordinal" db:"ordinal"`
	TargetField     string          `json:"target_field,omitempty" yaml:"target_field,omitempty" db:"target_field"`
	Category        ColumnCategory  `json:"category" yaml:"category" db:"category"`
	Authority       Authority       `json:"authority" yaml:"authority" db:"authority"`
	TransformType   string          `json:"transform_type,omitempty" yaml:"transform_type,omitempty" db:"transform_type"`
	TransformConfig json.RawMessage `json:"transform_config,omitempty" yaml:"transform_config,omitempty" db:"transform_config"`
	IsKey           bool            `json:"is_key" yaml:"is_key" db:"is_key"`
}

// Writes reports whether the mapping produces an ordinary field value.
func (c ColumnMapping) Writes() bool {
	if c.IsKey || c.TargetField == "" {
		return false
	}
	switch c.Category {
	case CategoryWeekly, CategoryComputed, CategorySkip, CategoryKey:
		return false
	}
	return true
}

// ColumnPattern detects a family of columns without per-column mappings.
type ColumnPattern struct {
	ID          string          `json:"id" yaml:"id" db:"id"`
	Name        string          `json:"name" yaml:"name" db:"name"`
	Category    ColumnCategory  `json:"category" yaml:"category" db:"category"`
	MatchConfig json.RawMessage `json:"match_config" yaml:"match_config" db:"match_config"`
	Priority    int             `json:"priority" yaml:"priority" db:"priority"`
	Active      bool            `json:"active" yaml:"active" db:"active"`
}
