package models

import (
	"maps"
	"time"
)

// SourceData holds raw source rows verbatim, keyed by connector kind, then
// tab name, then header.
type SourceData map[string]map[string]map[string]string

// Merge returns a copy of s with the snapshot stored under (kind, tab).
// The prior snapshot for that tab is replaced; other tabs and kinds are kept.
func (s SourceData) Merge(kind, tab string, snapshot map[string]string) SourceData {
	out := s.Clone()
	if out == nil {
		out = make(SourceData, 1)
	}
	if out[kind] == nil {
		out[kind] = make(map[string]map[string]string)
	}
	out[kind][tab] = maps.Clone(snapshot)
	return out
}

// SourceSnapshot is the raw row one tab contributed to an entity.
type SourceSnapshot struct {
	Kind string
	Tab  string
	Row  map[string]string
}

// Apply merges the snapshot into s. A nil snapshot returns s unchanged.
func (s SourceData) Apply(snap *SourceSnapshot) SourceData {
	if snap == nil {
		return s
	}
	return s.Merge(snap.Kind, snap.Tab, snap.Row)
}

// Snapshot returns the raw row stored under (kind, tab), if any.
func (s SourceData) Snapshot(kind, tab string) map[string]string {
	if s == nil || s[kind] == nil {
		return nil
	}
	return s[kind][tab]
}

// Entity is one canonical record of a supported kind.
type Entity struct {
	ID         string         `json:"id" yaml:"id"`
	Kind       string         `json:"kind" yaml:"kind"`
	Key        string         `json:"key" yaml:"key"`
	Fields     map[string]any `json:"fields" yaml:"fields"`
	SourceData SourceData     `json:"source_data,omitempty" yaml:"source_data,omitempty"`
	CreatedAt  time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" yaml:"updated_at"`
}

// EntityLink is a role-tagged junction row between two entities.
type EntityLink struct {
	EntityID string `json:"entity_id" db:"entity_id"`
	Role     string `json:"role" db:"role"`
	TargetID string `json:"target_id" db:"target_id"`
}

// WeeklyStatus is one pivoted (entity, week) value.
type WeeklyStatus struct {
	ID           string    `json:"id" yaml:"id" db:"id"`
	EntityID     string    `json:"entity_id" yaml:"entity_id" db:"entity_id"`
	WeekStart    time.Time `json:"week_start" yaml:"week_start" db:"week_start"`
	ISOYear      int       `json:"iso_year" yaml:"iso_year" db:"iso_year"`
	ISOWeek      int       `json:"iso_week" yaml:"iso_week" db:"iso_week"`
	Value        string    `json:"value" yaml:"value" db:"value"`
	SourceColumn string    `json:"source_column" yaml:"source_column" db:"source_column"`
	TabMappingID string    `json:"tab_mapping_id" yaml:"tab_mapping_id" db:"tab_mapping_id"`
	SyncRunID    string    `json:"sync_run_id" yaml:"sync_run_id" db:"sync_run_id"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"updated_at" db:"updated_at"`
}

// UpsertOutcome reports what an upsert did.
type UpsertOutcome string

// Upsert outcomes.
const (
	UpsertCreated   UpsertOutcome = "created"
	UpsertUpdated   UpsertOutcome = "updated"
	UpsertUnchanged UpsertOutcome = "unchanged"
)

// Clone returns a deep copy of the source data.
func (s SourceData) Clone() SourceData {
	if s == nil {
		return nil
	}
	out := make(SourceData, len(s))
	for kind, tabs := range s {
		out[kind] = make(map[string]map[string]string, len(tabs))
		for tab, row := range tabs {
			out[kind][tab] = maps.Clone(row)
		}
	}
	return out
}

// Clone returns a copy of the entity that shares no maps with e.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Fields = maps.Clone(e.Fields)
	if c.Fields == nil {
		c.Fields = make(map[string]any)
	}
	c.SourceData = e.SourceData.Clone()
	return &c
}
