package models

import (
	"fmt"
	"time"
)

// ChangeType is the intent of an EntityChange.
type ChangeType string

// Change types.
const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeSkip   ChangeType = "skip"
)

// Skip reasons.
const (
	ReasonEmptyKey     = "Empty key value"
	ReasonNoAuthorized = "No authorized fields to update"
	ReasonNoChanges    = "No changes detected"
)

// EntityChange is the per-row intent computed during a run. It is never
// persisted itself.
type EntityChange struct {
	Row        int               `json:"row"`
	Kind       string            `json:"kind"`
	KeyField   string            `json:"key_field"`
	KeyValue   string            `json:"key_value"`
	Type       ChangeType        `json:"type"`
	Reason     string            `json:"reason,omitempty"`
	Fields     map[string]any    `json:"fields,omitempty"`
	Existing   *Entity           `json:"existing,omitempty"`
	SourceData map[string]string `json:"source_data"`
	EntityID   string            `json:"entity_id,omitempty"`

	// Links are junction references applied after the entity is written.
	Links []EntityLink `json:"links,omitempty"`
}

// Skip downgrades the change to a skip with the given reason.
func (c *EntityChange) Skip(reason string) {
	c.Type = ChangeSkip
	c.Reason = reason
}

// RunStatus is the lifecycle status of a SyncRun.
type RunStatus string

// Run statuses. A run leaves running exactly once.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Severity of a RowError.
type Severity string

// Severities.
const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// RowError is one itemized problem collected during a run. Row is the
// 1-based data row number; zero means the error is not tied to a row.
type RowError struct {
	Row      int      `json:"row,omitempty" yaml:"row,omitempty"`
	Column   string   `json:"column,omitempty" yaml:"column,omitempty"`
	Message  string   `json:"message" yaml:"message"`
	Severity Severity `json:"severity" yaml:"severity"`
}

func (e RowError) String() string {
	switch {
	case e.Row > 0 && e.Column != "":
		return fmt.Sprintf("row %d, column %q: %s", e.Row, e.Column, e.Message)
	case e.Row > 0:
		return fmt.Sprintf("row %d: %s", e.Row, e.Message)
	default:
		return e.Message
	}
}

// SyncStats are the aggregate counters of a run.
type SyncStats struct {
	RowsProcessed int        `json:"rows_processed" yaml:"rows_processed"`
	RowsCreated   int        `json:"rows_created" yaml:"rows_created"`
	RowsUpdated   int        `json:"rows_updated" yaml:"rows_updated"`
	RowsSkipped   int        `json:"rows_skipped" yaml:"rows_skipped"`
	WeeklyCreated int        `json:"weekly_created" yaml:"weekly_created"`
	WeeklyUpdated int        `json:"weekly_updated" yaml:"weekly_updated"`
	Errors        []RowError `json:"errors" yaml:"errors"`
}

// SyncRun is the audit record of one engine invocation.
type SyncRun struct {
	ID           string     `json:"id" yaml:"id"`
	TabMappingID string     `json:"tab_mapping_id" yaml:"tab_mapping_id"`
	DataSourceID string     `json:"data_source_id,omitempty" yaml:"data_source_id,omitempty"`
	Status       RunStatus  `json:"status" yaml:"status"`
	DryRun       bool       `json:"dry_run" yaml:"dry_run"`
	Stats        SyncStats  `json:"stats" yaml:"stats"`
	Error        string     `json:"error,omitempty" yaml:"error,omitempty"`
	TriggeredBy  string     `json:"triggered_by" yaml:"triggered_by"`
	StartedAt    time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// FieldLineageEntry records the most recent write of one entity field.
type FieldLineageEntry struct {
	ID            string    `json:"id" yaml:"id"`
	EntityID      string    `json:"entity_id" yaml:"entity_id"`
	Field         string    `json:"field" yaml:"field"`
	SourceRef     string    `json:"source_ref" yaml:"source_ref"`
	PreviousValue any       `json:"previous_value" yaml:"previous_value"`
	NewValue      any       `json:"new_value" yaml:"new_value"`
	SyncRunID     string    `json:"sync_run_id" yaml:"sync_run_id"`
	RecordedAt    time.Time `json:"recorded_at" yaml:"recorded_at"`
}
