package engine

import (
	"fmt"
	"time"

	"github.com/agentstation/fieldsync/pkg/models"
)

// Result is what a SyncTab call reports back to its caller.
type Result struct {
	Success      bool                  `json:"success" yaml:"success"`
	SyncRunID    string                `json:"sync_run_id,omitempty" yaml:"sync_run_id,omitempty"`
	TabMappingID string                `json:"tab_mapping_id" yaml:"tab_mapping_id"`
	TabName      string                `json:"tab_name,omitempty" yaml:"tab_name,omitempty"`
	DataSourceID string                `json:"data_source_id,omitempty" yaml:"data_source_id,omitempty"`
	Status       models.RunStatus      `json:"status" yaml:"status"`
	DryRun       bool                  `json:"dry_run" yaml:"dry_run"`
	Stats        models.SyncStats      `json:"stats" yaml:"stats"`
	Changes      []models.EntityChange `json:"changes,omitempty" yaml:"changes,omitempty"`
	Error        string                `json:"error,omitempty" yaml:"error,omitempty"`
	Duration     time.Duration         `json:"duration" yaml:"duration"`
}

// HasChanges reports whether the run created or updated anything. For dry
// runs it reports whether it would have.
func (r *Result) HasChanges() bool {
	if r.DryRun {
		for _, c := range r.Changes {
			if c.Type != models.ChangeSkip {
				return true
			}
		}
		return false
	}
	return r.Stats.RowsCreated > 0 || r.Stats.RowsUpdated > 0 ||
		r.Stats.WeeklyCreated > 0 || r.Stats.WeeklyUpdated > 0
}

// Summary returns a one-line human-readable summary.
func (r *Result) Summary() string {
	if !r.Success {
		return fmt.Sprintf("%s: %s", r.TabMappingID, r.Error)
	}
	s := fmt.Sprintf("%d processed, %d created, %d updated, %d skipped, weekly %d created/%d updated",
		r.Stats.RowsProcessed, r.Stats.RowsCreated, r.Stats.RowsUpdated, r.Stats.RowsSkipped,
		r.Stats.WeeklyCreated, r.Stats.WeeklyUpdated)
	if n := len(r.Stats.Errors); n > 0 {
		s += fmt.Sprintf(", %d issues", n)
	}
	if r.DryRun {
		s += " (dry run)"
	}
	return s
}

// Counts tallies the change list by type.
func Counts(changes []models.EntityChange) (created, updated, skipped int) {
	for _, c := range changes {
		switch c.Type {
		case models.ChangeCreate:
			created++
		case models.ChangeUpdate:
			updated++
		case models.ChangeSkip:
			skipped++
		}
	}
	return created, updated, skipped
}
