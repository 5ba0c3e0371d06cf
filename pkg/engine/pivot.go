package engine

import (
	"context"
	"strings"

	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/lineage"
	"github.com/agentstation/fieldsync/pkg/models"
	"github.com/agentstation/fieldsync/pkg/weekly"
)

// weeklyColumns returns the columns to pivot: those claimed by the active
// weekly patterns, plus columns explicitly mapped as weekly.
func (r *run) weeklyColumns() []weekly.Column {
	cols := r.detector.Columns(r.headers, r.mapped)
	claimed := make(map[int]bool, len(cols))
	for _, c := range cols {
		claimed[c.Index] = true
	}
	for _, m := range r.weeklyMaps {
		idx := findColumn(r.headers, m.SourceColumn)
		if idx < 0 {
			r.warn(0, m.SourceColumn, "weekly column not found in source header")
			continue
		}
		if claimed[idx] {
			continue
		}
		col, ok := r.detector.Column(idx, r.headers[idx], strings.TrimSpace(r.headers[idx]))
		if !ok {
			r.warn(0, m.SourceColumn, "weekly column header is not a date")
			continue
		}
		claimed[idx] = true
		cols = append(cols, col)
	}
	return cols
}

// pivot upserts one weekly status per (entity, week) for every non-empty
// weekly cell. Rows whose entity does not exist are skipped.
func (r *run) pivot(ctx context.Context) error {
	cols := r.weeklyColumns()
	if len(cols) == 0 {
		r.log.Debug().Msg("No weekly columns")
		return nil
	}
	if r.opts.DryRun {
		r.log.Info().Int("columns", len(cols)).Msg("Weekly columns detected, not written in dry run")
		return nil
	}

	for i, row := range r.rows {
		if err := ctx.Err(); err != nil {
			return canceled(err)
		}
		rowNum := i + 1
		key := strings.TrimSpace(cell(row, r.keyIdx))
		if key == "" {
			continue
		}
		id, err := r.entityID(ctx, key)
		if err != nil {
			r.warn(rowNum, r.keyMapping.SourceColumn, "weekly values not saved: %v", err)
			continue
		}
		if id == "" {
			continue
		}

		for _, col := range cols {
			value := strings.TrimSpace(cell(row, col.Index))
			if value == "" {
				continue
			}
			outcome, err := r.e.store.UpsertWeeklyStatus(ctx, models.WeeklyStatus{
				EntityID:     id,
				WeekStart:    col.WeekStart,
				ISOYear:      col.ISOYear,
				ISOWeek:      col.ISOWeek,
				Value:        value,
				SourceColumn: col.Header,
				TabMappingID: r.tab.ID,
				SyncRunID:    r.rec.ID,
			})
			if err != nil {
				if ctx.Err() != nil {
					return canceled(ctx.Err())
				}
				r.warn(rowNum, col.Header, "weekly status not saved: %v", err)
				continue
			}
			switch outcome {
			case models.UpsertCreated:
				r.weeklyCreated++
			case models.UpsertUpdated:
				r.weeklyUpdated++
			}
		}
	}
	r.log.Info().Int("columns", len(cols)).Int("created", r.weeklyCreated).Int("updated", r.weeklyUpdated).Msg("Weekly columns pivoted")
	return nil
}

// entityID returns the id of the run's entity kind with the given key, or
// "" when there is none.
func (r *run) entityID(ctx context.Context, key string) (string, error) {
	if id, ok := r.entityIDs[fold(key)]; ok {
		return id, nil
	}
	e, err := r.e.store.FindEntity(ctx, r.tab.EntityKind, r.keyField.Name, key)
	switch {
	case err == nil:
		r.remember(key, e.ID)
		return e.ID, nil
	case errors.IsNotFound(err):
		r.remember(key, "")
		return "", nil
	default:
		return "", err
	}
}

// recordLineage writes one lineage entry per written (entity, field). A
// store without lineage support is noted once and the step is skipped.
func (r *run) recordLineage(ctx context.Context) {
	if !r.e.store.Capabilities().Lineage {
		r.log.Warn().Msg("Store does not support field lineage, skipping")
		return
	}

	refs := make(map[string]string, len(r.columns)+1)
	refs[r.keyField.Name] = lineage.SourceRef(r.source.Kind, r.source.ID, r.tab.TabName, r.keyMapping.SourceColumn)
	for _, c := range r.columns {
		refs[c.field.Name] = lineage.SourceRef(r.source.Kind, r.source.ID, r.tab.TabName, c.mapping.SourceColumn)
	}

	tracker := lineage.NewTracker(r.rec.ID, r.e.now)
	for i := range r.changes {
		c := &r.changes[i]
		if c.Type == models.ChangeCreate || c.Type == models.ChangeUpdate {
			tracker.TrackChange(c, refs)
		}
	}
	if tracker.Len() == 0 {
		return
	}
	if err := tracker.Flush(ctx, r.e.store, r.e.batchSize); err != nil {
		r.warn(0, "", "field lineage not recorded: %v", err)
		r.log.Warn().Err(err).Msg("Failed to record field lineage")
		return
	}
	r.log.Debug().Int("entries", tracker.Len()).Msg("Field lineage recorded")
}
