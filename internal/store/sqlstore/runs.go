package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/models"
)

const (
	weeklyTable  = "weekly_statuses"
	runsTable    = "sync_runs"
	lineageTable = "field_lineage"
)

// UpsertWeeklyStatus implements store.RunStore. The current value is read
// first so the outcome can be reported; the write itself is an upsert on
// (entity_id, week_start).
func (s *Store) UpsertWeeklyStatus(ctx context.Context, ws models.WeeklyStatus) (models.UpsertOutcome, error) {
	week := onDay(ws.WeekStart)
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", errors.WrapResource("upsert", weeklyTable, ws.EntityID, err)
	}
	defer func() { _ = tx.Rollback() }()

	sb := s.flavor.NewSelectBuilder()
	sb.Select("value").From(weeklyTable).Where(
		sb.Equal("entity_id", ws.EntityID),
		sb.Equal("week_start", week),
	)
	query, args := sb.Build()

	outcome := models.UpsertUpdated
	var current string
	err = tx.GetContext(ctx, &current, query, args...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		outcome = models.UpsertCreated
	case err != nil:
		return "", errors.WrapResource("upsert", weeklyTable, ws.EntityID, err)
	case current == ws.Value:
		return models.UpsertUnchanged, nil
	}

	if ws.ID == "" {
		ws.ID = uuid.NewString()
	}
	row := weeklyRow{
		ID:           ws.ID,
		EntityID:     ws.EntityID,
		WeekStart:    week,
		ISOYear:      ws.ISOYear,
		ISOWeek:      ws.ISOWeek,
		Value:        ws.Value,
		SourceColumn: ws.SourceColumn,
		TabMappingID: ws.TabMappingID,
		SyncRunID:    ws.SyncRunID,
		UpdatedAt:    at(s.now()),
	}
	ib := s.weekly.InsertInto(weeklyTable, &row)
	conflict(ib, []string{"entity_id", "week_start"}, "value", "source_column", "tab_mapping_id", "sync_run_id", "updated_at")
	query, args = ib.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return "", errors.WrapResource("upsert", weeklyTable, ws.EntityID, err)
	}
	if err := tx.Commit(); err != nil {
		return "", errors.WrapResource("upsert", weeklyTable, ws.EntityID, err)
	}
	return outcome, nil
}

// WeeklyStatuses implements store.RunStore.
func (s *Store) WeeklyStatuses(ctx context.Context, entityID string) ([]models.WeeklyStatus, error) {
	sb := s.weekly.SelectFrom(weeklyTable)
	sb.Where(sb.Equal("entity_id", entityID))
	sb.OrderBy("week_start")
	query, args := sb.Build()

	var rows []weeklyRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.WrapResource("list", weeklyTable, entityID, err)
	}
	out := make([]models.WeeklyStatus, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// CreateSyncRun implements store.RunStore.
func (s *Store) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	row, err := newRunRow(run)
	if err != nil {
		return err
	}
	query, args := s.runs.InsertInto(runsTable, &row).Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return errors.WrapResource("create", "sync_run", run.ID, errors.ErrAlreadyExists)
		}
		return errors.WrapResource("create", "sync_run", run.ID, err)
	}
	return nil
}

// FinishSyncRun implements store.RunStore. Only a running run can be
// finished.
func (s *Store) FinishSyncRun(ctx context.Context, run *models.SyncRun) error {
	row, err := newRunRow(run)
	if err != nil {
		return err
	}
	ub := s.flavor.NewUpdateBuilder()
	ub.Update(runsTable).Set(
		ub.Assign("data_source_id", row.DataSourceID),
		ub.Assign("status", row.Status),
		ub.Assign("stats", row.Stats),
		ub.Assign("error", row.Error),
		ub.Assign("finished_at", row.FinishedAt),
	).Where(
		ub.Equal("id", run.ID),
		ub.Equal("status", string(models.RunRunning)),
	)
	query, args := ub.Build()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.WrapResource("finish", "sync_run", run.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		cur, err := s.SyncRun(ctx, run.ID)
		if err != nil {
			return err
		}
		return errors.WrapResource("finish", "sync_run", run.ID, fmt.Errorf("already %s", cur.Status))
	}
	return nil
}

// SyncRun implements store.RunStore.
func (s *Store) SyncRun(ctx context.Context, id string) (*models.SyncRun, error) {
	sb := s.runs.SelectFrom(runsTable)
	sb.Where(sb.Equal("id", id))
	query, args := sb.Build()

	var row runRow
	err := s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("sync run", id)
	}
	if err != nil {
		return nil, errors.WrapResource("get", "sync_run", id, err)
	}
	return row.model()
}

// SyncRuns lists the most recent runs of a tab mapping, newest first.
func (s *Store) SyncRuns(ctx context.Context, tabMappingID string, limit int) ([]models.SyncRun, error) {
	sb := s.runs.SelectFrom(runsTable)
	sb.Where(sb.Equal("tab_mapping_id", tabMappingID))
	sb.OrderBy("started_at DESC", "id")
	if limit > 0 {
		sb.Limit(limit)
	}
	query, args := sb.Build()

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.WrapResource("list", "sync_run", tabMappingID, err)
	}
	out := make([]models.SyncRun, 0, len(rows))
	for _, r := range rows {
		run, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, nil
}

// RecordLineage implements store.RunStore.
func (s *Store) RecordLineage(ctx context.Context, entries []models.FieldLineageEntry) error {
	if !s.cap.Lineage {
		return errors.WrapResource("record", lineageTable, "", errors.ErrNotImplemented)
	}
	if len(entries) == 0 {
		return nil
	}
	rows := make([]any, 0, len(entries))
	for _, e := range entries {
		prev, err := encode(e.PreviousValue)
		if err != nil {
			return errors.WrapResource("record", lineageTable, e.EntityID, err)
		}
		next, err := encode(e.NewValue)
		if err != nil {
			return errors.WrapResource("record", lineageTable, e.EntityID, err)
		}
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		recorded := e.RecordedAt
		if recorded.IsZero() {
			recorded = s.now()
		}
		rows = append(rows, &lineageRow{
			ID:            id,
			EntityID:      e.EntityID,
			Field:         e.Field,
			SourceRef:     e.SourceRef,
			PreviousValue: prev,
			NewValue:      next,
			SyncRunID:     e.SyncRunID,
			RecordedAt:    at(recorded),
		})
	}
	ib := s.lineage.InsertInto(lineageTable, rows...)
	conflict(ib, []string{"entity_id", "field"}, "source_ref", "previous_value", "new_value", "sync_run_id", "recorded_at")
	query, args := ib.Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.WrapResource("record", lineageTable, "", err)
	}
	return nil
}

// FieldLineage implements store.RunStore.
func (s *Store) FieldLineage(ctx context.Context, entityID string) ([]models.FieldLineageEntry, error) {
	sb := s.lineage.SelectFrom(lineageTable)
	sb.Where(sb.Equal("entity_id", entityID))
	sb.OrderBy("field")
	query, args := sb.Build()

	var rows []lineageRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.WrapResource("list", lineageTable, entityID, err)
	}
	out := make([]models.FieldLineageEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// MarkSynced implements store.RunStore.
func (s *Store) MarkSynced(ctx context.Context, tabMappingID, dataSourceID string, when time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WrapResource("mark", tabMappingsTable, tabMappingID, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, target := range []struct{ table, id, resource string }{
		{tabMappingsTable, tabMappingID, "tab mapping"},
		{dataSourcesTable, dataSourceID, "data source"},
	} {
		ub := s.flavor.NewUpdateBuilder()
		ub.Update(target.table).Set(ub.Assign("last_synced_at", at(when))).Where(ub.Equal("id", target.id))
		query, args := ub.Build()
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return errors.WrapResource("mark", target.table, target.id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return errors.NewNotFoundError(target.resource, target.id)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapResource("mark", tabMappingsTable, tabMappingID, err)
	}
	return nil
}
