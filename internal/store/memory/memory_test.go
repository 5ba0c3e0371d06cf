package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/fieldsync/internal/store/memory"
	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/models"
)

func TestInsertReturnsInputOrderAndFindsCaseInsensitively(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	out, err := s.InsertEntities(ctx, []models.Entity{
		{Kind: "organization", Key: "Acme", Fields: map[string]any{"name": "Acme"}},
		{Kind: "organization", Key: "Globex", Fields: map[string]any{"name": "Globex"}},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "Acme", out[0].Key)
	assert.Equal(t, "Globex", out[1].Key)
	assert.NotEmpty(t, out[0].ID)

	found, err := s.FindEntity(ctx, "organization", "name", "  ACME ")
	require.NoError(t, err)
	assert.Equal(t, out[0].ID, found.ID)

	_, err = s.FindEntity(ctx, "person", "name", "acme")
	assert.True(t, errors.IsNotFound(err))
}

func TestInsertRejectsDuplicateKeysAtomically(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	_, err := s.InsertEntities(ctx, []models.Entity{{Kind: "organization", Key: "Acme"}})
	require.NoError(t, err)

	_, err = s.InsertEntities(ctx, []models.Entity{
		{Kind: "organization", Key: "Initech"},
		{Kind: "organization", Key: "acme"},
	})
	assert.ErrorIs(t, err, errors.ErrAlreadyExists)
	assert.Len(t, s.Entities("organization"), 1)
}

func TestUpdateEntityMergesFields(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	out, err := s.InsertEntities(ctx, []models.Entity{{Kind: "organization", Key: "Acme", Fields: map[string]any{"name": "Acme", "tier": "gold"}}})
	require.NoError(t, err)

	brands := &models.SourceSnapshot{Kind: "spreadsheet", Tab: "Brands", Row: map[string]string{"Brand": "Acme"}}
	require.NoError(t, s.UpdateEntity(ctx, out[0].ID, map[string]any{"status": "active"}, brands))
	contacts := &models.SourceSnapshot{Kind: "spreadsheet", Tab: "Contacts", Row: map[string]string{"Brand": "Acme", "Owner": "Kim"}}
	require.NoError(t, s.UpdateEntity(ctx, out[0].ID, nil, contacts))

	e, err := s.Entity(ctx, out[0].ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Acme", "tier": "gold", "status": "active"}, e.Fields)
	assert.Equal(t, "Acme", e.SourceData.Snapshot("spreadsheet", "Brands")["Brand"])
	assert.Equal(t, "Kim", e.SourceData.Snapshot("spreadsheet", "Contacts")["Owner"])

	assert.True(t, errors.IsNotFound(s.UpdateEntity(ctx, "missing", nil, nil)))
}

func TestUpsertWeeklyStatusOncePerWeek(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	week := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	ws := models.WeeklyStatus{EntityID: "e1", WeekStart: week, Value: "OK"}

	outcome, err := s.UpsertWeeklyStatus(ctx, ws)
	require.NoError(t, err)
	assert.Equal(t, models.UpsertCreated, outcome)

	outcome, err = s.UpsertWeeklyStatus(ctx, ws)
	require.NoError(t, err)
	assert.Equal(t, models.UpsertUnchanged, outcome)

	ws.Value = "Late"
	outcome, err = s.UpsertWeeklyStatus(ctx, ws)
	require.NoError(t, err)
	assert.Equal(t, models.UpsertUpdated, outcome)

	rows, err := s.WeeklyStatuses(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Late", rows[0].Value)
}

func TestSyncRunFinishesOnce(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	run := &models.SyncRun{TabMappingID: "tm", Status: models.RunRunning}
	require.NoError(t, s.CreateSyncRun(ctx, run))
	assert.NotEmpty(t, run.ID)

	run.Status = models.RunCompleted
	require.NoError(t, s.FinishSyncRun(ctx, run))
	assert.Error(t, s.FinishSyncRun(ctx, run))

	got, err := s.SyncRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, got.Status)
}

func TestRecordLineageUpsertsPerField(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	require.NoError(t, s.RecordLineage(ctx, []models.FieldLineageEntry{{ID: "l1", EntityID: "e1", Field: "status", NewValue: "active"}}))
	require.NoError(t, s.RecordLineage(ctx, []models.FieldLineageEntry{{ID: "l2", EntityID: "e1", Field: "status", PreviousValue: "active", NewValue: "paused"}}))

	entries, err := s.FieldLineage(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "l1", entries[0].ID)
	assert.Equal(t, "paused", entries[0].NewValue)

	noLineage := memory.New(memory.WithoutLineage())
	assert.False(t, noLineage.Capabilities().Lineage)
	assert.Error(t, noLineage.RecordLineage(ctx, entries))
}

func TestConfigRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	ds := &models.DataSource{Name: "Brand sheet", Kind: "spreadsheet"}
	require.NoError(t, s.SaveDataSource(ctx, ds))
	assert.Equal(t, models.DataSourceActive, ds.Status)

	active := &models.TabMapping{DataSourceID: ds.ID, TabName: "Brands", EntityKind: "organization"}
	hidden := &models.TabMapping{DataSourceID: ds.ID, TabName: "Archive", EntityKind: "organization", Status: models.TabHidden}
	require.NoError(t, s.SaveTabMapping(ctx, active))
	require.NoError(t, s.SaveTabMapping(ctx, hidden))
	assert.True(t, errors.IsNotFound(s.SaveTabMapping(ctx, &models.TabMapping{DataSourceID: "nope"})))

	tabs, err := s.TabMappings(ctx, ds.ID, models.TabActive)
	require.NoError(t, err)
	require.Len(t, tabs, 1)
	assert.Equal(t, "Brands", tabs[0].TabName)

	all, err := s.TabMappings(ctx, ds.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.SaveColumnMapping(ctx, &models.ColumnMapping{TabMappingID: active.ID, SourceColumn: "Status", Ordinal: 1}))
	require.NoError(t, s.SaveColumnMapping(ctx, &models.ColumnMapping{TabMappingID: active.ID, SourceColumn: "Brand", Ordinal: 0, IsKey: true}))
	cms, err := s.ColumnMappings(ctx, active.ID)
	require.NoError(t, err)
	require.Len(t, cms, 2)
	assert.Equal(t, "Brand", cms[0].SourceColumn)

	require.NoError(t, s.SavePattern(ctx, &models.ColumnPattern{ID: "low", Priority: 1, Active: true}))
	require.NoError(t, s.SavePattern(ctx, &models.ColumnPattern{ID: "high", Priority: 9, Active: true}))
	require.NoError(t, s.SavePattern(ctx, &models.ColumnPattern{ID: "off", Priority: 99}))
	patterns, err := s.ActivePatterns(ctx)
	require.NoError(t, err)
	require.Len(t, patterns, 2)
	assert.Equal(t, "high", patterns[0].ID)

	at := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkSynced(ctx, active.ID, ds.ID, at))
	got, err := s.DataSource(ctx, ds.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSyncedAt)
	assert.Equal(t, at, *got.LastSyncedAt)
}

func TestEntityLinksReplacePerRole(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	out, err := s.InsertEntities(ctx, []models.Entity{{Kind: "organization", Key: "Acme"}})
	require.NoError(t, err)

	require.NoError(t, s.ReplaceEntityLink(ctx, models.EntityLink{EntityID: out[0].ID, Role: "sales_rep", TargetID: "p1"}))
	require.NoError(t, s.ReplaceEntityLink(ctx, models.EntityLink{EntityID: out[0].ID, Role: "sales_rep", TargetID: "p2"}))
	require.NoError(t, s.ReplaceEntityLink(ctx, models.EntityLink{EntityID: out[0].ID, Role: "specialist", TargetID: "p1"}))

	links, err := s.EntityLinks(ctx, out[0].ID)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "p2", links[0].TargetID)
}
