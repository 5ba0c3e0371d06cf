package lineage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/fieldsync/pkg/lineage"
	"github.com/agentstation/fieldsync/pkg/models"
)

type recordingWriter struct {
	batches [][]models.FieldLineageEntry
	err     error
}

func (w *recordingWriter) RecordLineage(_ context.Context, entries []models.FieldLineageEntry) error {
	if w.err != nil {
		return w.err
	}
	w.batches = append(w.batches, entries)
	return nil
}

var at = time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

func TestSourceRef(t *testing.T) {
	assert.Equal(t, "spreadsheet:ds-1/Brands#Status", lineage.SourceRef("spreadsheet", "ds-1", "Brands", "Status"))
	assert.Equal(t, "warehouse:ds-2/orgs_v", lineage.SourceRef("warehouse", "ds-2", "orgs_v", ""))
}

func TestTrackChangeCreateAndUpdate(t *testing.T) {
	tr := lineage.NewTracker("run-1", func() time.Time { return at })

	tr.TrackChange(&models.EntityChange{
		Type:     models.ChangeCreate,
		EntityID: "e1",
		Fields:   map[string]any{"status": "active", "name": "Acme"},
	}, map[string]string{"status": "ref-status"})

	tr.TrackChange(&models.EntityChange{
		Type:     models.ChangeUpdate,
		EntityID: "e2",
		Fields:   map[string]any{"status": "paused"},
		Existing: &models.Entity{ID: "e2", Fields: map[string]any{"status": "active"}},
	}, map[string]string{"status": "ref-status"})

	// changes without an id are never tracked
	tr.TrackChange(&models.EntityChange{Fields: map[string]any{"x": 1}}, nil)

	require.Equal(t, 3, tr.Len())

	created, ok := tr.FindByField("e1", "status")
	require.True(t, ok)
	assert.Nil(t, created.PreviousValue)
	assert.Equal(t, "active", created.NewValue)
	assert.Equal(t, "ref-status", created.SourceRef)
	assert.Equal(t, "run-1", created.SyncRunID)
	assert.Equal(t, at, created.RecordedAt)
	assert.NotEmpty(t, created.ID)

	updated, ok := tr.FindByField("e2", "status")
	require.True(t, ok)
	assert.Equal(t, "active", updated.PreviousValue)
	assert.Equal(t, "paused", updated.NewValue)

	_, ok = tr.FindByField("e2", "name")
	assert.False(t, ok)
}

func TestTrackSamePairKeepsFirstPrevious(t *testing.T) {
	tr := lineage.NewTracker("run-1", nil)
	tr.Track("e1", "status", "a", "old", "mid")
	tr.Track("e1", "status", "b", "mid", "new")

	e, ok := tr.FindByField("e1", "status")
	require.True(t, ok)
	assert.Equal(t, "old", e.PreviousValue)
	assert.Equal(t, "new", e.NewValue)
	assert.Equal(t, "b", e.SourceRef)
	assert.Equal(t, 1, tr.Len())
}

func TestFlushBatches(t *testing.T) {
	tr := lineage.NewTracker("run-1", nil)
	for _, f := range []string{"a", "b", "c", "d", "e"} {
		tr.Track("e1", f, "ref", nil, f)
	}

	w := &recordingWriter{}
	require.NoError(t, tr.Flush(context.Background(), w, 2))
	require.Len(t, w.batches, 3)
	assert.Len(t, w.batches[2], 1)
	assert.Equal(t, "a", w.batches[0][0].Field)

	w = &recordingWriter{err: errors.New("no such table")}
	assert.Error(t, tr.Flush(context.Background(), w, 0))
}
