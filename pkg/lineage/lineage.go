// Package lineage builds field lineage entries during a sync run and flushes
// them to the store once the run's writes are done.
package lineage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/agentstation/fieldsync/pkg/models"
)

// Writer persists lineage entries.
type Writer interface {
	RecordLineage(ctx context.Context, entries []models.FieldLineageEntry) error
}

// SourceRef returns the human-readable reference recorded on an entry,
// e.g. "spreadsheet:ds-1/Brands#Status".
func SourceRef(kind, dataSourceID, tab, column string) string {
	ref := fmt.Sprintf("%s:%s/%s", kind, dataSourceID, tab)
	if column != "" {
		ref += "#" + column
	}
	return ref
}

type key struct {
	entityID string
	field    string
}

// Tracker collects one entry per (entity, field) for a run. Tracking the same
// pair twice keeps the first previous value and the last new value.
type Tracker struct {
	runID   string
	now     func() time.Time
	entries map[key]*models.FieldLineageEntry
	order   []key
}

// NewTracker creates a tracker for a sync run.
func NewTracker(runID string, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{runID: runID, now: now, entries: make(map[key]*models.FieldLineageEntry)}
}

// Track records a field write. previous is nil for creates.
func (t *Tracker) Track(entityID, field, sourceRef string, previous, value any) {
	k := key{entityID, field}
	if e, ok := t.entries[k]; ok {
		e.NewValue = value
		e.SourceRef = sourceRef
		return
	}
	t.entries[k] = &models.FieldLineageEntry{
		ID:            uuid.NewString(),
		EntityID:      entityID,
		Field:         field,
		SourceRef:     sourceRef,
		PreviousValue: previous,
		NewValue:      value,
		SyncRunID:     t.runID,
		RecordedAt:    t.now(),
	}
	t.order = append(t.order, k)
}

// TrackChange records every field of a written change. Fields whose stored
// value is known are recorded with it as the previous value.
func (t *Tracker) TrackChange(c *models.EntityChange, refs map[string]string) {
	if c.EntityID == "" {
		return
	}
	fields := make([]string, 0, len(c.Fields))
	for f := range c.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		var prev any
		if c.Existing != nil {
			prev = c.Existing.Fields[f]
		}
		t.Track(c.EntityID, f, refs[f], prev, c.Fields[f])
	}
}

// FindByField returns the entry for one entity field.
func (t *Tracker) FindByField(entityID, field string) (models.FieldLineageEntry, bool) {
	e, ok := t.entries[key{entityID, field}]
	if !ok {
		return models.FieldLineageEntry{}, false
	}
	return *e, true
}

// Entries returns the tracked entries in first-tracked order.
func (t *Tracker) Entries() []models.FieldLineageEntry {
	out := make([]models.FieldLineageEntry, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, *t.entries[k])
	}
	return out
}

// Len returns the number of tracked (entity, field) pairs.
func (t *Tracker) Len() int { return len(t.order) }

// Flush writes the tracked entries in chunks of batchSize.
func (t *Tracker) Flush(ctx context.Context, w Writer, batchSize int) error {
	entries := t.Entries()
	if batchSize <= 0 {
		batchSize = len(entries)
	}
	for start := 0; start < len(entries); start += batchSize {
		end := min(start+batchSize, len(entries))
		if err := w.RecordLineage(ctx, entries[start:end]); err != nil {
			return err
		}
	}
	return nil
}
