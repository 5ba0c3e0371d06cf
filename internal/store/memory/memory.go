// Package memory is an in-memory store.Store for tests, previews and the
// --store=memory CLI mode.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/models"
	"github.com/agentstation/fieldsync/pkg/store"
)

// Store keeps every collection in mutex-guarded maps.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time
	cap store.Capabilities

	dataSources    map[string]*models.DataSource
	tabMappings    map[string]*models.TabMapping
	columnMappings map[string]*models.ColumnMapping
	patterns       map[string]*models.ColumnPattern
	entities       map[string]*models.Entity
	keys           map[string]string // kind + "\x00" + lower(key) -> entity id
	links          map[string]models.EntityLink
	weekly         map[string]*models.WeeklyStatus
	runs           map[string]*models.SyncRun
	lineage        map[string]*models.FieldLineageEntry
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithoutLineage makes the store report no lineage capability.
func WithoutLineage() Option {
	return func(s *Store) { s.cap.Lineage = false }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now:            time.Now,
		cap:            store.Capabilities{Lineage: true},
		dataSources:    make(map[string]*models.DataSource),
		tabMappings:    make(map[string]*models.TabMapping),
		columnMappings: make(map[string]*models.ColumnMapping),
		patterns:       make(map[string]*models.ColumnPattern),
		entities:       make(map[string]*models.Entity),
		keys:           make(map[string]string),
		links:          make(map[string]models.EntityLink),
		weekly:         make(map[string]*models.WeeklyStatus),
		runs:           make(map[string]*models.SyncRun),
		lineage:        make(map[string]*models.FieldLineageEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capabilities implements store.Store.
func (s *Store) Capabilities() store.Capabilities { return s.cap }

// Close implements store.Store.
func (s *Store) Close() error { return nil }

func keyOf(kind, value string) string {
	return kind + "\x00" + strings.ToLower(strings.TrimSpace(value))
}

func pairKey(a, b string) string { return a + "\x00" + b }

// DataSource implements store.ConfigReader.
func (s *Store) DataSource(_ context.Context, id string) (*models.DataSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.dataSources[id]
	if !ok {
		return nil, errors.NewNotFoundError("data source", id)
	}
	c := *ds
	return &c, nil
}

// DataSources implements store.ConfigWriter.
func (s *Store) DataSources(_ context.Context) ([]models.DataSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.DataSource, 0, len(s.dataSources))
	for _, ds := range s.dataSources {
		out = append(out, *ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// TabMapping implements store.ConfigReader.
func (s *Store) TabMapping(_ context.Context, id string) (*models.TabMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tm, ok := s.tabMappings[id]
	if !ok {
		return nil, errors.NewNotFoundError("tab mapping", id)
	}
	c := *tm
	return &c, nil
}

// TabMappings implements store.ConfigReader.
func (s *Store) TabMappings(_ context.Context, dataSourceID string, status models.TabStatus) ([]models.TabMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.TabMapping
	for _, tm := range s.tabMappings {
		if tm.DataSourceID == dataSourceID && (status == "" || tm.Status == status) {
			out = append(out, *tm)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TabName != out[j].TabName {
			return out[i].TabName < out[j].TabName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ColumnMappings implements store.ConfigReader.
func (s *Store) ColumnMappings(_ context.Context, tabMappingID string) ([]models.ColumnMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ColumnMapping
	for _, cm := range s.columnMappings {
		if cm.TabMappingID == tabMappingID {
			out = append(out, *cm)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ordinal != out[j].Ordinal {
			return out[i].Ordinal < out[j].Ordinal
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ActivePatterns implements store.ConfigReader.
func (s *Store) ActivePatterns(_ context.Context) ([]models.ColumnPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ColumnPattern
	for _, p := range s.patterns {
		if p.Active {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SaveDataSource implements store.ConfigWriter.
func (s *Store) SaveDataSource(_ context.Context, ds *models.DataSource) error {
	if ds.ID == "" {
		ds.ID = uuid.NewString()
	}
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = s.now()
	}
	if ds.Status == "" {
		ds.Status = models.DataSourceActive
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *ds
	s.dataSources[ds.ID] = &c
	return nil
}

// SaveTabMapping implements store.ConfigWriter.
func (s *Store) SaveTabMapping(_ context.Context, tm *models.TabMapping) error {
	if tm.ID == "" {
		tm.ID = uuid.NewString()
	}
	if tm.Status == "" {
		tm.Status = models.TabActive
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dataSources[tm.DataSourceID]; !ok {
		return errors.NewNotFoundError("data source", tm.DataSourceID)
	}
	c := *tm
	s.tabMappings[tm.ID] = &c
	return nil
}

// SaveColumnMapping implements store.ConfigWriter.
func (s *Store) SaveColumnMapping(_ context.Context, cm *models.ColumnMapping) error {
	if cm.ID == "" {
		cm.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tabMappings[cm.TabMappingID]; !ok {
		return errors.NewNotFoundError("tab mapping", cm.TabMappingID)
	}
	c := *cm
	s.columnMappings[cm.ID] = &c
	return nil
}

// SavePattern implements store.ConfigWriter.
func (s *Store) SavePattern(_ context.Context, p *models.ColumnPattern) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *p
	s.patterns[p.ID] = &c
	return nil
}

// FindEntity implements store.EntityStore.
func (s *Store) FindEntity(_ context.Context, kind, field, value string) (*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *models.Entity
	for _, e := range s.entities {
		if e.Kind != kind || !matches(e.Fields[field], value) {
			continue
		}
		if found == nil || e.CreatedAt.Before(found.CreatedAt) || (e.CreatedAt.Equal(found.CreatedAt) && e.ID < found.ID) {
			found = e
		}
	}
	if found == nil {
		return nil, errors.NewNotFoundError(kind, value)
	}
	return found.Clone(), nil
}

func matches(v any, value string) bool {
	if v == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(fmt.Sprint(v)), strings.TrimSpace(value))
}

// Entity implements store.EntityStore.
func (s *Store) Entity(_ context.Context, id string) (*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, errors.NewNotFoundError("entity", id)
	}
	return e.Clone(), nil
}

// Entities returns every entity of a kind, ordered by key.
func (s *Store) Entities(kind string) []models.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Entity
	for _, e := range s.entities {
		if e.Kind == kind {
			out = append(out, *e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Key) < strings.ToLower(out[j].Key) })
	return out
}

// InsertEntities implements store.EntityStore. The batch is all-or-nothing.
func (s *Store) InsertEntities(_ context.Context, entities []models.Entity) ([]models.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(entities))
	for _, e := range entities {
		k := keyOf(e.Kind, e.Key)
		if _, exists := s.keys[k]; exists || seen[k] {
			return nil, fmt.Errorf("duplicate %s key %q: %w", e.Kind, e.Key, errors.ErrAlreadyExists)
		}
		seen[k] = true
	}

	now := s.now()
	out := make([]models.Entity, 0, len(entities))
	for _, e := range entities {
		c := e.Clone()
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.CreatedAt, c.UpdatedAt = now, now
		s.entities[c.ID] = c
		s.keys[keyOf(c.Kind, c.Key)] = c.ID
		out = append(out, *c.Clone())
	}
	return out, nil
}

// UpdateEntity implements store.EntityStore.
func (s *Store) UpdateEntity(_ context.Context, id string, fields map[string]any, snapshot *models.SourceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return errors.NewNotFoundError("entity", id)
	}
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	maps.Copy(e.Fields, fields)
	e.SourceData = e.SourceData.Apply(snapshot)
	e.UpdatedAt = s.now()
	return nil
}

// ReplaceEntityLink implements store.EntityStore.
func (s *Store) ReplaceEntityLink(_ context.Context, link models.EntityLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[link.EntityID]; !ok {
		return errors.NewNotFoundError("entity", link.EntityID)
	}
	s.links[pairKey(link.EntityID, link.Role)] = link
	return nil
}

// EntityLinks implements store.EntityStore.
func (s *Store) EntityLinks(_ context.Context, entityID string) ([]models.EntityLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.EntityLink
	for _, l := range s.links {
		if l.EntityID == entityID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out, nil
}

// UpsertWeeklyStatus implements store.RunStore.
func (s *Store) UpsertWeeklyStatus(_ context.Context, ws models.WeeklyStatus) (models.UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := pairKey(ws.EntityID, ws.WeekStart.Format(time.DateOnly))
	if cur, ok := s.weekly[k]; ok {
		if cur.Value == ws.Value {
			return models.UpsertUnchanged, nil
		}
		cur.Value = ws.Value
		cur.SourceColumn = ws.SourceColumn
		cur.TabMappingID = ws.TabMappingID
		cur.SyncRunID = ws.SyncRunID
		cur.UpdatedAt = s.now()
		return models.UpsertUpdated, nil
	}
	if ws.ID == "" {
		ws.ID = uuid.NewString()
	}
	ws.UpdatedAt = s.now()
	s.weekly[k] = &ws
	return models.UpsertCreated, nil
}

// WeeklyStatuses implements store.RunStore.
func (s *Store) WeeklyStatuses(_ context.Context, entityID string) ([]models.WeeklyStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.WeeklyStatus
	for _, ws := range s.weekly {
		if ws.EntityID == entityID {
			out = append(out, *ws)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WeekStart.Before(out[j].WeekStart) })
	return out, nil
}

// CreateSyncRun implements store.RunStore.
func (s *Store) CreateSyncRun(_ context.Context, run *models.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.WrapResource("create", "sync_run", run.ID, errors.ErrAlreadyExists)
	}
	c := *run
	s.runs[run.ID] = &c
	return nil
}

// FinishSyncRun implements store.RunStore. A run can be finished once.
func (s *Store) FinishSyncRun(_ context.Context, run *models.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.runs[run.ID]
	if !ok {
		return errors.NewNotFoundError("sync run", run.ID)
	}
	if cur.Status != models.RunRunning {
		return errors.WrapResource("finish", "sync_run", run.ID, fmt.Errorf("already %s", cur.Status))
	}
	c := *run
	c.Stats.Errors = append([]models.RowError(nil), run.Stats.Errors...)
	s.runs[run.ID] = &c
	return nil
}

// SyncRun implements store.RunStore.
func (s *Store) SyncRun(_ context.Context, id string) (*models.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, errors.NewNotFoundError("sync run", id)
	}
	c := *run
	return &c, nil
}

// RecordLineage implements store.RunStore.
func (s *Store) RecordLineage(_ context.Context, entries []models.FieldLineageEntry) error {
	if !s.cap.Lineage {
		return errors.WrapResource("record", "field_lineage", "", errors.ErrNotImplemented)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		k := pairKey(e.EntityID, e.Field)
		if cur, ok := s.lineage[k]; ok {
			e.ID = cur.ID
		}
		c := e
		s.lineage[k] = &c
	}
	return nil
}

// FieldLineage implements store.RunStore.
func (s *Store) FieldLineage(_ context.Context, entityID string) ([]models.FieldLineageEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.FieldLineageEntry
	for _, e := range s.lineage {
		if e.EntityID == entityID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out, nil
}

// MarkSynced implements store.RunStore.
func (s *Store) MarkSynced(_ context.Context, tabMappingID, dataSourceID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tm, ok := s.tabMappings[tabMappingID]
	if !ok {
		return errors.NewNotFoundError("tab mapping", tabMappingID)
	}
	ds, ok := s.dataSources[dataSourceID]
	if !ok {
		return errors.NewNotFoundError("data source", dataSourceID)
	}
	tm.LastSyncedAt = &at
	ds.LastSyncedAt = &at
	return nil
}
