package sqlstore

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/models"
)

const (
	dataSourcesTable    = "data_sources"
	tabMappingsTable    = "tab_mappings"
	columnMappingsTable = "column_mappings"
	patternsTable       = "column_patterns"
)

// DataSource implements store.ConfigReader.
func (s *Store) DataSource(ctx context.Context, id string) (*models.DataSource, error) {
	sb := s.dataSources.SelectFrom(dataSourcesTable)
	sb.Where(sb.Equal("id", id))
	query, args := sb.Build()

	var row dataSourceRow
	err := s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("data source", id)
	}
	if err != nil {
		return nil, errors.WrapResource("get", dataSourcesTable, id, err)
	}
	ds := row.model()
	return &ds, nil
}

// DataSources implements store.ConfigWriter.
func (s *Store) DataSources(ctx context.Context) ([]models.DataSource, error) {
	sb := s.dataSources.SelectFrom(dataSourcesTable)
	sb.OrderBy("name", "id")
	query, args := sb.Build()

	var rows []dataSourceRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.WrapResource("list", dataSourcesTable, "", err)
	}
	out := make([]models.DataSource, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// TabMapping implements store.ConfigReader.
func (s *Store) TabMapping(ctx context.Context, id string) (*models.TabMapping, error) {
	sb := s.tabMappings.SelectFrom(tabMappingsTable)
	sb.Where(sb.Equal("id", id))
	query, args := sb.Build()

	var row tabMappingRow
	err := s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("tab mapping", id)
	}
	if err != nil {
		return nil, errors.WrapResource("get", tabMappingsTable, id, err)
	}
	tm := row.model()
	return &tm, nil
}

// TabMappings implements store.ConfigReader.
func (s *Store) TabMappings(ctx context.Context, dataSourceID string, status models.TabStatus) ([]models.TabMapping, error) {
	sb := s.tabMappings.SelectFrom(tabMappingsTable)
	sb.Where(sb.Equal("data_source_id", dataSourceID))
	if status != "" {
		sb.Where(sb.Equal("status", string(status)))
	}
	sb.OrderBy("tab_name", "id")
	query, args := sb.Build()

	var rows []tabMappingRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.WrapResource("list", tabMappingsTable, dataSourceID, err)
	}
	out := make([]models.TabMapping, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// ColumnMappings implements store.ConfigReader.
func (s *Store) ColumnMappings(ctx context.Context, tabMappingID string) ([]models.ColumnMapping, error) {
	sb := s.columnMappings.SelectFrom(columnMappingsTable)
	sb.Where(sb.Equal("tab_mapping_id", tabMappingID))
	sb.OrderBy("ordinal", "id")
	query, args := sb.Build()

	var rows []columnMappingRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.WrapResource("list", columnMappingsTable, tabMappingID, err)
	}
	out := make([]models.ColumnMapping, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// ActivePatterns implements store.ConfigReader.
func (s *Store) ActivePatterns(ctx context.Context) ([]models.ColumnPattern, error) {
	sb := s.patterns.SelectFrom(patternsTable)
	sb.Where(sb.Equal("active", true))
	sb.OrderBy("priority DESC", "id")
	query, args := sb.Build()

	var rows []patternRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.WrapResource("list", patternsTable, "", err)
	}
	out := make([]models.ColumnPattern, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// SaveDataSource implements store.ConfigWriter. Saving an existing id
// replaces the row.
func (s *Store) SaveDataSource(ctx context.Context, ds *models.DataSource) error {
	if ds.ID == "" {
		ds.ID = uuid.NewString()
	}
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = s.now()
	}
	if ds.Status == "" {
		ds.Status = models.DataSourceActive
	}
	cfg := rawColumn(ds.Config)
	if cfg == nil {
		cfg = jsonColumn("{}")
	}
	row := dataSourceRow{
		ID:           ds.ID,
		Name:         ds.Name,
		Kind:         ds.Kind,
		Config:       cfg,
		Status:       string(ds.Status),
		LastSyncedAt: atPtr(ds.LastSyncedAt),
		CreatedAt:    at(ds.CreatedAt),
	}
	ib := s.dataSources.InsertInto(dataSourcesTable, &row)
	conflict(ib, []string{"id"}, "name", "kind", "config", "status", "last_synced_at")
	query, args := ib.Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.WrapResource("save", dataSourcesTable, ds.ID, err)
	}
	return nil
}

// SaveTabMapping implements store.ConfigWriter.
func (s *Store) SaveTabMapping(ctx context.Context, tm *models.TabMapping) error {
	if tm.ID == "" {
		tm.ID = uuid.NewString()
	}
	if tm.Status == "" {
		tm.Status = models.TabActive
	}
	if _, err := s.DataSource(ctx, tm.DataSourceID); err != nil {
		return err
	}
	row := tabMappingRow{
		ID:           tm.ID,
		DataSourceID: tm.DataSourceID,
		TabName:      tm.TabName,
		HeaderRow:    tm.HeaderRow,
		EntityKind:   tm.EntityKind,
		Status:       string(tm.Status),
		Notes:        tm.Notes,
		LastSyncedAt: atPtr(tm.LastSyncedAt),
	}
	ib := s.tabMappings.InsertInto(tabMappingsTable, &row)
	conflict(ib, []string{"id"}, "data_source_id", "tab_name", "header_row", "entity_kind", "status", "notes", "last_synced_at")
	query, args := ib.Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.WrapResource("save", tabMappingsTable, tm.ID, err)
	}
	return nil
}

// SaveColumnMapping implements store.ConfigWriter.
func (s *Store) SaveColumnMapping(ctx context.Context, cm *models.ColumnMapping) error {
	if cm.ID == "" {
		cm.ID = uuid.NewString()
	}
	if _, err := s.TabMapping(ctx, cm.TabMappingID); err != nil {
		return err
	}
	row := columnMappingRow{
		ID:              cm.ID,
		TabMappingID:    cm.TabMappingID,
		SourceColumn:    cm.SourceColumn,
		Ordinal:         cm.Ordinal,
		TargetField:     cm.TargetField,
		Category:        string(cm.Category),
		Authority:       string(cm.Authority),
		TransformType:   cm.TransformType,
		TransformConfig: rawColumn(cm.TransformConfig),
		IsKey:           cm.IsKey,
	}
	ib := s.columnMappings.InsertInto(columnMappingsTable, &row)
	conflict(ib, []string{"id"}, "tab_mapping_id", "source_column", "ordinal", "target_field", "category",
		"authority", "transform_type", "transform_config", "is_key")
	query, args := ib.Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.WrapResource("save", columnMappingsTable, cm.ID, err)
	}
	return nil
}

// SavePattern implements store.ConfigWriter.
func (s *Store) SavePattern(ctx context.Context, p *models.ColumnPattern) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	row := patternRow{
		ID:          p.ID,
		Name:        p.Name,
		Category:    string(p.Category),
		MatchConfig: rawColumn(p.MatchConfig),
		Priority:    p.Priority,
		Active:      p.Active,
	}
	ib := s.patterns.InsertInto(patternsTable, &row)
	conflict(ib, []string{"id"}, "name", "category", "match_config", "priority", "active")
	query, args := ib.Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.WrapResource("save", patternsTable, p.ID, err)
	}
	return nil
}
