package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentstation/fieldsync/pkg/connectors"
	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/models"
	"github.com/agentstation/fieldsync/pkg/weekly"
)

// loadConfig resolves the tab mapping, its data source, column mappings,
// weekly patterns and the connector. Every failure here is a configuration
// error and nothing has been fetched yet.
func (r *run) loadConfig(ctx context.Context) error {
	st := r.e.store
	id := r.rec.TabMappingID

	tab, err := st.TabMapping(ctx, id)
	if err != nil {
		return r.configErr("tab mapping", err)
	}
	r.tab = tab

	source, err := st.DataSource(ctx, tab.DataSourceID)
	if err != nil {
		return r.configErr("data source", err)
	}
	r.source = source
	r.rec.DataSourceID = source.ID
	r.log = r.log.With().Str("data_source_id", source.ID).Str("tab", tab.TabName).Logger()

	keyField, err := r.e.fields.KeyField(tab.EntityKind)
	if err != nil {
		return errors.NewConfigError("entity kind", fmt.Sprintf("tab mapping %s targets entity kind %q", id, tab.EntityKind), err)
	}
	r.keyField = keyField

	mappings, err := st.ColumnMappings(ctx, id)
	if err != nil {
		return r.configErr("column mappings", err)
	}
	if err := r.bindMappings(mappings); err != nil {
		return err
	}

	patterns, err := st.ActivePatterns(ctx)
	if err != nil {
		return r.configErr("column patterns", err)
	}
	if r.detector, err = weekly.NewDetector(patterns, r.e.now); err != nil {
		return err
	}

	conn, err := r.e.connectors.Get(connectors.Kind(source.Kind))
	if err != nil {
		return errors.NewConfigError("connector", fmt.Sprintf("no connector for source kind %q", source.Kind), err)
	}
	if !conn.Capabilities().HasTabs {
		return errors.NewConfigError("connector", fmt.Sprintf("source kind %q has no tabs to sync", source.Kind), errors.ErrNotTabular)
	}
	if err := conn.ValidateConfig(source.Config); err != nil {
		return errors.NewConfigError("data source "+source.ID, "", err)
	}
	r.conn = conn

	r.log.Debug().
		Str("entity_kind", tab.EntityKind).
		Str("key_column", r.keyMapping.SourceColumn).
		Int("columns", len(r.columns)).
		Int("weekly_mappings", len(r.weeklyMaps)).
		Bool("weekly_patterns", !r.detector.Empty()).
		Msg("Configuration loaded")
	return nil
}

func (r *run) configErr(component string, err error) error {
	if errors.IsNotFound(err) {
		return errors.NewConfigError(component, "", err)
	}
	return errors.NewSyncError(r.rec.TabMappingID, string(StateLoadingConfig), err)
}

// bindMappings sorts column mappings into the key, writable columns, weekly
// columns and the rest, building a transform for every writable column.
func (r *run) bindMappings(mappings []models.ColumnMapping) error {
	var keys []models.ColumnMapping
	for _, m := range mappings {
		switch {
		case m.IsKey:
			keys = append(keys, m)
		case m.Category == models.CategoryKey:
			return errors.NewConfigError("column "+m.SourceColumn, "key category set without is_key", nil)
		case m.Category == models.CategoryWeekly:
			r.weeklyMaps = append(r.weeklyMaps, m)
		case !m.Writes():
			r.otherMaps = append(r.otherMaps, m)
		default:
			f, err := r.e.fields.Field(r.tab.EntityKind, m.TargetField)
			if err != nil {
				return errors.NewConfigError("column "+m.SourceColumn, fmt.Sprintf("unknown target field %s.%s", r.tab.EntityKind, m.TargetField), err)
			}
			if f.Key {
				return errors.NewConfigError("column "+m.SourceColumn, fmt.Sprintf("only the key column may target key field %s", f.Name), nil)
			}
			t, err := r.e.transforms.Build(m.TransformType, m.TransformConfig)
			if err != nil {
				return errors.NewConfigError("column "+m.SourceColumn, "", err)
			}
			r.columns = append(r.columns, column{mapping: m, field: f, transform: t, index: -1})
			r.authorities[f.Name] = m.Authority
		}
	}
	if len(keys) != 1 {
		return errors.NewConfigError("column mappings",
			fmt.Sprintf("tab mapping %s has %d key columns, exactly one is required", r.tab.ID, len(keys)), nil)
	}
	r.keyMapping = keys[0]
	return nil
}

// fetch reads the tab and binds every mapping to its live header position.
func (r *run) fetch(ctx context.Context, cred connectors.Credential) error {
	data, err := r.conn.Data(ctx, cred, r.source.Config, r.tab.TabName, r.tab.HeaderRow)
	if err != nil {
		if ctx.Err() != nil {
			return canceled(ctx.Err())
		}
		return errors.NewSyncError(r.tab.ID, string(StateFetchingSource), err)
	}

	r.headers = data.Headers
	r.keys = snapshotKeys(data.Headers)

	r.keyIdx = findColumn(r.headers, r.keyMapping.SourceColumn)
	if r.keyIdx < 0 {
		return errors.NewConfigError("schema",
			fmt.Sprintf("key column %q not found in tab %q", r.keyMapping.SourceColumn, r.tab.TabName), errors.ErrSchemaDrift)
	}
	r.mapped[r.keyIdx] = true

	for i := range r.columns {
		c := &r.columns[i]
		c.index = findColumn(r.headers, c.mapping.SourceColumn)
		if c.index < 0 {
			r.warn(0, c.mapping.SourceColumn, "mapped column not found in source header")
			continue
		}
		r.mapped[c.index] = true
	}
	for _, m := range r.otherMaps {
		if idx := findColumn(r.headers, m.SourceColumn); idx >= 0 {
			r.mapped[idx] = true
		}
	}

	r.rows = data.Rows
	if r.opts.RowLimit > 0 && len(r.rows) > r.opts.RowLimit {
		r.rows = r.rows[:r.opts.RowLimit]
	}
	r.log.Info().Int("headers", len(r.headers)).Int("rows", len(r.rows)).Int("total_rows", len(data.Rows)).Msg("Source fetched")
	return nil
}

// findColumn returns the index of name in headers: an exact match first,
// then a trimmed case-insensitive one.
func findColumn(headers []string, name string) int {
	for i, h := range headers {
		if h == name {
			return i
		}
	}
	want := strings.TrimSpace(name)
	for i, h := range headers {
		if strings.EqualFold(strings.TrimSpace(h), want) {
			return i
		}
	}
	return -1
}

// snapshotKeys names each column for the raw row snapshot. Blank headers get
// a positional name and repeats get a numeric suffix so no cell is lost.
func snapshotKeys(headers []string) []string {
	keys := make([]string, len(headers))
	used := make(map[string]int, len(headers))
	for i, h := range headers {
		k := strings.TrimSpace(h)
		if k == "" {
			k = fmt.Sprintf("column_%d", i+1)
		}
		used[k]++
		if n := used[k]; n > 1 {
			k = fmt.Sprintf("%s (%d)", k, n)
		}
		keys[i] = k
	}
	return keys
}

// snapshot is the verbatim row keyed by header.
func (r *run) snapshot(row []string) map[string]string {
	out := make(map[string]string, len(r.keys))
	for i, k := range r.keys {
		out[k] = cell(row, i)
	}
	return out
}
