package sqlstore

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentstation/fieldsync/pkg/models"
)

// timestamp reads TIMESTAMPTZ values and the RFC 3339 text SQLite keeps, and
// writes RFC 3339 text that both accept.
type timestamp struct {
	Time  time.Time
	Valid bool
}

func at(t time.Time) timestamp { return timestamp{Time: t.UTC(), Valid: !t.IsZero()} }

func atPtr(t *time.Time) timestamp {
	if t == nil {
		return timestamp{}
	}
	return at(*t)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	time.DateTime,
	time.DateOnly,
}

// Scan implements sql.Scanner.
func (t *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = timestamp{}
		return nil
	case time.Time:
		*t = timestamp{Time: v.UTC(), Valid: true}
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
}

func (t *timestamp) parse(s string) error {
	for _, layout := range timeLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			*t = timestamp{Time: v.UTC(), Valid: true}
			return nil
		}
	}
	return fmt.Errorf("cannot parse %q as a timestamp", s)
}

// Value implements driver.Valuer.
func (t timestamp) Value() (driver.Value, error) {
	if !t.Valid {
		return nil, nil
	}
	return t.Time.Format(time.RFC3339Nano), nil
}

func (t timestamp) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// day is a DATE column, written as YYYY-MM-DD on both databases.
type day struct{ timestamp }

func onDay(t time.Time) day { return day{at(t)} }

// Value implements driver.Valuer.
func (d day) Value() (driver.Value, error) {
	if !d.Valid {
		return nil, nil
	}
	return d.Time.Format(time.DateOnly), nil
}

// jsonColumn holds a JSON document. It is written as text so PostgreSQL
// casts it into JSONB and SQLite stores it as is.
type jsonColumn []byte

// Scan implements sql.Scanner.
func (j *jsonColumn) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = jsonColumn(v)
	default:
		return fmt.Errorf("cannot scan %T into JSON column", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (j jsonColumn) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return string(j), nil
}

func (j jsonColumn) raw() json.RawMessage {
	if len(j) == 0 {
		return nil
	}
	return json.RawMessage(append([]byte(nil), j...))
}

func (j jsonColumn) decode(v any) error {
	if len(j) == 0 {
		return nil
	}
	return json.Unmarshal(j, v)
}

func encode(v any) (jsonColumn, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonColumn(b), nil
}

func rawColumn(raw json.RawMessage) jsonColumn {
	if len(raw) == 0 {
		return nil
	}
	return jsonColumn(raw)
}

type dataSourceRow struct {
	ID           string     `db:"id"`
	Name         string     `db:"name"`
	Kind         string     `db:"kind"`
	Config       jsonColumn `db:"config"`
	Status       string     `db:"status"`
	LastSyncedAt timestamp  `db:"last_synced_at"`
	CreatedAt    timestamp  `db:"created_at"`
}

func (r dataSourceRow) model() models.DataSource {
	return models.DataSource{
		ID:           r.ID,
		Name:         r.Name,
		Kind:         r.Kind,
		Config:       r.Config.raw(),
		Status:       models.DataSourceStatus(r.Status),
		LastSyncedAt: r.LastSyncedAt.ptr(),
		CreatedAt:    r.CreatedAt.Time,
	}
}

type tabMappingRow struct {
	ID           string    `db:"id"`
	DataSourceID string    `db:"data_source_id"`
	TabName      string    `db:"tab_name"`
	HeaderRow    int       `db:"header_row"`
	EntityKind   string    `db:"entity_kind"`
	Status       string    `db:"status"`
	Notes        string    `db:"notes"`
	LastSyncedAt timestamp `db:"last_synced_at"`
}

func (r tabMappingRow) model() models.TabMapping {
	return models.TabMapping{
		ID:           r.ID,
		DataSourceID: r.DataSourceID,
		TabName:      r.TabName,
		HeaderRow:    r.HeaderRow,
		EntityKind:   r.EntityKind,
		Status:       models.TabStatus(r.Status),
		Notes:        r.Notes,
		LastSyncedAt: r.LastSyncedAt.ptr(),
	}
}

type columnMappingRow struct {
	ID              string     `db:"id"`
	TabMappingID    string     `db:"tab_mapping_id"`
	SourceColumn    string     `db:"source_column"`
	Ordinal         int        `db:"ordinal"`
	TargetField     string     `db:"target_field"`
	Category        string     `db:"category"`
	Authority       string     `db:"authority"`
	TransformType   string     `db:"transform_type"`
	TransformConfig jsonColumn `db:"transform_config"`
	IsKey           bool       `db:"is_key"`
}

func (r columnMappingRow) model() models.ColumnMapping {
	return models.ColumnMapping{
		ID:              r.ID,
		TabMappingID:    r.TabMappingID,
		SourceColumn:    r.SourceColumn,
		Ordinal:         r.Ordinal,
		TargetField:     r.TargetField,
		Category:        models.ColumnCategory(r.Category),
		Authority:       models.Authority(r.Authority),
		TransformType:   r.TransformType,
		TransformConfig: r.TransformConfig.raw(),
		IsKey:           r.IsKey,
	}
}

type patternRow struct {
	ID          string     `db:"id"`
	Name        string     `db:"name"`
	Category    string     `db:"category"`
	MatchConfig jsonColumn `db:"match_config"`
	Priority    int        `db:"priority"`
	Active      bool       `db:"active"`
}

func (r patternRow) model() models.ColumnPattern {
	return models.ColumnPattern{
		ID:          r.ID,
		Name:        r.Name,
		Category:    models.ColumnCategory(r.Category),
		MatchConfig: r.MatchConfig.raw(),
		Priority:    r.Priority,
		Active:      r.Active,
	}
}

type entityRow struct {
	ID         string     `db:"id"`
	Kind       string     `db:"kind"`
	KeyValue   string     `db:"key_value"`
	Fields     jsonColumn `db:"fields"`
	SourceData jsonColumn `db:"source_data"`
	CreatedAt  timestamp  `db:"created_at"`
	UpdatedAt  timestamp  `db:"updated_at"`
}

func newEntityRow(e models.Entity) (entityRow, error) {
	fields := e.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	f, err := encode(fields)
	if err != nil {
		return entityRow{}, fmt.Errorf("encode fields of %s %q: %w", e.Kind, e.Key, err)
	}
	source := e.SourceData
	if source == nil {
		source = models.SourceData{}
	}
	sd, err := encode(source)
	if err != nil {
		return entityRow{}, fmt.Errorf("encode source data of %s %q: %w", e.Kind, e.Key, err)
	}
	return entityRow{
		ID:         e.ID,
		Kind:       e.Kind,
		KeyValue:   e.Key,
		Fields:     f,
		SourceData: sd,
		CreatedAt:  at(e.CreatedAt),
		UpdatedAt:  at(e.UpdatedAt),
	}, nil
}

func (r entityRow) model() (*models.Entity, error) {
	e := &models.Entity{
		ID:        r.ID,
		Kind:      r.Kind,
		Key:       r.KeyValue,
		Fields:    map[string]any{},
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}
	if err := r.Fields.decode(&e.Fields); err != nil {
		return nil, fmt.Errorf("decode fields of entity %s: %w", r.ID, err)
	}
	if err := r.SourceData.decode(&e.SourceData); err != nil {
		return nil, fmt.Errorf("decode source data of entity %s: %w", r.ID, err)
	}
	return e, nil
}

type linkRow struct {
	EntityID string `db:"entity_id"`
	Role     string `db:"role"`
	TargetID string `db:"target_id"`
}

type weeklyRow struct {
	ID           string    `db:"id"`
	EntityID     string    `db:"entity_id"`
	WeekStart    day       `db:"week_start"`
	ISOYear      int       `db:"iso_year"`
	ISOWeek      int       `db:"iso_week"`
	Value        string    `db:"value"`
	SourceColumn string    `db:"source_column"`
	TabMappingID string    `db:"tab_mapping_id"`
	SyncRunID    string    `db:"sync_run_id"`
	UpdatedAt    timestamp `db:"updated_at"`
}

func (r weeklyRow) model() models.WeeklyStatus {
	return models.WeeklyStatus{
		ID:           r.ID,
		EntityID:     r.EntityID,
		WeekStart:    r.WeekStart.Time,
		ISOYear:      r.ISOYear,
		ISOWeek:      r.ISOWeek,
		Value:        r.Value,
		SourceColumn: r.SourceColumn,
		TabMappingID: r.TabMappingID,
		SyncRunID:    r.SyncRunID,
		UpdatedAt:    r.UpdatedAt.Time,
	}
}

type runRow struct {
	ID           string     `db:"id"`
	TabMappingID string     `db:"tab_mapping_id"`
	DataSourceID string     `db:"data_source_id"`
	Status       string     `db:"status"`
	DryRun       bool       `db:"dry_run"`
	Stats        jsonColumn `db:"stats"`
	Error        string     `db:"error"`
	TriggeredBy  string     `db:"triggered_by"`
	StartedAt    timestamp  `db:"started_at"`
	FinishedAt   timestamp  `db:"finished_at"`
}

func newRunRow(run *models.SyncRun) (runRow, error) {
	stats, err := encode(run.Stats)
	if err != nil {
		return runRow{}, fmt.Errorf("encode stats of run %s: %w", run.ID, err)
	}
	return runRow{
		ID:           run.ID,
		TabMappingID: run.TabMappingID,
		DataSourceID: run.DataSourceID,
		Status:       string(run.Status),
		DryRun:       run.DryRun,
		Stats:        stats,
		Error:        run.Error,
		TriggeredBy:  run.TriggeredBy,
		StartedAt:    at(run.StartedAt),
		FinishedAt:   atPtr(run.FinishedAt),
	}, nil
}

func (r runRow) model() (*models.SyncRun, error) {
	run := &models.SyncRun{
		ID:           r.ID,
		TabMappingID: r.TabMappingID,
		DataSourceID: r.DataSourceID,
		Status:       models.RunStatus(r.Status),
		DryRun:       r.DryRun,
		Error:        r.Error,
		TriggeredBy:  r.TriggeredBy,
		StartedAt:    r.StartedAt.Time,
		FinishedAt:   r.FinishedAt.ptr(),
	}
	if err := r.Stats.decode(&run.Stats); err != nil {
		return nil, fmt.Errorf("decode stats of run %s: %w", r.ID, err)
	}
	return run, nil
}

type lineageRow struct {
	ID            string     `db:"id"`
	EntityID      string     `db:"entity_id"`
	Field         string     `db:"field"`
	SourceRef     string     `db:"source_ref"`
	PreviousValue jsonColumn `db:"previous_value"`
	NewValue      jsonColumn `db:"new_value"`
	SyncRunID     string     `db:"sync_run_id"`
	RecordedAt    timestamp  `db:"recorded_at"`
}

func (r lineageRow) model() (models.FieldLineageEntry, error) {
	e := models.FieldLineageEntry{
		ID:         r.ID,
		EntityID:   r.EntityID,
		Field:      r.Field,
		SourceRef:  r.SourceRef,
		SyncRunID:  r.SyncRunID,
		RecordedAt: r.RecordedAt.Time,
	}
	if err := r.PreviousValue.decode(&e.PreviousValue); err != nil {
		return e, fmt.Errorf("decode previous value: %w", err)
	}
	if err := r.NewValue.decode(&e.NewValue); err != nil {
		return e, fmt.Errorf("decode new value: %w", err)
	}
	return e, nil
}
