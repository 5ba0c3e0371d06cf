package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/fieldsync"
	"github.com/agentstation/fieldsync/internal/store/memory"
	"github.com/agentstation/fieldsync/pkg/logging"
	"github.com/agentstation/fieldsync/pkg/models"
)

type testApp struct {
	app *App
	out *bytes.Buffer
	ds  *models.DataSource
	tab *models.TabMapping
}

// newTestApp builds an App over an in-memory store seeded with one CSV
// workbook data source.
func newTestApp(t *testing.T) *testApp {
	t.Helper()
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Brands.csv"), []byte("Brand,Status\nAcme,Active\nGlobex,Paused\n"), 0o644))
	cfgJSON, err := json.Marshal(map[string]string{"path": dir})
	require.NoError(t, err)

	st := memory.New()
	ds := &models.DataSource{Name: "Tracker", Kind: "spreadsheet", Config: cfgJSON, Status: models.DataSourceActive}
	require.NoError(t, st.SaveDataSource(ctx, ds))
	tab := &models.TabMapping{DataSourceID: ds.ID, TabName: "Brands", EntityKind: "organization", Status: models.TabActive}
	require.NoError(t, st.SaveTabMapping(ctx, tab))
	require.NoError(t, st.SaveColumnMapping(ctx, &models.ColumnMapping{
		TabMappingID: tab.ID, SourceColumn: "Brand", TargetField: "name", Category: models.CategoryKey, IsKey: true, Ordinal: 1,
	}))
	require.NoError(t, st.SaveColumnMapping(ctx, &models.ColumnMapping{
		TabMappingID: tab.ID, SourceColumn: "Status", TargetField: "status", Category: models.CategoryField, Authority: models.SourceOfTruth, Ordinal: 2,
	}))

	client, err := fieldsync.New(fieldsync.WithStore(st), fieldsync.WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	out := &bytes.Buffer{}
	config := &Config{
		Store: StoreConfig{Driver: "memory"},
		Sync:  SyncConfig{BatchSize: 50, TriggeredBy: "cli"},
	}
	a, err := New("1.2.3", "abc123", "2026-01-01",
		WithConfig(config),
		WithClient(client),
		WithLogger(logging.NewNopLogger()),
		WithOutput(out),
	)
	require.NoError(t, err)
	return &testApp{app: a, out: out, ds: ds, tab: tab}
}

func (ta *testApp) run(t *testing.T, args ...string) error {
	t.Helper()
	ta.out.Reset()
	return ta.app.Execute(context.Background(), args)
}

func TestVersionCommand(t *testing.T) {
	ta := newTestApp(t)
	require.NoError(t, ta.run(t, "version"))
	assert.Contains(t, ta.out.String(), "fieldsync version 1.2.3")
	assert.Contains(t, ta.out.String(), "commit: abc123")
}

func TestSyncTabCommand(t *testing.T) {
	ta := newTestApp(t)

	require.NoError(t, ta.run(t, "sync", "tab", ta.tab.ID, "--format", "json"))
	var results []map[string]any
	require.NoError(t, json.Unmarshal(ta.out.Bytes(), &results))
	require.Len(t, results, 1)
	stats := results[0]["stats"].(map[string]any)
	assert.Equal(t, float64(2), stats["rows_created"])

	err := ta.run(t, "sync", "tab", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `tab mapping "missing" does not exist`)
}

func TestSyncTabDryRunTable(t *testing.T) {
	ta := newTestApp(t)
	require.NoError(t, ta.run(t, "sync", "tab", ta.tab.ID, "--dry-run", "--format", "table"))
	out := ta.out.String()
	assert.Contains(t, out, "Changes for Brands")
	assert.Contains(t, out, "Acme")
}

func TestSyncSourceCommand(t *testing.T) {
	ta := newTestApp(t)
	require.NoError(t, ta.run(t, "sync", "source", ta.ds.ID, "-o", "yaml"))
	assert.Contains(t, ta.out.String(), "rows_created: 2")
}

func TestInspectionCommands(t *testing.T) {
	ta := newTestApp(t)

	require.NoError(t, ta.run(t, "connectors", "list", "-o", "json"))
	assert.Contains(t, ta.out.String(), `"kind": "spreadsheet"`)
	assert.Contains(t, ta.out.String(), `"kind": "warehouse"`)

	require.NoError(t, ta.run(t, "connectors", "test", ta.ds.ID, "-o", "json"))
	assert.Contains(t, ta.out.String(), `"success": true`)

	require.NoError(t, ta.run(t, "tabs", ta.ds.ID, "-o", "json"))
	assert.Contains(t, ta.out.String(), `"title": "Brands"`)

	require.NoError(t, ta.run(t, "preview", ta.ds.ID, "Brands", "--rows", "1", "-o", "json"))
	assert.Contains(t, ta.out.String(), "Brand")
	assert.NotContains(t, ta.out.String(), "Globex")

	require.NoError(t, ta.run(t, "sources", "-o", "table"))
	assert.Contains(t, ta.out.String(), "Tracker")

	require.NoError(t, ta.run(t, "fields", "organization", "-o", "json"))
	assert.Contains(t, ta.out.String(), `"organization"`)

	assert.Error(t, ta.run(t, "fields", "starship"))
	assert.Error(t, ta.run(t, "tabs", "nope"))
}

func TestLineageCommand(t *testing.T) {
	ta := newTestApp(t)
	require.NoError(t, ta.run(t, "sync", "tab", ta.tab.ID, "-o", "json"))

	client, err := ta.app.Client(context.Background())
	require.NoError(t, err)
	acme, err := client.Store().FindEntity(context.Background(), "organization", "name", "acme")
	require.NoError(t, err)

	require.NoError(t, ta.run(t, "lineage", acme.ID, "-o", "json"))
	assert.Contains(t, ta.out.String(), `"field": "status"`)
}

func TestMigrateRejectsMemoryStore(t *testing.T) {
	ta := newTestApp(t)
	assert.Error(t, ta.run(t, "migrate"))
}

func TestInvalidFormat(t *testing.T) {
	ta := newTestApp(t)
	assert.Error(t, ta.run(t, "version", "--format", "xml"))
}

func TestClientBuiltFromConfig(t *testing.T) {
	config := &Config{
		Store: StoreConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "fieldsync.db"), Migrate: true},
		Sync:  SyncConfig{BatchSize: 10, TriggeredBy: "test"},
		Cache: CacheConfig{Fresh: 1, Stale: 2},
	}
	a, err := New("dev", "", "", WithConfig(config), WithLogger(logging.NewNopLogger()), WithOutput(&bytes.Buffer{}))
	require.NoError(t, err)

	client, err := a.Client(context.Background())
	require.NoError(t, err)
	assert.True(t, client.Store().Capabilities().Lineage)

	again, err := a.Client(context.Background())
	require.NoError(t, err)
	assert.Same(t, client, again)

	require.NoError(t, a.Shutdown(context.Background()))
}
