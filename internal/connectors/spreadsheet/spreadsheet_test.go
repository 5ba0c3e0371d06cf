package spreadsheet_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/fieldsync/internal/connectors/spreadsheet"
	"github.com/agentstation/fieldsync/pkg/errors"
)

func writeWorkbook(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"Brands.csv": "\xef\xbb\xbfBrand tracker,,\n" +
			"Brand,Status,Revenue\n" +
			"Acme,Active,\"$1,200\"\n" +
			",,\n" +
			"Globex,Paused\n",
		"People.csv": "Name,Email\nFox Mulder,fox@example.com\n",
		"notes.txt":  "not a tab",
		".hidden.csv": "x\n",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func config(path string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"path": path})
	return b
}

func TestTabs(t *testing.T) {
	dir := writeWorkbook(t)
	c := spreadsheet.New()
	assert.True(t, c.Capabilities().HasTabs)

	tabs, err := c.Tabs(context.Background(), "", config(dir))
	require.NoError(t, err)
	require.Len(t, tabs, 2)
	assert.Equal(t, "Brands", tabs[0].Title)
	assert.Equal(t, 5, tabs[0].RowCount)
	assert.Equal(t, 3, tabs[0].ColumnCount)
	assert.Equal(t, "People", tabs[1].Title)
}

func TestRawRows(t *testing.T) {
	dir := writeWorkbook(t)
	raw, err := spreadsheet.New().RawRows(context.Background(), "", config(dir), "Brands", 2)
	require.NoError(t, err)
	assert.Equal(t, 5, raw.TotalRows)
	assert.Equal(t, [][]string{{"Brand tracker", "", ""}, {"Brand", "Status", "Revenue"}}, raw.Rows)
}

func TestDataUsesHeaderRow(t *testing.T) {
	dir := writeWorkbook(t)
	data, err := spreadsheet.New().Data(context.Background(), "", config(dir), "brands", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Brand", "Status", "Revenue"}, data.Headers)
	require.Len(t, data.Rows, 2)
	assert.Equal(t, []string{"Acme", "Active", "$1,200"}, data.Rows[0])
	assert.Equal(t, "", data.Cell(1, 2))

	_, err = spreadsheet.New().Data(context.Background(), "", config(dir), "Missing", 0)
	assert.True(t, errors.IsNotFound(err))
}

func TestSingleFileWorkbook(t *testing.T) {
	dir := writeWorkbook(t)
	c := spreadsheet.New()
	cfg := config(filepath.Join(dir, "People.csv"))

	tabs, err := c.Tabs(context.Background(), "", cfg)
	require.NoError(t, err)
	require.Len(t, tabs, 1)

	data, err := c.Data(context.Background(), "", cfg, "People", 0)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Fox Mulder", "fox@example.com"}}, data.Rows)
}

func TestDelimiter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Brands.tsv"), []byte("Brand\tStatus\nAcme\tActive\n"), 0o644))
	cfg := json.RawMessage(`{"path":"` + dir + `","delimiter":"\t","extension":".tsv"}`)

	data, err := spreadsheet.New().Data(context.Background(), "", cfg, "Brands", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Brand", "Status"}, data.Headers)
}

func TestTestConnection(t *testing.T) {
	c := spreadsheet.New()
	res := c.TestConnection(context.Background(), "", config(writeWorkbook(t)))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"Brands", "People"}, res.Details["tabs"])

	res = c.TestConnection(context.Background(), "", config("/does/not/exist"))
	assert.False(t, res.Success)

	assert.Error(t, c.ValidateConfig(json.RawMessage(`{}`)))
	assert.Error(t, c.ValidateConfig(json.RawMessage(`{"path":"x","delimiter":";;"}`)))
}
