package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/fieldsync/pkg/connectors"
	"github.com/agentstation/fieldsync/pkg/engine"
	"github.com/agentstation/fieldsync/pkg/models"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", "", false},
		{"JSON", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"table", FormatTable, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestColumnLetter(t *testing.T) {
	assert.Equal(t, "A", columnLetter(0))
	assert.Equal(t, "Z", columnLetter(25))
	assert.Equal(t, "AA", columnLetter(26))
	assert.Equal(t, "AB", columnLetter(27))
}

func TestTableFormatsJSONAsSource(t *testing.T) {
	tabs := []connectors.Tab{{ID: "Brands", Title: "Brands", RowCount: 3, ColumnCount: 4}}

	var buf bytes.Buffer
	require.NoError(t, NewFormatter(FormatJSON).Format(&buf, TabsTable(tabs)))
	assert.Contains(t, buf.String(), `"row_count": 3`)

	buf.Reset()
	require.NoError(t, NewFormatter(FormatYAML).Format(&buf, TabsTable(tabs)))
	assert.Contains(t, buf.String(), "title: Brands")

	buf.Reset()
	require.NoError(t, NewFormatter(FormatTable).Format(&buf, TabsTable(tabs)))
	assert.Contains(t, buf.String(), "Brands")
}

func TestResultsTable(t *testing.T) {
	table := ResultsTable([]*engine.Result{{
		TabMappingID: "tab-1",
		TabName:      "Brands",
		Success:      true,
		Status:       models.RunCompleted,
		DryRun:       true,
		Stats:        models.SyncStats{RowsProcessed: 4, RowsCreated: 2, RowsSkipped: 2, WeeklyCreated: 3},
		Duration:     1500 * time.Millisecond,
	}})
	require.Len(t, table.Rows, 1)
	assert.Equal(t, []string{"Brands", "completed (dry run)", "4", "2", "0", "2", "3/0", "0", "1.5s"}, table.Rows[0])
}

func TestRowsTablePadsShortRows(t *testing.T) {
	table := RowsTable(&connectors.RawRows{Rows: [][]string{{"Brand", "Status", "Tier"}, {"Acme"}}})
	assert.Equal(t, []string{"#", "A", "B", "C"}, table.Headers)
	assert.Equal(t, []string{"1", "Acme", "", ""}, table.Rows[1])
}

func TestReflectTable(t *testing.T) {
	type row struct {
		TabName string `json:"tab_name"`
		Count   int
		hidden  string
	}
	var buf bytes.Buffer
	require.NoError(t, (&TableFormatter{}).Format(&buf, []row{{TabName: "Brands", Count: 2, hidden: "x"}}))
	out := strings.ToUpper(buf.String())
	assert.Contains(t, out, "TAB NAME")
	assert.Contains(t, out, "BRANDS")
	assert.NotContains(t, out, "HIDDEN")
}
