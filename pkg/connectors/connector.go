// Package connectors defines the contract every source adapter implements,
// the registry that resolves adapters by kind, and a stale-while-revalidate
// cache for connectors that query metered backends.
//
// Two shapes exist. Tabular connectors expose tabs, raw row previews and
// header+rows data. Non-tabular connectors declare HasTabs false, embed
// NonTabular, and offer their own domain methods instead. Callers branch on
// Capabilities rather than on empty results.
package connectors

import (
	"context"
	"encoding/json"

	"github.com/agentstation/fieldsync/pkg/errors"
)

// Kind identifies a source kind, e.g. "spreadsheet" or "warehouse".
type Kind string

// String returns the kind as a string.
func (k Kind) String() string { return string(k) }

// Credential is the opaque token passed through to a connector. Its shape
// (OAuth token, DSN, bot token) is known only to the connector.
type Credential string

// String redacts the credential so it never reaches logs.
func (c Credential) String() string {
	if c == "" {
		return ""
	}
	return "[redacted]"
}

// Capabilities describes what a connector supports.
type Capabilities struct {
	HasTabs         bool `json:"has_tabs" yaml:"has_tabs"`
	Search          bool `json:"search" yaml:"search"`
	RealTimeSync    bool `json:"real_time_sync" yaml:"real_time_sync"`
	IncrementalSync bool `json:"incremental_sync" yaml:"incremental_sync"`
	WriteBack       bool `json:"write_back" yaml:"write_back"`
}

// Tab is one discoverable table within a source.
type Tab struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	RowCount    int    `json:"row_count" yaml:"row_count"`
	ColumnCount int    `json:"column_count" yaml:"column_count"`
}

// RawRows is a header-agnostic preview of a tab.
type RawRows struct {
	Rows      [][]string `json:"rows" yaml:"rows"`
	TotalRows int        `json:"total_rows" yaml:"total_rows"`
}

// Data is a tab read with a confirmed header row.
type Data struct {
	Headers []string   `json:"headers" yaml:"headers"`
	Rows    [][]string `json:"rows" yaml:"rows"`
}

// Cell returns row[col], or "" when the row is short.
func (d *Data) Cell(row, col int) string {
	if row < 0 || row >= len(d.Rows) || col < 0 || col >= len(d.Rows[row]) {
		return ""
	}
	return d.Rows[row][col]
}

// TestResult is the outcome of a connection test.
type TestResult struct {
	Success bool           `json:"success" yaml:"success"`
	Error   string         `json:"error,omitempty" yaml:"error,omitempty"`
	Details map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

// SearchResult is one item found by a discovery search.
type SearchResult struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`
	Kind  string `json:"kind,omitempty" yaml:"kind,omitempty"`
	URL   string `json:"url,omitempty" yaml:"url,omitempty"`
}

// Connector normalizes one external source kind.
type Connector interface {
	// Kind returns the source kind this connector serves.
	Kind() Kind

	// Capabilities describes the connector's shape.
	Capabilities() Capabilities

	// ValidateConfig checks a connection configuration blob.
	ValidateConfig(cfg json.RawMessage) error

	// Tabs lists the tabs of a source.
	Tabs(ctx context.Context, cred Credential, cfg json.RawMessage) ([]Tab, error)

	// RawRows returns up to maxRows rows without assuming a header.
	RawRows(ctx context.Context, cred Credential, cfg json.RawMessage, tab string, maxRows int) (*RawRows, error)

	// Data returns headers and rows, taking the header from row headerRow (0-based).
	Data(ctx context.Context, cred Credential, cfg json.RawMessage, tab string, headerRow int) (*Data, error)

	// TestConnection checks that the source is reachable with the credential.
	TestConnection(ctx context.Context, cred Credential, cfg json.RawMessage) TestResult
}

// Searcher is implemented by connectors that support discovery. An empty
// query lists recent items.
type Searcher interface {
	Search(ctx context.Context, cred Credential, cfg json.RawMessage, query string) ([]SearchResult, error)
}

// NonTabular is embedded by connectors without tabs. Its tabular methods
// fail with errors.ErrNotTabular so misuse is never a silent no-op.
type NonTabular struct{}

// Tabs implements Connector.
func (NonTabular) Tabs(context.Context, Credential, json.RawMessage) ([]Tab, error) {
	return nil, errors.ErrNotTabular
}

// RawRows implements Connector.
func (NonTabular) RawRows(context.Context, Credential, json.RawMessage, string, int) (*RawRows, error) {
	return nil, errors.ErrNotTabular
}

// Data implements Connector.
func (NonTabular) Data(context.Context, Credential, json.RawMessage, string, int) (*Data, error) {
	return nil, errors.ErrNotTabular
}

// SplitHeader turns a raw grid into Data using row headerRow as the header.
// Rows above the header are dropped, and fully empty rows are skipped.
func SplitHeader(rows [][]string, headerRow int) (*Data, error) {
	if headerRow < 0 {
		return nil, errors.NewValidationError("header_row", headerRow, "must not be negative")
	}
	if headerRow >= len(rows) {
		return &Data{Headers: []string{}, Rows: [][]string{}}, nil
	}
	data := &Data{Headers: rows[headerRow], Rows: make([][]string, 0, len(rows)-headerRow-1)}
	for _, row := range rows[headerRow+1:] {
		if blank(row) {
			continue
		}
		data.Rows = append(data.Rows, row)
	}
	return data, nil
}

func blank(row []string) bool {
	for _, cell := range row {
		if cell != "" {
			return false
		}
	}
	return true
}
