// Package spreadsheet reads workbooks exported as CSV. A workbook is either
// a directory holding one CSV file per tab or a single CSV file, which is a
// workbook with one tab named after the file.
package spreadsheet

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agentstation/fieldsync/pkg/connectors"
	"github.com/agentstation/fieldsync/pkg/errors"
)

// Kind is the connector kind.
const Kind connectors.Kind = "spreadsheet"

var bom = []byte("\xef\xbb\xbf")

// Config is the connection configuration.
type Config struct {
	Path      string `json:"path" validate:"required"`
	Delimiter string `json:"delimiter" validate:"omitempty,len=1"`
	Extension string `json:"extension" validate:"omitempty,startswith=."`
}

func (c Config) comma() rune {
	if c.Delimiter == "" {
		return ','
	}
	r, _ := utf8.DecodeRuneInString(c.Delimiter)
	return r
}

func (c Config) ext() string {
	if c.Extension == "" {
		return ".csv"
	}
	return strings.ToLower(c.Extension)
}

// Connector implements connectors.Connector over CSV files.
type Connector struct{}

var _ connectors.Connector = (*Connector)(nil)

// New creates a spreadsheet connector.
func New() *Connector { return &Connector{} }

// Kind implements connectors.Connector.
func (c *Connector) Kind() connectors.Kind { return Kind }

// Capabilities implements connectors.Connector.
func (c *Connector) Capabilities() connectors.Capabilities {
	return connectors.Capabilities{HasTabs: true}
}

// ValidateConfig implements connectors.Connector.
func (c *Connector) ValidateConfig(cfg json.RawMessage) error {
	_, err := connectors.ParseConfig[Config](Kind, cfg)
	return err
}

// Tabs implements connectors.Connector. Tabs are listed by title.
func (c *Connector) Tabs(ctx context.Context, _ connectors.Credential, raw json.RawMessage) ([]connectors.Tab, error) {
	cfg, err := connectors.ParseConfig[Config](Kind, raw)
	if err != nil {
		return nil, err
	}
	files, err := workbook(cfg)
	if err != nil {
		return nil, err
	}
	tabs := make([]connectors.Tab, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := readFile(f.path, cfg.comma())
		if err != nil {
			return nil, err
		}
		width := 0
		for _, r := range rows {
			width = max(width, len(r))
		}
		tabs = append(tabs, connectors.Tab{ID: f.title, Title: f.title, RowCount: len(rows), ColumnCount: width})
	}
	return tabs, nil
}

// RawRows implements connectors.Connector.
func (c *Connector) RawRows(_ context.Context, _ connectors.Credential, raw json.RawMessage, tab string, maxRows int) (*connectors.RawRows, error) {
	rows, err := c.read(raw, tab)
	if err != nil {
		return nil, err
	}
	out := &connectors.RawRows{Rows: rows, TotalRows: len(rows)}
	if maxRows > 0 && len(rows) > maxRows {
		out.Rows = rows[:maxRows]
	}
	return out, nil
}

// Data implements connectors.Connector.
func (c *Connector) Data(_ context.Context, _ connectors.Credential, raw json.RawMessage, tab string, headerRow int) (*connectors.Data, error) {
	rows, err := c.read(raw, tab)
	if err != nil {
		return nil, err
	}
	return connectors.SplitHeader(rows, headerRow)
}

// TestConnection implements connectors.Connector.
func (c *Connector) TestConnection(_ context.Context, _ connectors.Credential, raw json.RawMessage) connectors.TestResult {
	cfg, err := connectors.ParseConfig[Config](Kind, raw)
	if err != nil {
		return connectors.TestResult{Error: err.Error()}
	}
	files, err := workbook(cfg)
	if err != nil {
		return connectors.TestResult{Error: err.Error()}
	}
	titles := make([]string, 0, len(files))
	for _, f := range files {
		titles = append(titles, f.title)
	}
	return connectors.TestResult{Success: true, Details: map[string]any{"path": cfg.Path, "tabs": titles}}
}

func (c *Connector) read(raw json.RawMessage, tab string) ([][]string, error) {
	cfg, err := connectors.ParseConfig[Config](Kind, raw)
	if err != nil {
		return nil, err
	}
	files, err := workbook(cfg)
	if err != nil {
		return nil, err
	}
	f, ok := find(files, tab)
	if !ok {
		return nil, errors.NewNotFoundError("tab", tab)
	}
	return readFile(f.path, cfg.comma())
}

type file struct {
	title string
	path  string
}

// workbook lists the tab files of the configured path.
func workbook(cfg Config) ([]file, error) {
	info, err := os.Stat(cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("workbook", cfg.Path)
		}
		return nil, errors.WrapResource("stat", "workbook", cfg.Path, err)
	}
	if !info.IsDir() {
		return []file{{title: title(cfg.Path), path: cfg.Path}}, nil
	}

	entries, err := os.ReadDir(cfg.Path)
	if err != nil {
		return nil, errors.WrapResource("read", "workbook", cfg.Path, err)
	}
	var files []file
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || strings.ToLower(filepath.Ext(e.Name())) != cfg.ext() {
			continue
		}
		files = append(files, file{title: title(e.Name()), path: filepath.Join(cfg.Path, e.Name())})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].title < files[j].title })
	return files, nil
}

func title(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// find matches a tab title exactly, then case-insensitively.
func find(files []file, tab string) (file, bool) {
	for _, f := range files {
		if f.title == tab {
			return f, true
		}
	}
	for _, f := range files {
		if strings.EqualFold(f.title, strings.TrimSpace(tab)) {
			return f, true
		}
	}
	return file{}, false
}

func readFile(path string, comma rune) ([][]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapResource("read", "tab", path, err)
	}
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(b, bom)))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WrapParse("csv", path, err)
		}
		rows = append(rows, rec)
	}
	if rows == nil {
		rows = [][]string{}
	}
	return rows, nil
}
