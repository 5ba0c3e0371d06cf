package output

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agentstation/fieldsync/pkg/connectors"
	"github.com/agentstation/fieldsync/pkg/engine"
	"github.com/agentstation/fieldsync/pkg/fields"
	"github.com/agentstation/fieldsync/pkg/models"
)

// ResultsTable summarizes sync results, one row per tab.
func ResultsTable(results []*engine.Result) Table {
	t := Table{
		Headers:   []string{"Tab", "Status", "Processed", "Created", "Updated", "Skipped", "Weekly", "Issues", "Duration"},
		Alignment: []Align{AlignLeft, AlignLeft, AlignRight, AlignRight, AlignRight, AlignRight, AlignRight, AlignRight, AlignRight},
		Source:    results,
	}
	for _, r := range results {
		name := r.TabName
		if name == "" {
			name = r.TabMappingID
		}
		status := string(r.Status)
		if r.DryRun {
			status += " (dry run)"
		}
		if !r.Success && r.Error != "" {
			status += ": " + r.Error
		}
		t.Rows = append(t.Rows, []string{
			name,
			status,
			strconv.Itoa(r.Stats.RowsProcessed),
			strconv.Itoa(r.Stats.RowsCreated),
			strconv.Itoa(r.Stats.RowsUpdated),
			strconv.Itoa(r.Stats.RowsSkipped),
			fmt.Sprintf("%d/%d", r.Stats.WeeklyCreated, r.Stats.WeeklyUpdated),
			strconv.Itoa(len(r.Stats.Errors)),
			r.Duration.Round(time.Millisecond).String(),
		})
	}
	return t
}

// ChangesTable lists the computed changes of a run.
func ChangesTable(changes []models.EntityChange) Table {
	t := Table{
		Headers:   []string{"Row", "Change", "Key", "Fields", "Reason"},
		Alignment: []Align{AlignRight, AlignLeft, AlignLeft, AlignLeft, AlignLeft},
		Source:    changes,
	}
	for _, c := range changes {
		names := make([]string, 0, len(c.Fields))
		for name := range c.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(c.Row),
			string(c.Type),
			c.KeyValue,
			strings.Join(names, ", "),
			c.Reason,
		})
	}
	return t
}

// IssuesTable lists row-level warnings and errors.
func IssuesTable(issues []models.RowError) Table {
	t := Table{
		Headers:   []string{"Row", "Column", "Severity", "Message"},
		Alignment: []Align{AlignRight, AlignLeft, AlignLeft, AlignLeft},
		Source:    issues,
	}
	for _, e := range issues {
		row := ""
		if e.Row > 0 {
			row = strconv.Itoa(e.Row)
		}
		t.Rows = append(t.Rows, []string{row, e.Column, string(e.Severity), e.Message})
	}
	return t
}

// ConnectorInfo describes a registered connector.
type ConnectorInfo struct {
	Kind         connectors.Kind         `json:"kind" yaml:"kind"`
	Capabilities connectors.Capabilities `json:"capabilities" yaml:"capabilities"`
}

// ConnectorsTable lists registered connectors and what they can do.
func ConnectorsTable(infos []ConnectorInfo) Table {
	t := Table{
		Headers: []string{"Kind", "Tabs", "Search", "Real-time", "Incremental", "Write-back"},
		Source:  infos,
	}
	for _, c := range infos {
		t.Rows = append(t.Rows, []string{
			string(c.Kind),
			yesNo(c.Capabilities.HasTabs),
			yesNo(c.Capabilities.Search),
			yesNo(c.Capabilities.RealTimeSync),
			yesNo(c.Capabilities.IncrementalSync),
			yesNo(c.Capabilities.WriteBack),
		})
	}
	return t
}

// TabsTable lists the tabs of a data source.
func TabsTable(tabs []connectors.Tab) Table {
	t := Table{
		Headers:   []string{"ID", "Title", "Rows", "Columns"},
		Alignment: []Align{AlignLeft, AlignLeft, AlignRight, AlignRight},
		Source:    tabs,
	}
	for _, tab := range tabs {
		t.Rows = append(t.Rows, []string{tab.ID, tab.Title, strconv.Itoa(tab.RowCount), strconv.Itoa(tab.ColumnCount)})
	}
	return t
}

// RowsTable shows raw rows with their 0-based row numbers, so the header
// row can be picked from the preview.
func RowsTable(raw *connectors.RawRows) Table {
	width := 0
	for _, r := range raw.Rows {
		width = max(width, len(r))
	}
	t := Table{Headers: []string{"#"}, Source: raw}
	for i := 0; i < width; i++ {
		t.Headers = append(t.Headers, columnLetter(i))
	}
	for i, r := range raw.Rows {
		row := make([]string, width+1)
		row[0] = strconv.Itoa(i)
		copy(row[1:], r)
		t.Rows = append(t.Rows, row)
	}
	return t
}

// columnLetter returns the spreadsheet column name of index i (A, B, ... AA).
func columnLetter(i int) string {
	name := ""
	for i >= 0 {
		name = string(rune('A'+i%26)) + name
		i = i/26 - 1
	}
	return name
}

// FieldsTable lists the fields of one entity kind.
func FieldsTable(kind string, fs []fields.Field) Table {
	t := Table{
		Headers: []string{"Kind", "Field", "Label", "Type", "Group", "Key", "Reference"},
		Source:  fs,
	}
	for _, f := range fs {
		ref := ""
		if f.Reference != nil {
			ref = fmt.Sprintf("%s.%s (%s)", f.Reference.Entity, f.Reference.MatchField, f.Reference.Storage)
		}
		t.Rows = append(t.Rows, []string{kind, f.Name, f.Label, string(f.Type), f.Group, yesNo(f.Key), ref})
	}
	return t
}

// LineageTable lists where each field of an entity last came from.
func LineageTable(entries []models.FieldLineageEntry) Table {
	t := Table{
		Headers: []string{"Field", "Source", "Previous", "New", "Run", "Recorded"},
		Source:  entries,
	}
	for _, e := range entries {
		t.Rows = append(t.Rows, []string{
			e.Field,
			e.SourceRef,
			cellValue(e.PreviousValue),
			cellValue(e.NewValue),
			e.SyncRunID,
			e.RecordedAt.UTC().Format(time.RFC3339),
		})
	}
	return t
}

func cellValue(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
