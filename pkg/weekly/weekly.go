// Package weekly detects week-anchored date columns in a wide sheet and
// normalizes their headers to the Monday of the week they name.
package weekly

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/agentstation/fieldsync/internal/matcher"
	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/models"
	"github.com/agentstation/fieldsync/pkg/transforms"
)

// Column is one live header recognized as a week.
type Column struct {
	Index     int       `json:"index"`
	Header    string    `json:"header"`
	WeekStart time.Time `json:"week_start"`
	ISOYear   int       `json:"iso_year"`
	ISOWeek   int       `json:"iso_week"`
	PatternID string    `json:"pattern_id,omitempty"`
}

// MatchConfig is the match configuration of a weekly ColumnPattern.
//
//	{"type": "date"}                                   header parses as a date
//	{"type": "regex", "pattern": "^Week of (.+)$"}     capture group 1 parses as a date
//	{"type": "glob", "pattern": "WE *", "trim": "WE"}       header minus trim parses as a date
type MatchConfig struct {
	Type            string `json:"type" validate:"omitempty,oneof=date regex glob"`
	Pattern         string `json:"pattern" validate:"required_unless=Type date"`
	Trim            string `json:"trim"`
	CaseInsensitive bool   `json:"case_insensitive"`
}

var validate = validator.New()

// ParseMatchConfig decodes and validates a pattern's match configuration.
func ParseMatchConfig(raw json.RawMessage) (MatchConfig, error) {
	var c MatchConfig
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &c); err != nil {
			return c, errors.WrapParse("json", "match_config", err)
		}
	}
	if c.Type == "" {
		c.Type = "date"
	}
	if err := validate.Struct(c); err != nil {
		return c, errors.WrapValidation("match_config", err)
	}
	return c, nil
}

type rule struct {
	pattern models.ColumnPattern
	match   matcher.Matcher // nil for plain date rules
	trim    string
}

// Detector finds weekly columns using the active weekly patterns, tried in
// descending priority.
type Detector struct {
	rules []rule
	now   func() time.Time
}

// NewDetector compiles the active weekly patterns. Patterns of other
// categories are ignored. A pattern with a bad match configuration is a
// configuration error.
func NewDetector(patterns []models.ColumnPattern, now func() time.Time) (*Detector, error) {
	if now == nil {
		now = time.Now
	}
	sorted := make([]models.ColumnPattern, 0, len(patterns))
	for _, p := range patterns {
		if p.Active && p.Category == models.CategoryWeekly {
			sorted = append(sorted, p)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	d := &Detector{now: now}
	for _, p := range sorted {
		cfg, err := ParseMatchConfig(p.MatchConfig)
		if err != nil {
			return nil, errors.NewConfigError("column pattern "+p.ID, "", err)
		}
		r := rule{pattern: p, trim: cfg.Trim}
		if cfg.Type != "date" {
			pt, _ := matcher.ParseType(cfg.Type)
			m, err := matcher.New(pt, cfg.Pattern, &matcher.Options{CaseInsensitive: cfg.CaseInsensitive})
			if err != nil {
				return nil, errors.NewConfigError("column pattern "+p.ID, "", err)
			}
			r.match = m
		}
		d.rules = append(d.rules, r)
	}
	return d, nil
}

// Empty reports whether the detector has no weekly patterns.
func (d *Detector) Empty() bool { return len(d.rules) == 0 }

// Columns returns the weekly columns among headers, skipping indexes in skip.
// Each header is claimed by the highest-priority pattern that matches it.
func (d *Detector) Columns(headers []string, skip map[int]bool) []Column {
	var cols []Column
	for i, h := range headers {
		if skip[i] {
			continue
		}
		for _, r := range d.rules {
			text := h
			if r.match != nil {
				var ok bool
				if text, ok = r.match.Extract(h); !ok {
					continue
				}
			}
			if r.trim != "" {
				text = trimPrefix(text, r.trim)
			}
			if col, ok := d.Column(i, h, text); ok {
				col.PatternID = r.pattern.ID
				cols = append(cols, col)
				break
			}
		}
	}
	return cols
}

// Column builds a Column from header text naming a date.
func (d *Detector) Column(index int, header, text string) (Column, bool) {
	t, ok := transforms.ParseDate(text, d.now())
	if !ok {
		return Column{}, false
	}
	start := Monday(t)
	year, week := start.ISOWeek()
	return Column{Index: index, Header: header, WeekStart: start, ISOYear: year, ISOWeek: week}, true
}

// Monday returns midnight UTC of the Monday on or before t.
func Monday(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	d := t.AddDate(0, 0, -offset)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// Key formats a week start for use as a map key or display value.
func Key(weekStart time.Time) string {
	return weekStart.Format(transforms.DateFormat)
}

func trimPrefix(s, prefix string) string {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return strings.TrimSpace(s[len(prefix):])
	}
	return s
}
