package weekly_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/models"
	"github.com/agentstation/fieldsync/pkg/weekly"
)

func clock() time.Time { return time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC) }

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func pattern(id string, priority int, cfg string) models.ColumnPattern {
	return models.ColumnPattern{
		ID:          id,
		Category:    models.CategoryWeekly,
		MatchConfig: json.RawMessage(cfg),
		Priority:    priority,
		Active:      true,
	}
}

func TestColumnsNormalizeToMonday(t *testing.T) {
	d, err := weekly.NewDetector([]models.ColumnPattern{pattern("dates", 10, `{"type":"date"}`)}, clock)
	require.NoError(t, err)

	cols := d.Columns([]string{"Brand", "Status", "1/6", "1/13"}, nil)
	require.Len(t, cols, 2)

	assert.Equal(t, 2, cols[0].Index)
	assert.Equal(t, date(2026, 1, 5), cols[0].WeekStart)
	assert.Equal(t, 2026, cols[0].ISOYear)
	assert.Equal(t, 2, cols[0].ISOWeek)
	assert.Equal(t, "dates", cols[0].PatternID)

	assert.Equal(t, date(2026, 1, 12), cols[1].WeekStart)
	assert.Equal(t, 3, cols[1].ISOWeek)
}

func TestColumnsAcceptISOAndUSFormats(t *testing.T) {
	d, err := weekly.NewDetector([]models.ColumnPattern{pattern("dates", 1, `{}`)}, clock)
	require.NoError(t, err)

	cols := d.Columns([]string{"2026-01-07", "01/14/2026", "Notes"}, map[int]bool{})
	require.Len(t, cols, 2)
	assert.Equal(t, date(2026, 1, 5), cols[0].WeekStart)
	assert.Equal(t, date(2026, 1, 12), cols[1].WeekStart)
}

func TestColumnsSkipIndexes(t *testing.T) {
	d, err := weekly.NewDetector([]models.ColumnPattern{pattern("dates", 1, `{"type":"date"}`)}, clock)
	require.NoError(t, err)

	cols := d.Columns([]string{"1/6", "1/13"}, map[int]bool{0: true})
	require.Len(t, cols, 1)
	assert.Equal(t, 1, cols[0].Index)
}

func TestHighestPriorityPatternClaimsHeader(t *testing.T) {
	d, err := weekly.NewDetector([]models.ColumnPattern{
		pattern("low", 1, `{"type":"date"}`),
		pattern("high", 5, `{"type":"regex","pattern":"^Week of (.+)$","case_insensitive":true}`),
	}, clock)
	require.NoError(t, err)

	cols := d.Columns([]string{"week of 1/20", "1/27"}, nil)
	require.Len(t, cols, 2)
	assert.Equal(t, "high", cols[0].PatternID)
	assert.Equal(t, date(2026, 1, 19), cols[0].WeekStart)
	assert.Equal(t, "low", cols[1].PatternID)
}

func TestGlobWithTrim(t *testing.T) {
	d, err := weekly.NewDetector([]models.ColumnPattern{
		pattern("we", 1, `{"type":"glob","pattern":"WE *","trim":"WE"}`),
	}, clock)
	require.NoError(t, err)

	cols := d.Columns([]string{"WE 2026-01-11", "2026-01-11"}, nil)
	require.Len(t, cols, 1)
	assert.Equal(t, date(2026, 1, 5), cols[0].WeekStart)
}

func TestInactiveAndOtherCategoriesIgnored(t *testing.T) {
	inactive := pattern("off", 9, `{"type":"date"}`)
	inactive.Active = false
	other := pattern("other", 9, `{"type":"date"}`)
	other.Category = models.CategoryComputed

	d, err := weekly.NewDetector([]models.ColumnPattern{inactive, other}, clock)
	require.NoError(t, err)
	assert.True(t, d.Empty())
	assert.Empty(t, d.Columns([]string{"1/6"}, nil))
}

func TestBadMatchConfigIsConfigError(t *testing.T) {
	for _, cfg := range []string{`{"type":"xml"}`, `{"type":"regex"}`, `{"type":"regex","pattern":"("}`, `{bad`} {
		_, err := weekly.NewDetector([]models.ColumnPattern{pattern("p", 1, cfg)}, clock)
		assert.True(t, errors.IsConfigError(err), cfg)
	}
}

func TestMonday(t *testing.T) {
	assert.Equal(t, date(2026, 1, 5), weekly.Monday(date(2026, 1, 5)))
	assert.Equal(t, date(2026, 1, 5), weekly.Monday(date(2026, 1, 11)))
	assert.Equal(t, date(2025, 12, 29), weekly.Monday(date(2026, 1, 1)))
	assert.Equal(t, "2026-01-05", weekly.Key(date(2026, 1, 5)))
}
