package transforms

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

func identity(raw string) (any, bool) { return raw, true }

func trim(raw string) (any, bool) { return strings.TrimSpace(raw), true }

func lowercase(raw string) (any, bool) { return strings.ToLower(strings.TrimSpace(raw)), true }

func uppercase(raw string) (any, bool) { return strings.ToUpper(strings.TrimSpace(raw)), true }

func titlecase(raw string) (any, bool) {
	return cases.Title(language.Und).String(strings.TrimSpace(raw)), true
}

func parseJSON(raw string) (any, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// DateFormat is the layout date transforms produce.
const DateFormat = "2006-01-02"

type dateConfig struct {
	Layouts []string `json:"layouts" validate:"dive,required"`
}

func (r *Registry) dateFactory(cfg json.RawMessage) (Transform, error) {
	var c dateConfig
	if err := r.decode(cfg, &c); err != nil {
		return nil, err
	}
	now := r.now
	return Func(func(raw string) (any, bool) {
		s := strings.TrimSpace(raw)
		for _, layout := range c.Layouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Format(DateFormat), true
			}
		}
		t, ok := ParseDate(s, now())
		if !ok {
			return nil, false
		}
		return t.Format(DateFormat), true
	}), nil
}

var dateLayouts = []string{
	DateFormat,
	time.RFC3339,
	"1/2/2006",
	"1/2/06",
	"1-2-2006",
}

// ParseDate parses ISO (YYYY-MM-DD), MM/DD/YYYY and bare M/D dates. A bare
// M/D takes its year from now. The result is midnight UTC.
func ParseDate(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	month, day, ok := strings.Cut(s, "/")
	if !ok || strings.Contains(day, "/") {
		return time.Time{}, false
	}
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return time.Time{}, false
	}
	d, err := strconv.Atoi(day)
	if err != nil || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(now.Year(), time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d {
		// e.g. 2/30 rolled into March
		return time.Time{}, false
	}
	return t, true
}

type currencyConfig struct {
	MinorUnits bool `json:"minor_units"`
}

var currencyCode = regexp.MustCompile(`^[A-Z]{3}\s*|\s*[A-Z]{3}$`)

func (r *Registry) currencyFactory(cfg json.RawMessage) (Transform, error) {
	var c currencyConfig
	if err := r.decode(cfg, &c); err != nil {
		return nil, err
	}
	return Func(func(raw string) (any, bool) {
		f, ok := parseCurrency(raw)
		if !ok {
			return nil, false
		}
		if c.MinorUnits {
			n, ok := toInt64(math.Round(f * 100))
			if !ok {
				return nil, false
			}
			return n, true
		}
		return f, true
	}), nil
}

func parseCurrency(raw string) (float64, bool) {
	s := currencyCode.ReplaceAllString(strings.TrimSpace(raw), "")
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	var b strings.Builder
	for _, ch := range s {
		switch {
		case ch >= '0' && ch <= '9', ch == '.':
			b.WriteRune(ch)
		case ch == ',', unicode.IsSpace(ch), unicode.Is(unicode.Sc, ch):
		case ch == '-' && b.Len() == 0 && !negative:
			negative = true
		default:
			return 0, false
		}
	}
	f, err := strconv.ParseFloat(b.String(), 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	if negative {
		f = -f
	}
	return f, true
}

type booleanConfig struct {
	Default     *bool    `json:"default"`
	TrueValues  []string `json:"true_values"`
	FalseValues []string `json:"false_values"`
}

var (
	truthy = []string{"true", "t", "yes", "y", "1", "on", "x", "checked", "✓", "✔"}
	falsy  = []string{"false", "f", "no", "n", "0", "off", "unchecked"}
)

func (r *Registry) booleanFactory(cfg json.RawMessage) (Transform, error) {
	var c booleanConfig
	if err := r.decode(cfg, &c); err != nil {
		return nil, err
	}
	vocab := make(map[string]bool, len(truthy)+len(falsy))
	for _, v := range truthy {
		vocab[v] = true
	}
	for _, v := range falsy {
		vocab[v] = false
	}
	for _, v := range c.TrueValues {
		vocab[strings.ToLower(strings.TrimSpace(v))] = true
	}
	for _, v := range c.FalseValues {
		vocab[strings.ToLower(strings.TrimSpace(v))] = false
	}
	return Func(func(raw string) (any, bool) {
		if b, ok := vocab[strings.ToLower(strings.TrimSpace(raw))]; ok {
			return b, true
		}
		if c.Default != nil {
			return *c.Default, true
		}
		return nil, false
	}), nil
}

type numberConfig struct {
	Mode string `json:"mode" validate:"omitempty,oneof=int float"`
}

func (r *Registry) numberFactory(cfg json.RawMessage) (Transform, error) {
	var c numberConfig
	if err := r.decode(cfg, &c); err != nil {
		return nil, err
	}
	return Func(func(raw string) (any, bool) {
		s := strings.NewReplacer(",", "", " ", "", "_", "").Replace(strings.TrimSpace(raw))
		if s == "" {
			return nil, false
		}
		if c.Mode == "int" {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n, true
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil || f != math.Trunc(f) {
				return nil, false
			}
			n, ok := toInt64(f)
			if !ok {
				return nil, false
			}
			return n, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, false
		}
		return f, true
	}), nil
}

// toInt64 converts f when it fits in an int64. 2^63 itself does not.
func toInt64(f float64) (int64, bool) {
	if math.IsNaN(f) || f >= 1<<63 || f < -1<<63 {
		return 0, false
	}
	return int64(f), true
}

type listConfig struct {
	Separator string `json:"separator"`
}

func (r *Registry) listFactory(cfg json.RawMessage) (Transform, error) {
	var c listConfig
	if err := r.decode(cfg, &c); err != nil {
		return nil, err
	}
	sep := c.Separator
	if sep == "" {
		sep = ","
	}
	return Func(func(raw string) (any, bool) {
		items := make([]string, 0)
		for _, part := range strings.Split(raw, sep) {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		if len(items) == 0 {
			return nil, false
		}
		return items, true
	}), nil
}

type mapConfig struct {
	Values  map[string]any `json:"values" validate:"required,min=1"`
	Default any            `json:"default"`
}

func (r *Registry) mapFactory(cfg json.RawMessage) (Transform, error) {
	var c mapConfig
	if err := r.decode(cfg, &c); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(c.Values))
	for k := range c.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Func(func(raw string) (any, bool) {
		s := strings.TrimSpace(raw)
		if v, ok := c.Values[s]; ok {
			return v, true
		}
		for _, k := range keys {
			if strings.EqualFold(k, s) {
				return c.Values[k], true
			}
		}
		if c.Default != nil {
			return c.Default, true
		}
		return nil, false
	}), nil
}
