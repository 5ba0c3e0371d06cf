package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		pattern     string
		patternType PatternType
		wantType    PatternType
		wantErr     bool
	}{
		{"glob", "Week *", Glob, Glob, false},
		{"regex", `^Week of (.+)$`, Regex, Regex, false},
		{"invalid regex", "[unclosed", Regex, Regex, true},
		{"invalid glob", "[", Glob, Glob, true},
		{"auto glob", "W*", Auto, Glob, false},
		{"auto regex", `^\d+/\d+$`, Auto, Regex, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.patternType, tt.pattern, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, m.Type())
			assert.Equal(t, tt.pattern, m.Pattern())
		})
	}
}

func TestExtract(t *testing.T) {
	m, err := New(Regex, `week of (.+)`, &Options{CaseInsensitive: true, Anchored: true})
	require.NoError(t, err)

	got, ok := m.Extract("  Week of 1/6 ")
	assert.True(t, ok)
	assert.Equal(t, "1/6", got)

	_, ok = m.Extract("Status")
	assert.False(t, ok)

	whole, err := New(Regex, `^\d{1,2}/\d{1,2}$`, nil)
	require.NoError(t, err)
	got, ok = whole.Extract("1/13")
	assert.True(t, ok)
	assert.Equal(t, "1/13", got)
}

func TestGlobCaseInsensitive(t *testing.T) {
	m, err := New(Glob, "WK *", &Options{CaseInsensitive: true})
	require.NoError(t, err)
	assert.True(t, m.Match("wk 2026-01-05"))
	assert.False(t, m.Match("Status"))
}

func TestParseType(t *testing.T) {
	for in, want := range map[string]PatternType{"glob": Glob, "REGEX": Regex, "": Auto, "auto": Auto} {
		got, err := ParseType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseType("xpath")
	assert.Error(t, err)
	assert.Equal(t, "regex", Regex.String())
}
