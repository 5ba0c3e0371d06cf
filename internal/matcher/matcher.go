// Package matcher matches column headers against glob and regex patterns.
// Patterns come from column pattern configurations, so they are compiled
// once per run and then applied to every live header.
package matcher

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// PatternType represents the type of pattern matching to use.
type PatternType int

const (
	// Glob uses shell-style glob patterns (*, ?, []).
	Glob PatternType = iota
	// Regex uses regular expressions.
	Regex
	// Auto detects the pattern type from its metacharacters.
	Auto
)

// Matcher matches headers against one compiled pattern.
type Matcher interface {
	// Match reports whether the header matches.
	Match(header string) bool
	// Extract returns the part of the header the pattern captured. Regex
	// patterns with a capture group return group 1; everything else returns
	// the whole header.
	Extract(header string) (string, bool)
	// Pattern returns the original pattern string.
	Pattern() string
	// Type returns the pattern type in use.
	Type() PatternType
}

// Options configures matching.
type Options struct {
	// CaseInsensitive makes matching case-insensitive
	CaseInsensitive bool
	// Anchored adds ^ and $ to regex patterns if not present
	Anchored bool
}

type matcher struct {
	pattern         string
	patternType     PatternType
	compiled        *regexp.Regexp
	globPattern     string
	caseInsensitive bool
}

// New compiles a pattern.
func New(patternType PatternType, pattern string, opts *Options) (Matcher, error) {
	if opts == nil {
		opts = &Options{}
	}
	m := &matcher{
		pattern:         pattern,
		patternType:     patternType,
		caseInsensitive: opts.CaseInsensitive,
	}
	if patternType == Auto {
		m.patternType = detectPatternType(pattern)
	}

	switch m.patternType {
	case Glob:
		m.globPattern = pattern
		if opts.CaseInsensitive {
			m.globPattern = strings.ToLower(pattern)
		}
		if _, err := filepath.Match(m.globPattern, ""); err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
		}
	case Regex:
		expr := pattern
		if opts.Anchored {
			if !strings.HasPrefix(expr, "^") {
				expr = "^" + expr
			}
			if !strings.HasSuffix(expr, "$") {
				expr += "$"
			}
		}
		if opts.CaseInsensitive && !strings.HasPrefix(expr, "(?i)") {
			expr = "(?i)" + expr
		}
		compiled, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
		}
		m.compiled = compiled
	default:
		return nil, fmt.Errorf("unsupported pattern type: %v", patternType)
	}
	return m, nil
}

func (m *matcher) Match(header string) bool {
	_, ok := m.Extract(header)
	return ok
}

func (m *matcher) Extract(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if m.patternType == Glob {
		input := header
		if m.caseInsensitive {
			input = strings.ToLower(header)
		}
		ok, _ := filepath.Match(m.globPattern, input)
		return header, ok
	}

	groups := m.compiled.FindStringSubmatch(header)
	if groups == nil {
		return "", false
	}
	if len(groups) > 1 {
		return strings.TrimSpace(groups[1]), true
	}
	return header, true
}

func (m *matcher) Pattern() string { return m.pattern }

func (m *matcher) Type() PatternType { return m.patternType }

// detectPatternType guesses glob or regex from the metacharacters present.
func detectPatternType(pattern string) PatternType {
	for _, indicator := range []string{"^", "$", `\d`, `\w`, `\s`, "(?", "{", "}", "+", "|", "(", ")"} {
		if strings.Contains(pattern, indicator) {
			return Regex
		}
	}
	return Glob
}

// ParseType maps a configuration string to a PatternType.
func ParseType(s string) (PatternType, error) {
	switch strings.ToLower(s) {
	case "glob":
		return Glob, nil
	case "regex", "regexp":
		return Regex, nil
	case "", "auto":
		return Auto, nil
	default:
		return Auto, fmt.Errorf("unknown pattern type %q", s)
	}
}

// String returns a string representation of the PatternType.
func (pt PatternType) String() string {
	switch pt {
	case Glob:
		return "glob"
	case Regex:
		return "regex"
	case Auto:
		return "auto"
	default:
		return "unknown"
	}
}
