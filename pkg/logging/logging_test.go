package logging_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/fieldsync/pkg/logging"
)

func TestContextLogger(t *testing.T) {
	tl := logging.NewTestLogger(t)

	ctx := logging.WithLogger(context.Background(), tl.Logger)
	ctx = logging.WithTabMapping(ctx, "tm-1")
	ctx = logging.WithConnector(ctx, "spreadsheet")

	logging.FromContext(ctx).Info().Msg("sync started")

	tl.AssertContains(t, `"tab_mapping_id":"tm-1"`)
	tl.AssertContains(t, `"connector":"spreadsheet"`)
	tl.AssertContains(t, "sync started")
	assert.Len(t, tl.Lines(), 1)
}

func TestFromContextDefaults(t *testing.T) {
	//nolint:staticcheck // nil context is handled explicitly
	assert.Equal(t, logging.Default(), logging.FromContext(nil))
	assert.Equal(t, logging.Default(), logging.FromContext(context.Background()))
}

func TestWithFields(t *testing.T) {
	tl := logging.NewTestLogger(t)
	ctx := logging.WithLogger(context.Background(), tl.Logger)
	ctx = logging.WithFields(ctx, map[string]any{"rows": 3, "dry_run": true})

	logging.FromContext(ctx).Debug().Msg("computed")

	tl.AssertContains(t, `"rows":3`)
	tl.AssertContains(t, `"dry_run":true`)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"off", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, logging.ParseLevel(tt.in))
		})
	}
}

func TestNewLoggerFromConfigWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.log")
	logger := logging.NewLoggerFromConfig(&logging.Config{
		Level:  "info",
		Format: "json",
		Output: path,
		Fields: map[string]any{"service": "fieldsync"},
	})
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	logger.Info().Msg("hello")
	logger.Debug().Msg("hidden")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"service":"fieldsync"`)
	assert.Contains(t, out, "hello")
	assert.False(t, strings.Contains(out, "hidden"))
}
