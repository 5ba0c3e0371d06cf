package connectors_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal "github.com/agentstation/fieldsync/internal/connectors"
	"github.com/agentstation/fieldsync/internal/connectors/spreadsheet"
	"github.com/agentstation/fieldsync/pkg/connectors"
)

func TestNewRegistry(t *testing.T) {
	r, err := internal.NewRegistry(internal.Options{UserAgent: "fieldsync-test"})
	require.NoError(t, err)

	assert.ElementsMatch(t, []connectors.Kind{"chat", "spreadsheet", "tickets", "warehouse"}, r.Kinds())

	sheet, err := r.Get("spreadsheet")
	require.NoError(t, err)
	assert.True(t, sheet.Capabilities().HasTabs)

	chat, err := r.Get("chat")
	require.NoError(t, err)
	assert.False(t, chat.Capabilities().HasTabs)

	assert.Error(t, r.Register(spreadsheet.New()), "registry is frozen")
	assert.NoError(t, internal.Close(r))
}
