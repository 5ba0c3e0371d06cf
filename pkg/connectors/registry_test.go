package connectors_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/fieldsync/pkg/connectors"
	"github.com/agentstation/fieldsync/pkg/errors"
)

type stubConnector struct {
	connectors.NonTabular
	kind connectors.Kind
}

func (s stubConnector) Kind() connectors.Kind { return s.kind }

func (s stubConnector) Capabilities() connectors.Capabilities { return connectors.Capabilities{} }

func (s stubConnector) ValidateConfig(json.RawMessage) error { return nil }

func (s stubConnector) TestConnection(context.Context, connectors.Credential, json.RawMessage) connectors.TestResult {
	return connectors.TestResult{Success: true}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r, err := connectors.NewRegistry(stubConnector{kind: "chat"}, stubConnector{kind: "tickets"})
	require.NoError(t, err)

	c, err := r.Get("chat")
	require.NoError(t, err)
	assert.Equal(t, connectors.Kind("chat"), c.Kind())
	assert.True(t, r.Has("tickets"))
	assert.Equal(t, []connectors.Kind{"chat", "tickets"}, r.Kinds())
	assert.Len(t, r.List(), 2)
}

func TestRegistryRejectsDuplicateKind(t *testing.T) {
	r, err := connectors.NewRegistry(stubConnector{kind: "chat"})
	require.NoError(t, err)

	err = r.Register(stubConnector{kind: "chat"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyRegistered)

	_, err = connectors.NewRegistry(stubConnector{kind: "a"}, stubConnector{kind: "a"})
	assert.ErrorIs(t, err, errors.ErrAlreadyRegistered)
}

func TestRegistryUnknownKind(t *testing.T) {
	r, err := connectors.NewRegistry()
	require.NoError(t, err)

	_, err = r.Get("nope")
	assert.True(t, errors.IsNotFound(err))
}

func TestRegistryFreeze(t *testing.T) {
	r, err := connectors.NewRegistry(stubConnector{kind: "chat"})
	require.NoError(t, err)
	r.Freeze()

	assert.Error(t, r.Register(stubConnector{kind: "tickets"}))
	assert.False(t, r.Has("tickets"))
}

func TestRegistryRejectsInvalid(t *testing.T) {
	r, err := connectors.NewRegistry()
	require.NoError(t, err)
	assert.True(t, errors.IsValidationError(r.Register(nil)))
	assert.True(t, errors.IsValidationError(r.Register(stubConnector{})))
}

func TestNonTabularFailsLoudly(t *testing.T) {
	var c connectors.Connector = stubConnector{kind: "chat"}
	ctx := context.Background()

	_, err := c.Tabs(ctx, "", nil)
	assert.ErrorIs(t, err, errors.ErrNotTabular)
	_, err = c.RawRows(ctx, "", nil, "x", 10)
	assert.ErrorIs(t, err, errors.ErrNotTabular)
	_, err = c.Data(ctx, "", nil, "x", 0)
	assert.ErrorIs(t, err, errors.ErrNotTabular)
}

func TestSplitHeader(t *testing.T) {
	rows := [][]string{
		{"Brand report", "", ""},
		{"Brand", "Status", "1/6"},
		{"Acme", "active", "OK"},
		{"", "", ""},
		{"Globex", "paused", ""},
	}

	data, err := connectors.SplitHeader(rows, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Brand", "Status", "1/6"}, data.Headers)
	assert.Len(t, data.Rows, 2)
	assert.Equal(t, "Globex", data.Cell(1, 0))
	assert.Equal(t, "", data.Cell(1, 9))

	data, err = connectors.SplitHeader(rows, 10)
	require.NoError(t, err)
	assert.Empty(t, data.Headers)

	_, err = connectors.SplitHeader(rows, -1)
	assert.Error(t, err)
}

func TestCredentialRedacts(t *testing.T) {
	assert.Equal(t, "[redacted]", connectors.Credential("xoxb-secret").String())
	assert.Equal(t, "", connectors.Credential("").String())
}
