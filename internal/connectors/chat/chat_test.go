package chat_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/fieldsync/internal/connectors/chat"
	"github.com/agentstation/fieldsync/pkg/errors"
)

func workspace(t *testing.T) (*httptest.Server, json.RawMessage) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth.test", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer xoxb-good" {
			_, _ = w.Write([]byte(`{"ok":false,"error":"invalid_auth"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"team":"Acme","team_id":"T1","user":"fieldsync","user_id":"U0"}`))
	})
	mux.HandleFunc("/api/users.list", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "200", r.URL.Query().Get("limit"))
		if r.URL.Query().Get("cursor") == "" {
			_, _ = w.Write([]byte(`{"ok":true,"members":[{"id":"U1","name":"fox","real_name":"Fox Mulder","profile":{"email":"fox@example.com"}}],"response_metadata":{"next_cursor":"page2"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"members":[{"id":"U2","name":"bot","is_bot":true}],"response_metadata":{"next_cursor":""}}`))
	})
	mux.HandleFunc("/api/conversations.list", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error":"ratelimited"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, json.RawMessage(`{"base_url":"` + srv.URL + `/api"}`)
}

func TestShape(t *testing.T) {
	c := chat.New()
	assert.Equal(t, chat.Kind, c.Kind())
	assert.False(t, c.Capabilities().HasTabs)

	_, err := c.Tabs(context.Background(), "tok", nil)
	assert.ErrorIs(t, err, errors.ErrNotTabular)
	_, err = c.Data(context.Background(), "tok", nil, "x", 0)
	assert.ErrorIs(t, err, errors.ErrNotTabular)

	assert.Error(t, c.ValidateConfig(json.RawMessage(`{}`)))
	assert.NoError(t, c.ValidateConfig(json.RawMessage(`{"base_url":"https://chat.example.com/api"}`)))
}

func TestTestConnection(t *testing.T) {
	_, cfg := workspace(t)
	c := chat.New()

	res := c.TestConnection(context.Background(), "xoxb-good", cfg)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Acme", res.Details["team"])

	res = c.TestConnection(context.Background(), "xoxb-bad", cfg)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid_auth")

	res = c.TestConnection(context.Background(), "", cfg)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "credential required")
}

func TestListUsersFollowsCursor(t *testing.T) {
	_, cfg := workspace(t)
	users, err := chat.New().ListUsers(context.Background(), "xoxb-good", cfg)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, chat.User{ID: "U1", Name: "fox", RealName: "Fox Mulder", Email: "fox@example.com"}, users[0])
	assert.True(t, users[1].IsBot)
}

func TestListChannelsReportsEnvelopeError(t *testing.T) {
	_, cfg := workspace(t)
	_, err := chat.New().ListChannels(context.Background(), "xoxb-good", cfg)
	assert.True(t, errors.IsRateLimited(err))
}
