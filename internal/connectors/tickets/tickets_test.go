package tickets_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/fieldsync/internal/connectors/tickets"
	"github.com/agentstation/fieldsync/pkg/connectors"
	"github.com/agentstation/fieldsync/pkg/errors"
)

func tracker(t *testing.T) json.RawMessage {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/me", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"u1","name":"Dana Scully","email":"dana@example.com"}`))
	})
	mux.HandleFunc("/v1/tickets", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "OPS", q.Get("project"))
		assert.Equal(t, "open", q.Get("status"))
		assert.Equal(t, "2026-01-05T00:00:00Z", q.Get("updated_since"))
		switch q.Get("page") {
		case "1":
			_, _ = w.Write([]byte(`{"tickets":[{"id":"1","key":"OPS-1","title":"Onboard Acme","status":"open"}],"next_page":2}`))
		default:
			_, _ = w.Write([]byte(`{"tickets":[{"id":"2","key":"OPS-2","title":"Renew Globex","status":"open"}],"next_page":0}`))
		}
	})
	mux.HandleFunc("/v1/tickets/OPS-1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"1","key":"OPS-1","title":"Onboard Acme","status":"open","labels":["onboarding"]}`))
	})
	mux.HandleFunc("/v1/tickets/OPS-404", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such ticket", http.StatusNotFound)
	})
	mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "acme", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(`{"results":[{"id":"1","title":"Onboard Acme","url":"https://tracker.example.com/OPS-1"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return json.RawMessage(`{"base_url":"` + srv.URL + `/v1","project":"OPS"}`)
}

func TestTickets(t *testing.T) {
	ctx := context.Background()
	cfg := tracker(t)
	c := tickets.New()

	assert.True(t, c.Capabilities().Search)
	assert.False(t, c.Capabilities().HasTabs)

	res := c.TestConnection(ctx, "tok", cfg)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Dana Scully", res.Details["user"])

	list, err := c.ListTickets(ctx, "tok", cfg, tickets.ListFilter{
		Status:       "open",
		UpdatedSince: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "OPS-2", list[1].Key)

	got, err := c.GetTicket(ctx, "tok", cfg, "OPS-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"onboarding"}, got.Labels)

	_, err = c.GetTicket(ctx, "tok", cfg, "OPS-404")
	assert.True(t, errors.IsNotFound(err))

	var searcher connectors.Searcher = c
	found, err := searcher.Search(ctx, "tok", cfg, "acme")
	require.NoError(t, err)
	assert.Equal(t, []connectors.SearchResult{{ID: "1", Title: "Onboard Acme", Kind: "ticket", URL: "https://tracker.example.com/OPS-1"}}, found)
}

func TestRequiresCredential(t *testing.T) {
	_, err := tickets.New().ListTickets(context.Background(), "", tracker(t), tickets.ListFilter{Status: "open"})
	assert.ErrorIs(t, err, errors.ErrCredentialRequired)
}
