package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/fieldsync/pkg/errors"
)

func TestAuthenticators(t *testing.T) {
	tests := []struct {
		name   string
		auth   Authenticator
		header string
		want   string
	}{
		{"bearer", BearerAuth{}, "Authorization", "Bearer tok"},
		{"header", HeaderAuth{Header: "X-Api-Key"}, "X-Api-Key", "tok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &http.Request{Header: make(http.Header)}
			tt.auth.Apply(req, "tok")
			assert.Equal(t, tt.want, req.Header.Get(tt.header))
			assert.True(t, tt.auth.Required())
		})
	}

	req := &http.Request{Header: make(http.Header)}
	NoAuth{}.Apply(req, "tok")
	assert.Empty(t, req.Header)
	assert.False(t, NoAuth{}.Required())

	u, _ := url.Parse("https://example.com/api?limit=5")
	req = &http.Request{URL: u, Header: make(http.Header)}
	QueryAuth{Param: "token"}.Apply(req, "tok")
	assert.Equal(t, "tok", req.URL.Query().Get("token"))
	assert.Equal(t, "5", req.URL.Query().Get("limit"))
}

func TestEndpoint(t *testing.T) {
	got, err := Endpoint("https://chat.example.com/api/", "/users.list", url.Values{"cursor": {"abc"}})
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com/api/users.list?cursor=abc", got)

	got, err = Endpoint("https://chat.example.com", "auth.test", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com/auth.test", got)
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "fieldsync", r.Header.Get("User-Agent"))
		_ = json.NewEncoder(w).Encode(map[string]string{"name": "Acme"})
	}))
	defer srv.Close()

	c := New("test", BearerAuth{}, WithHeader("User-Agent", "fieldsync"))
	var out struct {
		Name string `json:"name"`
	}
	require.NoError(t, c.GetJSON(context.Background(), "tok", srv.URL+"/thing", &out))
	assert.Equal(t, "Acme", out.Name)
}

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["q"]})
	}))
	defer srv.Close()

	c := New("test", NoAuth{})
	var out map[string]string
	require.NoError(t, c.PostJSON(context.Background(), "", srv.URL, map[string]string{"q": "acme"}, &out))
	assert.Equal(t, "acme", out["echo"])
}

func TestErrorResponses(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()
	c := New("test", BearerAuth{})

	err := c.GetJSON(context.Background(), "tok", srv.URL+"/x", nil)
	var apiErr *errors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "slow down", apiErr.Message)
	assert.Equal(t, "/x", apiErr.Endpoint)
	assert.True(t, errors.IsRateLimited(err))

	status = http.StatusBadGateway
	err = c.GetJSON(context.Background(), "tok", srv.URL, nil)
	assert.ErrorIs(t, err, errors.ErrSourceUnavailable)

	err = c.GetJSON(context.Background(), "", srv.URL, nil)
	assert.ErrorIs(t, err, errors.ErrCredentialRequired)
}

func TestMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	var out map[string]any
	err := New("test", nil).GetJSON(context.Background(), "", srv.URL, &out)
	var parseErr *errors.ParseError
	assert.ErrorAs(t, err, &parseErr)
}
