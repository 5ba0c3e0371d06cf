// Package tickets connects a ticket tracker. It is non-tabular and supports
// discovery search.
package tickets

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/agentstation/fieldsync/internal/connectors/httpapi"
	"github.com/agentstation/fieldsync/pkg/connectors"
	"github.com/agentstation/fieldsync/pkg/errors"
)

// Kind is the connector kind.
const Kind connectors.Kind = "tickets"

// maxPages bounds ListTickets against a server that never stops paging.
const maxPages = 100

// Config is the connection configuration.
type Config struct {
	BaseURL string `json:"base_url" validate:"required,url"`
	Project string `json:"project"`
}

// Ticket is one tracked issue.
type Ticket struct {
	ID        string    `json:"id" yaml:"id"`
	Key       string    `json:"key" yaml:"key"`
	Title     string    `json:"title" yaml:"title"`
	Status    string    `json:"status" yaml:"status"`
	Assignee  string    `json:"assignee,omitempty" yaml:"assignee,omitempty"`
	Reporter  string    `json:"reporter,omitempty" yaml:"reporter,omitempty"`
	Labels    []string  `json:"labels,omitempty" yaml:"labels,omitempty"`
	URL       string    `json:"url,omitempty" yaml:"url,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// ListFilter narrows ListTickets.
type ListFilter struct {
	Status       string
	UpdatedSince time.Time
}

// Connector implements connectors.Connector for ticket trackers.
type Connector struct {
	connectors.NonTabular
	client *httpapi.Client
}

var (
	_ connectors.Connector = (*Connector)(nil)
	_ connectors.Searcher  = (*Connector)(nil)
)

// New creates a tickets connector.
func New(opts ...httpapi.Option) *Connector {
	return &Connector{client: httpapi.New(string(Kind), httpapi.BearerAuth{}, opts...)}
}

// Kind implements connectors.Connector.
func (c *Connector) Kind() connectors.Kind { return Kind }

// Capabilities implements connectors.Connector.
func (c *Connector) Capabilities() connectors.Capabilities {
	return connectors.Capabilities{Search: true, IncrementalSync: true}
}

// ValidateConfig implements connectors.Connector.
func (c *Connector) ValidateConfig(cfg json.RawMessage) error {
	_, err := connectors.ParseConfig[Config](Kind, cfg)
	return err
}

// TestConnection implements connectors.Connector.
func (c *Connector) TestConnection(ctx context.Context, cred connectors.Credential, raw json.RawMessage) connectors.TestResult {
	cfg, err := connectors.ParseConfig[Config](Kind, raw)
	if err != nil {
		return connectors.TestResult{Error: err.Error()}
	}
	var me struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := c.get(ctx, cred, cfg, "me", nil, &me); err != nil {
		return connectors.TestResult{Error: err.Error()}
	}
	return connectors.TestResult{Success: true, Details: map[string]any{"user": me.Name, "email": me.Email}}
}

// ListTickets returns the project's tickets, following pages.
func (c *Connector) ListTickets(ctx context.Context, cred connectors.Credential, raw json.RawMessage, f ListFilter) ([]Ticket, error) {
	cfg, err := connectors.ParseConfig[Config](Kind, raw)
	if err != nil {
		return nil, err
	}
	var out []Ticket
	page := 1
	for range maxPages {
		q := url.Values{"page": {strconv.Itoa(page)}}
		if cfg.Project != "" {
			q.Set("project", cfg.Project)
		}
		if f.Status != "" {
			q.Set("status", f.Status)
		}
		if !f.UpdatedSince.IsZero() {
			q.Set("updated_since", f.UpdatedSince.UTC().Format(time.RFC3339))
		}
		var resp struct {
			Tickets  []Ticket `json:"tickets"`
			NextPage int      `json:"next_page"`
		}
		if err := c.get(ctx, cred, cfg, "tickets", q, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Tickets...)
		if resp.NextPage <= page {
			return out, nil
		}
		page = resp.NextPage
	}
	return out, nil
}

// GetTicket returns one ticket by id or key.
func (c *Connector) GetTicket(ctx context.Context, cred connectors.Credential, raw json.RawMessage, id string) (*Ticket, error) {
	cfg, err := connectors.ParseConfig[Config](Kind, raw)
	if err != nil {
		return nil, err
	}
	var t Ticket
	if err := c.get(ctx, cred, cfg, "tickets/"+url.PathEscape(id), nil, &t); err != nil {
		var apiErr *errors.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return nil, errors.NewNotFoundError("ticket", id)
		}
		return nil, err
	}
	return &t, nil
}

// Search implements connectors.Searcher.
func (c *Connector) Search(ctx context.Context, cred connectors.Credential, raw json.RawMessage, query string) ([]connectors.SearchResult, error) {
	cfg, err := connectors.ParseConfig[Config](Kind, raw)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	if query != "" {
		q.Set("q", query)
	}
	if cfg.Project != "" {
		q.Set("project", cfg.Project)
	}
	var resp struct {
		Results []Ticket `json:"results"`
	}
	if err := c.get(ctx, cred, cfg, "search", q, &resp); err != nil {
		return nil, err
	}
	out := make([]connectors.SearchResult, 0, len(resp.Results))
	for _, t := range resp.Results {
		out = append(out, connectors.SearchResult{ID: t.ID, Title: t.Title, Kind: "ticket", URL: t.URL})
	}
	return out, nil
}

func (c *Connector) get(ctx context.Context, cred connectors.Credential, cfg Config, path string, q url.Values, out any) error {
	endpoint, err := httpapi.Endpoint(cfg.BaseURL, path, q)
	if err != nil {
		return err
	}
	return c.client.GetJSON(ctx, cred, endpoint, out)
}
