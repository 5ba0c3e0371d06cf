// Package chat connects a chat workspace. It is non-tabular: besides the
// connection test it offers user and channel listings for directory and
// mapping screens.
package chat

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/agentstation/fieldsync/internal/connectors/httpapi"
	"github.com/agentstation/fieldsync/pkg/connectors"
	"github.com/agentstation/fieldsync/pkg/errors"
)

// Kind is the connector kind.
const Kind connectors.Kind = "chat"

const pageSize = 200

// Config is the connection configuration.
type Config struct {
	BaseURL string `json:"base_url" validate:"required,url"`
}

// User is a workspace member.
type User struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	RealName string `json:"real_name" yaml:"real_name"`
	Email    string `json:"email,omitempty" yaml:"email,omitempty"`
	Deleted  bool   `json:"deleted" yaml:"deleted"`
	IsBot    bool   `json:"is_bot" yaml:"is_bot"`
}

// Channel is a workspace conversation.
type Channel struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	IsPrivate  bool   `json:"is_private" yaml:"is_private"`
	IsArchived bool   `json:"is_archived" yaml:"is_archived"`
	NumMembers int    `json:"num_members" yaml:"num_members"`
}

// Connector implements connectors.Connector for chat workspaces.
type Connector struct {
	connectors.NonTabular
	client *httpapi.Client
}

var _ connectors.Connector = (*Connector)(nil)

// New creates a chat connector.
func New(opts ...httpapi.Option) *Connector {
	return &Connector{client: httpapi.New(string(Kind), httpapi.BearerAuth{}, opts...)}
}

// Kind implements connectors.Connector.
func (c *Connector) Kind() connectors.Kind { return Kind }

// Capabilities implements connectors.Connector.
func (c *Connector) Capabilities() connectors.Capabilities {
	return connectors.Capabilities{RealTimeSync: true}
}

// ValidateConfig implements connectors.Connector.
func (c *Connector) ValidateConfig(cfg json.RawMessage) error {
	_, err := connectors.ParseConfig[Config](Kind, cfg)
	return err
}

// envelope is the status part every API response carries; failures come
// back as 200 with ok=false.
type envelope struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error"`
	Metadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

func (e envelope) err(method string) error {
	if e.OK {
		return nil
	}
	msg := e.Error
	if msg == "" {
		msg = "request failed"
	}
	apiErr := &errors.APIError{Source: string(Kind), Endpoint: method, Message: msg}
	if msg == "ratelimited" {
		apiErr.StatusCode = 429
	}
	return apiErr
}

type authTest struct {
	envelope
	URL    string `json:"url"`
	Team   string `json:"team"`
	TeamID string `json:"team_id"`
	User   string `json:"user"`
	UserID string `json:"user_id"`
}

// TestConnection implements connectors.Connector by calling auth.test.
func (c *Connector) TestConnection(ctx context.Context, cred connectors.Credential, raw json.RawMessage) connectors.TestResult {
	cfg, err := connectors.ParseConfig[Config](Kind, raw)
	if err != nil {
		return connectors.TestResult{Error: err.Error()}
	}
	var out authTest
	if err := c.call(ctx, cred, cfg, "auth.test", nil, &out, &out.envelope); err != nil {
		return connectors.TestResult{Error: err.Error()}
	}
	return connectors.TestResult{
		Success: true,
		Details: map[string]any{"team": out.Team, "team_id": out.TeamID, "user": out.User},
	}
}

type member struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RealName string `json:"real_name"`
	Deleted  bool   `json:"deleted"`
	IsBot    bool   `json:"is_bot"`
	Profile  struct {
		Email string `json:"email"`
	} `json:"profile"`
}

// ListUsers returns every workspace member, following cursors.
func (c *Connector) ListUsers(ctx context.Context, cred connectors.Credential, raw json.RawMessage) ([]User, error) {
	cfg, err := connectors.ParseConfig[Config](Kind, raw)
	if err != nil {
		return nil, err
	}
	var users []User
	err = c.paginate(ctx, cred, cfg, "users.list", func(body []byte) (envelope, error) {
		var page struct {
			envelope
			Members []member `json:"members"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return page.envelope, err
		}
		for _, m := range page.Members {
			users = append(users, User{
				ID:       m.ID,
				Name:     m.Name,
				RealName: m.RealName,
				Email:    m.Profile.Email,
				Deleted:  m.Deleted,
				IsBot:    m.IsBot,
			})
		}
		return page.envelope, nil
	})
	return users, err
}

// ListChannels returns every conversation visible to the credential,
// following cursors.
func (c *Connector) ListChannels(ctx context.Context, cred connectors.Credential, raw json.RawMessage) ([]Channel, error) {
	cfg, err := connectors.ParseConfig[Config](Kind, raw)
	if err != nil {
		return nil, err
	}
	var channels []Channel
	err = c.paginate(ctx, cred, cfg, "conversations.list", func(body []byte) (envelope, error) {
		var page struct {
			envelope
			Channels []Channel `json:"channels"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return page.envelope, err
		}
		channels = append(channels, page.Channels...)
		return page.envelope, nil
	})
	return channels, err
}

func (c *Connector) paginate(ctx context.Context, cred connectors.Credential, cfg Config, method string, page func([]byte) (envelope, error)) error {
	cursor := ""
	for {
		q := url.Values{"limit": {strconv.Itoa(pageSize)}}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var body json.RawMessage
		if err := c.call(ctx, cred, cfg, method, q, &body, nil); err != nil {
			return err
		}
		env, err := page(body)
		if err != nil {
			return errors.WrapParse("json", method, err)
		}
		if err := env.err(method); err != nil {
			return err
		}
		cursor = env.Metadata.NextCursor
		if cursor == "" {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// call performs one API method. When env is set, an ok=false envelope is
// returned as an error.
func (c *Connector) call(ctx context.Context, cred connectors.Credential, cfg Config, method string, q url.Values, out any, env *envelope) error {
	endpoint, err := httpapi.Endpoint(cfg.BaseURL, method, q)
	if err != nil {
		return err
	}
	if err := c.client.GetJSON(ctx, cred, endpoint, out); err != nil {
		return err
	}
	if env != nil {
		return env.err(method)
	}
	return nil
}
