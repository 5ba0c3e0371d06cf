// Package httpapi is the JSON-over-HTTP client shared by the SaaS
// connectors. It resolves paths against a configured base URL, applies the
// caller's credential, and maps non-2xx responses to errors.APIError.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/agentstation/fieldsync/pkg/connectors"
	"github.com/agentstation/fieldsync/pkg/constants"
	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/logging"
)

// maxErrorBody caps how much of an error response is kept in the message.
const maxErrorBody = 512

// Client performs authenticated JSON requests for one source.
type Client struct {
	source  string
	http    *http.Client
	auth    Authenticator
	headers http.Header
	logger  *zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithHeader sets a header on every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Set(key, value) }
}

// WithLogger sets the logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client. source names the API in errors and logs.
func New(source string, auth Authenticator, opts ...Option) *Client {
	if auth == nil {
		auth = NoAuth{}
	}
	c := &Client{
		source:  source,
		http:    &http.Client{Timeout: constants.DefaultHTTPTimeout},
		auth:    auth,
		headers: make(http.Header),
		logger:  logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint joins base and path and appends query.
func Endpoint(base, path string, query url.Values) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return "", errors.NewValidationError("base_url", base, err.Error())
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

// Do performs a request with the credential and common headers applied.
func (c *Client) Do(ctx context.Context, req *http.Request, cred connectors.Credential) (*http.Response, error) {
	if cred == "" && c.auth.Required() {
		return nil, fmt.Errorf("%s: %w", c.source, errors.ErrCredentialRequired)
	}
	if cred != "" {
		c.auth.Apply(req, cred)
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if req.Method == http.MethodPost || req.Method == http.MethodPut || req.Method == http.MethodPatch {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &errors.APIError{
			Source:   c.source,
			Message:  err.Error(),
			Endpoint: req.URL.Path,
			Err:      fmt.Errorf("%w: %w", errors.ErrSourceUnavailable, err),
		}
	}
	c.logger.Debug().
		Str("source", c.source).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Msg("API request")
	return resp, nil
}

// GetJSON performs a GET and decodes the JSON response into target.
func (c *Client) GetJSON(ctx context.Context, cred connectors.Credential, endpoint string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.WrapResource("create", "request", "GET "+endpoint, err)
	}
	resp, err := c.Do(ctx, req, cred)
	if err != nil {
		return err
	}
	return c.DecodeResponse(resp, target)
}

// PostJSON encodes body, performs a POST and decodes the response into target.
func (c *Client) PostJSON(ctx context.Context, cred connectors.Credential, endpoint string, body, target any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.WrapResource("encode", "request", "POST "+endpoint, err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reader)
	if err != nil {
		return errors.WrapResource("create", "request", "POST "+endpoint, err)
	}
	resp, err := c.Do(ctx, req, cred)
	if err != nil {
		return err
	}
	return c.DecodeResponse(resp, target)
}

// DecodeResponse decodes a 2xx JSON response into target and closes the body.
func (c *Client) DecodeResponse(resp *http.Response, target any) error {
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn().Err(err).Str("source", c.source).Msg("failed to close response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WrapResource("read", "response body", c.source, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		apiErr := &errors.APIError{
			Source:     c.source,
			StatusCode: resp.StatusCode,
			Message:    msg,
		}
		if resp.Request != nil {
			apiErr.Endpoint = resp.Request.URL.Path
		}
		return apiErr
	}
	if target == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return errors.WrapParse("json", c.source+" response", err)
	}
	return nil
}
