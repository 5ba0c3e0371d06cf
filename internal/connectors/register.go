// Package connectors assembles the built-in source connectors into the
// registry the engine is given at startup.
package connectors

import (
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/fieldsync/internal/connectors/chat"
	"github.com/agentstation/fieldsync/internal/connectors/httpapi"
	"github.com/agentstation/fieldsync/internal/connectors/spreadsheet"
	"github.com/agentstation/fieldsync/internal/connectors/tickets"
	"github.com/agentstation/fieldsync/internal/connectors/warehouse"
	"github.com/agentstation/fieldsync/pkg/connectors"
	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/logging"
)

// Options tune the built-in connectors.
type Options struct {
	Logger     *zerolog.Logger
	HTTPClient *http.Client
	UserAgent  string
	CacheFresh time.Duration
	CacheStale time.Duration
}

// NewRegistry registers every built-in connector and freezes the registry.
func NewRegistry(opts Options) (*connectors.Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	httpOpts := []httpapi.Option{httpapi.WithLogger(logger)}
	if opts.HTTPClient != nil {
		httpOpts = append(httpOpts, httpapi.WithHTTPClient(opts.HTTPClient))
	}
	if opts.UserAgent != "" {
		httpOpts = append(httpOpts, httpapi.WithHeader("User-Agent", opts.UserAgent))
	}

	r, err := connectors.NewRegistry(
		spreadsheet.New(),
		warehouse.New(
			warehouse.WithLogger(logger),
			warehouse.WithCacheWindows(opts.CacheFresh, opts.CacheStale),
		),
		chat.New(httpOpts...),
		tickets.New(httpOpts...),
	)
	if err != nil {
		return nil, err
	}
	r.Freeze()
	return r, nil
}

// Close releases resources held by registered connectors.
func Close(r *connectors.Registry) error {
	var errs []error
	for _, c := range r.List() {
		if closer, ok := c.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}
