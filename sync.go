package fieldsync

import (
	"context"

	"github.com/agentstation/fieldsync/pkg/connectors"
	"github.com/agentstation/fieldsync/pkg/constants"
	"github.com/agentstation/fieldsync/pkg/engine"
	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/logging"
	"github.com/agentstation/fieldsync/pkg/models"
)

// SyncOption configures one sync call.
type SyncOption = engine.SyncOption

// Sync options, re-exported from the engine.
var (
	WithDryRun      = engine.WithDryRun
	WithRowLimit    = engine.WithRowLimit
	WithForce       = engine.WithForce
	WithTriggeredBy = engine.WithTriggeredBy
	WithChanges     = engine.WithChanges
)

// SyncTab synchronizes one tab mapping.
func (c *client) SyncTab(ctx context.Context, tabMappingID string, cred connectors.Credential, opts ...SyncOption) (*engine.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.WithLogger(ctx, c.logger)
	return c.engine.SyncTab(ctx, tabMappingID, cred, opts...)
}

// SyncDataSource synchronizes every active tab of a data source in turn.
func (c *client) SyncDataSource(ctx context.Context, dataSourceID string, cred connectors.Credential, opts ...SyncOption) ([]*engine.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.WithLogger(ctx, c.logger)

	results, err := c.engine.SyncDataSource(ctx, dataSourceID, cred, opts...)
	if err != nil {
		return results, err
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	c.logger.Info().
		Str("data_source_id", dataSourceID).
		Int("tabs", len(results)).
		Int("failed", failed).
		Msg("Data source sync finished")
	return results, nil
}

// source resolves a data source and its connector.
func (c *client) source(ctx context.Context, dataSourceID string) (*models.DataSource, connectors.Connector, error) {
	ds, err := c.config.store.DataSource(ctx, dataSourceID)
	if err != nil {
		return nil, nil, err
	}
	conn, err := c.config.registry.Get(connectors.Kind(ds.Kind))
	if err != nil {
		return nil, nil, err
	}
	return ds, conn, nil
}

// TestConnection checks a data source with its connector. Connector
// failures are reported in the TestResult; the error is for lookups.
func (c *client) TestConnection(ctx context.Context, dataSourceID string, cred connectors.Credential) (connectors.TestResult, error) {
	ds, conn, err := c.source(ctx, dataSourceID)
	if err != nil {
		return connectors.TestResult{}, err
	}
	if err := conn.ValidateConfig(ds.Config); err != nil {
		return connectors.TestResult{Success: false, Error: err.Error()}, nil
	}
	return conn.TestConnection(ctx, cred, ds.Config), nil
}

// Tabs lists the tabs of a data source.
func (c *client) Tabs(ctx context.Context, dataSourceID string, cred connectors.Credential) ([]connectors.Tab, error) {
	ds, conn, err := c.source(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}
	return conn.Tabs(ctx, cred, ds.Config)
}

// Preview returns up to rows raw rows of a tab.
func (c *client) Preview(ctx context.Context, dataSourceID, tab string, rows int, cred connectors.Credential) (*connectors.RawRows, error) {
	if rows <= 0 {
		rows = constants.DefaultPreviewRows
	}
	if rows > constants.MaxPreviewRows {
		return nil, errors.NewValidationError("rows", rows, "preview is limited to 1000 rows")
	}
	ds, conn, err := c.source(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}
	return conn.RawRows(ctx, cred, ds.Config, tab, rows)
}

// Search runs a discovery search on a data source whose connector supports it.
func (c *client) Search(ctx context.Context, dataSourceID, query string, cred connectors.Credential) ([]connectors.SearchResult, error) {
	ds, conn, err := c.source(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}
	searcher, ok := conn.(connectors.Searcher)
	if !ok || !conn.Capabilities().Search {
		return nil, errors.WrapResource("search", "data source", dataSourceID, errors.ErrNotImplemented)
	}
	return searcher.Search(ctx, cred, ds.Config, query)
}
