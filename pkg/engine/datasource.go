package engine

import (
	"context"

	"github.com/agentstation/fieldsync/pkg/connectors"
	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/models"
)

// SyncDataSource syncs every active tab of a data source, one after another.
// A tab that fails is reported as a degraded Result and the remaining tabs
// still run. An error is returned only when the source itself cannot be
// loaded or the context is cancelled.
func (e *Engine) SyncDataSource(ctx context.Context, dataSourceID string, cred connectors.Credential, opts ...SyncOption) ([]*Result, error) {
	if err := Defaults().Apply(opts...).Validate(); err != nil {
		return nil, err
	}
	ds, err := e.store.DataSource(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}
	tabs, err := e.store.TabMappings(ctx, ds.ID, models.TabActive)
	if err != nil {
		return nil, errors.WrapResource("list", "tab_mappings", ds.ID, err)
	}

	log := e.logger.With().Str("data_source_id", ds.ID).Logger()
	log.Info().Int("tabs", len(tabs)).Msg("Syncing data source")

	results := make([]*Result, 0, len(tabs))
	for _, tab := range tabs {
		if err := ctx.Err(); err != nil {
			return results, canceled(err)
		}
		res, err := e.SyncTab(ctx, tab.ID, cred, opts...)
		if res == nil {
			res = &Result{TabMappingID: tab.ID, DataSourceID: ds.ID, Status: models.RunFailed}
		}
		if res.TabName == "" {
			res.TabName = tab.TabName
		}
		if err != nil {
			res.Success = false
			res.Error = err.Error()
			log.Warn().Err(err).Str("tab_mapping_id", tab.ID).Msg("Tab sync failed, continuing")
		}
		results = append(results, res)
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	log.Info().Int("tabs", len(results)).Int("failed", failed).Msg("Data source synced")
	return results, nil
}
