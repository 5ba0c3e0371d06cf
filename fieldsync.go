// Package fieldsync is the entry point for synchronizing external sources
// into canonical entities.
//
// A Client wires the sync engine to a store, the built-in connectors and the
// optional advisory lock, audit sink and metrics:
//
//	client, err := fieldsync.New(
//	    fieldsync.WithStore(st),
//	    fieldsync.WithLogger(&logger),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.OnSyncCompleted(func(ev engine.Event) {
//	    log.Printf("run %s: %d rows", ev.SyncRunID, ev.Stats.RowsProcessed)
//	})
//
//	result, err := client.SyncTab(ctx, "tab-id", "", fieldsync.WithDryRun(true))
package fieldsync

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	internalconnectors "github.com/agentstation/fieldsync/internal/connectors"
	"github.com/agentstation/fieldsync/internal/events"
	"github.com/agentstation/fieldsync/internal/store/memory"
	"github.com/agentstation/fieldsync/pkg/connectors"
	"github.com/agentstation/fieldsync/pkg/engine"
	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/fields"
	"github.com/agentstation/fieldsync/pkg/logging"
	"github.com/agentstation/fieldsync/pkg/models"
	"github.com/agentstation/fieldsync/pkg/store"
)

// Client synchronizes tabs and data sources and exposes the collaborators
// used to inspect them.
type Client interface {
	// SyncTab synchronizes one tab mapping.
	SyncTab(ctx context.Context, tabMappingID string, cred connectors.Credential, opts ...SyncOption) (*engine.Result, error)

	// SyncDataSource synchronizes every active tab of a data source in turn.
	SyncDataSource(ctx context.Context, dataSourceID string, cred connectors.Credential, opts ...SyncOption) ([]*engine.Result, error)

	// TestConnection checks a data source with its connector.
	TestConnection(ctx context.Context, dataSourceID string, cred connectors.Credential) (connectors.TestResult, error)

	// Tabs lists the tabs of a data source.
	Tabs(ctx context.Context, dataSourceID string, cred connectors.Credential) ([]connectors.Tab, error)

	// Preview returns the first rows of a tab without assuming a header.
	Preview(ctx context.Context, dataSourceID, tab string, rows int, cred connectors.Credential) (*connectors.RawRows, error)

	// Search runs a discovery search on connectors that support it.
	Search(ctx context.Context, dataSourceID, query string, cred connectors.Credential) ([]connectors.SearchResult, error)

	// Lineage returns the recorded origin of each field of an entity.
	Lineage(ctx context.Context, entityID string) ([]models.FieldLineageEntry, error)

	// Connectors returns the connector registry.
	Connectors() *connectors.Registry

	// Fields returns the entity field registry.
	Fields() *fields.Registry

	// Store returns the persistence collaborator.
	Store() store.Store

	// OnSyncStarted registers a callback for run start events
	OnSyncStarted(EventHook)

	// OnSyncCompleted registers a callback for completed runs
	OnSyncCompleted(EventHook)

	// OnSyncFailed registers a callback for failed and cancelled runs
	OnSyncFailed(EventHook)

	// Close releases the resources the client created.
	Close() error
}

// client is the internal implementation of the Client interface
type client struct {
	config *config
	engine *engine.Engine
	fields *fields.Registry
	logger *zerolog.Logger
	hooks  *hooks

	closeOnce sync.Once
	closeErr  error
}

// New creates a Client with the given options. Without WithStore the client
// runs on an in-memory store; without WithConnectors it registers the
// built-in connectors.
func New(opts ...Option) (Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, errors.WrapValidation("options", err)
		}
	}

	c := &client{config: cfg, logger: cfg.logger, hooks: newHooks()}
	if c.logger == nil {
		c.logger = logging.Default()
	}

	if cfg.store == nil {
		c.logger.Debug().Msg("No store configured, using in-memory store")
		cfg.store = memory.New(memory.WithClock(cfg.now))
		cfg.ownsStore = true
	}

	if cfg.registry == nil {
		reg, err := internalconnectors.NewRegistry(internalconnectors.Options{
			Logger:     c.logger,
			CacheFresh: cfg.cacheFresh,
			CacheStale: cfg.cacheStale,
		})
		if err != nil {
			return nil, err
		}
		cfg.registry = reg
		cfg.ownsRegistry = true
	}

	reg, err := loadFields(cfg)
	if err != nil {
		return nil, err
	}
	c.fields = reg

	sinks := events.Fanout{c.hooks}
	if cfg.events != nil {
		sinks = append(sinks, cfg.events)
	}

	engineOpts := []engine.Option{
		engine.WithLogger(c.logger),
		engine.WithFields(reg),
		engine.WithEvents(sinks),
		engine.WithClock(cfg.now),
		engine.WithBatchSize(cfg.batchSize),
	}
	if cfg.transforms != nil {
		engineOpts = append(engineOpts, engine.WithTransforms(cfg.transforms))
	}
	if cfg.locker != nil {
		engineOpts = append(engineOpts, engine.WithLocker(cfg.locker))
	}
	if cfg.metrics != nil {
		engineOpts = append(engineOpts, engine.WithMetrics(cfg.metrics))
	}

	c.engine, err = engine.New(cfg.store, cfg.registry, engineOpts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func loadFields(cfg *config) (*fields.Registry, error) {
	switch {
	case cfg.fields != nil:
		return cfg.fields, nil
	case cfg.fieldsFile != "":
		return fields.LoadFile(cfg.fieldsFile)
	default:
		return fields.Default()
	}
}

// Connectors returns the connector registry.
func (c *client) Connectors() *connectors.Registry { return c.config.registry }

// Fields returns the entity field registry.
func (c *client) Fields() *fields.Registry { return c.fields }

// Store returns the persistence collaborator.
func (c *client) Store() store.Store { return c.config.store }

// Lineage returns the recorded origin of each field of an entity.
func (c *client) Lineage(ctx context.Context, entityID string) ([]models.FieldLineageEntry, error) {
	if !c.config.store.Capabilities().Lineage {
		return nil, errors.WrapResource("read", "lineage", entityID, errors.ErrNotImplemented)
	}
	return c.config.store.FieldLineage(ctx, entityID)
}

// Close releases the connectors and store the client created itself.
// Collaborators passed in with options are left to the caller.
func (c *client) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if c.config.ownsRegistry {
			errs = append(errs, internalconnectors.Close(c.config.registry))
		}
		if c.config.ownsStore {
			errs = append(errs, c.config.store.Close())
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
