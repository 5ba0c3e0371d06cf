// Package store defines the persistence collaborator the sync engine reads
// mapping configuration from and writes entities, weekly rows, runs and
// lineage to. Implementations live under internal/store.
package store

import (
	"context"
	"time"

	"github.com/agentstation/fieldsync/pkg/models"
)

// Capabilities are resolved once when a store is opened.
type Capabilities struct {
	// Lineage is false when the lineage table is not available.
	Lineage bool `json:"lineage" yaml:"lineage"`
}

// ConfigReader reads the externally managed mapping configuration.
type ConfigReader interface {
	DataSource(ctx context.Context, id string) (*models.DataSource, error)
	TabMapping(ctx context.Context, id string) (*models.TabMapping, error)
	// TabMappings lists a source's tabs. An empty status lists all of them.
	TabMappings(ctx context.Context, dataSourceID string, status models.TabStatus) ([]models.TabMapping, error)
	ColumnMappings(ctx context.Context, tabMappingID string) ([]models.ColumnMapping, error)
	// ActivePatterns returns active column patterns by descending priority.
	ActivePatterns(ctx context.Context) ([]models.ColumnPattern, error)
}

// ConfigWriter registers mapping configuration. It is used for seeding and
// by the CLI; the engine never calls it.
type ConfigWriter interface {
	SaveDataSource(ctx context.Context, ds *models.DataSource) error
	SaveTabMapping(ctx context.Context, tm *models.TabMapping) error
	SaveColumnMapping(ctx context.Context, cm *models.ColumnMapping) error
	SavePattern(ctx context.Context, p *models.ColumnPattern) error
	DataSources(ctx context.Context) ([]models.DataSource, error)
}

// EntityStore reads and writes canonical entities.
type EntityStore interface {
	// FindEntity matches field case-insensitively. It returns an
	// errors.NotFoundError when nothing matches.
	FindEntity(ctx context.Context, kind, field, value string) (*models.Entity, error)
	// Entity returns an entity by id.
	Entity(ctx context.Context, id string) (*models.Entity, error)
	// InsertEntities inserts a batch and returns the rows in input order
	// with their generated identifiers.
	InsertEntities(ctx context.Context, entities []models.Entity) ([]models.Entity, error)
	// UpdateEntity merges fields into the entity's fields and stores the
	// snapshot under its (kind, tab) in the entity's current source data,
	// read in the same transaction. Other tabs and kinds are kept.
	UpdateEntity(ctx context.Context, id string, fields map[string]any, snapshot *models.SourceSnapshot) error
	// ReplaceEntityLink sets the one target of (entity, role).
	ReplaceEntityLink(ctx context.Context, link models.EntityLink) error
	EntityLinks(ctx context.Context, entityID string) ([]models.EntityLink, error)
}

// RunStore writes the per-run records.
type RunStore interface {
	UpsertWeeklyStatus(ctx context.Context, ws models.WeeklyStatus) (models.UpsertOutcome, error)
	WeeklyStatuses(ctx context.Context, entityID string) ([]models.WeeklyStatus, error)
	CreateSyncRun(ctx context.Context, run *models.SyncRun) error
	FinishSyncRun(ctx context.Context, run *models.SyncRun) error
	SyncRun(ctx context.Context, id string) (*models.SyncRun, error)
	// RecordLineage upserts one entry per (entity, field).
	RecordLineage(ctx context.Context, entries []models.FieldLineageEntry) error
	FieldLineage(ctx context.Context, entityID string) ([]models.FieldLineageEntry, error)
	// MarkSynced sets last_synced_at on the tab mapping and its data source.
	MarkSynced(ctx context.Context, tabMappingID, dataSourceID string, at time.Time) error
}

// Store is the full persistence collaborator.
type Store interface {
	Capabilities() Capabilities
	ConfigReader
	ConfigWriter
	EntityStore
	RunStore
	Close() error
}
