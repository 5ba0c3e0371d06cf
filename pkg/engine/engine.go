// Package engine synchronizes one tab of an external source into canonical
// entities.
//
// A SyncTab run moves through fixed states: loading-config, fetching-source,
// computing-changes, applying-changes, pivoting-weekly-columns,
// recording-lineage and finalizing. Configuration problems fail the run
// before anything is written. Row and field problems are collected on the
// run's error list and processing continues. The SyncRun record is written
// once when the run starts and once when it ends.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/fieldsync/pkg/connectors"
	"github.com/agentstation/fieldsync/pkg/constants"
	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/fields"
	"github.com/agentstation/fieldsync/pkg/logging"
	"github.com/agentstation/fieldsync/pkg/models"
	"github.com/agentstation/fieldsync/pkg/store"
	"github.com/agentstation/fieldsync/pkg/transforms"
)

// State is a step of the SyncTab state machine.
type State string

// States in the order a run visits them.
const (
	StateLoadingConfig  State = "loading-config"
	StateFetchingSource State = "fetching-source"
	StateComputing      State = "computing-changes"
	StateApplying       State = "applying-changes"
	StatePivoting       State = "pivoting-weekly-columns"
	StateLineage        State = "recording-lineage"
	StateFinalizing     State = "finalizing"
)

// Release frees a lock taken by a Locker.
type Release func(ctx context.Context) error

// Locker takes advisory locks keyed by entity kind and key value.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// LockKey returns the advisory lock key for an entity.
func LockKey(kind, keyValue string) string {
	return "fieldsync:entity:" + kind + ":" + strings.ToLower(strings.TrimSpace(keyValue))
}

// Event is an audit event emitted at run start, completion and failure.
type Event struct {
	Type         string            `json:"type"`
	SyncRunID    string            `json:"sync_run_id"`
	TabMappingID string            `json:"tab_mapping_id"`
	DataSourceID string            `json:"data_source_id,omitempty"`
	Status       models.RunStatus  `json:"status"`
	DryRun       bool              `json:"dry_run"`
	TriggeredBy  string            `json:"triggered_by"`
	Stats        *models.SyncStats `json:"stats,omitempty"`
	Error        string            `json:"error,omitempty"`
	At           time.Time         `json:"at"`
}

// EventSink receives audit events. Emit must not block the run for long and
// its failures are the sink's own concern.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// Metrics receives run measurements.
type Metrics interface {
	ObserveRun(status models.RunStatus, duration time.Duration)
	AddChanges(change models.ChangeType, n int)
	AddWeekly(outcome models.UpsertOutcome, n int)
}

type nopEvents struct{}

func (nopEvents) Emit(context.Context, Event) {}

type nopMetrics struct{}

func (nopMetrics) ObserveRun(models.RunStatus, time.Duration) {}
func (nopMetrics) AddChanges(models.ChangeType, int)          {}
func (nopMetrics) AddWeekly(models.UpsertOutcome, int)        {}

// Engine runs syncs. It is safe for concurrent use; each run keeps its own
// state.
type Engine struct {
	store      store.Store
	connectors *connectors.Registry
	transforms *transforms.Registry
	fields     *fields.Registry
	logger     *zerolog.Logger
	locker     Locker
	events     EventSink
	metrics    Metrics
	now        func() time.Time
	batchSize  int
}

// Option configures an Engine.
type Option func(*Engine)

// WithTransforms sets the transform registry.
func WithTransforms(r *transforms.Registry) Option {
	return func(e *Engine) { e.transforms = r }
}

// WithFields sets the entity field registry.
func WithFields(r *fields.Registry) Option {
	return func(e *Engine) { e.fields = r }
}

// WithLogger sets the logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithLocker enables per-entity advisory locks around writes.
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithEvents sets the audit event sink.
func WithEvents(s EventSink) Option {
	return func(e *Engine) { e.events = s }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock sets the clock used for timestamps and year-less dates.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithBatchSize sets how many creates go into one bulk insert.
func WithBatchSize(n int) Option {
	return func(e *Engine) { e.batchSize = n }
}

// New creates an engine over a store and a connector registry.
func New(st store.Store, registry *connectors.Registry, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, errors.NewValidationError("store", nil, "store is required")
	}
	if registry == nil {
		return nil, errors.NewValidationError("connectors", nil, "connector registry is required")
	}
	e := &Engine{
		store:      st,
		connectors: registry,
		logger:     logging.Default(),
		events:     nopEvents{},
		metrics:    nopMetrics{},
		now:        time.Now,
		batchSize:  constants.DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.batchSize <= 0 {
		return nil, errors.NewValidationError("batch_size", e.batchSize, "batch size must be positive")
	}
	if e.transforms == nil {
		e.transforms = transforms.NewRegistry(transforms.WithClock(e.now))
	}
	if e.fields == nil {
		reg, err := fields.Default()
		if err != nil {
			return nil, err
		}
		e.fields = reg
	}
	if e.logger == nil {
		e.logger = logging.Default()
	}
	return e, nil
}

// IsConfigError reports whether err aborted a run because of configuration.
func IsConfigError(err error) bool {
	return errors.IsConfigError(err)
}
