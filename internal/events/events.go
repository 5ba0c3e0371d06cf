// Package events delivers sync audit events. Delivery is fire-and-forget:
// a sink logs its own failures and never fails the run that emitted.
package events

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/agentstation/fieldsync/pkg/engine"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Nop discards events.
type Nop struct{}

// Emit implements engine.EventSink.
func (Nop) Emit(context.Context, engine.Event) {}

// Log writes events to a logger.
type Log struct {
	logger *zerolog.Logger
}

// NewLog creates a sink that logs each event at info level.
func NewLog(logger *zerolog.Logger) *Log {
	return &Log{logger: logger}
}

// Emit implements engine.EventSink.
func (l *Log) Emit(_ context.Context, ev engine.Event) {
	e := l.logger.Info().
		Str("event", ev.Type).
		Str("sync_run_id", ev.SyncRunID).
		Str("tab_mapping_id", ev.TabMappingID).
		Str("status", string(ev.Status)).
		Bool("dry_run", ev.DryRun)
	if ev.Stats != nil {
		e = e.Int("rows_processed", ev.Stats.RowsProcessed).
			Int("rows_created", ev.Stats.RowsCreated).
			Int("rows_updated", ev.Stats.RowsUpdated).
			Int("rows_skipped", ev.Stats.RowsSkipped)
	}
	if ev.Error != "" {
		e = e.Str("error", ev.Error)
	}
	e.Msg("Sync event")
}

// Fanout sends each event to every sink in order.
type Fanout []engine.EventSink

// Emit implements engine.EventSink.
func (f Fanout) Emit(ctx context.Context, ev engine.Event) {
	for _, s := range f {
		s.Emit(ctx, ev)
	}
}
