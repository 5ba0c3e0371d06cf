package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentstation/fieldsync/pkg/authority"
	"github.com/agentstation/fieldsync/pkg/connectors"
	"github.com/agentstation/fieldsync/pkg/constants"
	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/fields"
	"github.com/agentstation/fieldsync/pkg/logging"
	"github.com/agentstation/fieldsync/pkg/models"
	"github.com/agentstation/fieldsync/pkg/transforms"
	"github.com/agentstation/fieldsync/pkg/weekly"
)

// column is a writable column mapping resolved against the field registry
// and the live header.
type column struct {
	mapping   models.ColumnMapping
	field     *fields.Field
	transform transforms.Transform
	index     int // -1 when absent from the live header
}

// run is the state of one SyncTab call.
type run struct {
	e       *Engine
	opts    *SyncOptions
	log     zerolog.Logger
	rec     *models.SyncRun
	state   State
	started time.Time

	// loading-config
	tab         *models.TabMapping
	source      *models.DataSource
	conn        connectors.Connector
	keyField    *fields.Field
	keyMapping  models.ColumnMapping
	columns     []column
	weeklyMaps  []models.ColumnMapping
	otherMaps   []models.ColumnMapping
	authorities map[string]models.Authority
	detector    *weekly.Detector
	policy      authority.Policy

	// fetching-source
	headers []string
	keys    []string // snapshot keys, one per header
	keyIdx  int
	mapped  map[int]bool
	rows    [][]string

	// computing-changes onward
	processed int
	changes   []models.EntityChange
	issues    []models.RowError
	seen      map[string]int    // lower(key) -> first row
	entityIDs map[string]string // lower(key) -> id, "" when known missing
	refIDs    map[string]string

	weeklyCreated int
	weeklyUpdated int
}

func (e *Engine) newRun(tabMappingID string, opts *SyncOptions) *run {
	started := e.now()
	rec := &models.SyncRun{
		ID:           uuid.NewString(),
		TabMappingID: tabMappingID,
		Status:       models.RunRunning,
		DryRun:       opts.DryRun,
		TriggeredBy:  opts.TriggeredBy,
		StartedAt:    started,
	}
	return &run{
		e:       e,
		opts:    opts,
		rec:     rec,
		started: started,
		log: e.logger.With().
			Str("tab_mapping_id", tabMappingID).
			Str("sync_run_id", rec.ID).
			Logger(),
		policy:      authority.Policy{Force: opts.Force},
		authorities: make(map[string]models.Authority),
		mapped:      make(map[int]bool),
		seen:        make(map[string]int),
		entityIDs:   make(map[string]string),
		refIDs:      make(map[string]string),
	}
}

// SyncTab synchronizes one tab mapping. A returned error means the run was
// aborted (configuration error, fetch failure or cancellation); the Result
// is still returned and carries the failed run's id and partial stats.
func (e *Engine) SyncTab(ctx context.Context, tabMappingID string, cred connectors.Credential, opts ...SyncOption) (*Result, error) {
	options := Defaults().Apply(opts...)
	if err := options.Validate(); err != nil {
		return nil, err
	}

	r := e.newRun(tabMappingID, options)
	ctx = logging.WithLogger(ctx, &r.log)

	if err := e.store.CreateSyncRun(ctx, r.rec); err != nil {
		return nil, errors.WrapResource("create", "sync_run", r.rec.ID, err)
	}
	r.emit(ctx, constants.EventSyncStarted, "")
	r.log.Info().Bool("dry_run", options.DryRun).Int("row_limit", options.RowLimit).Bool("force", options.Force).Msg("Sync started")

	if err := r.execute(ctx, cred); err != nil {
		return r.fail(ctx, err)
	}
	return r.complete(ctx)
}

func (r *run) execute(ctx context.Context, cred connectors.Credential) error {
	// Step 1: Load mapping configuration; nothing is fetched if it is invalid
	r.enter(StateLoadingConfig)
	if err := r.loadConfig(ctx); err != nil {
		return err
	}

	// Step 2: Fetch headers and rows through the connector
	r.enter(StateFetchingSource)
	if err := r.fetch(ctx, cred); err != nil {
		return err
	}

	// Step 3: Compute one change per row
	r.enter(StateComputing)
	if err := r.compute(ctx); err != nil {
		return err
	}

	// Step 4: Persist creates in batches and updates one by one
	if !r.opts.DryRun {
		r.enter(StateApplying)
		if err := r.apply(ctx); err != nil {
			return err
		}
	}

	// Step 5: Pivot week-named columns into weekly status rows
	r.enter(StatePivoting)
	if err := r.pivot(ctx); err != nil {
		return err
	}

	// Step 6: Record lineage for every written field
	if !r.opts.DryRun {
		r.enter(StateLineage)
		r.recordLineage(ctx)
	}
	return nil
}

func (r *run) enter(s State) {
	r.state = s
	r.log.Debug().Str("state", string(s)).Msg("Sync state")
}

func (r *run) complete(ctx context.Context) (*Result, error) {
	r.enter(StateFinalizing)
	finished := r.e.now()

	if !r.opts.DryRun {
		if err := r.e.store.MarkSynced(ctx, r.tab.ID, r.source.ID, finished); err != nil {
			r.warn(0, "", "last synced time not updated: %v", err)
		}
	}

	r.rec.Status = models.RunCompleted
	r.rec.Stats = r.stats()
	r.rec.FinishedAt = &finished
	if err := r.e.store.FinishSyncRun(ctx, r.rec); err != nil {
		err = errors.WrapResource("finish", "sync_run", r.rec.ID, err)
		res := r.result()
		res.Success = false
		res.Error = err.Error()
		return res, err
	}

	duration := finished.Sub(r.started)
	r.observe(duration)
	r.emit(ctx, constants.EventSyncCompleted, "")
	r.log.Info().
		Int("processed", r.rec.Stats.RowsProcessed).
		Int("created", r.rec.Stats.RowsCreated).
		Int("updated", r.rec.Stats.RowsUpdated).
		Int("skipped", r.rec.Stats.RowsSkipped).
		Int("weekly_created", r.rec.Stats.WeeklyCreated).
		Int("weekly_updated", r.rec.Stats.WeeklyUpdated).
		Int("issues", len(r.rec.Stats.Errors)).
		Dur("duration", duration).
		Msg("Sync completed")
	return r.result(), nil
}

func (r *run) fail(ctx context.Context, cause error) (*Result, error) {
	status := models.RunFailed
	if isCancellation(cause) {
		status = models.RunCancelled
	}
	finished := r.e.now()
	r.rec.Status = status
	r.rec.Error = cause.Error()
	r.rec.Stats = r.stats()
	r.rec.FinishedAt = &finished

	// the caller's context may be the reason we are here
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.FinalizeTimeout)
	defer cancel()
	if err := r.e.store.FinishSyncRun(fctx, r.rec); err != nil {
		r.log.Error().Err(err).Msg("Failed to record failed sync run")
	}

	r.observe(finished.Sub(r.started))
	r.emit(fctx, constants.EventSyncFailed, cause.Error())
	r.log.Error().Err(cause).Str("state", string(r.state)).Str("status", string(status)).Msg("Sync failed")

	res := r.result()
	res.Success = false
	res.Error = cause.Error()
	return res, cause
}

func isCancellation(err error) bool {
	return errors.Is(err, errors.ErrCanceled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func canceled(err error) error {
	return fmt.Errorf("%w: %w", errors.ErrCanceled, err)
}

func (r *run) stats() models.SyncStats {
	created, updated, skipped := Counts(r.changes)
	issues := r.issues
	if issues == nil {
		issues = []models.RowError{}
	}
	return models.SyncStats{
		RowsProcessed: r.processed,
		RowsCreated:   created,
		RowsUpdated:   updated,
		RowsSkipped:   skipped,
		WeeklyCreated: r.weeklyCreated,
		WeeklyUpdated: r.weeklyUpdated,
		Errors:        issues,
	}
}

func (r *run) result() *Result {
	res := &Result{
		Success:      r.rec.Status == models.RunCompleted,
		SyncRunID:    r.rec.ID,
		TabMappingID: r.rec.TabMappingID,
		DataSourceID: r.rec.DataSourceID,
		Status:       r.rec.Status,
		DryRun:       r.opts.DryRun,
		Stats:        r.rec.Stats,
		Duration:     r.e.now().Sub(r.started),
	}
	if r.tab != nil {
		res.TabName = r.tab.TabName
	}
	if r.opts.DryRun || r.opts.IncludeChanges {
		res.Changes = r.changes
	}
	return res
}

func (r *run) observe(d time.Duration) {
	r.e.metrics.ObserveRun(r.rec.Status, d)
	created, updated, skipped := Counts(r.changes)
	if r.opts.DryRun {
		return
	}
	r.e.metrics.AddChanges(models.ChangeCreate, created)
	r.e.metrics.AddChanges(models.ChangeUpdate, updated)
	r.e.metrics.AddChanges(models.ChangeSkip, skipped)
	r.e.metrics.AddWeekly(models.UpsertCreated, r.weeklyCreated)
	r.e.metrics.AddWeekly(models.UpsertUpdated, r.weeklyUpdated)
}

func (r *run) emit(ctx context.Context, typ, errMsg string) {
	ev := Event{
		Type:         typ,
		SyncRunID:    r.rec.ID,
		TabMappingID: r.rec.TabMappingID,
		DataSourceID: r.rec.DataSourceID,
		Status:       r.rec.Status,
		DryRun:       r.rec.DryRun,
		TriggeredBy:  r.rec.TriggeredBy,
		Error:        errMsg,
		At:           r.e.now(),
	}
	if typ != constants.EventSyncStarted {
		stats := r.rec.Stats
		ev.Stats = &stats
	}
	r.e.events.Emit(ctx, ev)
}

// warn records a non-fatal row or field issue.
func (r *run) warn(row int, col, format string, args ...any) {
	issue := models.RowError{Row: row, Column: col, Message: fmt.Sprintf(format, args...), Severity: models.SeverityWarning}
	r.issues = append(r.issues, issue)
	r.log.Debug().Int("row", row).Str("column", col).Msg(issue.Message)
}

// rowError records a row that could not be processed or written.
func (r *run) rowError(row int, err error) {
	issue := models.RowError{Row: row, Message: err.Error(), Severity: models.SeverityError}
	r.issues = append(r.issues, issue)
	r.log.Warn().Int("row", row).Err(err).Msg("Row failed")
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
