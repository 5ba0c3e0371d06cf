package engine

import (
	"github.com/agentstation/fieldsync/pkg/constants"
	"github.com/agentstation/fieldsync/pkg/errors"
)

// SyncOptions controls one SyncTab or SyncDataSource call.
type SyncOptions struct {
	DryRun         bool   // Compute changes without writing them
	RowLimit       int    // Process at most this many data rows (0 means all)
	Force          bool   // Let reference columns overwrite existing values
	TriggeredBy    string // Recorded on the SyncRun
	IncludeChanges bool   // Return the change list on non-dry runs too
}

// SyncOption configures SyncOptions.
type SyncOption func(*SyncOptions)

// Defaults returns the default sync options.
func Defaults() *SyncOptions {
	return &SyncOptions{TriggeredBy: constants.DefaultTriggeredBy}
}

// Apply applies the given options.
func (o *SyncOptions) Apply(opts ...SyncOption) *SyncOptions {
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Validate checks the options.
func (o *SyncOptions) Validate() error {
	if o.RowLimit < 0 {
		return &errors.ValidationError{
			Field:   "RowLimit",
			Value:   o.RowLimit,
			Message: "row limit must be non-negative",
		}
	}
	return nil
}

// WithDryRun configures dry run mode.
func WithDryRun(dryRun bool) SyncOption {
	return func(o *SyncOptions) { o.DryRun = dryRun }
}

// WithRowLimit caps the number of data rows processed.
func WithRowLimit(n int) SyncOption {
	return func(o *SyncOptions) { o.RowLimit = n }
}

// WithForce lets reference columns overwrite existing values.
func WithForce(force bool) SyncOption {
	return func(o *SyncOptions) { o.Force = force }
}

// WithTriggeredBy records who started the run.
func WithTriggeredBy(who string) SyncOption {
	return func(o *SyncOptions) {
		if who != "" {
			o.TriggeredBy = who
		}
	}
}

// WithChanges returns the change list even when the run is not a dry run.
func WithChanges(include bool) SyncOption {
	return func(o *SyncOptions) { o.IncludeChanges = include }
}
