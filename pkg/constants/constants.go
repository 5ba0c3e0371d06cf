// Package constants provides shared constants used throughout fieldsync.
// This includes batch sizes, cache windows, timeouts, and file permissions
// that should be consistent across the application.
package constants

import "time"

// Timeout constants define various timeout durations used in the application
const (
	// DefaultHTTPTimeout is the standard timeout for HTTP requests to SaaS connectors
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultQueryTimeout bounds a single warehouse query
	DefaultQueryTimeout = 2 * time.Minute

	// CommandTimeout is the default timeout for CLI commands
	CommandTimeout = 30 * time.Minute

	// FinalizeTimeout bounds the final SyncRun write of a cancelled run
	FinalizeTimeout = 10 * time.Second

	// LockTTL is how long an entity advisory lock lives if never released
	LockTTL = 30 * time.Second
)

// Cache windows for stale-while-revalidate connector caches
const (
	// CacheFreshWindow is how long a cached result is returned without refresh
	CacheFreshWindow = 5 * time.Minute

	// CacheStaleWindow is how long a cached result stays usable while refreshing
	CacheStaleWindow = 1 * time.Hour
)

// DirPermissions is the default permission for created directories (rwxr-xr-x)
const DirPermissions = 0755

// Sync engine limits
const (
	// DefaultBatchSize is the number of creates written per bulk insert
	DefaultBatchSize = 50

	// DefaultPreviewRows is the number of raw rows fetched for header detection
	DefaultPreviewRows = 10

	// MaxPreviewRows caps a raw row preview
	MaxPreviewRows = 1000

	// DefaultTriggeredBy is recorded on a SyncRun when the caller names no one
	DefaultTriggeredBy = "system"
)

// Event names emitted to the audit sink
const (
	EventSyncStarted   = "sync.started"
	EventSyncCompleted = "sync.completed"
	EventSyncFailed    = "sync.failed"
)
