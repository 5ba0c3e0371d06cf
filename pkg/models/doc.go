// Package models defines the data model fieldsync reads and writes: the
// externally managed mapping configuration (DataSource, TabMapping,
// ColumnMapping, ColumnPattern), the canonical Entity with its raw
// source_data capture, and the per-run records (SyncRun, EntityChange,
// FieldLineageEntry, WeeklyStatus).
package models
