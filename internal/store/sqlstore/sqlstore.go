// Package sqlstore is the relational Store, on PostgreSQL or SQLite.
//
// Queries are built with go-sqlbuilder in the driver's flavor and run
// through sqlx. JSON documents (entity fields, source data, run stats) are
// stored as JSONB on PostgreSQL and as TEXT on SQLite.
package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	// SQLite driver with the embedded engine
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/logging"
	"github.com/agentstation/fieldsync/pkg/store"
)

// Supported drivers.
const (
	Postgres = "postgres"
	SQLite   = "sqlite"
)

// Config selects and opens the database.
type Config struct {
	Driver  string `mapstructure:"driver" yaml:"driver" validate:"required,oneof=postgres sqlite"`
	DSN     string `mapstructure:"dsn" yaml:"dsn" validate:"required"`
	Migrate bool   `mapstructure:"migrate" yaml:"migrate"`
}

var validate = validator.New()

// Store implements store.Store over a SQL database.
type Store struct {
	db     *sqlx.DB
	driver string
	dsn    string
	flavor sqlbuilder.Flavor
	cap    store.Capabilities
	now    func() time.Time
	logger *zerolog.Logger

	dataSources    *sqlbuilder.Struct
	tabMappings    *sqlbuilder.Struct
	columnMappings *sqlbuilder.Struct
	patterns       *sqlbuilder.Struct
	entities       *sqlbuilder.Struct
	links          *sqlbuilder.Struct
	weekly         *sqlbuilder.Struct
	runs           *sqlbuilder.Struct
	lineage        *sqlbuilder.Struct
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open connects to the configured database, applies migrations when asked,
// and resolves the store's capabilities.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, errors.NewConfigError("store", "", errors.WrapValidation("store", err))
	}
	db, err := sqlx.Open(driverName(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, errors.NewConfigError("store", "open database", err)
	}
	if cfg.Driver == SQLite {
		// one connection keeps in-memory databases shared and writes serialized
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.WrapResource("connect", "database", cfg.Driver, err)
	}

	s := New(db, cfg.Driver, opts...)
	s.dsn = cfg.DSN
	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	s.cap = s.probe(ctx)
	return s, nil
}

// New wraps an open database. Capabilities default to full support; Open
// probes them instead.
func New(db *sqlx.DB, driver string, opts ...Option) *Store {
	flavor := sqlbuilder.PostgreSQL
	if driver == SQLite {
		flavor = sqlbuilder.SQLite
	}
	s := &Store{
		db:     db,
		driver: driver,
		flavor: flavor,
		cap:    store.Capabilities{Lineage: true},
		now:    time.Now,
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dataSources = sqlbuilder.NewStruct(new(dataSourceRow)).For(flavor)
	s.tabMappings = sqlbuilder.NewStruct(new(tabMappingRow)).For(flavor)
	s.columnMappings = sqlbuilder.NewStruct(new(columnMappingRow)).For(flavor)
	s.patterns = sqlbuilder.NewStruct(new(patternRow)).For(flavor)
	s.entities = sqlbuilder.NewStruct(new(entityRow)).For(flavor)
	s.links = sqlbuilder.NewStruct(new(linkRow)).For(flavor)
	s.weekly = sqlbuilder.NewStruct(new(weeklyRow)).For(flavor)
	s.runs = sqlbuilder.NewStruct(new(runRow)).For(flavor)
	s.lineage = sqlbuilder.NewStruct(new(lineageRow)).For(flavor)
	return s
}

func driverName(driver string) string {
	if driver == SQLite {
		return "sqlite3"
	}
	return "postgres"
}

// probe checks which optional tables exist.
func (s *Store) probe(ctx context.Context) store.Capabilities {
	c := store.Capabilities{Lineage: true}
	if _, err := s.db.ExecContext(ctx, "SELECT 1 FROM field_lineage WHERE 1 = 0"); err != nil {
		s.logger.Warn().Err(err).Msg("field_lineage table unavailable, lineage disabled")
		c.Lineage = false
	}
	return c
}

// Capabilities implements store.Store.
func (s *Store) Capabilities() store.Capabilities { return s.cap }

// DB returns the underlying database handle.
func (s *Store) DB() *sqlx.DB { return s.db }

// Driver returns the driver the store was opened with.
func (s *Store) Driver() string { return s.driver }

// Close implements store.Store.
func (s *Store) Close() error { return s.db.Close() }

// conflict appends an upsert clause that overwrites cols on a key conflict.
// Both PostgreSQL and SQLite accept this form.
func conflict(ib *sqlbuilder.InsertBuilder, keys []string, cols ...string) {
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	ib.SQL(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(keys, ", "), strings.Join(sets, ", ")))
}

// isUniqueViolation reports a unique constraint failure on either driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// jsonText returns an expression reading one top-level key of a JSON column
// as text.
func (s *Store) jsonText(col string, key string, sb *sqlbuilder.SelectBuilder) string {
	if s.driver == SQLite {
		return fmt.Sprintf("json_extract(%s, %s)", col, sb.Var("$."+key))
	}
	return fmt.Sprintf("(%s ->> CAST(%s AS TEXT))", col, sb.Var(key))
}
