package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	"github.com/agentstation/fieldsync/pkg/errors"
)

//go:embed migrations
var migrations embed.FS

// migrationLogger adapts zerolog to migrate.Logger.
type migrationLogger struct {
	logger *zerolog.Logger
}

func (l migrationLogger) Verbose() bool { return l.logger.GetLevel() <= zerolog.DebugLevel }

func (l migrationLogger) Printf(format string, v ...any) {
	l.logger.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (s *Store) migrationSource() (source.Driver, error) {
	return iofs.New(migrations, "migrations/"+s.driver)
}

// Migrate applies every pending up migration.
func (s *Store) Migrate(ctx context.Context) error {
	start := time.Now()
	var err error
	if s.driver == SQLite {
		err = s.migrateSQLite(ctx)
	} else {
		err = s.migratePostgres()
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to apply migrations")
		return errors.WrapResource("migrate", "database", s.driver, err)
	}
	s.logger.Info().Dur("elapsed", time.Since(start)).Msg("Database migrations completed")
	return nil
}

// MigrateVersion returns the applied schema version and whether the last
// migration was left dirty.
func (s *Store) MigrateVersion(ctx context.Context) (uint, bool, error) {
	if s.driver == SQLite {
		if err := s.ensureVersionTable(ctx); err != nil {
			return 0, false, err
		}
		v, err := s.sqliteVersion(ctx)
		return v, false, err
	}
	m, err := s.postgresMigrate()
	if err != nil {
		return 0, false, err
	}
	defer func() { _, _ = m.Close() }()
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// postgresMigrate opens a dedicated connection, since closing a migrate
// instance closes its database.
func (s *Store) postgresMigrate() (*migrate.Migrate, error) {
	if s.dsn == "" {
		return nil, fmt.Errorf("postgres migrations need a DSN")
	}
	src, err := s.migrationSource()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", s.dsn)
	if err != nil {
		return nil, err
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	m, err := migrate.NewWithInstance("iofs", src, Postgres, driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	m.Log = migrationLogger{logger: s.logger}
	return m, nil
}

func (s *Store) migratePostgres() error {
	m, err := s.postgresMigrate()
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		s.logger.Info().Msg("No new migrations to apply")
		return nil
	}
	if err != nil {
		if v, dirty, verr := m.Version(); verr == nil {
			s.logger.Error().Uint("version", v).Bool("dirty", dirty).Msg("Migration left the database at")
		}
		return err
	}
	return nil
}

// migrateSQLite walks the same embedded source and applies each pending
// file in its own transaction. Versions are kept in schema_migrations.
func (s *Store) migrateSQLite(ctx context.Context) error {
	src, err := s.migrationSource()
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	if err := s.ensureVersionTable(ctx); err != nil {
		return err
	}
	current, err := s.sqliteVersion(ctx)
	if err != nil {
		return err
	}

	applied := 0
	v, err := src.First()
	for err == nil {
		if v > current {
			if err := s.applySQLite(ctx, src, v); err != nil {
				return err
			}
			applied++
		}
		v, err = src.Next(v)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if applied == 0 {
		s.logger.Info().Msg("No new migrations to apply")
	}
	return nil
}

func (s *Store) applySQLite(ctx context.Context, src source.Driver, version uint) error {
	r, name, err := src.ReadUp(version)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(r)
	_ = r.Close()
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("migration %d (%s): %w", version, name, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, dirty) VALUES (?, 0)", version); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Debug().Uint("version", version).Str("name", name).Msg("Applied migration")
	return nil
}

func (s *Store) ensureVersionTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, dirty INTEGER NOT NULL DEFAULT 0)")
	return err
}

func (s *Store) sqliteVersion(ctx context.Context) (uint, error) {
	var v sql.NullInt64
	if err := s.db.GetContext(ctx, &v, "SELECT MAX(version) FROM schema_migrations"); err != nil {
		return 0, err
	}
	return uint(v.Int64), nil
}
