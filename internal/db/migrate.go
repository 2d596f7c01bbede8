package db

import (
	"errors"
	"fmt"

	"inventory-service/migrations"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
)

// MigrationStatus describes the schema version recorded by golang-migrate.
type MigrationStatus struct {
	Version uint
	Dirty   bool
}

// newMigrator binds the embedded migrations to pool. The returned close
// function returns the migrator's connection to the pool; the pool stays open.
func newMigrator(pool *pgxpool.Pool) (*migrate.Migrate, func(), error) {
	sqlDB := stdlib.OpenDBFromPool(pool)

	driver, err := migratepgx.WithInstance(sqlDB, &migratepgx.Config{})
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, func() {
		_, _ = m.Close()
		_ = sqlDB.Close()
	}, nil
}

// MigrateUp applies every pending migration. An up-to-date schema is not an error.
func MigrateUp(pool *pgxpool.Pool, log logrus.FieldLogger) error {
	m, closeFn, err := newMigrator(pool)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("schema is up to date")
			return nil
		}
		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			return fmt.Errorf("schema is dirty at version %d; fix it and run force: %w", dirty.Version, err)
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	if v, _, err := m.Version(); err == nil {
		log.WithField("version", v).Info("migrations applied")
	}
	return nil
}

// MigrateDown rolls back the given number of migrations.
func MigrateDown(pool *pgxpool.Pool, steps int, log logrus.FieldLogger) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", steps)
	}
	m, closeFn, err := newMigrator(pool)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.Steps(-steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	log.WithField("steps", steps).Info("migrations rolled back")
	return nil
}

// Status reports the current schema version. Version 0 means nothing applied.
func Status(pool *pgxpool.Pool) (MigrationStatus, error) {
	m, closeFn, err := newMigrator(pool)
	if err != nil {
		return MigrationStatus{}, err
	}
	defer closeFn()

	v, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return MigrationStatus{}, nil
		}
		return MigrationStatus{}, fmt.Errorf("failed to read schema version: %w", err)
	}
	return MigrationStatus{Version: v, Dirty: dirty}, nil
}

// Migrator binds the migration helpers to one pool.
type Migrator struct {
	Pool *pgxpool.Pool
	Log  logrus.FieldLogger
}

func (m Migrator) Up() error                        { return MigrateUp(m.Pool, m.Log) }
func (m Migrator) Down(steps int) error             { return MigrateDown(m.Pool, steps, m.Log) }
func (m Migrator) Status() (MigrationStatus, error) { return Status(m.Pool) }
