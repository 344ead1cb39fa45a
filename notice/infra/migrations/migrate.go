package migrations

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const migrationsTable = "schema_migrations"

// RunUp aplica todas as migrações pendentes em sqlDB.
//
// O driver do golang-migrate fecha o *sql.DB recebido no Close, então sqlDB
// deve ser uma conexão dedicada.
func RunUp(sqlDB *sql.DB) error {
	m, err := newMigrate(sqlDB)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = m.Close()
	}()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	if dirty {
		return fmt.Errorf("migration %d is dirty, please fix it before proceeding", version)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}

	after, _, err := m.Version()
	if err == nil && after != version {
		slog.Info("schema migrated", "from", version, "to", after)
	}
	return nil
}

// Version devolve a versão aplicada (0 quando nenhuma).
func Version(sqlDB *sql.DB) (uint, bool, error) {
	m, err := newMigrate(sqlDB)
	if err != nil {
		return 0, false, err
	}
	defer func() {
		_, _ = m.Close()
	}()

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func newMigrate(sqlDB *sql.DB) (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(FS, ".")
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create iofs driver: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(sqlDB, &sqlite.Config{
		MigrationsTable: migrationsTable,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		_ = dbDriver.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}
