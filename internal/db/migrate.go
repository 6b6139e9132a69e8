package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/fundora/apiserver/config"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// MigrateUp applies all pending migrations for the configured driver.
func MigrateUp(cfg config.DatabaseConfig) error {
	return runMigrations(cfg, func(m *migrate.Migrate) error {
		return m.Up()
	})
}

// MigrateDown rolls back every applied migration.
func MigrateDown(cfg config.DatabaseConfig) error {
	return runMigrations(cfg, func(m *migrate.Migrate) error {
		return m.Down()
	})
}

func runMigrations(cfg config.DatabaseConfig, apply func(*migrate.Migrate) error) error {
	driverName, dsn, err := DataSource(cfg)
	if err != nil {
		return err
	}

	if err := ensureSQLiteDir(cfg); err != nil {
		return err
	}

	// Migrations get their own connection so closing the migrator never
	// touches the application pool.
	migrateDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	defer migrateDB.Close()

	var driver database.Driver
	switch driverName {
	case config.DriverSQLite:
		driver, err = sqlite.WithInstance(migrateDB, &sqlite.Config{})
	default:
		driver, err = postgres.WithInstance(migrateDB, &postgres.Config{})
	}
	if err != nil {
		return fmt.Errorf("create %s migration driver: %w", driverName, err)
	}

	source, err := iofs.New(migrationsFS, "migrations/"+driverName)
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, driverName, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := apply(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
