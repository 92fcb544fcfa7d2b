package sqlstore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate applies all pending schema migrations for the driver. It uses its
// own connection, which is closed before returning.
func Migrate(driver, dsn string) error {
	if driver == DriverSQLite {
		dsn = withForeignKeys(dsn)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	var target database.Driver
	switch driver {
	case DriverPostgres:
		target, err = postgres.WithInstance(db, &postgres.Config{})
	case DriverSQLite:
		target, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	default:
		err = fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		db.Close()
		return fmt.Errorf("migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations/"+driver)
	if err != nil {
		target.Close()
		return fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, target)
	if err != nil {
		src.Close()
		target.Close()
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
