package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/blackmichael/drops-backend/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	_ domain.DropRepository         = (*Store)(nil)
	_ domain.ShareRepository        = (*Store)(nil)
	_ domain.UserDirectory          = (*Store)(nil)
	_ domain.FriendRepository       = (*Store)(nil)
	_ domain.DeviceRegistry         = (*Store)(nil)
	_ domain.ConversationRepository = (*Store)(nil)
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Store implements the domain repository ports on top of PostgreSQL or
// SQLite. Queries are written with ? placeholders and rebound for the
// active driver.
type Store struct {
	db *sqlx.DB
}

// Open connects to the database, verifies the connection, and returns a new
// Store. The caller should call Close when the store is no longer needed.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if driver == DriverSQLite {
		dsn = withForeignKeys(dsn)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// SQLite allows a single writer; serialise access through one
		// connection instead of surfacing SQLITE_BUSY to callers.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// withForeignKeys turns on SQLite foreign key enforcement for every
// connection opened from dsn unless the DSN already sets it.
func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}

// New wraps an existing connection.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) execTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %v, rb err: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// translateError maps driver errors onto domain errors.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", domain.ErrConflict, pqErr.Message)
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %s", domain.ErrConflict, liteErr.Error())
		}
	}
	return err
}
