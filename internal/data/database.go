package data

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Sentinel errors shared by the repositories. The service layer maps them
// onto its own taxonomy.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("data: not found")
	// ErrDuplicateKey is returned when an insert violates a unique constraint,
	// e.g. two revisions racing for the same (article, revision_number) or a
	// slug collision under one parent.
	ErrDuplicateKey = errors.New("data: duplicate key")
)

// NewDB creates a new database connection pool for the configured driver.
// Supported drivers are "mysql" and "sqlite3".
func NewDB(driver, dsn string) (*sqlx.DB, error) {
	// sqlx.Connect opens a connection and pings it to verify it's alive.
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if driver == "sqlite3" {
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return nil, fmt.Errorf("failed to enable sqlite foreign keys: %w", err)
		}
	}
	return db, nil
}

// ApplyMigrations runs all up migrations for the configured driver.
// Migration files live in per-driver subdirectories of migrationsPath because
// the two dialects disagree on auto-increment and timestamp defaults.
func ApplyMigrations(driver, dsn, migrationsPath string) error {
	// The migrate library needs the DSN in a URL format.
	var migrateDSN string
	switch driver {
	case "mysql":
		migrateDSN = fmt.Sprintf("mysql://%s", dsn)
	case "sqlite3":
		migrateDSN = fmt.Sprintf("sqlite3://%s", strings.TrimPrefix(dsn, "file:"))
	default:
		return fmt.Errorf("unsupported database driver %q", driver)
	}

	// To ensure the path is correctly interpreted by the migrate library,
	// convert it to an absolute path and then format it as a file URL.
	absPath, err := filepath.Abs(filepath.Join(migrationsPath, driver))
	if err != nil {
		return fmt.Errorf("failed to get absolute path for migrations: %w", err)
	}
	sourceURL := fmt.Sprintf("file://%s", absPath)

	m, err := migrate.New(sourceURL, migrateDSN)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	// Up applies all available up migrations.
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// isUniqueViolation recognizes unique-constraint errors from both supported
// drivers without importing their error types here.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite3
		strings.Contains(msg, "Duplicate entry") // mysql
}
