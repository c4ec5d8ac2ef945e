package models

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const sqliteFilePragmas = "mode=rwc&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// ErrDSNRequired is returned for an empty database URL.
var ErrDSNRequired = errors.New("database url required")

// Open connects to Postgres, or to SQLite when dsn starts with "sqlite:".
// "sqlite::memory:" opens a private in-memory database.
func Open(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrDSNRequired
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	var dialector gorm.Dialector
	if path, ok := strings.CutPrefix(trimmed, "sqlite:"); ok {
		sqliteDSN, err := SQLiteDSN(path)
		if err != nil {
			return nil, err
		}
		dialector = sqlite.Open(sqliteDSN)
	} else {
		dialector = postgres.Open(trimmed)
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// SQLiteDSN converts a filesystem path into an on-disk SQLite DSN, or a
// uniquely named shared in-memory database for ":memory:".
func SQLiteDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrDSNRequired
	}
	if trimmed == ":memory:" {
		return fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()), nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve database path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, sqliteFilePragmas), nil
}
