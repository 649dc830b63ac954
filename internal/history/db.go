// Package history records builds in a local SQLite database so past
// results can be listed with "aircc history".
package history

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/zjrosen/aircc/internal/log"
)

// DB is the build history database.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the database at path and applies pending migrations.
// An existing file is backed up to path+".bak" before it is migrated.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	_, statErr := os.Stat(path)
	existed := statErr == nil

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=foreign_keys(1)"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open history database: %w", err)
	}

	pending, err := pendingMigrations(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if existed && pending {
		if err := backup(path); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	if err := migrateUp(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	log.Debug(log.CatStore, "opened history database", "path", path)
	return &DB{conn: conn}, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Builds returns the build ledger.
func (db *DB) Builds() *Ledger {
	return &Ledger{db: db.conn}
}

func backup(path string) error {
	src, err := os.Open(path) //nolint:gosec // G304: configured history path
	if err != nil {
		return fmt.Errorf("backup history database: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(path+".bak", os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600) //nolint:gosec // G304: derived from configured path
	if err != nil {
		return fmt.Errorf("backup history database: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("backup history database: %w", err)
	}
	log.Info(log.CatStore, "backed up history database before migration", "path", path+".bak")
	return dst.Close()
}
