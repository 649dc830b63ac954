package history

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/zjrosen/aircc/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func newSource() (source.Driver, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	return src, nil
}

func ensureVersionTable(conn *sql.DB) error {
	_, err := conn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

func currentVersion(conn *sql.DB) (uint, error) {
	var v sql.NullInt64
	if err := conn.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if !v.Valid {
		return 0, nil
	}
	return uint(v.Int64), nil
}

// versions lists every up-migration version in ascending order.
func versions(src source.Driver) ([]uint, error) {
	v, err := src.First()
	if err != nil {
		return nil, fmt.Errorf("first migration: %w", err)
	}
	out := []uint{v}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("next migration after %d: %w", v, err)
		}
		out = append(out, next)
		v = next
	}
}

func pendingMigrations(conn *sql.DB) (bool, error) {
	if err := ensureVersionTable(conn); err != nil {
		return false, err
	}
	src, err := newSource()
	if err != nil {
		return false, err
	}
	defer src.Close()

	all, err := versions(src)
	if err != nil {
		return false, err
	}
	cur, err := currentVersion(conn)
	if err != nil {
		return false, err
	}
	return all[len(all)-1] > cur, nil
}

// migrateUp applies every migration newer than the recorded version, each
// in its own transaction.
func migrateUp(conn *sql.DB) error {
	if err := ensureVersionTable(conn); err != nil {
		return err
	}
	src, err := newSource()
	if err != nil {
		return err
	}
	defer src.Close()

	all, err := versions(src)
	if err != nil {
		return err
	}
	cur, err := currentVersion(conn)
	if err != nil {
		return err
	}

	for _, v := range all {
		if v <= cur {
			continue
		}
		if err := apply(conn, src, v); err != nil {
			return err
		}
		log.Info(log.CatStore, "applied migration", "version", v)
	}
	return nil
}

func apply(conn *sql.DB, src source.Driver, version uint) error {
	r, ident, err := src.ReadUp(version)
	if err != nil {
		return fmt.Errorf("read migration %d: %w", version, err)
	}
	body, err := io.ReadAll(r)
	_ = r.Close()
	if err != nil {
		return fmt.Errorf("read migration %d: %w", version, err)
	}

	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", version, err)
	}
	if _, err := tx.Exec(string(body)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration %d (%s): %w", version, ident, err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
		version, time.Now().Unix()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %d: %w", version, err)
	}
	return tx.Commit()
}
