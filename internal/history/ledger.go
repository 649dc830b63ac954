package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Build statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrNotFound is returned when a build ID is unknown.
var ErrNotFound = errors.New("build not found")

// Record is one build in the ledger.
type Record struct {
	ID            string
	Input         string
	Flow          string
	Shared        bool
	Herds         []string
	Deliverable   string
	Output        string
	Status        string
	Error         string
	FailedCommand string
	StartedAt     time.Time
	Duration      time.Duration
}

// Ledger reads and writes build records.
type Ledger struct {
	db *sql.DB
}

const buildColumns = `id, input, flow, shared, herds, deliverable, output, status, error,
	failed_command, started_at, duration_ms`

// Record inserts rec.
func (l *Ledger) Record(ctx context.Context, rec Record) error {
	herds := rec.Herds
	if herds == nil {
		herds = []string{}
	}
	herdsJSON, err := json.Marshal(herds)
	if err != nil {
		return fmt.Errorf("encode herds: %w", err)
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO builds (`+buildColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Input, rec.Flow, rec.Shared, string(herdsJSON),
		nullable(rec.Deliverable), nullable(rec.Output), rec.Status, nullable(rec.Error),
		nullable(rec.FailedCommand), rec.StartedAt.UnixMilli(), rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert build: %w", err)
	}
	return nil
}

// Recent returns up to limit builds, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+buildColumns+` FROM builds ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Get returns the build with id.
func (l *Ledger) Get(ctx context.Context, id string) (Record, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+buildColumns+` FROM builds WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

func scanRecord(scanner interface{ Scan(...any) error }) (Record, error) {
	var (
		rec                                        Record
		herdsJSON                                  string
		deliverable, output, errMsg, failedCommand sql.NullString
		startedAt, durationMs                      int64
	)
	err := scanner.Scan(&rec.ID, &rec.Input, &rec.Flow, &rec.Shared, &herdsJSON,
		&deliverable, &output, &rec.Status, &errMsg, &failedCommand, &startedAt, &durationMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("failed to scan build: %w", err)
	}
	if err := json.Unmarshal([]byte(herdsJSON), &rec.Herds); err != nil {
		return Record{}, fmt.Errorf("decode herds: %w", err)
	}
	rec.Deliverable = deliverable.String
	rec.Output = output.String
	rec.Error = errMsg.String
	rec.FailedCommand = failedCommand.String
	rec.StartedAt = time.UnixMilli(startedAt)
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	return rec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
