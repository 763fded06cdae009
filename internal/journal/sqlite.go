// Package journal records campaign runs and per-group deliveries in SQLite.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when a run ID has no journal row.
var ErrRunNotFound = errors.New("run not found")

// Journal is a SQLite-backed delivery log.
type Journal struct {
	db *sql.DB
}

// Open opens the journal at path. An empty path opens an in-memory journal.
func Open(ctx context.Context, path string) (*Journal, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := false
	if trimmed == "" {
		trimmed = ":memory:"
		inMemory = true
	}
	if strings.Contains(trimmed, "mode=memory") || trimmed == ":memory:" || trimmed == "file::memory:" {
		inMemory = true
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// EnsureSchema creates the journal tables when missing.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
            id TEXT PRIMARY KEY,
            campaign TEXT NOT NULL,
            provider TEXT NOT NULL,
            dry_run INTEGER NOT NULL,
            groups_total INTEGER NOT NULL,
            sent INTEGER NOT NULL DEFAULT 0,
            failed INTEGER NOT NULL DEFAULT 0,
            started_at INTEGER NOT NULL,
            finished_at INTEGER
        );`,
		`CREATE TABLE IF NOT EXISTS deliveries (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            run_id TEXT NOT NULL,
            fingerprint TEXT NOT NULL,
            message_id TEXT NOT NULL,
            status TEXT NOT NULL,
            error TEXT NOT NULL DEFAULT '',
            created_at INTEGER NOT NULL,
            FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS delivery_recipients (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            delivery_id INTEGER NOT NULL,
            address TEXT NOT NULL,
            role TEXT NOT NULL,
            FOREIGN KEY(delivery_id) REFERENCES deliveries(id) ON DELETE CASCADE
        );`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_run ON deliveries(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_recipients_delivery ON delivery_recipients(delivery_id);`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_recipients_address ON delivery_recipients(address);`,
	}

	for _, statement := range statements {
		if _, err := j.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// StartRun inserts a new run.
func (j *Journal) StartRun(ctx context.Context, run Run) error {
	_, err := j.db.ExecContext(ctx, `INSERT INTO runs
        (id, campaign, provider, dry_run, groups_total, started_at)
        VALUES (?, ?, ?, ?, ?, ?);`,
		run.ID,
		run.Campaign,
		run.Provider,
		boolToInt(run.DryRun),
		run.Groups,
		run.StartedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordDelivery stores one delivery with its recipients and returns its ID.
func (j *Journal) RecordDelivery(ctx context.Context, d Delivery) (int64, error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO deliveries
        (run_id, fingerprint, message_id, status, error, created_at)
        VALUES (?, ?, ?, ?, ?, ?);`,
		d.RunID,
		d.Fingerprint,
		d.MessageID,
		d.Status,
		d.Error,
		d.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert delivery: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("delivery id: %w", err)
	}

	for _, r := range d.Recipients {
		_, err = tx.ExecContext(ctx, `INSERT INTO delivery_recipients (delivery_id, address, role)
            VALUES (?, ?, ?);`, id, r.Address, r.Role)
		if err != nil {
			return 0, fmt.Errorf("insert recipient: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delivery: %w", err)
	}
	return id, nil
}

// FinishRun records the final counts of a run.
func (j *Journal) FinishRun(ctx context.Context, runID string, sent, failed int, finishedAt time.Time) error {
	res, err := j.db.ExecContext(ctx, `UPDATE runs SET sent = ?, failed = ?, finished_at = ? WHERE id = ?;`,
		sent, failed, finishedAt.UnixMilli(), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// ListRuns returns the most recent runs first. A non-positive limit
// defaults to 20.
func (j *Journal) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.db.QueryContext(ctx, `SELECT id, campaign, provider, dry_run, groups_total, sent, failed, started_at, finished_at
        FROM runs ORDER BY started_at DESC, id LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run      Run
			dryRun   int
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&run.ID, &run.Campaign, &run.Provider, &dryRun, &run.Groups,
			&run.Sent, &run.Failed, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.DryRun = dryRun != 0
		run.StartedAt = time.UnixMilli(started)
		if finished.Valid {
			run.FinishedAt = time.UnixMilli(finished.Int64)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Deliveries returns the deliveries of a run in insertion order.
func (j *Journal) Deliveries(ctx context.Context, runID string) ([]Delivery, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT d.id, d.run_id, d.fingerprint, d.message_id, d.status, d.error, d.created_at,
            r.address, r.role
        FROM deliveries d
        LEFT JOIN delivery_recipients r ON r.delivery_id = d.id
        WHERE d.run_id = ?
        ORDER BY d.id, r.id;`, runID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		var (
			d       Delivery
			created int64
			address sql.NullString
			role    sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.RunID, &d.Fingerprint, &d.MessageID, &d.Status, &d.Error, &created,
			&address, &role); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}

		if n := len(deliveries); n == 0 || deliveries[n-1].ID != d.ID {
			d.CreatedAt = time.UnixMilli(created)
			deliveries = append(deliveries, d)
		}
		if address.Valid {
			last := &deliveries[len(deliveries)-1]
			last.Recipients = append(last.Recipients, Recipient{Address: address.String, Role: role.String})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return deliveries, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
