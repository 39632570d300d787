// Package history is the local SQLite store for deployments started from this
// machine, counters and the set of already announced job outcomes.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/protocol"
)

const CounterProgramsDeployed = "programs_deployed"

var ErrNotFound = errors.New("deployment not in history")

type DB struct {
	db *sql.DB
}

// DefaultDir is $XDG_CONFIG_HOME/d2d or its platform equivalent.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "d2d"), nil
}

// Open creates or opens dir/history.db in WAL mode.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := filepath.Join(dir, "history.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS deployments (
			id                TEXT PRIMARY KEY,
			wallet            TEXT NOT NULL,
			program_id        TEXT NOT NULL,
			payment_signature TEXT NOT NULL DEFAULT '',
			simulated         BOOLEAN NOT NULL DEFAULT 0,
			total_lamports    INTEGER NOT NULL DEFAULT 0,
			status            TEXT NOT NULL,
			result_program_id TEXT NOT NULL DEFAULT '',
			error             TEXT NOT NULL DEFAULT '',
			created_at        INTEGER NOT NULL,
			updated_at        INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deployments_wallet ON deployments(wallet, created_at)`,
		`CREATE TABLE IF NOT EXISTS counters (
			key   TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notified (
			job_id      TEXT PRIMARY KEY,
			status      TEXT NOT NULL,
			notified_at INTEGER NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// Record is one deployment as remembered locally.
type Record struct {
	ID               string
	Wallet           string
	ProgramID        string
	PaymentSignature string
	Simulated        bool
	TotalLamports    uint64
	Status           protocol.JobStatus
	ResultProgramID  string
	Error            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (d *DB) RecordDeployment(ctx context.Context, r Record) error {
	if r.ID == "" {
		return errors.New("deployment id is required")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO deployments (id, wallet, program_id, payment_signature, simulated, total_lamports, status, result_program_id, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			result_program_id=excluded.result_program_id,
			error=excluded.error,
			updated_at=excluded.updated_at`,
		r.ID, r.Wallet, r.ProgramID, r.PaymentSignature, r.Simulated, int64(r.TotalLamports),
		string(r.Status), r.ResultProgramID, r.Error, r.CreatedAt.Unix(), r.UpdatedAt.Unix(),
	)
	return err
}

// UpdateFromJob copies the backend's view of a job onto its local record.
func (d *DB) UpdateFromJob(ctx context.Context, job protocol.DeploymentJob) error {
	updated := job.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	res, err := d.db.ExecContext(ctx,
		`UPDATE deployments SET status = ?, result_program_id = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(job.Status), job.ResultProgramID, job.ErrorMessage, updated.Unix(), job.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *DB) Deployment(ctx context.Context, id string) (Record, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, wallet, program_id, payment_signature, simulated, total_lamports, status, result_program_id, error, created_at, updated_at
		 FROM deployments WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

// ListDeployments returns the newest records first. An empty wallet lists
// every wallet; limit <= 0 means no limit.
func (d *DB) ListDeployments(ctx context.Context, wallet string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, wallet, program_id, payment_signature, simulated, total_lamports, status, result_program_id, error, created_at, updated_at
		 FROM deployments WHERE (? = '' OR wallet = ?)
		 ORDER BY created_at DESC, id DESC LIMIT ?`, wallet, wallet, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		r                Record
		status           string
		total            int64
		created, updated int64
	)
	err := s.Scan(&r.ID, &r.Wallet, &r.ProgramID, &r.PaymentSignature, &r.Simulated, &total,
		&status, &r.ResultProgramID, &r.Error, &created, &updated)
	if err != nil {
		return Record{}, err
	}
	r.TotalLamports = uint64(total)
	r.Status = protocol.JobStatus(status)
	r.CreatedAt = time.Unix(created, 0)
	r.UpdatedAt = time.Unix(updated, 0)
	return r, nil
}

// Counter returns 0 for a key never incremented.
func (d *DB) Counter(ctx context.Context, key string) (int64, error) {
	var v int64
	err := d.db.QueryRowContext(ctx, `SELECT value FROM counters WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

// IncrementCounter adds delta to key inside one transaction and returns the
// new value.
func (d *DB) IncrementCounter(ctx context.Context, key string, delta int64) (int64, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var cur int64
	err = tx.QueryRowContext(ctx, `SELECT value FROM counters WHERE key = ?`, key).Scan(&cur)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	next := cur + delta
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO counters (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, next); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

// MarkNotified records that the outcome of jobID was announced. It reports
// false if it already was.
func (d *DB) MarkNotified(ctx context.Context, jobID string, status protocol.JobStatus, at time.Time) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO notified (job_id, status, notified_at) VALUES (?, ?, ?)`,
		jobID, string(status), at.Unix())
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (d *DB) IsNotified(ctx context.Context, jobID string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notified WHERE job_id = ?`, jobID).Scan(&n)
	return n > 0, err
}

// AnnounceTerminal marks a finished job as announced and, for a first
// SUCCESS, bumps the programs-deployed counter. It reports whether this call
// was the first announcement.
func (d *DB) AnnounceTerminal(ctx context.Context, job protocol.DeploymentJob, at time.Time) (bool, error) {
	first, err := d.MarkNotified(ctx, job.ID, job.Status, at)
	if err != nil || !first {
		return first, err
	}
	if err := d.UpdateFromJob(ctx, job); err != nil && !errors.Is(err, ErrNotFound) {
		return true, err
	}
	if job.Status == protocol.JobSuccess {
		if _, err := d.IncrementCounter(ctx, CounterProgramsDeployed, 1); err != nil {
			return true, err
		}
	}
	return true, nil
}
