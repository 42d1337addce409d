package job

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mediacheck/mediacheck/internal/errors"
)

// SQLiteStore is a SQLite-backed implementation of Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite db")
	}
	// :memory: databases are per-connection.
	db.SetMaxOpenConns(1)

	// WAL mode for better concurrent read performance.
	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enable WAL mode")
	}

	s := &SQLiteStore{db: db}
	if err = s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id           TEXT PRIMARY KEY,
			seq          INTEGER NOT NULL,
			path         TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'QUEUED',
			details      TEXT NOT NULL DEFAULT '',
			attempts     INTEGER NOT NULL DEFAULT 0,
			created_at   DATETIME NOT NULL,
			started_at   DATETIME,
			completed_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_seq    ON jobs(seq);
		CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	`)
	return err
}

// Upsert inserts j or replaces the stored row with the same ID.
func (s *SQLiteStore) Upsert(ctx context.Context, j *Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs
			(id, seq, path, status, details, attempts, created_at, started_at, completed_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path         = excluded.path,
			status       = excluded.status,
			details      = excluded.details,
			attempts     = excluded.attempts,
			started_at   = excluded.started_at,
			completed_at = excluded.completed_at
	`,
		j.ID,
		j.Seq,
		j.Path,
		j.Status,
		j.Details,
		j.Attempts,
		j.CreatedAt.UTC(),
		nullableTime(j.StartedAt),
		nullableTime(j.CompletedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "upsert job %s", j.ID)
	}
	return nil
}

// Delete removes the given jobs. Unknown IDs are ignored.
func (s *SQLiteStore) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin delete")
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "delete job %s", id)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit delete")
	}
	return nil
}

// List returns all jobs ordered by insertion sequence.
func (s *SQLiteStore) List(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, path, status, details, attempts, created_at, started_at, completed_at
		FROM jobs
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j := &Job{}
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(
			&j.ID, &j.Seq, &j.Path, &j.Status, &j.Details, &j.Attempts,
			&j.CreatedAt, &startedAt, &completedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan job")
		}
		if startedAt.Valid {
			t := startedAt.Time
			j.StartedAt = &t
		}
		if completedAt.Valid {
			t := completedAt.Time
			j.CompletedAt = &t
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate jobs")
	}
	return jobs, nil
}

// ResetRunning moves all jobs stuck in "RUNNING" back to "QUEUED".
func (s *SQLiteStore) ResetRunning(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM jobs WHERE status = ?`, StatusRunning)
	if err != nil {
		return nil, errors.Wrap(err, "query running jobs")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan job id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate running jobs")
	}

	if len(ids) == 0 {
		return nil, nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, details = ?, started_at = NULL WHERE status = ?
	`, StatusQueued, DefaultDetails, StatusRunning)
	if err != nil {
		return nil, errors.Wrap(err, "reset running jobs")
	}
	return ids, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
