package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	correlation_id TEXT,
	status TEXT NOT NULL,
	progress REAL NOT NULL,
	logs TEXT,
	result TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// SQLiteStore はジョブ状態を SQLite の jobs テーブルに保存します。
// logs と result は JSON 文字列として保持します。
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite はデータベースを開き、スキーマを作成します。":memory:" も指定できます。
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
			db.Close()
			return nil, err
		}
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, id, correlationID string) (*Job, error) {
	job, err := newJob(id, correlationID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	logs, result, err := encodeColumns(job)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, correlation_id, status, progress, logs, result, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.CorrelationID, string(job.Status), job.Progress, logs, result,
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	if id == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	job, err := scanJob(s.db.QueryRowContext(ctx, selectJob, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status Status, line string) error {
	return s.update(ctx, id, setStatus(status, line))
}

func (s *SQLiteStore) AppendLog(ctx context.Context, id, line string) error {
	return s.update(ctx, id, addLog(line))
}

func (s *SQLiteStore) UpdateProgress(ctx context.Context, id string, progress float64, line string) error {
	return s.update(ctx, id, setProgress(progress, line))
}

func (s *SQLiteStore) Finish(ctx context.Context, id string, status Status, result *Result, line string) error {
	return s.update(ctx, id, finish(status, result, line))
}

func (s *SQLiteStore) ListActive(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, correlation_id, status, progress, logs, result, created_at, updated_at
		FROM jobs WHERE status IN (?, ?) ORDER BY created_at`,
		string(StatusPending), string(StatusInProgress),
	)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortByCreated(out)
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectJob = `
	SELECT id, correlation_id, status, progress, logs, result, created_at, updated_at
	FROM jobs WHERE id = ?`

func (s *SQLiteStore) update(ctx context.Context, id string, mutate mutation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	job, err := scanJob(tx.QueryRowContext(ctx, selectJob, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	}
	if err := mutate(job); err != nil {
		return err
	}
	touch(job, time.Now().UTC())

	logs, result, err := encodeColumns(job)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = ?, progress = ?, logs = ?, result = ?, updated_at = ?
		WHERE id = ?`,
		string(job.Status), job.Progress, logs, result, formatTime(job.UpdatedAt), id,
	); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job                  Job
		correlationID        sql.NullString
		status               string
		logs, result         sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&job.ID, &correlationID, &status, &job.Progress, &logs, &result, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	job.CorrelationID = correlationID.String
	job.Status = Status(status)

	if logs.Valid && logs.String != "" {
		if err := json.Unmarshal([]byte(logs.String), &job.Logs); err != nil {
			return nil, fmt.Errorf("decode logs: %w", err)
		}
	}
	if result.Valid && result.String != "" {
		var res Result
		if err := json.Unmarshal([]byte(result.String), &res); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		job.Result = &res
	}

	var err error
	if job.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if job.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &job, nil
}

func encodeColumns(job *Job) (string, sql.NullString, error) {
	logs, err := json.Marshal(job.Logs)
	if err != nil {
		return "", sql.NullString{}, err
	}
	if job.Result == nil {
		return string(logs), sql.NullString{}, nil
	}
	result, err := json.Marshal(job.Result)
	if err != nil {
		return "", sql.NullString{}, err
	}
	return string(logs), sql.NullString{String: string(result), Valid: true}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
