// Package jobs persists analysis jobs (status, progress, steps, logs,
// result) in sqlite so the HTTP surface can report on them across restarts.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

var ErrNotFound = errors.New("job not found")

type Step struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Progress    int             `json:"progress"`
	CurrentStep string          `json:"current_step"`
	Data        json.RawMessage `json:"data,omitempty"`
	Steps       []Step          `json:"steps"`
	Logs        []string        `json:"logs"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Patch updates only the non-nil fields.
type Patch struct {
	Status   *string
	Step     *string
	Progress *int
	Result   any
	Error    *string
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id           TEXT PRIMARY KEY,
		type         TEXT NOT NULL,
		status       TEXT NOT NULL DEFAULT 'pending',
		progress     INTEGER NOT NULL DEFAULT 0,
		current_step TEXT DEFAULT '',
		data         TEXT DEFAULT '',
		result       TEXT DEFAULT '',
		error        TEXT DEFAULT '',
		created_at   DATETIME NOT NULL,
		updated_at   DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);

	CREATE TABLE IF NOT EXISTS job_steps (
		seq     INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id  TEXT NOT NULL,
		step_id TEXT NOT NULL,
		name    TEXT NOT NULL,
		status  TEXT NOT NULL,
		message TEXT DEFAULT '',
		UNIQUE(job_id, step_id)
	);

	CREATE TABLE IF NOT EXISTS job_logs (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id    TEXT NOT NULL,
		message   TEXT NOT NULL,
		logged_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_job_logs_job ON job_logs(job_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init jobs schema: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Create(ctx context.Context, typ string, data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode job data: %w", err)
	}
	id := uuid.NewString()
	now := s.now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, type, status, progress, current_step, data, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?, ?, ?)`,
		id, typ, StatusPending, "Initializing...", string(raw), now, now,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, id string, p Patch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	if p.Status != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE id = ?`, *p.Status, id); err != nil {
			return err
		}
	}
	if p.Step != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET current_step = ? WHERE id = ?`, *p.Step, id); err != nil {
			return err
		}
	}
	if p.Progress != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET progress = ? WHERE id = ?`, clamp(*p.Progress), id); err != nil {
			return err
		}
	}
	if p.Result != nil {
		raw, err := json.Marshal(p.Result)
		if err != nil {
			return fmt.Errorf("encode job result: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET result = ? WHERE id = ?`, string(raw), id); err != nil {
			return err
		}
	}
	if p.Error != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET error = ? WHERE id = ?`, *p.Error, id); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET updated_at = ? WHERE id = ?`, s.now(), id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Complete(ctx context.Context, id string, result any) error {
	status, progress := StatusCompleted, 100
	return s.Update(ctx, id, Patch{Status: &status, Progress: &progress, Result: result})
}

func (s *Store) Fail(ctx context.Context, id string, msg string) error {
	status := StatusFailed
	return s.Update(ctx, id, Patch{Status: &status, Error: &msg})
}

// AddStep inserts the step or updates its status and message.
func (s *Store) AddStep(ctx context.Context, id string, step Step) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_steps (job_id, step_id, name, status, message) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(job_id, step_id) DO UPDATE SET status = excluded.status, message = excluded.message`,
		id, step.ID, step.Name, step.Status, step.Message,
	)
	return err
}

func (s *Store) AddLog(ctx context.Context, id string, msg string) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_logs (job_id, message, logged_at) VALUES (?, ?, ?)`,
		id, fmt.Sprintf("[%s] %s", now.Format(time.RFC3339), msg), now,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, status, progress, current_step, data, result, error, created_at, updated_at
		 FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	if j.Steps, err = s.steps(ctx, id); err != nil {
		return Job{}, err
	}
	if j.Logs, err = s.logs(ctx, id); err != nil {
		return Job{}, err
	}
	return j, nil
}

// List returns the newest jobs first, optionally filtered by type. Steps and
// logs are not loaded.
func (s *Store) List(ctx context.Context, typ string, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, status, progress, current_step, data, result, error, created_at, updated_at
		 FROM jobs WHERE (? = '' OR type = ?) ORDER BY created_at DESC, id LIMIT ?`,
		typ, typ, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Cleanup removes jobs created before now-age and returns how many.
func (s *Store) Cleanup(ctx context.Context, age time.Duration) (int, error) {
	cutoff := s.now().Add(-age)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM job_steps WHERE job_id IN (SELECT id FROM jobs WHERE created_at < ?)`,
		`DELETE FROM job_logs WHERE job_id IN (SELECT id FROM jobs WHERE created_at < ?)`,
	} {
		if _, err := tx.ExecContext(ctx, q, cutoff); err != nil {
			return 0, err
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), tx.Commit()
}

// FailInterrupted marks jobs left pending or processing by a previous
// process as failed.
func (s *Store) FailInterrupted(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE status IN (?, ?)`,
		StatusFailed, "interrupted by server restart", s.now(), StatusPending, StatusProcessing,
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (Job, error) {
	var (
		j            Job
		data, result string
	)
	err := sc.Scan(&j.ID, &j.Type, &j.Status, &j.Progress, &j.CurrentStep, &data, &result, &j.Error, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return Job{}, err
	}
	if data != "" {
		j.Data = json.RawMessage(data)
	}
	if result != "" {
		j.Result = json.RawMessage(result)
	}
	return j, nil
}

func (s *Store) steps(ctx context.Context, id string) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step_id, name, status, message FROM job_steps WHERE job_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Step{}
	for rows.Next() {
		var st Step
		if err := rows.Scan(&st.ID, &st.Name, &st.Status, &st.Message); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) logs(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT message FROM job_logs WHERE job_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func clamp(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
