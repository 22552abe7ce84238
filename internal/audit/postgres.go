// Package audit keeps an append-only history of job status changes in
// Postgres. The history is informational: the Redis record stays the
// source of truth for a job's state.
package audit

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"image-job-workers/internal/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store wraps pgxpool for the transition log.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// RunMigrations executes the embedded SQL migrations in order.
func (s *Store) RunMigrations(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sql := strings.TrimSpace(string(content))
		if sql == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("exec migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

// Record appends one transition.
func (s *Store) Record(ctx context.Context, t models.Transition) error {
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_transitions (job_id, from_status, to_status, worker_id, detail, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.JobID, string(t.From), string(t.To), t.WorkerID, t.Detail, at.UTC())
	if err != nil {
		return fmt.Errorf("insert transition for %s: %w", t.JobID, err)
	}
	return nil
}

// History returns the recorded transitions of a job, oldest first.
func (s *Store) History(ctx context.Context, jobID string) ([]models.Transition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, from_status, to_status, worker_id, detail, recorded_at
		FROM job_transitions WHERE job_id = $1 ORDER BY id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []models.Transition
	for rows.Next() {
		var (
			t        models.Transition
			from, to string
		)
		if err := rows.Scan(&t.JobID, &from, &to, &t.WorkerID, &t.Detail, &t.At); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.From = models.Status(from)
		t.To = models.Status(to)
		t.At = t.At.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}
