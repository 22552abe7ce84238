// Package store persists job records in Redis under job:{id} with a fixed
// expiry that is reset on every write.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"image-job-workers/internal/models"
)

var (
	// ErrNotFound is returned for absent, expired and unreadable records alike.
	ErrNotFound = errors.New("store: job not found")
	// ErrExists is returned by Create when the id is already taken.
	ErrExists = errors.New("store: job already exists")
)

// DefaultTTL is the lifetime of a record after its latest write.
const DefaultTTL = 24 * time.Hour

// Option configures a JobStore.
type Option func(*JobStore)

// WithTTL overrides the record expiry window.
func WithTTL(ttl time.Duration) Option {
	return func(s *JobStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithLogger sets the logger used to report corrupt records.
func WithLogger(l *slog.Logger) Option {
	return func(s *JobStore) { s.logger = l }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *JobStore) { s.now = now }
}

// JobStore reads and writes job records. Every operation touches a single key.
type JobStore struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// New builds a JobStore on top of an existing client; the caller owns the client.
func New(client redis.Cmdable, opts ...Option) *JobStore {
	s := &JobStore{
		client: client,
		ttl:    DefaultTTL,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Key returns the Redis key for a job id.
func Key(jobID string) string {
	return "job:" + jobID
}

// Get loads a job record. A record that cannot be decoded or fails
// validation is logged and reported as ErrNotFound.
func (s *JobStore) Get(ctx context.Context, jobID string) (models.Job, error) {
	raw, err := s.client.Get(ctx, Key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Job{}, ErrNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}

	var job models.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		s.logger.Warn("discarding unparsable job record",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return models.Job{}, ErrNotFound
	}
	if job.ID == "" {
		job.ID = jobID
	}
	if job.ID != jobID {
		s.logger.Warn("discarding job record stored under a foreign key",
			slog.String("job_id", jobID),
			slog.String("record_id", job.ID),
		)
		return models.Job{}, ErrNotFound
	}
	if err := job.Validate(); err != nil {
		s.logger.Warn("discarding invalid job record",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return models.Job{}, ErrNotFound
	}
	return job, nil
}

// Put validates and writes the record, refreshing UpdatedAt and resetting
// the expiry. UpdatedAt always moves forward relative to the value held by job.
func (s *JobStore) Put(ctx context.Context, job *models.Job) error {
	raw, prev, err := s.encode(job)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, Key(job.ID), raw, s.ttl).Err(); err != nil {
		job.UpdatedAt = prev
		return fmt.Errorf("put job %s: %w", job.ID, err)
	}
	return nil
}

// Create writes a new pending record and fails with ErrExists if the id is
// already in use, leaving the existing record untouched.
func (s *JobStore) Create(ctx context.Context, job *models.Job) error {
	if job.Status != models.StatusPending {
		return fmt.Errorf("%w: new job must be pending, got %s", models.ErrInvalidJob, job.Status)
	}
	raw, prev, err := s.encode(job)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, Key(job.ID), raw, s.ttl).Result()
	if err != nil {
		job.UpdatedAt = prev
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	if !ok {
		job.UpdatedAt = prev
		return fmt.Errorf("%w: %s", ErrExists, job.ID)
	}
	return nil
}

// encode validates job and stamps a fresh UpdatedAt, returning the previous
// value so callers can restore it when the write fails.
func (s *JobStore) encode(job *models.Job) ([]byte, time.Time, error) {
	if err := job.Validate(); err != nil {
		return nil, job.UpdatedAt, err
	}

	prev := job.UpdatedAt
	now := s.now().UTC()
	if !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	job.UpdatedAt = now

	raw, err := json.Marshal(job)
	if err != nil {
		job.UpdatedAt = prev
		return nil, prev, fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	return raw, prev, nil
}

// TTL reports how long the record has left before it expires.
func (s *JobStore) TTL(ctx context.Context, jobID string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, Key(jobID)).Result()
	if err != nil {
		return 0, fmt.Errorf("ttl job %s: %w", jobID, err)
	}
	// go-redis passes the -2 "no such key" reply through unscaled.
	if d == -2 {
		return 0, ErrNotFound
	}
	return d, nil
}
