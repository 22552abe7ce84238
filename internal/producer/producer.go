// Package producer is the submitting side of the job contract: write the
// pending record, then push its id onto the queue.
package producer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"image-job-workers/internal/models"
	"image-job-workers/internal/telemetry"
)

// JobStore creates job records; Create must refuse an id that is already
// taken (store.ErrExists).
type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
}

// JobQueue accepts pending job ids.
type JobQueue interface {
	Push(ctx context.Context, jobID string) error
}

// Producer submits jobs for the worker pool.
type Producer struct {
	store JobStore
	queue JobQueue
	now   func() time.Time
}

func New(store JobStore, queue JobQueue) *Producer {
	return &Producer{store: store, queue: queue, now: time.Now}
}

// Submit records a pending job for inputPath and enqueues it. An empty id
// gets a fresh UUID. The record is written before the push so a worker never
// pops an id it cannot load. An id that already has a record is rejected and
// nothing is pushed, so resubmitting never resets an existing job.
func (p *Producer) Submit(ctx context.Context, id, inputPath string) (models.Job, error) {
	if strings.TrimSpace(inputPath) == "" {
		return models.Job{}, errors.New("producer: input path is required")
	}
	if id == "" {
		id = uuid.NewString()
	}

	job := models.Job{
		ID:        id,
		Status:    models.StatusPending,
		InputPath: inputPath,
		CreatedAt: p.now().UTC(),
	}
	if err := p.store.Create(ctx, &job); err != nil {
		return models.Job{}, fmt.Errorf("save job %s: %w", id, err)
	}
	if err := p.queue.Push(ctx, id); err != nil {
		return models.Job{}, fmt.Errorf("enqueue job %s: %w", id, err)
	}
	telemetry.EnqueueCounter.Inc()
	return job, nil
}
