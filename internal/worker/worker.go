// Package worker runs the job lifecycle: pop an id, claim the job, run the
// transformer and persist the outcome. A Pool supervises several Workers
// that share nothing but the store and queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"image-job-workers/internal/models"
	"image-job-workers/internal/queue"
	"image-job-workers/internal/store"
	"image-job-workers/internal/telemetry"
)

// JobStore is the single-key record storage the worker reads and writes.
type JobStore interface {
	Get(ctx context.Context, jobID string) (models.Job, error)
	Put(ctx context.Context, job *models.Job) error
}

// JobQueue hands out pending job ids; Pop returns queue.ErrEmpty when idle.
type JobQueue interface {
	Pop(ctx context.Context) (string, error)
}

// Transformer produces the output artifact for one job.
type Transformer interface {
	Transform(ctx context.Context, inputPath, outputPath string) error
}

// Recorder receives every persisted status change. Failures are logged and
// otherwise ignored.
type Recorder interface {
	Record(ctx context.Context, t models.Transition) error
}

// Deps are the collaborators shared by every worker in a pool.
type Deps struct {
	Store    JobStore
	Queue    JobQueue
	Recorder Recorder
	Logger   *slog.Logger
}

// Options tune a worker loop.
type Options struct {
	ResultsDir   string
	IdleBackoff  time.Duration
	ErrorBackoff time.Duration
	// IDPrefix names workers in a pool as <prefix>-<n>.
	IDPrefix string
}

func (o Options) withDefaults() Options {
	if o.ResultsDir == "" {
		o.ResultsDir = "results"
	}
	if o.IdleBackoff <= 0 {
		o.IdleBackoff = time.Second
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = 5 * time.Second
	}
	if o.IDPrefix == "" {
		o.IDPrefix = "worker"
	}
	return o
}

// Result says what a single iteration did.
type Result int

const (
	ResultIdle        Result = iota // queue was empty
	ResultMissing                   // popped id had no readable record
	ResultSkipped                   // record was not pending
	ResultCompleted                 // transformer succeeded
	ResultFailed                    // transformer failed
	ResultInterrupted               // shutdown arrived mid-transform
)

func (r Result) String() string {
	switch r {
	case ResultIdle:
		return "idle"
	case ResultMissing:
		return "missing"
	case ResultSkipped:
		return "skipped"
	case ResultCompleted:
		return "completed"
	case ResultFailed:
		return "failed"
	case ResultInterrupted:
		return "interrupted"
	}
	return fmt.Sprintf("result(%d)", int(r))
}

const (
	maxErrorSummary = 256
	// finalWriteTimeout bounds the terminal write made after shutdown has
	// already cancelled the run context.
	finalWriteTimeout = 5 * time.Second
)

// Worker is one sequential job loop with its own transformer.
type Worker struct {
	id          string
	deps        Deps
	transformer Transformer
	opts        Options
	logger      *slog.Logger
}

// NewWorker builds a worker. deps.Logger may be nil.
func NewWorker(id string, deps Deps, t Transformer, opts Options) *Worker {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		id:          id,
		deps:        deps,
		transformer: t,
		opts:        opts.withDefaults(),
		logger:      logger.With(slog.String("worker_id", id)),
	}
}

// ID returns the worker's name.
func (w *Worker) ID() string { return w.id }

// Run loops until ctx is cancelled. An empty queue costs IdleBackoff; any
// error or panic inside an iteration is logged and costs ErrorBackoff.
// Nothing a single job does ends the loop.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", slog.String("results_dir", w.opts.ResultsDir))
	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("worker stopped")
			return err
		}

		res, err := w.iterate(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			telemetry.IterationErrors.Inc()
			w.logger.Error("worker iteration failed",
				slog.String("error", err.Error()),
				slog.Duration("backoff", w.opts.ErrorBackoff),
			)
			w.pause(ctx, w.opts.ErrorBackoff)
		case res == ResultIdle:
			w.pause(ctx, w.opts.IdleBackoff)
		}
	}
}

func (w *Worker) iterate(ctx context.Context) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker iteration panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.RunOnce(ctx)
}

// RunOnce performs one pass of the job protocol without sleeping.
func (w *Worker) RunOnce(ctx context.Context) (Result, error) {
	jobID, err := w.deps.Queue.Pop(ctx)
	if errors.Is(err, queue.ErrEmpty) {
		return ResultIdle, nil
	}
	if err != nil {
		return ResultIdle, fmt.Errorf("pop job: %w", err)
	}

	logger := w.logger.With(slog.String("job_id", jobID))

	job, err := w.deps.Store.Get(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		telemetry.JobsMissing.Inc()
		logger.Warn("popped job has no record, skipping")
		return ResultMissing, nil
	}
	if err != nil {
		// The id is already off the queue; say so loudly.
		logger.Error("popped job could not be loaded and was dropped", slog.String("error", err.Error()))
		return ResultIdle, fmt.Errorf("load job %s: %w", jobID, err)
	}

	from := job.Status
	if err := job.Start(); err != nil {
		logger.Warn("popped job is not pending, skipping", slog.String("status", string(from)))
		return ResultSkipped, nil
	}
	if err := w.deps.Store.Put(ctx, &job); err != nil {
		return ResultIdle, fmt.Errorf("claim job %s: %w", jobID, err)
	}
	telemetry.JobsClaimed.Inc()
	w.record(ctx, job, from, "")
	logger.Info("processing job", slog.String("input_path", job.InputPath))

	outputPath := OutputPath(w.opts.ResultsDir, job.ID, job.InputPath)
	var runErr error
	if err := os.MkdirAll(w.opts.ResultsDir, 0o755); err != nil {
		runErr = fmt.Errorf("prepare results dir: %w", err)
	} else {
		runErr = w.transform(ctx, job.InputPath, outputPath)
	}

	if runErr != nil && ctx.Err() != nil {
		logger.Warn("shutdown interrupted job, leaving it in processing", slog.String("error", runErr.Error()))
		return ResultInterrupted, nil
	}

	res := ResultCompleted
	if runErr != nil {
		res = ResultFailed
		if rmErr := os.Remove(outputPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logger.Warn("could not remove partial output", slog.String("error", rmErr.Error()))
		}
		if err := job.Fail(Summarize(runErr)); err != nil {
			return ResultIdle, err
		}
	} else if err := job.Complete(outputPath); err != nil {
		return ResultIdle, err
	}

	writeCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
		defer cancel()
	}
	if err := w.deps.Store.Put(writeCtx, &job); err != nil {
		return ResultIdle, fmt.Errorf("persist %s job %s: %w", job.Status, jobID, err)
	}
	w.record(writeCtx, job, models.StatusProcessing, job.Error)

	if res == ResultFailed {
		telemetry.JobsFailed.Inc()
		logger.Warn("job failed", slog.String("error", runErr.Error()))
	} else {
		telemetry.JobsCompleted.Inc()
		logger.Info("job completed", slog.String("output_path", job.OutputPath))
	}
	return res, nil
}

// transform calls the transformer, turning a panic into an error.
func (w *Worker) transform(ctx context.Context, inputPath, outputPath string) (err error) {
	start := time.Now()
	telemetry.InFlightGauge.Inc()
	defer func() {
		telemetry.InFlightGauge.Dec()
		telemetry.TransformSeconds.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			w.logger.Error("transformer panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("transformer panicked: %v", r)
		}
	}()
	return w.transformer.Transform(ctx, inputPath, outputPath)
}

func (w *Worker) record(ctx context.Context, job models.Job, from models.Status, detail string) {
	if w.deps.Recorder == nil {
		return
	}
	err := w.deps.Recorder.Record(ctx, models.Transition{
		JobID:    job.ID,
		From:     from,
		To:       job.Status,
		WorkerID: w.id,
		Detail:   detail,
		At:       job.UpdatedAt,
	})
	if err != nil {
		w.logger.Warn("audit record failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// OutputPath is where a job's artifact goes: {dir}/{id}-output{ext of input}.
func OutputPath(dir, jobID, inputPath string) string {
	return filepath.Join(dir, jobID+"-output"+filepath.Ext(inputPath))
}

// Summarize reduces an error to the short text stored on a failed job: its
// first line, capped at 256 bytes.
func Summarize(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	if i := strings.IndexAny(msg, "\r\n"); i >= 0 {
		msg = strings.TrimSpace(msg[:i])
	}
	if len(msg) > maxErrorSummary {
		cut := maxErrorSummary
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return msg
}
