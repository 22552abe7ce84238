package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// TransformerFactory builds the transformer owned by one worker. It is
// called once per worker so that no transformer state is shared.
type TransformerFactory func(ctx context.Context, workerID string) (Transformer, error)

// Pool supervises a fixed set of independent workers. A worker that dies is
// logged and not restarted; the others keep running.
type Pool struct {
	deps    Deps
	opts    Options
	factory TransformerFactory
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	workers []*Worker
}

// NewPool creates a pool; nothing runs until Start.
func NewPool(deps Deps, opts Options, factory TransformerFactory) *Pool {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Pool{
		deps:    deps,
		opts:    opts.withDefaults(),
		factory: factory,
		logger:  deps.Logger,
	}
}

// Start builds n transformers and launches n workers. It returns without
// starting anything if any transformer cannot be built.
func (p *Pool) Start(ctx context.Context, n int) error {
	if n < 1 {
		return fmt.Errorf("worker pool needs at least one worker, got %d", n)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker pool already started")
	}

	workers := make([]*Worker, 0, n)
	for i := range n {
		id := fmt.Sprintf("%s-%d", p.opts.IDPrefix, i)
		t, err := p.factory(ctx, id)
		if err != nil {
			return fmt.Errorf("build transformer for %s: %w", id, err)
		}
		workers = append(workers, NewWorker(id, p.deps, t, p.opts))
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.workers = workers
	p.running = true

	p.logger.Info("worker pool starting", slog.Int("workers", n), slog.String("results_dir", p.opts.ResultsDir))
	for _, w := range workers {
		p.wg.Add(1)
		go p.supervise(runCtx, w)
	}
	return nil
}

func (p *Pool) supervise(ctx context.Context, w *Worker) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker crashed and will not be restarted",
				slog.String("worker_id", w.ID()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Warn("worker exited", slog.String("worker_id", w.ID()), slog.String("error", err.Error()))
	}
}

// Size returns the number of workers launched by Start.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Shutdown stops all workers. In-flight transforms see their context
// cancelled; Shutdown waits for the loops to exit until ctx expires and
// then gives up, returning ctx's error.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, abandoning in-flight jobs")
		return ctx.Err()
	}
}
