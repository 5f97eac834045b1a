package extraction

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/your-org/facegate/internal/models"
)

// Dispatcher hands a job continuation to whatever will run it. Dispatch
// must not wait for the continuation to finish.
type Dispatcher interface {
	Dispatch(ctx context.Context, task models.ExtractionTask) error
}

var errPoolClosed = errors.New("extraction pool closed")

// Pool runs continuations in-process on at most size goroutines at a time.
// Continuations run on the pool's own context, not the caller's.
type Pool struct {
	run    func(ctx context.Context, jobID uuid.UUID) error
	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(size int, run func(ctx context.Context, jobID uuid.UUID) error) *Pool {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		run:    run,
		ctx:    ctx,
		cancel: cancel,
		sem:    make(chan struct{}, size),
	}
}

func (p *Pool) Dispatch(_ context.Context, task models.ExtractionTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errPoolClosed
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case p.sem <- struct{}{}:
		case <-p.ctx.Done():
			return
		}
		defer func() { <-p.sem }()

		if err := p.run(p.ctx, task.JobID); err != nil && p.ctx.Err() == nil {
			slog.Error("extraction continuation failed", "job_id", task.JobID, "error", err)
		}
	}()
	return nil
}

// Drain blocks until every dispatched continuation has returned.
func (p *Pool) Drain() {
	p.wg.Wait()
}

// Close stops accepting work, cancels running continuations and waits for
// them. Interrupted jobs stay processing until the stale sweep fails them.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}
