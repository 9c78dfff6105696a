package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/tabula/core"
)

type (
	IngestFunc func(ctx context.Context, task core.IngestTask) error
	PurgeFunc  func(ctx context.Context, task core.PurgeTask) error

	job struct {
		name   string
		logCtx map[string]interface{}
		run    func(ctx context.Context) error
	}

	// Pool runs background jobs on a fixed number of goroutines fed by a bounded queue.
	Pool struct {
		workers int
		jobs    chan job
		log     core.Logger

		ingest IngestFunc
		purge  PurgeFunc

		mu     sync.RWMutex
		closed bool

		ctx    context.Context
		cancel context.CancelFunc
		wg     sync.WaitGroup
	}
)

var _ core.JobQueue = (*Pool)(nil)

func NewPool(workers, queueSize int, logger core.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers: workers,
		jobs:    make(chan job, queueSize),
		log:     logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Handle sets the job handlers; it must be called before Start.
func (p *Pool) Handle(ingest IngestFunc, purge PurgeFunc) {
	p.ingest = ingest
	p.purge = purge
}

func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range p.jobs {
				p.runJob(j)
			}
		}()
	}
}

func (p *Pool) runJob(j job) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("worker: job panicked", errors.New(fmt.Sprint(r)), j.logCtx)
		}
	}()
	if err := j.run(p.ctx); err != nil {
		p.log.Error("worker: "+j.name+" failed", err, j.logCtx)
	}
}

func (p *Pool) enqueue(ctx context.Context, j job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return core.ErrQueueClosed
	}

	select {
	case p.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return core.ErrQueueClosed
	}
}

func (p *Pool) EnqueueIngest(ctx context.Context, task core.IngestTask) error {
	if p.ingest == nil {
		return errors.New("worker: no ingest handler")
	}
	return p.enqueue(ctx, job{
		name:   "ingest",
		logCtx: map[string]interface{}{"session_id": task.SessionID, "path": task.Path},
		run:    func(ctx context.Context) error { return p.ingest(ctx, task) },
	})
}

func (p *Pool) EnqueuePurge(ctx context.Context, task core.PurgeTask) error {
	if p.purge == nil {
		return errors.New("worker: no purge handler")
	}
	return p.enqueue(ctx, job{
		name:   "purge",
		logCtx: map[string]interface{}{"file_id": task.FileID, "rows": len(task.RowIDs)},
		run:    func(ctx context.Context) error { return p.purge(ctx, task) },
	})
}

// Shutdown stops accepting jobs and waits for queued ones to finish.
// When ctx expires first, running jobs are cancelled and ctx's error is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
