package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonesrussell/webwords/internal/domain"
	"github.com/jonesrussell/webwords/internal/logger"
)

// State represents the current state of the pool.
type State int32

const (
	// StateInitialized means the pool is created but not started.
	StateInitialized State = iota

	// StateRunning means the pool is actively processing URLs.
	StateRunning

	// StateDraining means the pool is finishing in-flight work.
	StateDraining

	// StateStopped means the pool has shut down.
	StateStopped
)

// String returns the string representation of a pool state.
func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Pool state errors.
var (
	ErrPoolNotRunning     = errors.New("pool is not running")
	ErrPoolAlreadyStarted = errors.New("pool has already been started")
	ErrDrainTimeout       = errors.New("pool drain timed out")
)

// Pool runs a fixed number of goroutines that pull leased URLs from the
// task channel, run the worker pipeline, and emit results. Workers are
// long-lived; a goroutine that dies to an unrecovered panic is replaced
// while the pool is RUNNING, so the pool never silently shrinks.
type Pool struct {
	size    int
	worker  *Worker
	log     logger.Interface
	state   atomic.Int32
	tasks   chan *domain.QueuedURL
	results chan *domain.FetchResult
	wg      sync.WaitGroup

	busy      atomic.Int32
	processed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a pool of size workers sharing one pipeline. Channels
// are buffered to twice the pool size so the session loop and the
// workers rarely block each other.
func NewPool(size int, w *Worker, log logger.Interface) *Pool {
	if size < 1 {
		size = 1
	}

	p := &Pool{
		size:    size,
		worker:  w,
		log:     log,
		tasks:   make(chan *domain.QueuedURL, size*2),
		results: make(chan *domain.FetchResult, size*2),
	}
	p.state.Store(int32(StateInitialized))
	return p
}

// Start launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(StateInitialized), int32(StateRunning)) {
		return ErrPoolAlreadyStarted
	}

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}

	p.log.Info("worker pool started", "pool_size", p.size)
	return nil
}

// run is one worker goroutine's loop. On panic it spawns a replacement
// if the pool is still RUNNING; the pipeline recovers its own panics, so
// this guard only trips on bugs outside Process.
func (p *Pool) run(ctx context.Context, id int) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("worker crashed", "worker_id", id, "panic", r)
			if p.State() == StateRunning {
				p.wg.Add(1)
				go p.run(ctx, id)
			}
		}
		p.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.tasks:
			if !ok {
				return
			}

			p.busy.Add(1)
			result := p.worker.Process(ctx, item)
			p.busy.Add(-1)

			p.processed.Add(1)
			if result.Succeeded() {
				p.succeeded.Add(1)
			} else {
				p.failed.Add(1)
			}

			select {
			case p.results <- result:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Submit hands a leased URL to the pool, blocking while all workers are
// busy and the task buffer is full.
func (p *Pool) Submit(ctx context.Context, item *domain.QueuedURL) error {
	if p.State() != StateRunning {
		return ErrPoolNotRunning
	}

	select {
	case p.tasks <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results returns the channel of completed pipeline results.
func (p *Pool) Results() <-chan *domain.FetchResult {
	return p.results
}

// Drain stops accepting work and waits for in-flight URLs to finish,
// bounded by the timeout. The results channel is closed only once every
// worker has actually exited; a worker still mid-fetch at the deadline
// keeps it open, so late results are delivered rather than dropped.
func (p *Pool) Drain(timeout time.Duration) error {
	if !p.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		return ErrPoolNotRunning
	}

	p.log.Info("worker pool draining")
	close(p.tasks)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(p.results)
		close(done)
	}()

	select {
	case <-done:
		p.state.Store(int32(StateStopped))
		p.log.Info("worker pool stopped gracefully")
		return nil
	case <-time.After(timeout):
		p.state.Store(int32(StateStopped))
		p.log.Warn("worker pool drain timeout exceeded", "timeout", timeout)
		return ErrDrainTimeout
	}
}

// State returns the current pool state.
func (p *Pool) State() State {
	return State(p.state.Load())
}

// BusyCount returns the number of workers currently processing a URL.
func (p *Pool) BusyCount() int {
	return int(p.busy.Load())
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Stats holds cumulative pool counters.
type Stats struct {
	State       State
	PoolSize    int
	BusyWorkers int
	Processed   int64
	Succeeded   int64
	Failed      int64
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		State:       p.State(),
		PoolSize:    p.size,
		BusyWorkers: p.BusyCount(),
		Processed:   p.processed.Load(),
		Succeeded:   p.succeeded.Load(),
		Failed:      p.failed.Load(),
	}
}
