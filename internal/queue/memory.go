package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/jonesrussell/webwords/internal/domain"
)

// Memory is the in-memory queue backend: a priority heap of PENDING items
// plus a companion map from normalized URL to entry for dedup and status
// lookup. A single coarse lock protects both; every operation is
// O(log n) and dwarfed by network I/O. Unfinished work is lost on
// shutdown, so no lease recovery exists for this backend.
type Memory struct {
	cfg Config

	mu      sync.Mutex
	heap    entryHeap
	entries map[string]*entry
	seq     uint64
	closed  bool
	wake    chan struct{}

	accepted int
	terminal int
}

// entry is a queue item plus its heap bookkeeping.
type entry struct {
	item domain.QueuedURL
	seq  uint64
	// index is the entry's position in the heap, -1 when not queued.
	index int
}

// NewMemory creates an in-memory queue.
func NewMemory(cfg Config) *Memory {
	return &Memory{
		cfg:     cfg,
		entries: make(map[string]*entry),
		wake:    make(chan struct{}),
	}
}

// Enqueue adds a URL as PENDING, enforcing dedup, depth, and budget.
func (q *Memory) Enqueue(_ context.Context, item domain.QueuedURL) (Outcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrClosed
	}

	if _, exists := q.entries[item.URL]; exists {
		return OutcomeDuplicate, nil
	}
	if q.cfg.MaxDepth >= 0 && item.Depth > q.cfg.MaxDepth {
		return OutcomeDepthExceeded, nil
	}
	if q.cfg.MaxURLs > 0 && q.accepted >= q.cfg.MaxURLs {
		return OutcomeLimitReached, nil
	}

	item.Status = domain.StatusPending
	if item.DiscoveredAt.IsZero() {
		item.DiscoveredAt = time.Now()
	}
	if item.NotBefore.IsZero() {
		item.NotBefore = item.DiscoveredAt
	}

	e := &entry{item: item, seq: q.seq, index: -1}
	q.seq++
	q.entries[item.URL] = e
	heap.Push(&q.heap, e)
	q.accepted++

	q.wakeLocked()
	return OutcomeAccepted, nil
}

// Lease pops the best ready PENDING item, marking it IN_FLIGHT.
func (q *Memory) Lease(ctx context.Context, timeout time.Duration) (*domain.QueuedURL, error) {
	deadline := time.Now().Add(timeout)

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}

		if e, nextReady := q.popReadyLocked(); e != nil {
			e.item.Status = domain.StatusInFlight
			leased := time.Now().Add(q.cfg.LeaseDuration)
			e.item.LeasedUntil = &leased
			item := e.item
			q.mu.Unlock()
			return &item, nil
		} else if sleep := q.sleepFor(deadline, nextReady); sleep <= 0 {
			q.mu.Unlock()
			return nil, ErrEmpty
		} else {
			wake := q.wake
			q.mu.Unlock()

			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-wake:
				timer.Stop()
			case <-timer.C:
			}
		}
	}
}

// sleepFor picks the next wake-up: the lease deadline, or the moment the
// earliest backed-off item becomes ready, whichever is sooner.
func (q *Memory) sleepFor(deadline time.Time, nextReady time.Time) time.Duration {
	wait := time.Until(deadline)
	if !nextReady.IsZero() {
		if untilReady := time.Until(nextReady); untilReady < wait {
			wait = untilReady
			if wait <= 0 {
				wait = time.Millisecond
			}
		}
	}
	return wait
}

// popReadyLocked removes and returns the best PENDING item whose backoff
// has elapsed. Items still backing off are skipped and restored. The
// second return is the earliest not_before among skipped items.
func (q *Memory) popReadyLocked() (*entry, time.Time) {
	now := time.Now()

	var skipped []*entry
	var nextReady time.Time

	defer func() {
		for _, e := range skipped {
			heap.Push(&q.heap, e)
		}
	}()

	for q.heap.Len() > 0 {
		e := heap.Pop(&q.heap).(*entry)
		if e.item.NotBefore.After(now) {
			if nextReady.IsZero() || e.item.NotBefore.Before(nextReady) {
				nextReady = e.item.NotBefore
			}
			skipped = append(skipped, e)
			continue
		}
		return e, nextReady
	}

	return nil, nextReady
}

// Complete transitions an IN_FLIGHT URL to a terminal status, or back to
// PENDING with backoff for a retryable failure with attempts remaining.
func (q *Memory) Complete(_ context.Context, url string, disp Disposition) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[url]
	if !ok {
		return ErrNotFound
	}
	if e.item.Status != domain.StatusInFlight {
		return ErrNotLeased
	}

	e.item.LeasedUntil = nil
	if disp.Error != "" {
		msg := disp.Error
		e.item.LastError = &msg
	}

	if disp.Status == domain.StatusFailed && disp.Retryable && e.item.Attempts < q.cfg.MaxRetries {
		e.item.Attempts++
		e.item.Status = domain.StatusPending
		e.item.NotBefore = time.Now().Add(q.cfg.Backoff(e.item.Attempts))
		heap.Push(&q.heap, e)
		q.wakeLocked()
		return nil
	}

	e.item.Status = disp.Status
	q.terminal++
	return nil
}

// Release returns an IN_FLIGHT URL to PENDING and increments attempts.
func (q *Memory) Release(_ context.Context, url string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[url]
	if !ok {
		return ErrNotFound
	}
	if e.item.Status != domain.StatusInFlight {
		return ErrNotLeased
	}

	e.item.Status = domain.StatusPending
	e.item.Attempts++
	e.item.LeasedUntil = nil
	heap.Push(&q.heap, e)
	q.wakeLocked()
	return nil
}

// Size reports occupancy by state.
func (q *Memory) Size(_ context.Context) (Sizes, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := q.heap.Len()
	return Sizes{
		Pending:  pending,
		InFlight: len(q.entries) - pending - q.terminal,
		Terminal: q.terminal,
	}, nil
}

// Summary returns per-status counts, the in-memory stand-in for
// inspecting url_queue rows.
func (q *Memory) Summary() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := make(map[string]int)
	for _, e := range q.entries {
		counts[e.item.Status]++
	}
	return counts
}

// Status returns the current status of a URL, if known.
func (q *Memory) Status(url string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[url]
	if !ok {
		return "", false
	}
	return e.item.Status, true
}

// Close rejects further enqueues and unblocks waiting leasers.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	q.wakeLocked()
	return nil
}

// wakeLocked signals every blocked leaser. Caller holds mu.
func (q *Memory) wakeLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// entryHeap orders entries by the queue ordering rule.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	return less(&h[i].item, &h[j].item, h[i].seq, h[j].seq)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
