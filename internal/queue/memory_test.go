package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/webwords/internal/domain"
	"github.com/jonesrussell/webwords/internal/queue"
)

func memoryConfig() queue.Config {
	return queue.Config{
		MaxDepth:      10,
		MaxURLs:       1000,
		MaxRetries:    3,
		LeaseDuration: time.Minute,
		BackoffBase:   10 * time.Millisecond,
	}
}

func enqueue(t *testing.T, q *queue.Memory, url string, depth, priority int) {
	t.Helper()

	outcome, err := q.Enqueue(context.Background(), domain.QueuedURL{
		URL:      url,
		Depth:    depth,
		Priority: priority,
	})
	require.NoError(t, err)
	require.Equal(t, queue.OutcomeAccepted, outcome)
}

func TestMemoryLeaseOrdering(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory(memoryConfig())
	ctx := context.Background()

	// Same priority, differing depth; higher priority outranks both.
	enqueue(t, q, "https://example.com/deep", 3, 5)
	enqueue(t, q, "https://example.com/shallow", 1, 5)
	enqueue(t, q, "https://example.com/urgent", 9, 8)

	var order []string
	for i := 0; i < 3; i++ {
		item, err := q.Lease(ctx, time.Second)
		require.NoError(t, err)
		order = append(order, item.URL)
	}

	assert.Equal(t, []string{
		"https://example.com/urgent",
		"https://example.com/shallow",
		"https://example.com/deep",
	}, order)
}

func TestMemoryLeaseFIFOWithinTies(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory(memoryConfig())
	ctx := context.Background()

	urls := []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}
	for _, u := range urls {
		enqueue(t, q, u, 2, 5)
	}

	for _, want := range urls {
		item, err := q.Lease(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, item.URL)
	}
}

func TestMemoryEnqueueOutcomes(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig()
	cfg.MaxDepth = 2
	cfg.MaxURLs = 2
	q := queue.NewMemory(cfg)
	ctx := context.Background()

	outcome, err := q.Enqueue(ctx, domain.QueuedURL{URL: "https://example.com/a", Depth: 0})
	require.NoError(t, err)
	assert.Equal(t, queue.OutcomeAccepted, outcome)

	outcome, err = q.Enqueue(ctx, domain.QueuedURL{URL: "https://example.com/a", Depth: 0})
	require.NoError(t, err)
	assert.Equal(t, queue.OutcomeDuplicate, outcome)

	outcome, err = q.Enqueue(ctx, domain.QueuedURL{URL: "https://example.com/deep", Depth: 3})
	require.NoError(t, err)
	assert.Equal(t, queue.OutcomeDepthExceeded, outcome)

	outcome, err = q.Enqueue(ctx, domain.QueuedURL{URL: "https://example.com/b", Depth: 0})
	require.NoError(t, err)
	assert.Equal(t, queue.OutcomeAccepted, outcome)

	outcome, err = q.Enqueue(ctx, domain.QueuedURL{URL: "https://example.com/c", Depth: 0})
	require.NoError(t, err)
	assert.Equal(t, queue.OutcomeLimitReached, outcome)
}

func TestMemoryLeaseMarksInFlight(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory(memoryConfig())
	ctx := context.Background()

	enqueue(t, q, "https://example.com/a", 0, 5)

	item, err := q.Lease(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInFlight, item.Status)
	require.NotNil(t, item.LeasedUntil)
	assert.True(t, item.LeasedUntil.After(time.Now()))

	status, ok := q.Status("https://example.com/a")
	require.True(t, ok)
	assert.Equal(t, domain.StatusInFlight, status)

	// The only item is leased, so another lease times out empty.
	_, err = q.Lease(ctx, 20*time.Millisecond)
	require.ErrorIs(t, err, queue.ErrEmpty)
}

func TestMemoryCompleteTerminal(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory(memoryConfig())
	ctx := context.Background()

	enqueue(t, q, "https://example.com/a", 0, 5)
	_, err := q.Lease(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, q.Complete(ctx, "https://example.com/a", queue.Disposition{
		Status: domain.StatusDone,
	}))

	status, ok := q.Status("https://example.com/a")
	require.True(t, ok)
	assert.Equal(t, domain.StatusDone, status)

	sizes, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Sizes{Pending: 0, InFlight: 0, Terminal: 1}, sizes)
}

func TestMemoryCompleteErrors(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory(memoryConfig())
	ctx := context.Background()

	err := q.Complete(ctx, "https://example.com/unknown", queue.Disposition{
		Status: domain.StatusDone,
	})
	require.ErrorIs(t, err, queue.ErrNotFound)

	enqueue(t, q, "https://example.com/a", 0, 5)
	err = q.Complete(ctx, "https://example.com/a", queue.Disposition{
		Status: domain.StatusDone,
	})
	require.ErrorIs(t, err, queue.ErrNotLeased, "completing a PENDING item must fail")
}

func TestMemoryRetryWithBackoff(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig()
	cfg.MaxRetries = 2
	q := queue.NewMemory(cfg)
	ctx := context.Background()

	enqueue(t, q, "https://example.com/flaky", 0, 5)

	// First failure: re-queued with backoff, then leaseable again.
	_, err := q.Lease(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, "https://example.com/flaky", queue.Disposition{
		Status:    domain.StatusFailed,
		Error:     "http status 503",
		Retryable: true,
	}))

	status, ok := q.Status("https://example.com/flaky")
	require.True(t, ok)
	assert.Equal(t, domain.StatusPending, status)

	item, err := q.Lease(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, item.Attempts)
	require.NotNil(t, item.LastError)
	assert.Equal(t, "http status 503", *item.LastError)

	// Second failure exhausts retries at MaxRetries=2 on the next one.
	require.NoError(t, q.Complete(ctx, "https://example.com/flaky", queue.Disposition{
		Status:    domain.StatusFailed,
		Error:     "http status 503",
		Retryable: true,
	}))
	item, err = q.Lease(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, item.Attempts)

	require.NoError(t, q.Complete(ctx, "https://example.com/flaky", queue.Disposition{
		Status:    domain.StatusFailed,
		Error:     "http status 503",
		Retryable: true,
	}))

	status, ok = q.Status("https://example.com/flaky")
	require.True(t, ok)
	assert.Equal(t, domain.StatusFailed, status, "attempts exhausted must turn FAILED")
}

func TestMemoryNonRetryableFailureIsTerminal(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory(memoryConfig())
	ctx := context.Background()

	enqueue(t, q, "https://example.com/gone", 0, 5)
	_, err := q.Lease(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, q.Complete(ctx, "https://example.com/gone", queue.Disposition{
		Status: domain.StatusFailed,
		Error:  "http status 404",
	}))

	status, ok := q.Status("https://example.com/gone")
	require.True(t, ok)
	assert.Equal(t, domain.StatusFailed, status)
}

func TestMemoryRelease(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory(memoryConfig())
	ctx := context.Background()

	enqueue(t, q, "https://example.com/a", 0, 5)
	_, err := q.Lease(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, q.Release(ctx, "https://example.com/a"))

	item, err := q.Lease(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", item.URL)
	assert.Equal(t, 1, item.Attempts)
}

func TestMemoryLeaseBlocksUntilEnqueue(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory(memoryConfig())
	ctx := context.Background()

	got := make(chan *domain.QueuedURL, 1)
	go func() {
		item, err := q.Lease(ctx, 2*time.Second)
		if err == nil {
			got <- item
		}
	}()

	time.Sleep(50 * time.Millisecond)
	enqueue(t, q, "https://example.com/late", 0, 5)

	select {
	case item := <-got:
		assert.Equal(t, "https://example.com/late", item.URL)
	case <-time.After(time.Second):
		t.Fatal("lease did not wake after enqueue")
	}
}

func TestMemoryLeaseHonorsBackoffDelay(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig()
	cfg.BackoffBase = 80 * time.Millisecond
	q := queue.NewMemory(cfg)
	ctx := context.Background()

	enqueue(t, q, "https://example.com/flaky", 0, 5)
	_, err := q.Lease(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, "https://example.com/flaky", queue.Disposition{
		Status:    domain.StatusFailed,
		Retryable: true,
	}))

	// Immediately after the failure the item is still backing off.
	start := time.Now()
	item, err := q.Lease(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/flaky", item.URL)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond,
		"lease must wait out the backoff window")
}

func TestMemoryClose(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory(memoryConfig())
	ctx := context.Background()

	require.NoError(t, q.Close())

	_, err := q.Enqueue(ctx, domain.QueuedURL{URL: "https://example.com/a"})
	require.ErrorIs(t, err, queue.ErrClosed)

	_, err = q.Lease(ctx, time.Second)
	require.ErrorIs(t, err, queue.ErrClosed)

	require.NoError(t, q.Close(), "closing twice is a no-op")
}

func TestMemoryLeaseCancellation(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory(memoryConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := q.Lease(ctx, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
}
