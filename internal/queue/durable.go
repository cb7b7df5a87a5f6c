package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/webwords/internal/database"
	"github.com/jonesrussell/webwords/internal/domain"
)

// defaultPollInterval paces Lease polling against the database when no
// row is ready.
const defaultPollInterval = 250 * time.Millisecond

// Repository is the database surface the durable backend needs. Satisfied
// by database.QueueRepository.
type Repository interface {
	Insert(ctx context.Context, item domain.QueuedURL) (bool, error)
	Lease(ctx context.Context, sessionID uuid.UUID, leaseDuration time.Duration) (*domain.QueuedURL, error)
	MarkTerminal(ctx context.Context, sessionID uuid.UUID, url, status string, lastError *string) error
	MarkFailed(ctx context.Context, sessionID uuid.UUID, url, lastError string, maxRetries int, backoffBase time.Duration) error
	Release(ctx context.Context, sessionID uuid.UUID, url string) error
	ReleaseAll(ctx context.Context, sessionID uuid.UUID) (int64, error)
	CountByStatus(ctx context.Context, sessionID uuid.UUID) (map[string]int, error)
}

// Durable is the PostgreSQL-backed queue. State lives entirely in
// url_queue rows, so a crashed session resumes where it stopped. Dedup,
// ordering, and lease exclusivity are enforced by the database; this type
// only adds the depth and budget policy plus Lease polling.
type Durable struct {
	repo      Repository
	sessionID uuid.UUID
	cfg       Config
	poll      time.Duration

	mu       sync.Mutex
	accepted int
	closed   bool
}

// NewDurable creates a durable queue for one session. When resuming, the
// accepted count is seeded from the existing rows so the URL budget
// carries across restarts.
func NewDurable(
	ctx context.Context,
	repo Repository,
	sessionID uuid.UUID,
	cfg Config,
) (*Durable, error) {
	counts, err := repo.CountByStatus(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	accepted := 0
	for _, n := range counts {
		accepted += n
	}

	return &Durable{
		repo:      repo,
		sessionID: sessionID,
		cfg:       cfg,
		poll:      defaultPollInterval,
		accepted:  accepted,
	}, nil
}

// Enqueue adds a URL as PENDING. The database upsert makes it idempotent
// per (session, url); depth and budget are checked first so rejected URLs
// never hit the database.
func (q *Durable) Enqueue(ctx context.Context, item domain.QueuedURL) (Outcome, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, ErrClosed
	}
	if q.cfg.MaxDepth >= 0 && item.Depth > q.cfg.MaxDepth {
		q.mu.Unlock()
		return OutcomeDepthExceeded, nil
	}
	if q.cfg.MaxURLs > 0 && q.accepted >= q.cfg.MaxURLs {
		q.mu.Unlock()
		return OutcomeLimitReached, nil
	}
	q.mu.Unlock()

	item.SessionID = q.sessionID
	inserted, err := q.repo.Insert(ctx, item)
	if err != nil {
		return 0, err
	}
	if !inserted {
		return OutcomeDuplicate, nil
	}

	q.mu.Lock()
	q.accepted++
	q.mu.Unlock()
	return OutcomeAccepted, nil
}

// Lease polls for the best eligible PENDING row until one appears or the
// timeout elapses.
func (q *Durable) Lease(ctx context.Context, timeout time.Duration) (*domain.QueuedURL, error) {
	deadline := time.Now().Add(timeout)

	for {
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}

		item, err := q.repo.Lease(ctx, q.sessionID, q.cfg.LeaseDuration)
		if err == nil {
			return item, nil
		}
		if !errors.Is(err, database.ErrNoURLAvailable) {
			return nil, err
		}

		wait := q.poll
		if remaining := time.Until(deadline); remaining <= 0 {
			return nil, ErrEmpty
		} else if remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Complete transitions an IN_FLIGHT URL to its terminal status. Retryable
// failures run through the SQL retry policy, which re-queues with backoff
// or turns the row FAILED once attempts are exhausted.
func (q *Durable) Complete(ctx context.Context, url string, disp Disposition) error {
	if disp.Status == domain.StatusFailed && disp.Retryable {
		err := q.repo.MarkFailed(
			ctx, q.sessionID, url, disp.Error,
			q.cfg.MaxRetries, q.cfg.BackoffBase,
		)
		return mapNotInFlight(err)
	}

	var lastError *string
	if disp.Error != "" {
		msg := disp.Error
		lastError = &msg
	}
	return mapNotInFlight(q.repo.MarkTerminal(ctx, q.sessionID, url, disp.Status, lastError))
}

// Release returns an IN_FLIGHT URL to PENDING.
func (q *Durable) Release(ctx context.Context, url string) error {
	return mapNotInFlight(q.repo.Release(ctx, q.sessionID, url))
}

// mapNotInFlight translates the repository's not-in-flight error to the
// queue sentinel so callers see one vocabulary across backends.
func mapNotInFlight(err error) error {
	if errors.Is(err, database.ErrNotInFlight) {
		return ErrNotLeased
	}
	return err
}

// Size reports occupancy by state from the url_queue rows.
func (q *Durable) Size(ctx context.Context) (Sizes, error) {
	counts, err := q.repo.CountByStatus(ctx, q.sessionID)
	if err != nil {
		return Sizes{}, err
	}

	return Sizes{
		Pending:  counts[domain.StatusPending],
		InFlight: counts[domain.StatusInFlight],
		Terminal: counts[domain.StatusDone] + counts[domain.StatusFailed] + counts[domain.StatusSkipped],
	}, nil
}

// Close rejects further enqueues and returns in-flight rows to PENDING so
// a later run can resume them.
func (q *Durable) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := q.repo.ReleaseAll(ctx, q.sessionID)
	return err
}
