// Package queue defines the URL queue contract and its in-memory backend.
// A queue is a priority-ordered set of pending URLs for one session:
// higher priority first, then lower depth, then earlier discovery. Items
// are handed out under a lease and must be completed or released.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/jonesrussell/webwords/internal/domain"
)

// Enqueue outcomes.
type Outcome int

const (
	// OutcomeAccepted means the URL was added as PENDING.
	OutcomeAccepted Outcome = iota
	// OutcomeDuplicate means the URL is already known to this session.
	OutcomeDuplicate
	// OutcomeDepthExceeded means the URL is deeper than the session allows.
	OutcomeDepthExceeded
	// OutcomeLimitReached means the session's URL budget is exhausted.
	OutcomeLimitReached
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeDepthExceeded:
		return "depth_exceeded"
	case OutcomeLimitReached:
		return "limit_reached"
	default:
		return "unknown"
	}
}

var (
	// ErrEmpty is returned by Lease when no item became available within
	// the timeout.
	ErrEmpty = errors.New("queue: no URL available")
	// ErrClosed is returned once the queue has been closed.
	ErrClosed = errors.New("queue: closed")
	// ErrNotFound is returned for operations on unknown URLs.
	ErrNotFound = errors.New("queue: url not found")
	// ErrNotLeased is returned when completing or releasing a URL that is
	// not currently in flight.
	ErrNotLeased = errors.New("queue: url not in flight")
)

// Disposition describes how a leased URL finished.
type Disposition struct {
	// Status is the requested terminal status: DONE, FAILED, or SKIPPED.
	Status string
	// Error is the failure description recorded as last_error.
	Error string
	// Retryable marks a FAILED disposition as eligible for re-enqueue with
	// backoff while attempts remain.
	Retryable bool
}

// Sizes reports queue occupancy by state.
type Sizes struct {
	Pending  int `json:"pending"`
	InFlight int `json:"in_flight"`
	Terminal int `json:"terminal"`
}

// Queue is the URL queue contract satisfied by the memory and durable
// backends.
type Queue interface {
	// Enqueue adds a URL as PENDING. Idempotent per (session, url).
	Enqueue(ctx context.Context, item domain.QueuedURL) (Outcome, error)

	// Lease returns the best PENDING item per the ordering rule, marks it
	// IN_FLIGHT, and stamps its lease expiry. Blocks cooperatively up to
	// timeout; returns ErrEmpty on timeout and ErrClosed after Close.
	Lease(ctx context.Context, timeout time.Duration) (*domain.QueuedURL, error)

	// Complete transitions an IN_FLIGHT URL to a terminal status. A
	// retryable FAILED disposition re-enqueues with exponential backoff
	// until attempts are exhausted.
	Complete(ctx context.Context, url string, disp Disposition) error

	// Release returns an IN_FLIGHT URL to PENDING and increments attempts.
	Release(ctx context.Context, url string) error

	// Size reports occupancy by state.
	Size(ctx context.Context) (Sizes, error)

	// Close rejects further enqueues and unblocks waiting leasers.
	Close() error
}

// Config holds the policy shared by both backends.
type Config struct {
	// MaxDepth rejects items deeper than this.
	MaxDepth int
	// MaxURLs bounds the total number of accepted items.
	MaxURLs int
	// MaxRetries bounds attempts before a retryable failure turns terminal.
	MaxRetries int
	// LeaseDuration is how long an IN_FLIGHT item may be held.
	LeaseDuration time.Duration
	// BackoffBase is the base of the retry backoff (base * 2^attempts).
	BackoffBase time.Duration
}

// backoffCap bounds the retry backoff.
const backoffCap = 60 * time.Second

// Backoff returns the retry delay for the given attempt count.
func (c Config) Backoff(attempts int) time.Duration {
	d := c.BackoffBase << uint(attempts)
	if d <= 0 || d > backoffCap {
		return backoffCap
	}
	return d
}

// less implements the queue ordering rule: higher priority first, then
// lower depth, then earlier discovery. seq breaks exact ties in arrival
// order.
func less(a, b *domain.QueuedURL, seqA, seqB uint64) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Depth != b.Depth {
		return a.Depth < b.Depth
	}
	if !a.DiscoveredAt.Equal(b.DiscoveredAt) {
		return a.DiscoveredAt.Before(b.DiscoveredAt)
	}
	return seqA < seqB
}
