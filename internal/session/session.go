// Package session owns one crawl run: it seeds the queue, leases URLs to
// the worker pool, persists results, enqueues discovered links, and
// decides when the crawl is over.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/webwords/internal/dedup"
	"github.com/jonesrussell/webwords/internal/domain"
	"github.com/jonesrussell/webwords/internal/logger"
	"github.com/jonesrussell/webwords/internal/queue"
	"github.com/jonesrussell/webwords/internal/urlnorm"
	"github.com/jonesrussell/webwords/internal/worker"
)

// Priorities. Seeds outrank discovered links so the frontier starts from
// what the operator asked for; each level of discovery decays by one.
const (
	SeedPriority = 10
	minPriority  = 0
)

// Loop pacing defaults.
const (
	DefaultLeaseTimeout    = 500 * time.Millisecond
	DefaultMetricsInterval = 10 * time.Second
	DefaultDrainTimeout    = 30 * time.Second
)

// Config is the immutable configuration of one crawl run.
type Config struct {
	Name      string
	SeedURLs  []string
	UserAgent string

	MaxDepth   int
	MaxPages   int
	Workers    int
	MaxRetries int

	LeaseTimeout    time.Duration
	MetricsInterval time.Duration
	DrainTimeout    time.Duration
}

// withDefaults fills zero pacing fields.
func (c Config) withDefaults() Config {
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = DefaultLeaseTimeout
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = DefaultMetricsInterval
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	return c
}

// Store is the persistence surface the session needs. Satisfied by
// database.Store; tests substitute a fake.
type Store interface {
	CreateSession(ctx context.Context, sess *domain.CrawlSession) error
	CloseSession(ctx context.Context, sess *domain.CrawlSession, fatalError *string) error
	RecordPage(ctx context.Context, page *domain.Page, words map[string]int, links []domain.Link) error
	RecordMetric(ctx context.Context, m *domain.SessionMetric) error
	RecordError(ctx context.Context, sessionID uuid.UUID, url, kind, message string, depth int) error
}

// Session coordinates the queue, the worker pool, and the store for one
// crawl run. All counters are mutated only by the session loop; workers
// report exclusively through the result channel.
type Session struct {
	cfg        Config
	id         uuid.UUID
	queue      queue.Queue
	pool       *worker.Pool
	store      Store
	seen       *dedup.Filter
	normalizer *urlnorm.Normalizer
	log        logger.Interface

	startedAt  time.Time
	inFlight   int
	lastMetric time.Time

	pagesCrawled    int64
	pagesFailed     int64
	bytesProcessed  int64
	totalWords      int64
	errorCount      int64
	persistFailures int
	fatalError      *string
}

// New creates a session with a fresh identity.
func New(
	cfg Config,
	q queue.Queue,
	pool *worker.Pool,
	store Store,
	seen *dedup.Filter,
	normalizer *urlnorm.Normalizer,
	log logger.Interface,
) *Session {
	return &Session{
		cfg:        cfg.withDefaults(),
		id:         uuid.New(),
		queue:      q,
		pool:       pool,
		store:      store,
		seen:       seen,
		normalizer: normalizer,
		log:        log,
	}
}

// Resume creates a session bound to an existing identity, used after a
// crash with the durable backend.
func Resume(
	id uuid.UUID,
	cfg Config,
	q queue.Queue,
	pool *worker.Pool,
	store Store,
	seen *dedup.Filter,
	normalizer *urlnorm.Normalizer,
	log logger.Interface,
) *Session {
	s := New(cfg, q, pool, store, seen, normalizer, log)
	s.id = id
	return s
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Run executes the crawl to completion and returns the terminal session
// record. The returned error reports infrastructure failure; a crawl
// that finishes with failed pages still returns nil.
func (s *Session) Run(ctx context.Context) (*domain.CrawlSession, error) {
	s.startedAt = time.Now()

	record := &domain.CrawlSession{
		ID:        s.id,
		Name:      s.cfg.Name,
		SeedURLs:  s.cfg.SeedURLs,
		UserAgent: s.cfg.UserAgent,
		MaxDepth:  s.cfg.MaxDepth,
		MaxPages:  s.cfg.MaxPages,
		Workers:   s.cfg.Workers,
		State:     domain.SessionRunning,
		StartedAt: s.startedAt,
	}
	if err := s.store.CreateSession(ctx, record); err != nil {
		return nil, err
	}

	s.enqueueSeeds(ctx)

	if err := s.pool.Start(ctx); err != nil {
		return nil, err
	}

	s.loop(ctx)
	s.shutdown(ctx)

	state := s.terminalState(ctx)
	return s.finalize(record, state)
}

// enqueueSeeds normalizes and enqueues the configured seed URLs at depth
// zero. A seed that fails normalization is logged and skipped; a crawl
// with zero valid seeds simply terminates empty.
func (s *Session) enqueueSeeds(ctx context.Context) {
	for _, raw := range s.cfg.SeedURLs {
		normalized, err := s.normalizer.Normalize(raw)
		if err != nil {
			s.log.Warn("skipping invalid seed", "url", raw, "error", err)
			continue
		}
		if !s.seen.Add(normalized) {
			continue
		}
		s.enqueue(ctx, domain.QueuedURL{
			SessionID: s.id,
			URL:       normalized,
			Depth:     0,
			Priority:  SeedPriority,
		})
	}
}

// loop is the central dispatch loop: lease, submit, drain ready results,
// until the termination predicate fires.
func (s *Session) loop(ctx context.Context) {
	for !s.shouldTerminate(ctx) {
		item, err := s.queue.Lease(ctx, s.cfg.LeaseTimeout)
		switch {
		case err == nil:
			if submitErr := s.pool.Submit(ctx, item); submitErr != nil {
				s.release(ctx, item.URL)
				return
			}
			s.inFlight++
		case errors.Is(err, queue.ErrEmpty):
			if s.inFlight == 0 && s.frontierDrained(ctx) {
				return
			}
		case errors.Is(err, queue.ErrClosed), errors.Is(err, context.Canceled),
			errors.Is(err, context.DeadlineExceeded):
			return
		default:
			s.fatal("queue lease failed: " + err.Error())
			return
		}

		s.drainReady(ctx)
		s.maybeRecordMetric(ctx)
	}
}

// drainReady consumes every result currently buffered without blocking.
func (s *Session) drainReady(ctx context.Context) {
	for {
		select {
		case result, ok := <-s.pool.Results():
			if !ok {
				return
			}
			s.handleResult(ctx, result)
		default:
			return
		}
	}
}

// frontierDrained reports whether no PENDING work remains. A lease can
// time out while retries are still backing off, so an empty lease alone
// must not end the session.
func (s *Session) frontierDrained(ctx context.Context) bool {
	sizes, err := s.queue.Size(ctx)
	if err != nil {
		s.log.Warn("failed to read queue size", "error", err)
		return false
	}
	return sizes.Pending == 0
}

// shouldTerminate is the session termination predicate.
func (s *Session) shouldTerminate(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	if s.fatalError != nil {
		return true
	}
	if s.cfg.MaxPages > 0 && s.pagesCrawled >= int64(s.cfg.MaxPages) {
		return true
	}
	return false
}

// shutdown drains the pool and consumes the remaining in-flight results
// so nothing fetched goes unpersisted.
func (s *Session) shutdown(ctx context.Context) {
	if err := s.pool.Drain(s.cfg.DrainTimeout); err != nil {
		s.log.Warn("pool drain failed", "error", err)
	}

	// Results() is closed by Drain once every worker has exited.
	persistCtx := context.WithoutCancel(ctx)
	for result := range s.pool.Results() {
		s.handleResult(persistCtx, result)
	}

	if err := s.queue.Close(); err != nil {
		s.log.Warn("queue close failed", "error", err)
	}
}

// terminalState picks the session's terminal state.
func (s *Session) terminalState(ctx context.Context) string {
	switch {
	case s.fatalError != nil:
		return domain.SessionFailed
	case ctx.Err() != nil:
		return domain.SessionCancelled
	default:
		return domain.SessionCompleted
	}
}

// finalize writes the terminal session row and returns it.
func (s *Session) finalize(record *domain.CrawlSession, state string) (*domain.CrawlSession, error) {
	endedAt := time.Now()
	record.State = state
	record.EndedAt = &endedAt
	record.PagesCrawled = s.pagesCrawled
	record.PagesFailed = s.pagesFailed
	record.BytesProcessed = s.bytesProcessed
	record.TotalWords = s.totalWords

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.store.CloseSession(closeCtx, record, s.fatalError); err != nil {
		return record, err
	}

	s.log.Info("session finished",
		"session_id", s.id.String(),
		"state", state,
		"pages_crawled", s.pagesCrawled,
		"pages_failed", s.pagesFailed,
		"total_words", s.totalWords,
		"duration", endedAt.Sub(s.startedAt).String(),
	)
	return record, nil
}

// fatal records the first fatal error and lets the termination predicate
// wind the session down.
func (s *Session) fatal(msg string) {
	if s.fatalError == nil {
		s.fatalError = &msg
		s.log.Error("fatal session error", "session_id", s.id.String(), "error", msg)
	}
}

// release returns a leased URL to PENDING, logging on failure.
func (s *Session) release(ctx context.Context, url string) {
	if err := s.queue.Release(ctx, url); err != nil &&
		!errors.Is(err, queue.ErrNotLeased) && !errors.Is(err, queue.ErrNotFound) {
		s.log.Warn("failed to release URL", "url", url, "error", err)
	}
}
