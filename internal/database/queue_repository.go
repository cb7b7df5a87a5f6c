package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/webwords/internal/domain"
)

var (
	// ErrNoURLAvailable is returned by Lease when no PENDING row is
	// eligible. Callers should check with errors.Is().
	ErrNoURLAvailable = errors.New("no URL available in queue")
	// ErrNotInFlight is returned when a completion targets a row that is
	// not currently IN_FLIGHT.
	ErrNotInFlight = errors.New("queued URL not in flight")
)

// queueSelectColumns lists columns for SELECT queries on url_queue.
const queueSelectColumns = `session_id, url, parent_url, depth, priority, status,
	attempts, last_error, discovered_at, not_before, leased_until`

// backoffCapMs bounds the SQL-side retry backoff at 60 seconds.
const backoffCapMs = 60_000

// QueueRepository handles database operations for the durable URL queue.
type QueueRepository struct {
	db *sqlx.DB
}

// NewQueueRepository creates a queue repository.
func NewQueueRepository(db *sqlx.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Insert upserts a URL as PENDING. Returns false when the row already
// existed (any status); insertion never re-queues finished URLs.
func (r *QueueRepository) Insert(ctx context.Context, item domain.QueuedURL) (bool, error) {
	query := `
		INSERT INTO url_queue
			(session_id, url, parent_url, depth, priority, status, discovered_at, not_before)
		VALUES ($1, $2, $3, $4, $5, 'PENDING', now(), now())
		ON CONFLICT (session_id, url) DO NOTHING
	`

	result, err := r.db.ExecContext(
		ctx, query,
		item.SessionID, item.URL, item.ParentURL, item.Depth, item.Priority,
	)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue URL: %w", err)
	}

	n, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return false, fmt.Errorf("failed to read enqueue result: %w", affectedErr)
	}

	return n == 1, nil
}

// Lease claims the best eligible PENDING row in a single statement: the
// skip-locked subquery picks the highest-priority, lowest-depth,
// earliest-discovered candidate without blocking on rows other leasers
// hold, so no URL is ever handed out twice.
func (r *QueueRepository) Lease(
	ctx context.Context,
	sessionID uuid.UUID,
	leaseDuration time.Duration,
) (*domain.QueuedURL, error) {
	query := `
		UPDATE url_queue q
		SET status = 'IN_FLIGHT',
			leased_until = now() + $3 * INTERVAL '1 millisecond'
		FROM (
			SELECT session_id, url
			FROM url_queue
			WHERE session_id = $1
			  AND status = 'PENDING'
			  AND not_before <= now()
			ORDER BY priority DESC, depth ASC, discovered_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		) c
		WHERE q.session_id = c.session_id AND q.url = c.url
		RETURNING ` + queueSelectColumns

	var item domain.QueuedURL
	err := r.db.GetContext(ctx, &item, query, sessionID, 1, leaseDuration.Milliseconds())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoURLAvailable
		}
		return nil, fmt.Errorf("failed to lease URL: %w", err)
	}

	return &item, nil
}

// MarkTerminal transitions an IN_FLIGHT row to DONE, FAILED, or SKIPPED.
func (r *QueueRepository) MarkTerminal(
	ctx context.Context,
	sessionID uuid.UUID,
	url, status string,
	lastError *string,
) error {
	query := `
		UPDATE url_queue
		SET status = $3, last_error = COALESCE($4, last_error), leased_until = NULL
		WHERE session_id = $1 AND url = $2 AND status = 'IN_FLIGHT'
	`

	result, execErr := r.db.ExecContext(ctx, query, sessionID, url, status, lastError)
	return execRequireRows(result, execErr, fmt.Errorf("%w: %s", ErrNotInFlight, url))
}

// MarkFailed records a retryable failure: attempts are incremented and the
// row returns to PENDING with exponential backoff, or turns FAILED once
// attempts reach maxRetries. The status CASE runs in SQL so concurrent
// completions cannot race on the attempt count.
func (r *QueueRepository) MarkFailed(
	ctx context.Context,
	sessionID uuid.UUID,
	url, lastError string,
	maxRetries int,
	backoffBase time.Duration,
) error {
	query := `
		UPDATE url_queue
		SET attempts = attempts + 1,
			last_error = $3,
			leased_until = NULL,
			status = CASE
				WHEN attempts + 1 > $4 THEN 'FAILED'
				ELSE 'PENDING'
			END,
			not_before = CASE
				WHEN attempts + 1 > $4 THEN not_before
				ELSE now() + LEAST(POWER(2, attempts + 1) * $5, $6) * INTERVAL '1 millisecond'
			END
		WHERE session_id = $1 AND url = $2 AND status = 'IN_FLIGHT'
	`

	result, execErr := r.db.ExecContext(
		ctx, query,
		sessionID, url, lastError, maxRetries, backoffBase.Milliseconds(), backoffCapMs,
	)
	return execRequireRows(result, execErr, fmt.Errorf("%w: %s", ErrNotInFlight, url))
}

// Release returns an IN_FLIGHT row to PENDING and increments attempts.
// Used on cooperative cancel and by lease recovery.
func (r *QueueRepository) Release(ctx context.Context, sessionID uuid.UUID, url string) error {
	query := `
		UPDATE url_queue
		SET status = 'PENDING', attempts = attempts + 1, leased_until = NULL
		WHERE session_id = $1 AND url = $2 AND status = 'IN_FLIGHT'
	`

	result, execErr := r.db.ExecContext(ctx, query, sessionID, url)
	return execRequireRows(result, execErr, fmt.Errorf("%w: %s", ErrNotInFlight, url))
}

// ReleaseAll returns every IN_FLIGHT row of a session to PENDING, used
// during graceful shutdown so another run can pick the work up.
func (r *QueueRepository) ReleaseAll(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	query := `
		UPDATE url_queue
		SET status = 'PENDING', leased_until = NULL
		WHERE session_id = $1 AND status = 'IN_FLIGHT'
	`

	result, err := r.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to release in-flight URLs: %w", err)
	}

	return result.RowsAffected()
}

// ReclaimExpired transitions rows whose lease has expired back to PENDING
// with attempts incremented, or to FAILED when attempts are exhausted.
// Idempotent: a second run without intervening leases matches no rows.
func (r *QueueRepository) ReclaimExpired(
	ctx context.Context,
	sessionID uuid.UUID,
	maxRetries int,
) (int64, error) {
	query := `
		UPDATE url_queue
		SET attempts = attempts + 1,
			leased_until = NULL,
			last_error = COALESCE(last_error, 'lease expired'),
			status = CASE
				WHEN attempts + 1 > $2 THEN 'FAILED'
				ELSE 'PENDING'
			END
		WHERE session_id = $1 AND status = 'IN_FLIGHT' AND leased_until < now()
	`

	result, err := r.db.ExecContext(ctx, query, sessionID, maxRetries)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim expired leases: %w", err)
	}

	return result.RowsAffected()
}

// PurgeTerminal deletes DONE/FAILED/SKIPPED rows older than the retention
// window.
func (r *QueueRepository) PurgeTerminal(
	ctx context.Context,
	sessionID uuid.UUID,
	retention time.Duration,
) (int64, error) {
	query := `
		DELETE FROM url_queue
		WHERE session_id = $1
		  AND status IN ('DONE','FAILED','SKIPPED')
		  AND discovered_at < now() - $2 * INTERVAL '1 millisecond'
	`

	result, err := r.db.ExecContext(ctx, query, sessionID, retention.Milliseconds())
	if err != nil {
		return 0, fmt.Errorf("failed to purge terminal URLs: %w", err)
	}

	return result.RowsAffected()
}

// QueueHealth reports per-status counts and the age of the oldest PENDING
// and IN_FLIGHT rows.
type QueueHealth struct {
	Counts           map[string]int
	OldestPending    *time.Time
	OldestInFlight   *time.Time
	ReclaimedLeases  int64
	PurgedTerminal   int64
	SnapshotRecorded time.Time
}

// Health returns the queue health snapshot for a session.
func (r *QueueRepository) Health(ctx context.Context, sessionID uuid.UUID) (*QueueHealth, error) {
	health := &QueueHealth{
		Counts:           make(map[string]int),
		SnapshotRecorded: time.Now(),
	}

	rows, err := r.db.QueryxContext(
		ctx,
		`SELECT status, COUNT(*) FROM url_queue WHERE session_id = $1 GROUP BY status`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue health: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if scanErr := rows.Scan(&status, &count); scanErr != nil {
			return nil, fmt.Errorf("failed to scan queue health row: %w", scanErr)
		}
		health.Counts[status] = count
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate queue health: %w", rowsErr)
	}

	ageQuery := `
		SELECT
			MIN(discovered_at) FILTER (WHERE status = 'PENDING'),
			MIN(discovered_at) FILTER (WHERE status = 'IN_FLIGHT')
		FROM url_queue WHERE session_id = $1
	`
	if ageErr := r.db.QueryRowxContext(ctx, ageQuery, sessionID).
		Scan(&health.OldestPending, &health.OldestInFlight); ageErr != nil {
		return nil, fmt.Errorf("failed to query queue ages: %w", ageErr)
	}

	return health, nil
}

// CountByStatus returns per-status row counts for a session.
func (r *QueueRepository) CountByStatus(
	ctx context.Context,
	sessionID uuid.UUID,
) (map[string]int, error) {
	health, err := r.Health(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return health.Counts, nil
}

// AllURLs returns every URL known to a session's queue, used to rebuild
// the in-memory dedup filter when resuming a crawl.
func (r *QueueRepository) AllURLs(ctx context.Context, sessionID uuid.UUID) ([]string, error) {
	urls := []string{}
	err := r.db.SelectContext(
		ctx, &urls,
		`SELECT url FROM url_queue WHERE session_id = $1`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued URLs: %w", err)
	}
	return urls, nil
}

// Status returns the status of one queued URL.
func (r *QueueRepository) Status(
	ctx context.Context,
	sessionID uuid.UUID,
	url string,
) (string, error) {
	var status string
	err := r.db.GetContext(
		ctx, &status,
		`SELECT status FROM url_queue WHERE session_id = $1 AND url = $2`,
		sessionID, url,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("queued URL not found: %s", url)
		}
		return "", fmt.Errorf("failed to query URL status: %w", err)
	}
	return status, nil
}
