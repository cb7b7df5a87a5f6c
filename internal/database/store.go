package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/webwords/internal/domain"
)

// ErrSessionNotFound is returned when a session id matches no row.
var ErrSessionNotFound = errors.New("session not found")

// wordInsertChunk bounds the rows per multi-value word insert so the
// statement stays under the driver's placeholder limit.
const wordInsertChunk = 1000

// Store persists sessions, pages, word frequencies, links, metrics, and
// error events. Page writes are transactional: the page row, its words,
// its links, and the queue transition commit together or not at all.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a store over an open connection pool.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying pool for repositories sharing the connection.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// CreateSession inserts a new RUNNING session row.
func (s *Store) CreateSession(ctx context.Context, sess *domain.CrawlSession) error {
	query := `
		INSERT INTO crawl_sessions
			(id, name, user_agent, max_depth, max_pages, workers, state, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'RUNNING', $7)
		ON CONFLICT (id) DO UPDATE SET state = 'RUNNING', ended_at = NULL
	`

	_, err := s.db.ExecContext(
		ctx, query,
		sess.ID, sess.Name, sess.UserAgent,
		sess.MaxDepth, sess.MaxPages, sess.Workers, sess.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// CloseSession records the terminal state and final counters of a session.
func (s *Store) CloseSession(
	ctx context.Context,
	sess *domain.CrawlSession,
	fatalError *string,
) error {
	query := `
		UPDATE crawl_sessions
		SET state = $2,
			ended_at = $3,
			pages_crawled = $4,
			pages_failed = $5,
			bytes_processed = $6,
			total_words = $7,
			first_fatal_error = COALESCE(first_fatal_error, $8)
		WHERE id = $1
	`

	result, execErr := s.db.ExecContext(
		ctx, query,
		sess.ID, sess.State, sess.EndedAt,
		sess.PagesCrawled, sess.PagesFailed, sess.BytesProcessed, sess.TotalWords,
		fatalError,
	)
	return execRequireRows(result, execErr, ErrSessionNotFound)
}

// GetSession loads one session by id.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*domain.CrawlSession, error) {
	query := `
		SELECT id, name, user_agent, max_depth, max_pages, workers, state,
			started_at, ended_at, pages_crawled, pages_failed,
			bytes_processed, total_words
		FROM crawl_sessions
		WHERE id = $1
	`

	var sess domain.CrawlSession
	if err := s.db.GetContext(ctx, &sess, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &sess, nil
}

// ListSessions returns sessions newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]domain.CrawlSession, error) {
	query := `
		SELECT id, name, user_agent, max_depth, max_pages, workers, state,
			started_at, ended_at, pages_crawled, pages_failed,
			bytes_processed, total_words
		FROM crawl_sessions
		ORDER BY started_at DESC
		LIMIT $1
	`

	sessions := []domain.CrawlSession{}
	if err := s.db.SelectContext(ctx, &sessions, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// RecordPage persists one successful fetch in a single transaction: the
// page row, its word frequencies, its outbound links, and the url_queue
// transition to DONE. A crash between fetch and commit leaves the queue
// row IN_FLIGHT for lease recovery, never a half-written page.
func (s *Store) RecordPage(
	ctx context.Context,
	page *domain.Page,
	words map[string]int,
	links []domain.Link,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertPage(ctx, tx, page); err != nil {
		return err
	}
	if err := insertWords(ctx, tx, page.SessionID, page.URL, words); err != nil {
		return err
	}
	if err := insertLinks(ctx, tx, links); err != nil {
		return err
	}

	markDone := `
		UPDATE url_queue
		SET status = 'DONE', leased_until = NULL
		WHERE session_id = $1 AND url = $2 AND status = 'IN_FLIGHT'
	`
	if _, err := tx.ExecContext(ctx, markDone, page.SessionID, page.URL); err != nil {
		return fmt.Errorf("failed to mark URL done: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit page: %w", err)
	}
	return nil
}

func insertPage(ctx context.Context, tx *sqlx.Tx, page *domain.Page) error {
	query := `
		INSERT INTO pages
			(session_id, url, final_url, http_status, content_type, title,
			 text_length, word_count, unique_words, fetch_ms, extract_ms,
			 analyze_ms, crawled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (session_id, url) DO UPDATE SET
			final_url = EXCLUDED.final_url,
			http_status = EXCLUDED.http_status,
			content_type = EXCLUDED.content_type,
			title = EXCLUDED.title,
			text_length = EXCLUDED.text_length,
			word_count = EXCLUDED.word_count,
			unique_words = EXCLUDED.unique_words,
			fetch_ms = EXCLUDED.fetch_ms,
			extract_ms = EXCLUDED.extract_ms,
			analyze_ms = EXCLUDED.analyze_ms,
			crawled_at = EXCLUDED.crawled_at
	`

	_, err := tx.ExecContext(
		ctx, query,
		page.SessionID, page.URL, page.FinalURL, page.HTTPStatus,
		page.ContentType, page.Title, page.TextLength, page.WordCount,
		page.UniqueWords, page.FetchMs, page.ExtractMs, page.AnalyzeMs,
		page.CrawledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert page: %w", err)
	}
	return nil
}

func insertWords(
	ctx context.Context,
	tx *sqlx.Tx,
	sessionID uuid.UUID,
	url string,
	words map[string]int,
) error {
	if len(words) == 0 {
		return nil
	}

	type wordRow struct {
		word  string
		count int
	}
	rows := make([]wordRow, 0, len(words))
	for w, c := range words {
		rows = append(rows, wordRow{word: w, count: c})
	}

	for start := 0; start < len(rows); start += wordInsertChunk {
		end := min(start+wordInsertChunk, len(rows))
		chunk := rows[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO word_frequencies (session_id, url, word, count) VALUES `)
		args := make([]any, 0, len(chunk)*4)
		for i, row := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			base := i * 4
			fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4)
			args = append(args, sessionID, url, row.word, row.count)
		}
		sb.WriteString(` ON CONFLICT (session_id, url, word) DO UPDATE SET count = EXCLUDED.count`)

		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("failed to insert word frequencies: %w", err)
		}
	}
	return nil
}

func insertLinks(ctx context.Context, tx *sqlx.Tx, links []domain.Link) error {
	if len(links) == 0 {
		return nil
	}

	query := `
		INSERT INTO links (session_id, source_url, dest_url, kind)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, source_url, dest_url) DO NOTHING
	`

	for _, link := range links {
		if _, err := tx.ExecContext(
			ctx, query,
			link.SessionID, link.SourceURL, link.DestURL, link.Kind,
		); err != nil {
			return fmt.Errorf("failed to insert link: %w", err)
		}
	}
	return nil
}

// RecordMetric appends one throughput snapshot to the timeseries.
func (s *Store) RecordMetric(ctx context.Context, m *domain.SessionMetric) error {
	query := `
		INSERT INTO session_metrics_timeseries
			(session_id, recorded_at, pages_crawled, bytes_processed, errors,
			 pages_per_sec, bytes_per_sec, in_flight, queue_length)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.ExecContext(
		ctx, query,
		m.SessionID, m.RecordedAt, m.PagesCrawled, m.BytesProcessed, m.Errors,
		m.PagesPerSec, m.BytesPerSec, m.InFlight, m.QueueLength,
	)
	if err != nil {
		return fmt.Errorf("failed to record metric: %w", err)
	}
	return nil
}

// RecordError appends one error event.
func (s *Store) RecordError(
	ctx context.Context,
	sessionID uuid.UUID,
	url, kind, message string,
	depth int,
) error {
	query := `
		INSERT INTO error_events (session_id, url, kind, message, depth, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.ExecContext(ctx, query, sessionID, url, kind, message, depth, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record error event: %w", err)
	}
	return nil
}
