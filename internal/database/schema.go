package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schemaStatements holds the idempotent DDL for every crawler table.
// Applied at session open; full migration tooling is deliberately out of
// scope.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS crawl_sessions (
		id              UUID PRIMARY KEY,
		name            TEXT NOT NULL,
		user_agent      TEXT NOT NULL DEFAULT '',
		max_depth       INT  NOT NULL,
		max_pages       INT  NOT NULL,
		workers         INT  NOT NULL,
		state           TEXT NOT NULL DEFAULT 'RUNNING'
			CHECK (state IN ('RUNNING','COMPLETED','FAILED','CANCELLED')),
		started_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		ended_at        TIMESTAMPTZ NULL,
		pages_crawled   BIGINT NOT NULL DEFAULT 0,
		pages_failed    BIGINT NOT NULL DEFAULT 0,
		bytes_processed BIGINT NOT NULL DEFAULT 0,
		total_words     BIGINT NOT NULL DEFAULT 0,
		first_fatal_error TEXT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS url_queue (
		session_id    UUID NOT NULL,
		url           TEXT NOT NULL,
		parent_url    TEXT NULL,
		depth         INT  NOT NULL CHECK (depth >= 0),
		priority      INT  NOT NULL DEFAULT 0,
		status        TEXT NOT NULL
			CHECK (status IN ('PENDING','IN_FLIGHT','DONE','FAILED','SKIPPED')),
		attempts      INT  NOT NULL DEFAULT 0,
		last_error    TEXT NULL,
		discovered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		not_before    TIMESTAMPTZ NOT NULL DEFAULT now(),
		leased_until  TIMESTAMPTZ NULL,
		PRIMARY KEY (session_id, url)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_url_queue_lease
		ON url_queue (session_id, status, priority DESC, depth, discovered_at)`,

	`CREATE INDEX IF NOT EXISTS idx_url_queue_leased_until
		ON url_queue (session_id, status, leased_until)`,

	`CREATE TABLE IF NOT EXISTS pages (
		session_id   UUID NOT NULL,
		url          TEXT NOT NULL,
		final_url    TEXT NOT NULL,
		http_status  INT  NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		title        TEXT NOT NULL DEFAULT '',
		text_length  INT  NOT NULL DEFAULT 0,
		word_count   INT  NOT NULL DEFAULT 0,
		unique_words INT  NOT NULL DEFAULT 0,
		fetch_ms     BIGINT NOT NULL DEFAULT 0,
		extract_ms   BIGINT NOT NULL DEFAULT 0,
		analyze_ms   BIGINT NOT NULL DEFAULT 0,
		crawled_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (session_id, url)
	)`,

	`CREATE TABLE IF NOT EXISTS word_frequencies (
		session_id UUID NOT NULL,
		url        TEXT NOT NULL,
		word       TEXT NOT NULL,
		count      INT  NOT NULL CHECK (count >= 1),
		PRIMARY KEY (session_id, url, word)
	)`,

	`CREATE TABLE IF NOT EXISTS links (
		session_id UUID NOT NULL,
		source_url TEXT NOT NULL,
		dest_url   TEXT NOT NULL,
		kind       TEXT NOT NULL CHECK (kind IN ('INTERNAL','EXTERNAL')),
		PRIMARY KEY (session_id, source_url, dest_url)
	)`,

	`CREATE TABLE IF NOT EXISTS session_metrics_timeseries (
		session_id      UUID NOT NULL,
		recorded_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		pages_crawled   BIGINT NOT NULL,
		bytes_processed BIGINT NOT NULL,
		errors          BIGINT NOT NULL,
		pages_per_sec   DOUBLE PRECISION NOT NULL,
		bytes_per_sec   DOUBLE PRECISION NOT NULL,
		in_flight       INT NOT NULL,
		queue_length    INT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_session_metrics_session
		ON session_metrics_timeseries (session_id, recorded_at)`,

	`CREATE TABLE IF NOT EXISTS error_events (
		session_id  UUID NOT NULL,
		url         TEXT NOT NULL,
		kind        TEXT NOT NULL,
		message     TEXT NOT NULL,
		depth       INT  NOT NULL DEFAULT 0,
		occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates every crawler table if it does not already exist.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
