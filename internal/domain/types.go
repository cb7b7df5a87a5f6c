// Package domain defines the core crawl entities shared across the queue,
// workers, session, and persistence layers.
package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/webwords/internal/crawlerr"
)

// QueuedURL status constants. These are the values stored in the url_queue
// status column and used by both queue backends.
const (
	StatusPending  = "PENDING"
	StatusInFlight = "IN_FLIGHT"
	StatusDone     = "DONE"
	StatusFailed   = "FAILED"
	StatusSkipped  = "SKIPPED"
)

// Session terminal states.
const (
	SessionRunning   = "RUNNING"
	SessionCompleted = "COMPLETED"
	SessionFailed    = "FAILED"
	SessionCancelled = "CANCELLED"
)

// Link kinds relative to the source host.
const (
	LinkInternal = "INTERNAL"
	LinkExternal = "EXTERNAL"
)

// CrawlSession is the identity and configuration of one crawl run.
// Configuration is immutable after creation; counters are updated only by
// the session loop.
type CrawlSession struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	SeedURLs  []string  `db:"-"          json:"seed_urls"`
	UserAgent string    `db:"user_agent" json:"user_agent"`

	MaxDepth       int           `db:"max_depth"        json:"max_depth"`
	MaxPages       int           `db:"max_pages"        json:"max_pages"`
	Workers        int           `db:"workers"          json:"workers"`
	RateLimitDelay time.Duration `db:"-"                json:"rate_limit_delay"`

	StartedAt time.Time  `db:"started_at" json:"started_at"`
	EndedAt   *time.Time `db:"ended_at"   json:"ended_at,omitempty"`
	State     string     `db:"state"      json:"state"`

	PagesCrawled   int64 `db:"pages_crawled"   json:"pages_crawled"`
	PagesFailed    int64 `db:"pages_failed"    json:"pages_failed"`
	BytesProcessed int64 `db:"bytes_processed" json:"bytes_processed"`
	TotalWords     int64 `db:"total_words"     json:"total_words"`
}

// QueuedURL is a pending work item in the URL queue.
type QueuedURL struct {
	SessionID    uuid.UUID  `db:"session_id"    json:"session_id"`
	URL          string     `db:"url"           json:"url"`
	ParentURL    *string    `db:"parent_url"    json:"parent_url,omitempty"`
	Depth        int        `db:"depth"         json:"depth"`
	Priority     int        `db:"priority"      json:"priority"`
	Status       string     `db:"status"        json:"status"`
	Attempts     int        `db:"attempts"      json:"attempts"`
	LastError    *string    `db:"last_error"    json:"last_error,omitempty"`
	DiscoveredAt time.Time  `db:"discovered_at" json:"discovered_at"`
	NotBefore    time.Time  `db:"not_before"    json:"not_before"`
	LeasedUntil  *time.Time `db:"leased_until"  json:"leased_until,omitempty"`
}

// Timing is the per-step duration breakdown for one processed URL.
type Timing struct {
	Fetch   time.Duration `json:"fetch"`
	Extract time.Duration `json:"extract"`
	Analyze time.Duration `json:"analyze"`
	Persist time.Duration `json:"persist"`
	Total   time.Duration `json:"total"`
}

// FetchResult is the outcome a worker emits for one URL. Exactly one of
// the success fields or ErrorKind is meaningful.
type FetchResult struct {
	SessionID uuid.UUID
	URL       string
	FinalURL  string
	ParentURL *string
	Depth     int
	Priority  int
	Attempts  int

	HTTPStatus  int
	ContentType string
	BodySize    int64

	Title       string
	TextLength  int
	WordCounts  map[string]int
	TotalWords  int
	UniqueWords int
	Links       []string

	ParseDegraded bool
	Timing        Timing

	ErrorKind crawlerr.Kind
	ErrorMsg  string
}

// Succeeded reports whether the URL was fetched and processed without error.
func (r *FetchResult) Succeeded() bool {
	return r.ErrorKind == ""
}

// Page is the persisted record of a successful fetch.
type Page struct {
	SessionID   uuid.UUID `db:"session_id"   json:"session_id"`
	URL         string    `db:"url"          json:"url"`
	FinalURL    string    `db:"final_url"    json:"final_url"`
	HTTPStatus  int       `db:"http_status"  json:"http_status"`
	ContentType string    `db:"content_type" json:"content_type"`
	Title       string    `db:"title"        json:"title"`
	TextLength  int       `db:"text_length"  json:"text_length"`
	WordCount   int       `db:"word_count"   json:"word_count"`
	UniqueWords int       `db:"unique_words" json:"unique_words"`
	FetchMs     int64     `db:"fetch_ms"     json:"fetch_ms"`
	ExtractMs   int64     `db:"extract_ms"   json:"extract_ms"`
	AnalyzeMs   int64     `db:"analyze_ms"   json:"analyze_ms"`
	CrawledAt   time.Time `db:"crawled_at"   json:"crawled_at"`
}

// Link is a directed edge between two pages within a session.
type Link struct {
	SessionID uuid.UUID `db:"session_id" json:"session_id"`
	SourceURL string    `db:"source_url" json:"source_url"`
	DestURL   string    `db:"dest_url"   json:"dest_url"`
	Kind      string    `db:"kind"       json:"kind"`
}

// SessionMetric is a periodic snapshot of session-level throughput.
type SessionMetric struct {
	SessionID      uuid.UUID `db:"session_id"      json:"session_id"`
	RecordedAt     time.Time `db:"recorded_at"     json:"recorded_at"`
	PagesCrawled   int64     `db:"pages_crawled"   json:"pages_crawled"`
	BytesProcessed int64     `db:"bytes_processed" json:"bytes_processed"`
	Errors         int64     `db:"errors"          json:"errors"`
	PagesPerSec    float64   `db:"pages_per_sec"   json:"pages_per_sec"`
	BytesPerSec    float64   `db:"bytes_per_sec"   json:"bytes_per_sec"`
	InFlight       int       `db:"in_flight"       json:"in_flight"`
	QueueLength    int       `db:"queue_length"    json:"queue_length"`
}
