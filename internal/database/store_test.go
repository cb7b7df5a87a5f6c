package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/webwords/internal/database"
	"github.com/jonesrussell/webwords/internal/domain"
)

func TestCreateSession(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	store := database.NewStore(db)

	sess := &domain.CrawlSession{
		ID:        uuid.New(),
		Name:      "nightly",
		UserAgent: "webwords/1.0",
		MaxDepth:  3,
		MaxPages:  100,
		Workers:   8,
		StartedAt: time.Now(),
	}

	mock.ExpectExec("INSERT INTO crawl_sessions").
		WithArgs(sess.ID, "nightly", "webwords/1.0", 3, 100, 8, sess.StartedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.CreateSession(context.Background(), sess))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseSession(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	store := database.NewStore(db)

	endedAt := time.Now()
	sess := &domain.CrawlSession{
		ID:             uuid.New(),
		State:          domain.SessionCompleted,
		EndedAt:        &endedAt,
		PagesCrawled:   42,
		PagesFailed:    3,
		BytesProcessed: 1 << 20,
		TotalWords:     9000,
	}

	mock.ExpectExec("UPDATE crawl_sessions").
		WithArgs(sess.ID, "COMPLETED", &endedAt, int64(42), int64(3), int64(1<<20), int64(9000), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.CloseSession(context.Background(), sess, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseSessionNotFound(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	store := database.NewStore(db)

	endedAt := time.Now()
	sess := &domain.CrawlSession{ID: uuid.New(), State: domain.SessionFailed, EndedAt: &endedAt}

	mock.ExpectExec("UPDATE crawl_sessions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.CloseSession(context.Background(), sess, nil)
	require.ErrorIs(t, err, database.ErrSessionNotFound)
}

func TestRecordPageCommitsOneTransaction(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	store := database.NewStore(db)

	sessionID := uuid.New()
	page := &domain.Page{
		SessionID:  sessionID,
		URL:        "https://example.com/a",
		FinalURL:   "https://example.com/a",
		HTTPStatus: 200,
		Title:      "A",
		WordCount:  3,
		CrawledAt:  time.Now(),
	}
	words := map[string]int{"hello": 2, "world": 1}
	links := []domain.Link{
		{SessionID: sessionID, SourceURL: page.URL, DestURL: "https://example.com/b", Kind: "INTERNAL"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO pages").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO word_frequencies").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO links").
		WithArgs(sessionID, page.URL, "https://example.com/b", "INTERNAL").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE url_queue").
		WithArgs(sessionID, page.URL).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.RecordPage(context.Background(), page, words, links))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPageRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	store := database.NewStore(db)

	page := &domain.Page{
		SessionID: uuid.New(),
		URL:       "https://example.com/a",
		FinalURL:  "https://example.com/a",
		CrawledAt: time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO pages").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.RecordPage(context.Background(), page, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert page")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPageWithoutWordsOrLinks(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	store := database.NewStore(db)

	page := &domain.Page{
		SessionID: uuid.New(),
		URL:       "https://example.com/empty",
		FinalURL:  "https://example.com/empty",
		CrawledAt: time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO pages").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE url_queue").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.RecordPage(context.Background(), page, nil, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordMetric(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	store := database.NewStore(db)

	metric := &domain.SessionMetric{
		SessionID:    uuid.New(),
		RecordedAt:   time.Now(),
		PagesCrawled: 10,
		PagesPerSec:  1.5,
		InFlight:     4,
		QueueLength:  20,
	}

	mock.ExpectExec("INSERT INTO session_metrics_timeseries").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.RecordMetric(context.Background(), metric))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordError(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	store := database.NewStore(db)

	sessionID := uuid.New()
	mock.ExpectExec("INSERT INTO error_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.RecordError(
		context.Background(), sessionID,
		"https://example.com/x", "NETWORK_TIMEOUT", "deadline exceeded", 2,
	)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSessions(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	store := database.NewStore(db)

	columns := []string{
		"id", "name", "user_agent", "max_depth", "max_pages", "workers", "state",
		"started_at", "ended_at", "pages_crawled", "pages_failed",
		"bytes_processed", "total_words",
	}
	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM crawl_sessions").
		WithArgs(20).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(uuid.New(), "run-2", "ua", 3, 100, 8, "RUNNING", now, nil, 5, 0, 1024, 500).
			AddRow(uuid.New(), "run-1", "ua", 3, 100, 8, "COMPLETED", now.Add(-time.Hour), now, 100, 2, 2048, 9000))

	sessions, err := store.ListSessions(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "run-2", sessions[0].Name)
	assert.Nil(t, sessions[0].EndedAt)
	assert.Equal(t, int64(100), sessions[1].PagesCrawled)
	assert.NoError(t, mock.ExpectationsWereMet())
}
