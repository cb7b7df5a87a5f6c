package session

import (
	"context"
	"errors"
	"time"

	"github.com/jonesrussell/webwords/internal/crawlerr"
	"github.com/jonesrussell/webwords/internal/domain"
	"github.com/jonesrussell/webwords/internal/queue"
	"github.com/jonesrussell/webwords/internal/urlnorm"
)

// maxPersistFailures is the store retry budget: this many consecutive
// RecordPage failures turn the session FAILED.
const maxPersistFailures = 5

// handleResult persists one worker result and advances the queue. Page,
// words, and links commit in one store transaction before any discovered
// link is enqueued, so an outbound link is never leaseable ahead of its
// source page.
func (s *Session) handleResult(ctx context.Context, result *domain.FetchResult) {
	s.inFlight--

	if result.ErrorKind == crawlerr.KindCancelled {
		s.release(ctx, result.URL)
		return
	}

	if result.Succeeded() {
		s.handleSuccess(ctx, result)
		return
	}
	s.handleFailure(ctx, result)
}

func (s *Session) handleSuccess(ctx context.Context, result *domain.FetchResult) {
	persistStart := time.Now()
	page := pageFromResult(result)
	links := classifyLinks(result)

	if err := s.store.RecordPage(ctx, page, result.WordCounts, links); err != nil {
		s.persistFailures++
		s.errorCount++
		s.log.Error("failed to persist page",
			"url", result.URL, "error", err, "consecutive_failures", s.persistFailures)

		if s.persistFailures >= maxPersistFailures {
			s.fatal("persistence retry budget exhausted: " + err.Error())
		}
		s.complete(ctx, result.URL, queue.Disposition{
			Status:    domain.StatusFailed,
			Error:     err.Error(),
			Retryable: true,
		})
		return
	}
	s.persistFailures = 0
	result.Timing.Persist = time.Since(persistStart)

	s.complete(ctx, result.URL, queue.Disposition{Status: domain.StatusDone})

	s.pagesCrawled++
	s.bytesProcessed += result.BodySize
	s.totalWords += int64(result.TotalWords)

	s.enqueueLinks(ctx, result)

	s.log.Debug("page crawled",
		"url", result.URL,
		"status", result.HTTPStatus,
		"words", result.TotalWords,
		"links", len(result.Links),
		"fetch_ms", result.Timing.Fetch.Milliseconds(),
	)
}

func (s *Session) handleFailure(ctx context.Context, result *domain.FetchResult) {
	s.errorCount++

	disp := dispositionFor(result)
	s.complete(ctx, result.URL, disp)

	terminal := disp.Status == domain.StatusSkipped ||
		!disp.Retryable || result.Attempts+1 > s.cfg.MaxRetries
	if terminal && disp.Status == domain.StatusFailed {
		s.pagesFailed++
	}

	if err := s.store.RecordError(
		ctx, s.id, result.URL, string(result.ErrorKind), result.ErrorMsg, result.Depth,
	); err != nil {
		s.log.Warn("failed to record error event", "url", result.URL, "error", err)
	}

	s.log.Debug("page failed",
		"url", result.URL,
		"kind", string(result.ErrorKind),
		"error", result.ErrorMsg,
		"retryable", disp.Retryable,
	)
}

// dispositionFor maps an error kind to its queue disposition.
func dispositionFor(result *domain.FetchResult) queue.Disposition {
	switch {
	case result.ErrorKind.Skip():
		return queue.Disposition{Status: domain.StatusSkipped, Error: result.ErrorMsg}
	case result.ErrorKind.Retryable():
		return queue.Disposition{Status: domain.StatusFailed, Error: result.ErrorMsg, Retryable: true}
	default:
		return queue.Disposition{Status: domain.StatusFailed, Error: result.ErrorMsg}
	}
}

// complete applies a disposition, tolerating rows the store transaction
// already transitioned.
func (s *Session) complete(ctx context.Context, url string, disp queue.Disposition) {
	err := s.queue.Complete(ctx, url, disp)
	if err != nil && !errors.Is(err, queue.ErrNotLeased) && !errors.Is(err, queue.ErrNotFound) {
		s.log.Warn("failed to complete URL", "url", url, "error", err)
	}
}

// enqueueLinks enqueues a page's discovered links one level deeper, at
// one priority step below their parent.
func (s *Session) enqueueLinks(ctx context.Context, result *domain.FetchResult) {
	priority := max(result.Priority-1, minPriority)

	for _, link := range result.Links {
		if !s.seen.Add(link) {
			continue
		}

		parent := result.URL
		outcome := s.enqueue(ctx, domain.QueuedURL{
			SessionID: s.id,
			URL:       link,
			ParentURL: &parent,
			Depth:     result.Depth + 1,
			Priority:  priority,
		})
		if outcome == queue.OutcomeLimitReached {
			return
		}
	}
}

// enqueue adds one URL to the queue, logging rejections at debug.
func (s *Session) enqueue(ctx context.Context, item domain.QueuedURL) queue.Outcome {
	outcome, err := s.queue.Enqueue(ctx, item)
	if err != nil {
		if !errors.Is(err, queue.ErrClosed) {
			s.log.Warn("enqueue failed", "url", item.URL, "error", err)
		}
		return outcome
	}

	if outcome != queue.OutcomeAccepted {
		s.log.Debug("url rejected", "url", item.URL, "outcome", outcome.String())
	}
	return outcome
}

// maybeRecordMetric appends a throughput snapshot once per interval.
func (s *Session) maybeRecordMetric(ctx context.Context) {
	now := time.Now()
	if now.Sub(s.lastMetric) < s.cfg.MetricsInterval {
		return
	}
	s.lastMetric = now

	elapsed := now.Sub(s.startedAt).Seconds()
	if elapsed <= 0 {
		return
	}

	queueLength := 0
	if sizes, err := s.queue.Size(ctx); err == nil {
		queueLength = sizes.Pending
	}

	metric := &domain.SessionMetric{
		SessionID:      s.id,
		RecordedAt:     now,
		PagesCrawled:   s.pagesCrawled,
		BytesProcessed: s.bytesProcessed,
		Errors:         s.errorCount,
		PagesPerSec:    float64(s.pagesCrawled) / elapsed,
		BytesPerSec:    float64(s.bytesProcessed) / elapsed,
		InFlight:       s.pool.BusyCount(),
		QueueLength:    queueLength,
	}
	if err := s.store.RecordMetric(ctx, metric); err != nil {
		s.log.Warn("failed to record metric", "error", err)
	}
}

// pageFromResult builds the persisted page row.
func pageFromResult(result *domain.FetchResult) *domain.Page {
	return &domain.Page{
		SessionID:   result.SessionID,
		URL:         result.URL,
		FinalURL:    result.FinalURL,
		HTTPStatus:  result.HTTPStatus,
		ContentType: result.ContentType,
		Title:       result.Title,
		TextLength:  result.TextLength,
		WordCount:   result.TotalWords,
		UniqueWords: result.UniqueWords,
		FetchMs:     result.Timing.Fetch.Milliseconds(),
		ExtractMs:   result.Timing.Extract.Milliseconds(),
		AnalyzeMs:   result.Timing.Analyze.Milliseconds(),
		CrawledAt:   time.Now(),
	}
}

// classifyLinks labels each discovered link INTERNAL or EXTERNAL relative
// to the source host.
func classifyLinks(result *domain.FetchResult) []domain.Link {
	if len(result.Links) == 0 {
		return nil
	}

	sourceHost, err := urlnorm.Host(result.FinalURL)
	if err != nil {
		sourceHost = ""
	}

	links := make([]domain.Link, 0, len(result.Links))
	for _, dest := range result.Links {
		kind := domain.LinkExternal
		if destHost, hostErr := urlnorm.Host(dest); hostErr == nil && destHost == sourceHost {
			kind = domain.LinkInternal
		}
		links = append(links, domain.Link{
			SessionID: result.SessionID,
			SourceURL: result.URL,
			DestURL:   dest,
			Kind:      kind,
		})
	}
	return links
}
