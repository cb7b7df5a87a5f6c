// Package worker implements the fetch-extract-analyze pipeline and the
// pool that runs it concurrently.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jonesrussell/webwords/internal/analyze"
	"github.com/jonesrussell/webwords/internal/crawlerr"
	"github.com/jonesrussell/webwords/internal/dedup"
	"github.com/jonesrussell/webwords/internal/domain"
	"github.com/jonesrussell/webwords/internal/extract"
	"github.com/jonesrussell/webwords/internal/logger"
	"github.com/jonesrussell/webwords/internal/ratelimit"
	"github.com/jonesrussell/webwords/internal/robots"
	"github.com/jonesrussell/webwords/internal/urlnorm"
)

// Defaults for the fetch step.
const (
	DefaultFetchTimeout          = 30 * time.Second
	DefaultMaxBodySize           = 10 << 20
	DefaultMaxRedirects          = 5
	DefaultMaxConnections        = 100
	DefaultMaxConnectionsPerHost = 10
)

// errTooManyRedirects stops the HTTP client's redirect chain. A retry
// would walk the identical chain, so it classifies as a client error.
var errTooManyRedirects = errors.New("too many redirects")

// Config holds per-worker fetch policy.
type Config struct {
	UserAgent    string
	FetchTimeout time.Duration
	MaxBodySize  int64
	MaxRedirects int

	// MaxConnections and MaxConnectionsPerHost cap the shared transport.
	MaxConnections        int
	MaxConnectionsPerHost int
	// DNSCacheTTL enables cached DNS resolution when positive.
	DNSCacheTTL time.Duration

	// AllowedDomains, when non-empty, restricts discovered links to the
	// listed domains and their subdomains. BlockedDomains always excludes.
	AllowedDomains []string
	BlockedDomains []string

	// MinTextLength skips word analysis for pages with less visible text.
	MinTextLength int
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = DefaultMaxBodySize
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = DefaultMaxRedirects
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.MaxConnectionsPerHost <= 0 {
		c.MaxConnectionsPerHost = DefaultMaxConnectionsPerHost
	}
	return c
}

// Worker processes one leased URL at a time: robots check, rate limit,
// fetch, extract, analyze. It never touches the queue or the database;
// the session owns those transitions.
type Worker struct {
	cfg        Config
	httpClient *http.Client
	normalizer *urlnorm.Normalizer
	robots     *robots.Checker
	limiter    *ratelimit.Limiter
	seen       *dedup.Filter
	extractor  *extract.Extractor
	analyzer   *analyze.Analyzer
	log        logger.Interface
}

// New creates a worker sharing the session-wide collaborators.
func New(
	cfg Config,
	normalizer *urlnorm.Normalizer,
	robotsChecker *robots.Checker,
	limiter *ratelimit.Limiter,
	seen *dedup.Filter,
	extractor *extract.Extractor,
	analyzer *analyze.Analyzer,
	log logger.Interface,
) *Worker {
	cfg = cfg.withDefaults()

	transport := &http.Transport{
		MaxIdleConns:    cfg.MaxConnections,
		MaxConnsPerHost: cfg.MaxConnectionsPerHost,
		IdleConnTimeout: 90 * time.Second,
	}
	if cfg.DNSCacheTTL > 0 {
		transport.DialContext = newCachedDialer(cfg.DNSCacheTTL).DialContext
	}

	client := &http.Client{
		Timeout:   cfg.FetchTimeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return fmt.Errorf("%w: stopped after %d", errTooManyRedirects, cfg.MaxRedirects)
			}
			return nil
		},
	}

	return &Worker{
		cfg:        cfg,
		httpClient: client,
		normalizer: normalizer,
		robots:     robotsChecker,
		limiter:    limiter,
		seen:       seen,
		extractor:  extractor,
		analyzer:   analyzer,
		log:        log,
	}
}

// Process runs the pipeline for one leased URL. It always returns a
// result: failures are classified into the result's ErrorKind, and a
// panic anywhere in the pipeline is recovered into a PARSE_ERROR result
// so one malformed page cannot take a worker down.
func (w *Worker) Process(ctx context.Context, item *domain.QueuedURL) (result *domain.FetchResult) {
	start := time.Now()
	result = &domain.FetchResult{
		SessionID: item.SessionID,
		URL:       item.URL,
		FinalURL:  item.URL,
		ParentURL: item.ParentURL,
		Depth:     item.Depth,
		Priority:  item.Priority,
		Attempts:  item.Attempts,
	}

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("worker panic recovered", "url", item.URL, "panic", r)
			result.ErrorKind = crawlerr.KindParseError
			result.ErrorMsg = fmt.Sprintf("panic: %v", r)
		}
		result.Timing.Total = time.Since(start)
	}()

	host, err := urlnorm.Host(item.URL)
	if err != nil {
		w.fail(result, crawlerr.Wrap(crawlerr.KindInvalidURL, err))
		return result
	}

	if !w.checkRobots(ctx, result, host) {
		return result
	}

	if err := w.limiter.Acquire(ctx, host); err != nil {
		w.fail(result, crawlerr.Wrap(crawlerr.KindCancelled, err))
		return result
	}

	body, ok := w.fetch(ctx, result)
	if !ok {
		return result
	}

	w.extractAndAnalyze(result, body)
	return result
}

// checkRobots verifies robots.txt policy and applies any crawl-delay to
// the host's rate limit. Returns false when the URL must not be fetched.
func (w *Worker) checkRobots(ctx context.Context, result *domain.FetchResult, host string) bool {
	allowed, err := w.robots.Allowed(ctx, result.URL)
	if err != nil {
		w.fail(result, crawlerr.Wrap(crawlerr.KindNetworkReset, err))
		return false
	}
	if !allowed {
		w.fail(result, crawlerr.New(crawlerr.KindDisallowedByRobots, "disallowed by robots.txt"))
		return false
	}

	if delay := w.robots.CrawlDelay(host); delay > 0 {
		w.limiter.SetHostInterval(host, delay)
	}
	return true
}

// fetch performs the HTTP GET and returns the body bytes, enforcing the
// status, content-type, and size policies.
func (w *Worker) fetch(ctx context.Context, result *domain.FetchResult) ([]byte, bool) {
	fetchStart := time.Now()
	defer func() { result.Timing.Fetch = time.Since(fetchStart) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, result.URL, http.NoBody)
	if err != nil {
		w.fail(result, crawlerr.Wrap(crawlerr.KindInvalidURL, err))
		return nil, false
	}
	req.Header.Set("User-Agent", w.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, errTooManyRedirects) {
			w.fail(result, crawlerr.New(crawlerr.KindHTTPClientError, err.Error()))
			return nil, false
		}
		w.fail(result, crawlerr.FromNetwork(err))
		return nil, false
	}
	defer resp.Body.Close()

	result.HTTPStatus = resp.StatusCode
	result.FinalURL = resp.Request.URL.String()
	result.ContentType = resp.Header.Get("Content-Type")

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		w.fail(result, crawlerr.FromStatus(resp.StatusCode))
		return nil, false
	}

	if !w.extractor.ContentTypeAllowed(result.ContentType) {
		w.fail(result, crawlerr.New(
			crawlerr.KindDisallowedContentType,
			fmt.Sprintf("content type %q not extractable", result.ContentType),
		))
		return nil, false
	}

	// Read one byte past the cap to distinguish at-cap from over-cap.
	body, err := io.ReadAll(io.LimitReader(resp.Body, w.cfg.MaxBodySize+1))
	if err != nil {
		w.fail(result, crawlerr.FromNetwork(err))
		return nil, false
	}
	if int64(len(body)) > w.cfg.MaxBodySize {
		w.fail(result, crawlerr.New(
			crawlerr.KindBodyTooLarge,
			fmt.Sprintf("body exceeds %d bytes", w.cfg.MaxBodySize),
		))
		return nil, false
	}

	result.BodySize = int64(len(body))
	return body, true
}

// extractAndAnalyze fills the result's content fields from the body.
func (w *Worker) extractAndAnalyze(result *domain.FetchResult, body []byte) {
	extractStart := time.Now()
	extracted, err := w.extractor.Extract(bytes.NewReader(body))
	result.Timing.Extract = time.Since(extractStart)
	if err != nil {
		w.fail(result, crawlerr.Wrap(crawlerr.KindParseError, err))
		return
	}

	result.Title = extracted.Title
	result.TextLength = len(extracted.Text)
	result.ParseDegraded = extracted.Degraded
	result.Links = w.resolveLinks(result.FinalURL, extracted.Links)

	if w.cfg.MinTextLength > 0 && result.TextLength < w.cfg.MinTextLength {
		return
	}

	analyzeStart := time.Now()
	analysis := w.analyzer.Analyze(extracted.Text)
	result.Timing.Analyze = time.Since(analyzeStart)

	result.WordCounts = analysis.Frequencies
	result.TotalWords = analysis.TotalWords
	result.UniqueWords = analysis.UniqueWords
}

// resolveLinks normalizes candidate hrefs against the final URL,
// preserving document order and dropping within-page duplicates. URLs the
// session has already seen are filtered out here as a cheap pre-check;
// the authoritative dedup happens at enqueue.
func (w *Worker) resolveLinks(finalURL string, hrefs []string) []string {
	var links []string
	inPage := make(map[string]struct{}, len(hrefs))

	for _, href := range hrefs {
		normalized, err := w.normalizer.Resolve(finalURL, href)
		if err != nil {
			if !errors.Is(err, urlnorm.ErrUnsupportedScheme) && !errors.Is(err, urlnorm.ErrEmptyInput) {
				w.log.Debug("dropping unresolvable link", "href", href, "error", err)
			}
			continue
		}
		if _, dup := inPage[normalized]; dup {
			continue
		}
		inPage[normalized] = struct{}{}

		if !w.domainAllowed(normalized) {
			continue
		}
		if w.seen != nil && w.seen.Contains(normalized) {
			continue
		}
		links = append(links, normalized)
	}

	return links
}

// domainAllowed applies the blocked and allowed domain lists to a
// discovered link. Matching covers the domain itself and its subdomains.
// Seeds are not filtered; the lists bound discovery only.
func (w *Worker) domainAllowed(link string) bool {
	if len(w.cfg.AllowedDomains) == 0 && len(w.cfg.BlockedDomains) == 0 {
		return true
	}

	host, err := urlnorm.Host(link)
	if err != nil {
		return false
	}
	if h, _, splitErr := net.SplitHostPort(host); splitErr == nil {
		host = h
	}

	for _, blocked := range w.cfg.BlockedDomains {
		if hostMatchesDomain(host, blocked) {
			return false
		}
	}
	if len(w.cfg.AllowedDomains) == 0 {
		return true
	}
	for _, allowed := range w.cfg.AllowedDomains {
		if hostMatchesDomain(host, allowed) {
			return true
		}
	}
	return false
}

// hostMatchesDomain reports whether host is domain or one of its
// subdomains.
func hostMatchesDomain(host, domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// fail records a classified error on the result.
func (w *Worker) fail(result *domain.FetchResult, cerr *crawlerr.Error) {
	result.ErrorKind = cerr.Kind
	result.ErrorMsg = cerr.Msg
}
