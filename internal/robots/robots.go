// Package robots provides robots.txt compliance checking with a per-host
// cache. Missing robots.txt (4xx) allows everything; a fetch failure or
// server error denies the host until the cache entry expires, so a
// misbehaving host is not hammered while its policy is unknown.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// DefaultCacheTTL is the default lifetime of a cached robots.txt entry.
const DefaultCacheTTL = time.Hour

// robotsTxtPath is the well-known path for robots.txt files.
const robotsTxtPath = "/robots.txt"

// maxRobotsBodyBytes limits the size of robots.txt responses we will read.
const maxRobotsBodyBytes = 512 * 1024

// fetchTimeout bounds the robots.txt fetch independently of page fetches.
const fetchTimeout = 10 * time.Second

// Checker checks and caches robots.txt rules per scheme+host.
type Checker struct {
	httpClient *http.Client
	userAgent  string
	cacheTTL   time.Duration
	cache      map[string]*cacheEntry // keyed by scheme://host
	mu         sync.RWMutex
}

// cacheEntry stores the parsed robots.txt data and metadata for a host.
type cacheEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
	allowAll  bool // robots.txt missing (4xx): everything allowed
	denyAll   bool // fetch failed or 5xx: everything denied until TTL
}

// NewChecker creates a robots checker.
func NewChecker(httpClient *http.Client, userAgent string, cacheTTL time.Duration) *Checker {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}

	return &Checker{
		httpClient: httpClient,
		userAgent:  userAgent,
		cacheTTL:   cacheTTL,
		cache:      make(map[string]*cacheEntry),
	}
}

// Allowed reports whether the given URL may be fetched under the host's
// robots.txt. The first call for a host fetches and caches the policy.
func (c *Checker) Allowed(ctx context.Context, rawURL string) (bool, error) {
	parsed, parseErr := url.Parse(rawURL)
	if parseErr != nil {
		return false, fmt.Errorf("robots: parse url: %w", parseErr)
	}

	host := strings.ToLower(parsed.Host)
	if host == "" {
		return false, fmt.Errorf("robots: empty host in url %q", rawURL)
	}

	entry, err := c.getOrFetchEntry(ctx, parsed.Scheme, host)
	if err != nil {
		return false, err
	}

	switch {
	case entry.denyAll:
		return false, nil
	case entry.allowAll:
		return true, nil
	default:
		p := parsed.Path
		if p == "" {
			p = "/"
		}
		return entry.data.TestAgent(p, c.userAgent), nil
	}
}

// CrawlDelay returns the crawl-delay directive for the host if one is
// cached, or 0.
func (c *Checker) CrawlDelay(host string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, scheme := range []string{"https", "http"} {
		entry, ok := c.cache[scheme+"://"+strings.ToLower(host)]
		if !ok || entry.data == nil {
			continue
		}
		if group := entry.data.FindGroup(c.userAgent); group != nil {
			return group.CrawlDelay
		}
	}

	return 0
}

// getOrFetchEntry returns a fresh cached entry or fetches robots.txt.
func (c *Checker) getOrFetchEntry(ctx context.Context, scheme, host string) (*cacheEntry, error) {
	key := cacheKey(scheme, host)

	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()

	if ok && time.Since(entry.fetchedAt) <= c.cacheTTL {
		return entry, nil
	}

	return c.fetchAndCache(ctx, scheme, host)
}

// fetchAndCache fetches robots.txt for the host and caches the outcome.
func (c *Checker) fetchAndCache(ctx context.Context, scheme, host string) (*cacheEntry, error) {
	if scheme == "" {
		scheme = "https"
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	body, statusCode, fetchErr := c.doFetch(fetchCtx, scheme+"://"+host+robotsTxtPath)

	var entry *cacheEntry
	switch {
	case fetchErr != nil || statusCode >= http.StatusInternalServerError:
		entry = &cacheEntry{fetchedAt: time.Now(), denyAll: true}
	case statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices:
		entry = parseEntry(body)
	default:
		// 3xx/4xx: no usable policy, allow everything.
		entry = &cacheEntry{fetchedAt: time.Now(), allowAll: true}
	}

	c.mu.Lock()
	c.cache[cacheKey(scheme, host)] = entry
	c.mu.Unlock()

	return entry, nil
}

// doFetch performs the HTTP GET request for a robots.txt URL.
func (c *Checker) doFetch(ctx context.Context, robotsURL string) (body []byte, statusCode int, err error) {
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, http.NoBody)
	if reqErr != nil {
		return nil, 0, fmt.Errorf("robots: create request: %w", reqErr)
	}

	req.Header.Set("User-Agent", c.userAgent)

	resp, doErr := c.httpClient.Do(req)
	if doErr != nil {
		return nil, 0, fmt.Errorf("robots: fetch: %w", doErr)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxRobotsBodyBytes)

	body, readErr := io.ReadAll(limited)
	if readErr != nil {
		return nil, resp.StatusCode, fmt.Errorf("robots: read body: %w", readErr)
	}

	return body, resp.StatusCode, nil
}

// parseEntry parses a 2xx robots.txt body. Unparseable content allows all.
func parseEntry(body []byte) *cacheEntry {
	data, parseErr := robotstxt.FromBytes(body)
	if parseErr != nil {
		return &cacheEntry{fetchedAt: time.Now(), allowAll: true}
	}

	return &cacheEntry{data: data, fetchedAt: time.Now()}
}

func cacheKey(scheme, host string) string {
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}
