// Package urlnorm canonicalizes URLs for stable crawl identity. The
// normalized string is the sole fingerprint used for deduplication and
// storage, so equivalent URLs must normalize to identical strings and
// normalization must be idempotent.
package urlnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"sort"
	"strings"
)

// DefaultMaxURLLength bounds accepted URLs.
const DefaultMaxURLLength = 2048

// defaultTrackingParams lists query parameters stripped during
// normalization. Advertising and analytics trackers that do not affect
// page content.
var defaultTrackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"utm_id", "fbclid", "gclid", "gclsrc", "dclid", "msclkid", "mc_cid", "mc_eid",
}

// defaultPorts maps schemes to their default port strings.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

var (
	// ErrEmptyInput is returned for empty URLs.
	ErrEmptyInput = errors.New("normalize url: empty input")
	// ErrUnsupportedScheme is returned for non-http(s) schemes.
	ErrUnsupportedScheme = errors.New("normalize url: unsupported scheme")
	// ErrMissingHost is returned when the URL has no host.
	ErrMissingHost = errors.New("normalize url: missing host")
	// ErrURLTooLong is returned when the URL exceeds the configured maximum.
	ErrURLTooLong = errors.New("normalize url: exceeds maximum length")
	// ErrDeniedHost is returned for denied IP literal hosts.
	ErrDeniedHost = errors.New("normalize url: host in denied range")
)

// Normalizer canonicalizes and validates URLs.
type Normalizer struct {
	maxLength        int
	denyPrivateHosts bool
	trackingParams   map[string]struct{}
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithMaxLength overrides the maximum accepted URL length.
func WithMaxLength(n int) Option {
	return func(nm *Normalizer) { nm.maxLength = n }
}

// WithDenyPrivateHosts rejects loopback, link-local, and RFC 1918 IP
// literal hosts.
func WithDenyPrivateHosts(deny bool) Option {
	return func(nm *Normalizer) { nm.denyPrivateHosts = deny }
}

// WithTrackingParams replaces the default stripped query parameter set.
func WithTrackingParams(params []string) Option {
	return func(nm *Normalizer) {
		nm.trackingParams = make(map[string]struct{}, len(params))
		for _, p := range params {
			nm.trackingParams[strings.ToLower(p)] = struct{}{}
		}
	}
}

// New creates a Normalizer with the default tracking parameter set.
func New(opts ...Option) *Normalizer {
	nm := &Normalizer{
		maxLength:      DefaultMaxURLLength,
		trackingParams: make(map[string]struct{}, len(defaultTrackingParams)),
	}
	for _, p := range defaultTrackingParams {
		nm.trackingParams[p] = struct{}{}
	}
	for _, opt := range opts {
		opt(nm)
	}
	return nm
}

// Normalize canonicalizes a raw URL: lowercases scheme and host, strips
// default ports and fragments, removes tracking parameters, sorts the
// remaining query parameters, and cleans path dot-segments. The scheme is
// preserved (an http URL stays fetchable as http).
func (nm *Normalizer) Normalize(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", ErrEmptyInput
	}
	if len(rawURL) > nm.maxLength {
		return "", ErrURLTooLong
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("normalize url: %w", err)
	}

	if validateErr := nm.validate(parsed); validateErr != nil {
		return "", validateErr
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = normalizeHost(parsed)
	parsed.Fragment = ""
	parsed.RawQuery = nm.buildCleanQuery(parsed.Query())
	parsed.Path = normalizePath(parsed.Path)
	parsed.User = nil

	return parsed.String(), nil
}

// Resolve normalizes a possibly-relative reference against a base URL.
func (nm *Normalizer) Resolve(baseURL, ref string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("resolve url: parse base: %w", err)
	}

	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("resolve url: %w", err)
	}

	return nm.Normalize(base.ResolveReference(parsed).String())
}

// Fingerprint returns the canonical identity of a URL: the normalized
// string itself.
func (nm *Normalizer) Fingerprint(rawURL string) (string, error) {
	return nm.Normalize(rawURL)
}

// Hash returns the SHA-256 hex digest of the normalized URL, for callers
// that need a fixed-width key.
func (nm *Normalizer) Hash(rawURL string) (string, error) {
	normalized, err := nm.Normalize(rawURL)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:]), nil
}

// Host returns the lowercased hostname (without port) of a URL.
func Host(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("extract host: %w", err)
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", ErrMissingHost
	}
	return host, nil
}

// validate checks scheme, host presence, and denied IP ranges.
func (nm *Normalizer) validate(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsupportedScheme
	}
	if u.Hostname() == "" {
		return ErrMissingHost
	}

	if nm.denyPrivateHosts {
		if ip := net.ParseIP(u.Hostname()); ip != nil {
			if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
				return ErrDeniedHost
			}
		}
	}

	return nil
}

// normalizeHost lowercases the hostname and removes the default port for
// the URL's scheme.
func normalizeHost(u *url.URL) string {
	hostname := strings.ToLower(u.Hostname())
	port := u.Port()

	if port == "" || port == defaultPorts[strings.ToLower(u.Scheme)] {
		return hostname
	}

	return hostname + ":" + port
}

// buildCleanQuery strips tracking parameters, sorts the remaining keys,
// and returns the encoded query string.
func (nm *Normalizer) buildCleanQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		if _, isTracking := nm.trackingParams[strings.ToLower(key)]; !isTracking {
			keys = append(keys, key)
		}
	}

	if len(keys) == 0 {
		return ""
	}

	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		vals := values[key]
		sort.Strings(vals)
		for j, val := range vals {
			if i > 0 || j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(val))
		}
	}

	return b.String()
}

// normalizePath resolves dot-segments and removes trailing slashes while
// preserving the root "/".
func normalizePath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}

	cleaned := path.Clean(p)

	if cleaned == "/" {
		return "/"
	}
	return strings.TrimRight(cleaned, "/")
}
