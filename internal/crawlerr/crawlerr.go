// Package crawlerr defines the crawl error taxonomy. Workers classify every
// failure into a Kind so the session can decide between retry, skip, and
// terminal failure without inspecting error strings.
package crawlerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
)

// Kind identifies a class of crawl failure.
type Kind string

// Error kinds. Retryability follows the taxonomy: timeouts, resets, DNS
// failures, 5xx, 408 and 429 may succeed on retry; everything else is
// terminal on first occurrence.
const (
	KindInvalidURL            Kind = "INVALID_URL"
	KindDisallowedByRobots    Kind = "DISALLOWED_BY_ROBOTS"
	KindDisallowedContentType Kind = "DISALLOWED_CONTENT_TYPE"
	KindBodyTooLarge          Kind = "BODY_TOO_LARGE"
	KindHTTPClientError       Kind = "HTTP_CLIENT_ERROR"
	KindHTTPServerError       Kind = "HTTP_SERVER_ERROR"
	KindNetworkTimeout        Kind = "NETWORK_TIMEOUT"
	KindNetworkReset          Kind = "NETWORK_RESET"
	KindDNSFailure            Kind = "DNS_FAILURE"
	KindParseError            Kind = "PARSE_ERROR"
	KindPersistenceError      Kind = "PERSISTENCE_ERROR"
	KindCancelled             Kind = "CANCELLED"
)

// retryableKinds holds the kinds whose retry may succeed.
var retryableKinds = map[Kind]struct{}{
	KindHTTPServerError:  {},
	KindNetworkTimeout:   {},
	KindNetworkReset:     {},
	KindDNSFailure:       {},
	KindPersistenceError: {},
}

// skipKinds holds the kinds recorded as SKIPPED rather than FAILED.
var skipKinds = map[Kind]struct{}{
	KindDisallowedByRobots:    {},
	KindDisallowedContentType: {},
	KindBodyTooLarge:          {},
	KindInvalidURL:            {},
}

// Retryable reports whether a retry of this kind may succeed.
func (k Kind) Retryable() bool {
	_, ok := retryableKinds[k]
	return ok
}

// Skip reports whether this kind terminates the URL as SKIPPED.
func (k Kind) Skip() bool {
	_, ok := skipKinds[k]
	return ok
}

// Error is a classified crawl error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// New creates a classified error with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap creates a classified error wrapping a cause.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Msg: err.Error(), Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from an error, or empty string for unclassified.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// FromStatus classifies a non-2xx HTTP status code. 408 and 429 are the
// only client errors worth retrying.
func FromStatus(status int) *Error {
	msg := fmt.Sprintf("http status %d", status)
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return New(KindHTTPServerError, msg)
	case status >= http.StatusInternalServerError:
		return New(KindHTTPServerError, msg)
	default:
		return New(KindHTTPClientError, msg)
	}
}

// FromNetwork classifies a transport-level error from the HTTP client.
func FromNetwork(err error) *Error {
	switch {
	case errors.Is(err, context.Canceled):
		return Wrap(KindCancelled, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return Wrap(KindNetworkTimeout, err)
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EPIPE):
		return Wrap(KindNetworkReset, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Wrap(KindDNSFailure, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Wrap(KindNetworkTimeout, err)
	}

	return Wrap(KindNetworkReset, err)
}
