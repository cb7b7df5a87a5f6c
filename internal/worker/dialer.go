package worker

import (
	"context"
	"net"
	"sync"
	"time"
)

// cachedDialer resolves hostnames through a TTL cache so a crawl hitting
// the same hosts thousands of times does not re-query DNS per request.
type cachedDialer struct {
	ttl    time.Duration
	dialer *net.Dialer

	mu      sync.Mutex
	entries map[string]dnsEntry
}

type dnsEntry struct {
	addrs   []string
	expires time.Time
}

func newCachedDialer(ttl time.Duration) *cachedDialer {
	return &cachedDialer{
		ttl:     ttl,
		dialer:  &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second},
		entries: make(map[string]dnsEntry),
	}
}

// DialContext resolves host through the cache and dials the first
// reachable address. IP literals bypass the cache.
func (d *cachedDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || net.ParseIP(host) != nil {
		return d.dialer.DialContext(ctx, network, addr)
	}

	addrs, err := d.resolve(ctx, host)
	if err != nil {
		return nil, err
	}

	var dialErr error
	for _, ip := range addrs {
		conn, connErr := d.dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if connErr == nil {
			return conn, nil
		}
		dialErr = connErr
	}
	return nil, dialErr
}

// resolve returns the cached addresses for host, refreshing on expiry.
func (d *cachedDialer) resolve(ctx context.Context, host string) ([]string, error) {
	now := time.Now()

	d.mu.Lock()
	if entry, ok := d.entries[host]; ok && entry.expires.After(now) {
		addrs := entry.addrs
		d.mu.Unlock()
		return addrs, nil
	}
	d.mu.Unlock()

	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.entries[host] = dnsEntry{addrs: addrs, expires: now.Add(d.ttl)}
	d.mu.Unlock()
	return addrs, nil
}
