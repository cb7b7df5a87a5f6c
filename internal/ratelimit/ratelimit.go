// Package ratelimit provides a per-host minimum-interval gate. Each host
// has a timeline of reserved fetch slots; Acquire reserves the next slot
// in arrival order and sleeps until it arrives, so concurrent waiters for
// one host are served fairly and spacing between requests to a host never
// drops below the host's interval.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a per-host minimum-interval rate limiter.
type Limiter struct {
	defaultInterval time.Duration
	mu              sync.Mutex
	hosts           map[string]*hostGate
}

// hostGate tracks the reservation timeline for one host.
type hostGate struct {
	interval time.Duration // 0 means use the limiter default
	next     time.Time     // earliest time the next slot may start
}

// New creates a limiter with the given global minimum interval.
func New(defaultInterval time.Duration) *Limiter {
	return &Limiter{
		defaultInterval: defaultInterval,
		hosts:           make(map[string]*hostGate),
	}
}

// SetHostInterval raises the minimum interval for one host, typically from
// a robots.txt crawl-delay. Intervals below the global default are ignored.
func (l *Limiter) SetHostInterval(host string, interval time.Duration) {
	if interval <= l.defaultInterval {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.gate(host).interval = interval
}

// Interval returns the effective minimum interval for a host.
func (l *Limiter) Interval(host string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if g, ok := l.hosts[host]; ok && g.interval > l.defaultInterval {
		return g.interval
	}
	return l.defaultInterval
}

// Acquire blocks until the host's next available slot, then claims it.
// Returns ctx.Err() if the context is cancelled first; a cancelled waiter
// hands its reservation back so the slot is not wasted.
func (l *Limiter) Acquire(ctx context.Context, host string) error {
	interval, slot := l.reserve(host)

	wait := time.Until(slot)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		l.release(host, interval)
		return ctx.Err()
	}
}

// reserve claims the next slot on the host timeline and advances it.
func (l *Limiter) reserve(host string) (interval time.Duration, slot time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g := l.gate(host)
	interval = g.interval
	if interval < l.defaultInterval {
		interval = l.defaultInterval
	}

	now := time.Now()
	slot = g.next
	if slot.Before(now) {
		slot = now
	}
	g.next = slot.Add(interval)

	return interval, slot
}

// release rolls one reservation back after a cancelled wait. The timeline
// never moves before now so already-issued slots stay valid.
func (l *Limiter) release(host string, interval time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g := l.gate(host)
	rolled := g.next.Add(-interval)
	if now := time.Now(); rolled.Before(now) {
		rolled = now
	}
	g.next = rolled
}

// gate returns the gate for a host, creating it if needed. Caller holds mu.
func (l *Limiter) gate(host string) *hostGate {
	g, ok := l.hosts[host]
	if !ok {
		g = &hostGate{}
		l.hosts[host] = g
	}
	return g
}
