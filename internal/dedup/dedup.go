// Package dedup provides a two-layer visited-URL membership filter: a
// bloom filter sized for the configured page budget in front of an exact
// set. The bloom layer answers most negative lookups without touching the
// map; the exact layer removes false positives so the combined Add is
// precise and linearizable.
package dedup

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// DefaultFalsePositiveRate is the bloom filter target false-positive rate.
const DefaultFalsePositiveRate = 0.01

// minBloomCapacity keeps tiny page budgets from degenerating the filter.
const minBloomCapacity = 1024

// Filter is a concurrent-safe visited-URL set over normalized URLs.
type Filter struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	exact  map[string]struct{}
}

// New creates a filter sized for the expected number of URLs.
func New(expectedURLs int) *Filter {
	capacity := uint(expectedURLs)
	if capacity < minBloomCapacity {
		capacity = minBloomCapacity
	}

	return &Filter{
		filter: bloom.NewWithEstimates(capacity, DefaultFalsePositiveRate),
		exact:  make(map[string]struct{}),
	}
}

// Add records a URL and reports whether it was newly added. Two concurrent
// calls with the same URL return true exactly once.
func (f *Filter) Add(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.filter.TestString(url) {
		// Bloom hit: consult the exact set to rule out a false positive.
		if _, seen := f.exact[url]; seen {
			return false
		}
	}

	f.filter.AddString(url)
	f.exact[url] = struct{}{}
	return true
}

// Contains reports whether a URL has been added. Cheap pre-filter for
// workers; the authoritative check is Add at enqueue time.
func (f *Filter) Contains(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.filter.TestString(url) {
		return false
	}
	_, seen := f.exact[url]
	return seen
}

// Len returns the number of distinct URLs added.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.exact)
}
