package dedup_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/webwords/internal/dedup"
)

func TestAddReportsFirstInsertion(t *testing.T) {
	t.Parallel()

	f := dedup.New(100)

	assert.True(t, f.Add("https://example.com/a"))
	assert.False(t, f.Add("https://example.com/a"))
	assert.True(t, f.Add("https://example.com/b"))
	assert.Equal(t, 2, f.Len())
}

func TestContains(t *testing.T) {
	t.Parallel()

	f := dedup.New(100)

	assert.False(t, f.Contains("https://example.com/a"))
	f.Add("https://example.com/a")
	assert.True(t, f.Contains("https://example.com/a"))
	assert.False(t, f.Contains("https://example.com/b"))
}

func TestConcurrentAddSameURL(t *testing.T) {
	t.Parallel()

	f := dedup.New(100)

	const goroutines = 32
	var firsts atomic.Int32
	var wg sync.WaitGroup

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.Add("https://example.com/contended") {
				firsts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), firsts.Load(), "exactly one Add must win")
	assert.Equal(t, 1, f.Len())
}

func TestManyDistinctURLs(t *testing.T) {
	t.Parallel()

	f := dedup.New(10_000)

	for i := 0; i < 10_000; i++ {
		assert.True(t, f.Add(fmt.Sprintf("https://example.com/page/%d", i)))
	}
	assert.Equal(t, 10_000, f.Len())

	// Re-adding any of them is a duplicate, bloom false positives
	// notwithstanding.
	for i := 0; i < 10_000; i++ {
		assert.False(t, f.Add(fmt.Sprintf("https://example.com/page/%d", i)))
	}
}
