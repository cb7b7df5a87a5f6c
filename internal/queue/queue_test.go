package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/webwords/internal/queue"
)

func TestBackoff(t *testing.T) {
	t.Parallel()

	cfg := queue.Config{BackoffBase: time.Second}

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{10, 60 * time.Second},
		{100, 60 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.Backoff(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "accepted", queue.OutcomeAccepted.String())
	assert.Equal(t, "duplicate", queue.OutcomeDuplicate.String())
	assert.Equal(t, "depth_exceeded", queue.OutcomeDepthExceeded.String())
	assert.Equal(t, "limit_reached", queue.OutcomeLimitReached.String())
}
