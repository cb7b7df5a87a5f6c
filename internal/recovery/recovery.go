// Package recovery reclaims expired url_queue leases and purges old
// terminal rows in the durable backend. It runs once at session start to
// absorb orphans from a prior crash, and periodically while a crawl is
// running.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/webwords/internal/database"
	"github.com/jonesrussell/webwords/internal/logger"
)

// Defaults for the maintenance schedule.
const (
	DefaultInterval  = time.Minute
	DefaultRetention = 24 * time.Hour
)

// Config holds the recovery policy.
type Config struct {
	// Interval between periodic sweeps.
	Interval time.Duration
	// Retention is how long terminal rows are kept before purging.
	Retention time.Duration
	// MaxRetries caps attempts before a reclaimed lease turns FAILED.
	MaxRetries int
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	return c
}

// Runner executes recovery sweeps against the durable queue.
type Runner struct {
	cfg       Config
	repo      *database.QueueRepository
	sessionID uuid.UUID
	log       logger.Interface
	cron      *cron.Cron
}

// NewRunner creates a recovery runner for one session.
func NewRunner(
	cfg Config,
	repo *database.QueueRepository,
	sessionID uuid.UUID,
	log logger.Interface,
) *Runner {
	return &Runner{
		cfg:       cfg.withDefaults(),
		repo:      repo,
		sessionID: sessionID,
		log:       log,
	}
}

// Sweep runs one reclaim-and-purge pass. Both steps are idempotent, so a
// sweep racing a live crawl or another sweep is harmless.
func (r *Runner) Sweep(ctx context.Context) (*database.QueueHealth, error) {
	reclaimed, err := r.repo.ReclaimExpired(ctx, r.sessionID, r.cfg.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("recovery sweep: %w", err)
	}

	purged, err := r.repo.PurgeTerminal(ctx, r.sessionID, r.cfg.Retention)
	if err != nil {
		return nil, fmt.Errorf("recovery sweep: %w", err)
	}

	health, err := r.repo.Health(ctx, r.sessionID)
	if err != nil {
		return nil, fmt.Errorf("recovery sweep: %w", err)
	}
	health.ReclaimedLeases = reclaimed
	health.PurgedTerminal = purged

	if reclaimed > 0 || purged > 0 {
		r.log.Info("recovery sweep",
			"session_id", r.sessionID.String(),
			"reclaimed_leases", reclaimed,
			"purged_terminal", purged,
		)
	}
	return health, nil
}

// Start runs an immediate sweep, then schedules periodic sweeps until
// Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	if _, err := r.Sweep(ctx); err != nil {
		return err
	}

	r.cron = cron.New()
	spec := fmt.Sprintf("@every %s", r.cfg.Interval)
	if _, err := r.cron.AddFunc(spec, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, sweepErr := r.Sweep(sweepCtx); sweepErr != nil {
			r.log.Error("periodic recovery sweep failed", "error", sweepErr)
		}
	}); err != nil {
		return fmt.Errorf("schedule recovery: %w", err)
	}

	r.cron.Start()
	return nil
}

// Stop halts the periodic schedule, waiting for a running sweep.
func (r *Runner) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}
