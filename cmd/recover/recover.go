// Package recover implements the recover command: one-shot or scheduled
// queue maintenance for the durable backend.
package recover

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/webwords/internal/config"
	"github.com/jonesrussell/webwords/internal/database"
	"github.com/jonesrussell/webwords/internal/logger"
	"github.com/jonesrussell/webwords/internal/recovery"
)

// Command creates the recover command.
func Command(cfgFile *string) *cobra.Command {
	var (
		sessionID string
		watch     bool
	)

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Reclaim expired leases and purge old terminal queue rows",
		Long: `Recover scans a session's url_queue for expired leases, returning
them to PENDING (or FAILED once retries are exhausted), and deletes
terminal rows past the retention window. With --watch it keeps running
on the configured interval.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return err
			}

			id, err := uuid.Parse(sessionID)
			if err != nil {
				return fmt.Errorf("invalid session id %q: %w", sessionID, err)
			}

			log, err := logger.New(logger.Config{
				Level:       cfg.Logging.Level,
				Encoding:    cfg.Logging.Encoding,
				Development: cfg.Logging.Development,
			})
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}

			db, err := database.NewPostgresConnection(cfg.Database.Connection())
			if err != nil {
				return err
			}
			defer db.Close()

			runner := recovery.NewRunner(recovery.Config{
				Interval:   cfg.Queue.RecoveryInterval,
				Retention:  cfg.Queue.Retention,
				MaxRetries: cfg.Queue.MaxRetries,
			}, database.NewQueueRepository(db), id, log)

			if !watch {
				health, sweepErr := runner.Sweep(cmd.Context())
				if sweepErr != nil {
					return sweepErr
				}
				printHealth(health)
				return nil
			}

			if err := runner.Start(cmd.Context()); err != nil {
				return err
			}
			defer runner.Stop()

			<-cmd.Context().Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id to recover (required)")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep sweeping on the configured interval")
	_ = cmd.MarkFlagRequired("session")

	return cmd
}

func printHealth(h *database.QueueHealth) {
	fmt.Printf("reclaimed %d leases, purged %d terminal rows\n",
		h.ReclaimedLeases, h.PurgedTerminal)
	for _, status := range []string{"PENDING", "IN_FLIGHT", "DONE", "FAILED", "SKIPPED"} {
		if n, ok := h.Counts[status]; ok {
			fmt.Printf("  %-10s %d\n", status, n)
		}
	}
	if h.OldestPending != nil {
		fmt.Printf("  oldest pending: %s\n", time.Since(*h.OldestPending).Round(time.Second))
	}
	if h.OldestInFlight != nil {
		fmt.Printf("  oldest in-flight: %s\n", time.Since(*h.OldestInFlight).Round(time.Second))
	}
}
