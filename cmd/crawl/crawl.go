// Package crawl implements the crawl command: it wires the queue, the
// worker pool, and the store together and runs one session to completion.
package crawl

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/webwords/internal/analyze"
	"github.com/jonesrussell/webwords/internal/config"
	"github.com/jonesrussell/webwords/internal/database"
	"github.com/jonesrussell/webwords/internal/dedup"
	"github.com/jonesrussell/webwords/internal/extract"
	"github.com/jonesrussell/webwords/internal/logger"
	"github.com/jonesrussell/webwords/internal/queue"
	"github.com/jonesrussell/webwords/internal/ratelimit"
	"github.com/jonesrussell/webwords/internal/recovery"
	"github.com/jonesrussell/webwords/internal/robots"
	"github.com/jonesrussell/webwords/internal/session"
	"github.com/jonesrussell/webwords/internal/urlnorm"
	"github.com/jonesrussell/webwords/internal/worker"
)

// Command creates the crawl command.
func Command(cfgFile *string) *cobra.Command {
	var (
		name     string
		seeds    []string
		depth    int
		pages    int
		workers  int
		resumeID string
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run a crawl session",
		Long: `Crawl breadth-first from the given seed URLs, persisting pages,
links, and word frequencies until the page budget or the frontier is
exhausted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("depth") {
				cfg.Crawler.MaxDepth = depth
			}
			if cmd.Flags().Changed("pages") {
				cfg.Crawler.MaxPages = pages
			}
			if cmd.Flags().Changed("workers") {
				cfg.Crawler.Workers = workers
			}

			return run(cmd.Context(), cfg, name, seeds, resumeID)
		},
	}

	cmd.Flags().StringVar(&name, "name", "crawl", "session name")
	cmd.Flags().StringSliceVar(&seeds, "seed", nil, "seed URL (repeatable)")
	cmd.Flags().IntVar(&depth, "depth", 0, "maximum crawl depth")
	cmd.Flags().IntVar(&pages, "pages", 0, "maximum pages to crawl")
	cmd.Flags().IntVar(&workers, "workers", 0, "worker pool size")
	cmd.Flags().StringVar(&resumeID, "resume", "", "resume an existing session by id (postgres backend)")

	return cmd
}

func run(ctx context.Context, cfg *config.Config, name string, seeds []string, resumeID string) error {
	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Encoding:    cfg.Logging.Encoding,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	if len(seeds) == 0 && resumeID == "" {
		return fmt.Errorf("at least one --seed is required")
	}

	sessionID := uuid.New()
	resuming := resumeID != ""
	if resuming {
		if sessionID, err = uuid.Parse(resumeID); err != nil {
			return fmt.Errorf("invalid session id %q: %w", resumeID, err)
		}
		if cfg.Queue.Backend != config.BackendPostgres {
			return fmt.Errorf("--resume requires the postgres queue backend")
		}
	}

	db, err := database.NewPostgresConnection(cfg.Database.Connection())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.EnsureSchema(ctx, db); err != nil {
		return err
	}
	store := database.NewStore(db)

	seen := dedup.New(int(cfg.Queue.DedupCapacity))
	normalizer := urlnorm.New(urlnorm.WithDenyPrivateHosts(cfg.Crawler.DenyPrivateIPs))
	limiter := ratelimit.New(cfg.Crawler.RateLimitDelay)
	robotsChecker := robots.NewChecker(
		&http.Client{Timeout: cfg.Crawler.FetchTimeout},
		cfg.Crawler.UserAgent,
		cfg.Crawler.RobotsCacheTTL,
	)
	extractor := extractorFromConfig(cfg)
	analyzer := analyzerFromConfig(cfg)

	w := worker.New(
		worker.Config{
			UserAgent:             cfg.Crawler.UserAgent,
			FetchTimeout:          cfg.Crawler.FetchTimeout,
			MaxBodySize:           cfg.Content.MaxBodySize,
			MaxRedirects:          cfg.Crawler.MaxRedirects,
			MaxConnections:        cfg.Crawler.MaxConnections,
			MaxConnectionsPerHost: cfg.Crawler.MaxConnectionsPerHost,
			DNSCacheTTL:           cfg.Crawler.DNSCacheTTL,
			AllowedDomains:        cfg.Crawler.AllowedDomains,
			BlockedDomains:        cfg.Crawler.BlockedDomains,
			MinTextLength:         cfg.Content.MinTextLength,
		},
		normalizer, robotsChecker, limiter, seen, extractor, analyzer, log,
	)
	pool := worker.NewPool(cfg.Crawler.Workers, w, log)

	queueCfg := queue.Config{
		MaxDepth:      cfg.Crawler.MaxDepth,
		MaxURLs:       cfg.Crawler.MaxURLs,
		MaxRetries:    cfg.Queue.MaxRetries,
		LeaseDuration: cfg.Queue.LeaseDuration,
		BackoffBase:   cfg.Crawler.RateLimitDelay,
	}

	var q queue.Queue
	if cfg.Queue.Backend == config.BackendPostgres {
		repo := database.NewQueueRepository(db)

		runner := recovery.NewRunner(recovery.Config{
			Interval:   cfg.Queue.RecoveryInterval,
			Retention:  cfg.Queue.Retention,
			MaxRetries: cfg.Queue.MaxRetries,
		}, repo, sessionID, log)
		if err := runner.Start(ctx); err != nil {
			return err
		}
		defer runner.Stop()

		if resuming {
			if err := seedDedupFromQueue(ctx, repo, sessionID, seen); err != nil {
				return err
			}
		}

		if q, err = queue.NewDurable(ctx, repo, sessionID, queueCfg); err != nil {
			return err
		}
	} else {
		q = queue.NewMemory(queueCfg)
	}

	sess := session.Resume(sessionID, session.Config{
		Name:            name,
		SeedURLs:        seeds,
		UserAgent:       cfg.Crawler.UserAgent,
		MaxDepth:        cfg.Crawler.MaxDepth,
		MaxPages:        cfg.Crawler.MaxPages,
		Workers:         cfg.Crawler.Workers,
		MaxRetries:      cfg.Queue.MaxRetries,
		MetricsInterval: cfg.Crawler.MetricsInterval,
		DrainTimeout:    cfg.Crawler.DrainTimeout,
	}, q, pool, store, seen, normalizer, log)

	log.Info("starting crawl",
		"session_id", sess.ID().String(),
		"seeds", len(seeds),
		"backend", cfg.Queue.Backend,
		"workers", cfg.Crawler.Workers,
	)

	record, err := sess.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("session %s %s: %d pages crawled, %d failed, %d words, %d bytes\n",
		record.ID, record.State, record.PagesCrawled, record.PagesFailed,
		record.TotalWords, record.BytesProcessed)
	return nil
}

// seedDedupFromQueue rebuilds the in-memory visited filter from the
// session's existing url_queue rows.
func seedDedupFromQueue(
	ctx context.Context,
	repo *database.QueueRepository,
	sessionID uuid.UUID,
	seen *dedup.Filter,
) error {
	urls, err := repo.AllURLs(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, u := range urls {
		seen.Add(u)
	}
	return nil
}

func extractorFromConfig(cfg *config.Config) *extract.Extractor {
	return extract.New(cfg.Content.ExtraTypes...)
}

func analyzerFromConfig(cfg *config.Config) *analyze.Analyzer {
	opts := []analyze.Option{
		analyze.WithLengthBounds(cfg.Content.MinWordLength, cfg.Content.MaxWordLength),
		analyze.WithMaxWords(cfg.Content.MaxWords),
	}
	if len(cfg.Content.StopWords) > 0 {
		opts = append(opts, analyze.WithStopWords(cfg.Content.StopWords))
	}
	return analyze.New(opts...)
}
