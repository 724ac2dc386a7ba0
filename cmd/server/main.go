// Command server runs the full pipeline in one process: the HTTP landing
// API, the staging and conformance worker pools, and the audit relay. With no
// postgres DSN configured everything runs on in-memory stores, which is the
// development and test mode; redis and kafka are optional the same way.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"tributary/internal/business"
	"tributary/internal/ingest"
	ingestmem "tributary/internal/ingest/store/memory"
	ingestpg "tributary/internal/ingest/store/postgres"
	"tributary/internal/pipeline/queue"
	"tributary/internal/pipeline/worker"
	"tributary/internal/platform/config"
	"tributary/internal/platform/httpserver"
	"tributary/internal/platform/logger"
	"tributary/internal/platform/metrics"
	platformredis "tributary/internal/platform/redis"
	"tributary/internal/staging"
	stagingmem "tributary/internal/staging/store/memory"
	stagingpg "tributary/internal/staging/store/postgres"
	"tributary/internal/status"
	httptransport "tributary/internal/transport/http"
	"tributary/internal/vault"
	vaultmem "tributary/internal/vault/store/memory"
	vaultpg "tributary/internal/vault/store/postgres"
	audit "tributary/pkg/platform/audit"
	auditmem "tributary/pkg/platform/audit/store/memory"
	auditpg "tributary/pkg/platform/audit/store/postgres"
	"tributary/pkg/platform/audit/publisher"
	"tributary/pkg/platform/audit/relay"
	"tributary/pkg/platform/tx"
)

const pollBatch = 100

func main() {
	cfg := config.FromEnv()
	log := logger.New(os.Getenv("TRIBUTARY_LOG_LEVEL"))
	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage: postgres when a DSN is configured, in-memory otherwise.
	var (
		db           *sql.DB
		rawStore     ingest.Store
		stagingStore staging.Store
		vaultStore   vault.Store
		auditStore   audit.Store
		outbox       *auditpg.Store
		runner       tx.Runner = tx.Passthrough{}
	)
	if cfg.PostgresDSN != "" {
		var err error
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		rawStore = ingestpg.New(db)
		stagingStore = stagingpg.New(db)
		vaultStore = vaultpg.New(db)
		outbox = auditpg.New(db)
		auditStore = outbox
		runner = tx.NewSQLRunner(db, cfg.TxTimeout)
	} else {
		rawStore = ingestmem.New()
		stagingStore = stagingmem.New()
		vaultStore = vaultmem.New()
		auditStore = auditmem.NewInMemoryStore()
	}

	// Synchronous publisher: with the outbox store, audit events join the
	// caller's transaction and commit with the writes they describe.
	sink := publisher.NewPublisher(auditStore, publisher.WithLogger(log))
	defer sink.Close()

	// Queues: redis lists when configured, in-process channels otherwise.
	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	var stagingQ, businessQ stageQueue
	if redisClient != nil {
		stagingQ = queue.New(redisClient.Client, "tributary:queue:staging", queue.WithMaxDepth(cfg.Pipeline.QueueMaxDepth))
		businessQ = queue.New(redisClient.Client, "tributary:queue:business", queue.WithMaxDepth(cfg.Pipeline.QueueMaxDepth))
	} else {
		stagingQ = newLoopback(int(cfg.Pipeline.QueueMaxDepth))
		businessQ = newLoopback(int(cfg.Pipeline.QueueMaxDepth))
	}

	// Services.
	engine, err := vault.NewEngine(vaultStore, sink, vault.WithLogger(log))
	if err != nil {
		return err
	}
	ingestSvc, err := ingest.NewService(rawStore, stagingQ, sink, ingest.WithLogger(log))
	if err != nil {
		return err
	}
	stagingSvc, err := staging.NewService(rawStore, stagingStore, runner, businessQ, sink,
		staging.Config{
			QualityThreshold: cfg.Staging.QualityThreshold,
			ClockSkew:        cfg.Staging.ClockSkew,
			MaxRetries:       cfg.Pipeline.MaxRetries,
		},
		staging.WithLogger(log),
	)
	if err != nil {
		return err
	}
	businessSvc, err := business.NewService(stagingStore, engine, runner, sink, business.WithLogger(log))
	if err != nil {
		return err
	}
	statusSvc, err := status.NewService(rawStore, stagingStore)
	if err != nil {
		return err
	}

	// Worker pools.
	stagingPool, err := worker.NewPool("staging", stagingQ,
		func(ctx context.Context, msg queue.Message) error {
			_, err := stagingSvc.Process(ctx, msg.ID)
			return err
		},
		stagingPoll(rawStore, stagingSvc, cfg.Pipeline, log),
		worker.WithWorkers(cfg.Pipeline.StagingWorkers),
		worker.WithPollInterval(cfg.Pipeline.PollInterval),
		worker.WithLogger(log),
	)
	if err != nil {
		return err
	}
	businessPool, err := worker.NewPool("business", businessQ,
		func(ctx context.Context, msg queue.Message) error {
			_, err := businessSvc.Conform(ctx, msg.ID)
			return err
		},
		businessPoll(stagingStore, businessSvc, cfg.Pipeline, log),
		worker.WithWorkers(cfg.Pipeline.BusinessWorkers),
		worker.WithPollInterval(cfg.Pipeline.PollInterval),
		worker.WithLogger(log),
	)
	if err != nil {
		return err
	}

	// HTTP API.
	m := metrics.New()
	handler := httptransport.NewHandler(ingestSvc, engine, statusSvc, m, log, cfg.Pipeline.MaxRetries)
	router := httptransport.NewRouter(handler, []byte(cfg.JWTSigningKey), m, log,
		healthCheck(db, redisClient))
	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting tributary", "addr", cfg.Addr, "postgres", db != nil, "redis", redisClient != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return stagingPool.Run(ctx) })
	g.Go(func() error { return businessPool.Run(ctx) })
	g.Go(func() error {
		m.CollectQueueDepths(ctx, 15*time.Second, map[string]metrics.DepthFunc{
			"staging":  stagingQ.Depth,
			"business": businessQ.Depth,
		})
		return nil
	})

	// Audit relay: only meaningful with the outbox store and brokers.
	if outbox != nil && len(cfg.Kafka.Brokers) > 0 {
		auditRelay, err := relay.New(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, outbox,
			relay.WithInterval(cfg.Kafka.RelayInterval),
			relay.WithLogger(log),
		)
		if err != nil {
			return fmt.Errorf("start audit relay: %w", err)
		}
		g.Go(func() error {
			if err := auditRelay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// stagingPoll recovers raw rows whose notification was lost, whose worker
// died mid-claim, or whose last attempt failed and has aged past backoff.
func stagingPoll(raws ingest.Store, svc *staging.Service, cfg config.Pipeline, log *slog.Logger) worker.PollFunc {
	return func(ctx context.Context) (int, error) {
		stale, err := raws.ClaimStale(ctx, cfg.PendingAge, cfg.StaleAge, pollBatch)
		if err != nil {
			return 0, err
		}
		retryable, err := raws.ClaimRetryable(ctx, cfg.MaxRetries, cfg.RetryBackoffAge, pollBatch)
		if err != nil {
			return len(stale), err
		}

		handled := 0
		for _, id := range append(stale, retryable...) {
			if _, err := svc.ProcessClaimed(ctx, id); err != nil {
				log.WarnContext(ctx, "poll-recovered row failed", "raw_id", id, "error", err)
				continue
			}
			handled++
		}
		return handled, nil
	}
}

// businessPoll conforms forwardable staging rows whose hand-off never
// arrived. The age guard keeps it off rows still in flight on the queue.
func businessPoll(store staging.Store, svc *business.Service, cfg config.Pipeline, log *slog.Logger) worker.PollFunc {
	return func(ctx context.Context) (int, error) {
		ids, err := store.ListUnconformed(ctx, cfg.PendingAge, pollBatch)
		if err != nil {
			return 0, err
		}
		handled := 0
		for _, id := range ids {
			if _, err := svc.Conform(ctx, id); err != nil {
				log.WarnContext(ctx, "poll-recovered conformance failed", "staging_id", id, "error", err)
				continue
			}
			handled++
		}
		return handled, nil
	}
}

func healthCheck(db *sql.DB, redisClient *platformredis.Client) httptransport.HealthFunc {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
		}
		if redisClient != nil {
			if err := redisClient.Health(ctx); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
}
