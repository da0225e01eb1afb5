// Package main runs the sync pipeline: one worker per queue, the repeat
// scheduler and the admin API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // upstream timestamps need zoneinfo on minimal images

	"github.com/incident-sync/internal/adapter"
	"github.com/incident-sync/internal/api"
	"github.com/incident-sync/internal/circuitbreaker"
	"github.com/incident-sync/internal/config"
	"github.com/incident-sync/internal/job"
	"github.com/incident-sync/internal/logging"
	"github.com/incident-sync/internal/retry"
	"github.com/incident-sync/internal/service"
	"github.com/incident-sync/internal/storage"
	"github.com/incident-sync/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}
	logger.Info("Incident sync worker starting")

	// dependencies may still be starting when the worker comes up
	startCtx := logging.WithLogger(context.Background(), logger)

	var postgres *storage.PostgresDB
	err = retry.WithRetry(startCtx, func(context.Context, int) error {
		postgres, err = storage.NewPostgresDB(&cfg.Database.Postgres)
		return err
	})
	if err != nil {
		logger.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer postgres.Close()

	var redisDB *storage.RedisDB
	err = retry.WithRetry(startCtx, func(context.Context, int) error {
		redisDB, err = storage.NewRedisDB(&cfg.Database.Redis)
		return err
	})
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisDB.Close()

	policies, err := job.LoadPolicies(cfg.Queue.PolicyFile)
	if err != nil {
		logger.Fatalf("Failed to load queue policies: %v", err)
	}

	loc, err := time.LoadLocation(cfg.Upstream.Timezone)
	if err != nil {
		logger.Fatalf("Unknown upstream timezone %q: %v", cfg.Upstream.Timezone, err)
	}

	breaker := circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
		Name:             "sigae",
		MaxFailures:      cfg.Upstream.BreakerMaxFailures,
		Timeout:          cfg.Upstream.BreakerTimeout,
		HalfOpenMaxCalls: 3,
		IsFailure:        adapter.BreakerCountsError,
		Logger:           logger,
	})
	client, err := adapter.NewClient(&cfg.Upstream, adapter.WithLogger(logger), adapter.WithCircuitBreaker(breaker))
	if err != nil {
		logger.Fatalf("Failed to create SIGAE client: %v", err)
	}

	queue := job.NewRedisQueue(redisDB.Client(), policies, &cfg.Queue, job.WithQueueLogger(logger.Named("queue")))

	svc, err := service.NewSyncService(&service.SyncServiceConfig{
		API:       adapter.NewAPI(client),
		Store:     storage.NewPostgresPersister(postgres),
		Queue:     queue,
		Discovery: cfg.Discovery,
		Location:  loc,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatalf("Failed to create sync service: %v", err)
	}

	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))
	defer cancel()

	sinks := []worker.EventSink{
		worker.NewLogSink(logger),
		worker.NewMetadataSink(queue, logger),
	}

	var batchSink *worker.BatchSink
	if cfg.Database.ClickHouse.Enabled {
		clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			logger.Fatalf("Failed to connect to ClickHouse: %v", err)
		}
		defer clickhouse.Close()

		batchSink = worker.NewBatchSink(storage.NewJobEventRepository(clickhouse), 200, 5*time.Second, logger)
		batchSink.Start(ctx)
		sinks = append(sinks, batchSink)
		logger.Info("Job events are recorded in ClickHouse")
	}

	workers := make([]*worker.Worker, 0, len(job.QueueNames))
	for _, name := range job.QueueNames {
		pol, _ := policies.Get(name)
		handler, err := svc.Handler(name)
		if err != nil {
			logger.Fatalf("No handler for queue %s: %v", name, err)
		}
		w, err := worker.NewWorker(queue, handler, &worker.Config{
			Queue:           name,
			Concurrency:     pol.Concurrency,
			LeaseDuration:   queue.LeaseDuration(),
			PollInterval:    cfg.Queue.PollInterval,
			MaxIdleInterval: cfg.Queue.MaxIdleInterval,
			ReaperInterval:  cfg.Queue.ReaperInterval,
			Sinks:           sinks,
			Logger:          logger,
		})
		if err != nil {
			logger.Fatalf("Failed to create worker for %s: %v", name, err)
		}
		if err := w.Start(ctx); err != nil {
			logger.Fatalf("Failed to start worker for %s: %v", name, err)
		}
		workers = append(workers, w)
	}
	logger.Infof("Started %d queue workers", len(workers))

	var scheduler *worker.Scheduler
	if cfg.Queue.SchedulerEnable {
		scheduler = worker.NewScheduler(queue, policies, logger)
		scheduler.Start(ctx)
	}

	var server *api.Server
	if cfg.Server.Enabled {
		server = api.NewServer(&api.ServerConfig{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
			RateLimitRPS: cfg.Server.RateLimitRPS,
			Logger:       logger,
		}, queue, map[string]api.Pinger{
			"postgres": postgres,
			"redis":    redisDB,
		})
		go func() {
			if err := server.Start(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("API server stopped: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutdown signal received, stopping workers")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Queue.ShutdownTimeout)
	defer shutdownCancel()

	if scheduler != nil {
		scheduler.Stop()
	}
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Error shutting down API server: %v", err)
		}
	}
	for _, w := range workers {
		if err := w.Stop(shutdownCtx); err != nil {
			logger.Errorf("Error stopping worker: %v", err)
		}
	}
	if batchSink != nil {
		batchSink.Close(shutdownCtx)
	}
	cancel()

	logger.Info("Shutdown complete")
}
