// Package main is syncctl, the operator CLI for the sync queues.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/incident-sync/internal/config"
	"github.com/incident-sync/internal/job"
	"github.com/incident-sync/internal/logging"
	"github.com/incident-sync/internal/storage"
)

func main() {
	if err := newRootCmd(openFromConfig).Execute(); err != nil {
		os.Exit(1)
	}
}

// openFromConfig connects to Redis, and to ClickHouse when enabled, using the
// same environment as the worker
func openFromConfig(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.FormatText)

	policies, err := job.LoadPolicies(cfg.Queue.PolicyFile)
	if err != nil {
		return nil, err
	}

	redisDB, err := storage.NewRedisDB(&cfg.Database.Redis)
	if err != nil {
		return nil, err
	}
	a := &app{
		queue:   job.NewRedisQueue(redisDB.Client(), policies, &cfg.Queue, job.WithQueueLogger(logger.Named("queue"))),
		closers: []func() error{redisDB.Close},
	}

	if cfg.Database.ClickHouse.Enabled {
		ch, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.events = storage.NewJobEventRepository(ch)
		a.closers = append(a.closers, ch.Close)
	}
	return a, nil
}
