// Package service holds the per-queue job handlers. Every handler follows
// the same shape: fetch from SIGAE, normalize, upsert, and report an Outcome.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/incident-sync/internal/adapter"
	"github.com/incident-sync/internal/config"
	"github.com/incident-sync/internal/errors"
	"github.com/incident-sync/internal/job"
	"github.com/incident-sync/internal/logging"
	"github.com/incident-sync/internal/storage"
	"github.com/incident-sync/internal/worker"
)

// JobQueue is the producer side of the queue set
type JobQueue interface {
	Enqueue(ctx context.Context, queue, name string, payload interface{}, opts job.Options) (*job.Job, bool, error)
	EnqueueBulk(ctx context.Context, specs []job.Spec) (int, error)
}

// SyncService implements the handler of every queue
type SyncService struct {
	api       *adapter.API
	store     storage.Store
	queue     JobQueue
	discovery config.DiscoveryConfig
	loc       *time.Location
	now       func() time.Time
	logger    *logging.Logger
}

// SyncServiceConfig holds the dependencies of a SyncService
type SyncServiceConfig struct {
	API       *adapter.API
	Store     storage.Store
	Queue     JobQueue
	Discovery config.DiscoveryConfig
	// Location is the upstream time zone. Defaults to UTC.
	Location *time.Location
	Logger   *logging.Logger
	Now      func() time.Time
}

// NewSyncService creates a new sync service
func NewSyncService(cfg *SyncServiceConfig) (*SyncService, error) {
	if cfg.API == nil {
		return nil, fmt.Errorf("upstream API cannot be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}

	discovery := cfg.Discovery
	if discovery.LatestCount <= 0 {
		discovery.LatestCount = 15
	}
	if discovery.OpenLimit <= 0 {
		discovery.OpenLimit = 500
	}
	if discovery.CloseAfter <= 0 {
		discovery.CloseAfter = 72 * time.Hour
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &SyncService{
		api:       cfg.API,
		store:     cfg.Store,
		queue:     cfg.Queue,
		discovery: discovery,
		loc:       loc,
		now:       now,
		logger:    logger.Named("sync"),
	}, nil
}

// Handler returns the handler for queue. Jobs are routed by name inside it.
func (s *SyncService) Handler(queue string) (worker.Handler, error) {
	routes, ok := s.routes()[queue]
	if !ok {
		return nil, fmt.Errorf("no handler for queue %s", queue)
	}
	return func(ctx context.Context, j *job.Job) (worker.Outcome, error) {
		h, ok := routes[j.Name]
		if !ok {
			return worker.Outcome{}, errors.NewInvalidParameterError("name",
				fmt.Sprintf("queue %s has no job named %q", queue, j.Name))
		}
		return h(ctx, j)
	}, nil
}

func (s *SyncService) routes() map[string]map[string]worker.Handler {
	return map[string]map[string]worker.Handler{
		job.QueueStations: {
			job.NameSync:    s.syncStations,
			job.NameStation: s.syncStation,
		},
		job.QueueVehicles: {
			job.NameSync:    s.syncVehicles,
			job.NameVehicle: s.syncVehicle,
		},
		job.QueueVehicleAvailability: {job.NameSync: s.syncVehicleAvailability},
		job.QueueIncidentTypes:       {job.NameSync: s.syncIncidentTypes},
		job.QueueDistricts:           {job.NameSync: s.syncDistricts},
		job.QueueIncidentDiscovery:   {job.NameSync: s.discover},
		job.QueueOpenIncidents:       {job.NameRefresh: s.refreshIncident},
		job.QueueMetadata:            {job.NameRecord: s.recordMetadata},
	}
}

// dropped logs the records the normalizer rejected
func (s *SyncService) dropped(ctx context.Context, entity string, errs []error) {
	if len(errs) == 0 {
		return
	}
	logger := logging.FromContext(ctx)
	for _, err := range errs {
		logger.WithError(err).WithField("entity", entity).Warn("Dropped upstream record")
	}
}

func entityID(j *job.Job) (int64, error) {
	var p job.EntityPayload
	if err := j.DecodePayload(&p); err != nil {
		return 0, errors.NewInvalidParameterError("payload", err.Error())
	}
	if p.ID <= 0 {
		return 0, errors.NewInvalidParameterError("payload.id", "must be a positive id")
	}
	return p.ID, nil
}
