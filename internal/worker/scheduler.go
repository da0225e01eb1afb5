package worker

import (
	"context"
	"sync"
	"time"

	"github.com/incident-sync/internal/job"
	"github.com/incident-sync/internal/logging"
)

// Scheduler enqueues the sync trigger of every queue that has a repeat
// interval, once at start and then every interval. The fixed trigger id
// keeps a slow run from piling up triggers behind it.
type Scheduler struct {
	queue    Enqueuer
	policies job.Policies
	logger   *logging.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewScheduler creates a scheduler for policies
func NewScheduler(queue Enqueuer, policies job.Policies, logger *logging.Logger) *Scheduler {
	return &Scheduler{
		queue:    queue,
		policies: policies,
		logger:   logger.Named("scheduler"),
		stopCh:   make(chan struct{}),
	}
}

// Start launches one ticker per repeating queue
func (s *Scheduler) Start(ctx context.Context) {
	for _, name := range job.QueueNames {
		pol, ok := s.policies.Get(name)
		if !ok || pol.Repeat <= 0 {
			continue
		}
		s.wg.Add(1)
		go s.run(ctx, name, pol.Repeat)
	}
}

// Stop stops every ticker and waits for them to exit
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, queue string, every time.Duration) {
	defer s.wg.Done()

	s.Trigger(ctx, queue)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Trigger(ctx, queue)
		}
	}
}

// Trigger enqueues the sync job of queue. It reports whether a new job was
// created.
func (s *Scheduler) Trigger(ctx context.Context, queue string) bool {
	_, created, err := s.queue.Enqueue(ctx, queue, job.NameSync, nil, job.Options{JobID: job.SyncJobID(queue)})
	if err != nil {
		s.logger.WithError(err).WithField("queue", queue).Error("Failed to enqueue sync trigger")
		return false
	}
	if !created {
		s.logger.WithField("queue", queue).Debug("Sync trigger still pending, skipped")
	}
	return created
}
