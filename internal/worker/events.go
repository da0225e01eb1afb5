package worker

import (
	"context"
	"sync"
	"time"

	"github.com/incident-sync/internal/job"
	"github.com/incident-sync/internal/logging"
	"github.com/incident-sync/internal/models"
)

// EventSink receives the JobEvent of every finished attempt. Implementations
// must not block the worker for long.
type EventSink interface {
	HandleEvent(ctx context.Context, event models.JobEvent)
}

// EventSinkFunc adapts a function to EventSink
type EventSinkFunc func(ctx context.Context, event models.JobEvent)

// HandleEvent calls f
func (f EventSinkFunc) HandleEvent(ctx context.Context, event models.JobEvent) {
	f(ctx, event)
}

// LogSink writes every event to the logger
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a LogSink
func NewLogSink(logger *logging.Logger) *LogSink {
	return &LogSink{logger: logger.Named("events")}
}

// HandleEvent logs the event at a level matching its kind
func (s *LogSink) HandleEvent(_ context.Context, e models.JobEvent) {
	l := s.logger.WithFields(map[string]interface{}{
		"queue":      e.Queue,
		"jobId":      e.JobID,
		"jobName":    e.JobName,
		"attempt":    e.Attempt,
		"maxAttempt": e.MaxAttempts,
		"records":    e.Records,
		"durationMs": e.Duration.Milliseconds(),
	})
	if e.Message != "" {
		l = l.WithField("message", e.Message)
	}
	if e.Error != "" {
		l = l.WithField("error", e.Error)
	}

	switch e.Kind {
	case models.JobCompleted:
		l.Info("Job completed")
	case models.JobRetrying:
		l.Warn("Job failed, retry scheduled")
	case models.JobLeaseLost:
		l.Warn("Job lease lost")
	default:
		l.Error("Job failed permanently")
	}
}

// EventWriter persists event batches
type EventWriter interface {
	InsertBatch(ctx context.Context, events []models.JobEvent) error
}

// BatchSink buffers events and writes them in batches, when the buffer holds
// batchSize events or every flushInterval.
type BatchSink struct {
	writer        EventWriter
	batchSize     int
	flushInterval time.Duration
	logger        *logging.Logger

	mu      sync.Mutex
	buf     []models.JobEvent
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// NewBatchSink creates a BatchSink over writer
func NewBatchSink(writer EventWriter, batchSize int, flushInterval time.Duration, logger *logging.Logger) *BatchSink {
	if batchSize < 1 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchSink{
		writer:        writer,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger.Named("event-sink"),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start launches the periodic flush
func (s *BatchSink) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Flush(ctx)
			}
		}
	}()
}

// HandleEvent buffers e and flushes when the batch is full
func (s *BatchSink) HandleEvent(ctx context.Context, e models.JobEvent) {
	s.mu.Lock()
	s.buf = append(s.buf, e)
	full := len(s.buf) >= s.batchSize
	s.mu.Unlock()

	if full {
		s.Flush(ctx)
	}
}

// Flush writes the buffered events. A failed batch is dropped and logged.
func (s *BatchSink) Flush(ctx context.Context) {
	s.mu.Lock()
	batch := s.buf
	s.buf = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := s.writer.InsertBatch(ctx, batch); err != nil {
		s.logger.WithError(err).WithField("events", len(batch)).Error("Failed to write job events")
	}
}

// Close stops the periodic flush and writes what is left
func (s *BatchSink) Close(ctx context.Context) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	if started {
		close(s.stopCh)
		<-s.doneCh
	}
	s.Flush(ctx)
}

// Enqueuer adds jobs to the queue set
type Enqueuer interface {
	Enqueue(ctx context.Context, queue, name string, payload interface{}, opts job.Options) (*job.Job, bool, error)
}

// MetadataSink turns the terminal outcome of every full sync into a
// metadata/record job that updates sync_metadata for the entity type.
type MetadataSink struct {
	queue  Enqueuer
	logger *logging.Logger
}

// NewMetadataSink creates a MetadataSink
func NewMetadataSink(queue Enqueuer, logger *logging.Logger) *MetadataSink {
	return &MetadataSink{queue: queue, logger: logger.Named("metadata-sink")}
}

// HandleEvent enqueues the record job for completed or permanently failed
// sync jobs and ignores everything else.
func (s *MetadataSink) HandleEvent(ctx context.Context, e models.JobEvent) {
	if e.JobName != job.NameSync || e.Queue == job.QueueMetadata {
		return
	}
	if e.Kind != models.JobCompleted && e.Kind != models.JobFailed {
		return
	}

	meta := SyncMetadataFor(e)
	if _, _, err := s.queue.Enqueue(ctx, job.QueueMetadata, job.NameRecord, meta, job.Options{}); err != nil {
		s.logger.WithError(err).WithField("entityType", e.Queue).Error("Failed to enqueue sync metadata")
	}
}

// SyncMetadataFor builds the sync_metadata row for a full-sync event
func SyncMetadataFor(e models.JobEvent) models.SyncMetadata {
	at := e.OccurredAt
	status := string(e.Kind)
	meta := models.SyncMetadata{
		EntityType: e.Queue,
		LastRunAt:  &at,
		LastStatus: &status,
	}
	if e.Kind == models.JobCompleted {
		records := int64(e.Records)
		meta.LastSuccessAt = &at
		meta.LastRecordCount = &records
	} else if e.Error != "" {
		msg := e.Error
		meta.LastError = &msg
	}
	return meta
}
