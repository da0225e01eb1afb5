package worker

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/incident-sync/internal/config"
	"github.com/incident-sync/internal/errors"
	"github.com/incident-sync/internal/job"
	"github.com/incident-sync/internal/logging"
	"github.com/incident-sync/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []models.JobEvent
}

func (r *eventRecorder) HandleEvent(_ context.Context, e models.JobEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) All() []models.JobEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.JobEvent(nil), r.events...)
}

func (r *eventRecorder) Count(kind models.JobEventKind) int {
	n := 0
	for _, e := range r.All() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func newTestQueue(t *testing.T, lease time.Duration) *job.RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return job.NewRedisQueue(client, job.DefaultPolicies(), &config.QueueConfig{
		KeyPrefix:     "wtest",
		LeaseDuration: lease,
	}, job.WithQueueLogger(logging.Discard()))
}

func newTestWorker(t *testing.T, q Queue, queue string, h Handler, rec *eventRecorder) *Worker {
	t.Helper()
	w, err := NewWorker(q, h, &Config{
		Queue:           queue,
		Concurrency:     2,
		LeaseDuration:   300 * time.Millisecond,
		PollInterval:    10 * time.Millisecond,
		MaxIdleInterval: 40 * time.Millisecond,
		ReaperInterval:  50 * time.Millisecond,
		Sinks:           []EventSink{rec},
		Logger:          logging.Discard(),
	})
	require.NoError(t, err)
	return w
}

func TestNewWorkerValidation(t *testing.T) {
	q := newTestQueue(t, time.Minute)
	noop := func(context.Context, *job.Job) (Outcome, error) { return Outcome{}, nil }

	_, err := NewWorker(nil, noop, &Config{Queue: job.QueueStations})
	assert.Error(t, err)
	_, err = NewWorker(q, nil, &Config{Queue: job.QueueStations})
	assert.Error(t, err)
	_, err = NewWorker(q, noop, &Config{})
	assert.Error(t, err)
}

func TestProcessNextCompletes(t *testing.T) {
	q := newTestQueue(t, time.Minute)
	ctx := context.Background()
	rec := &eventRecorder{}

	w := newTestWorker(t, q, job.QueueDistricts, func(ctx context.Context, j *job.Job) (Outcome, error) {
		return Outcome{Records: 3, Message: "3 districts"}, nil
	}, rec)

	processed, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed)

	_, _, err = q.Enqueue(ctx, job.QueueDistricts, job.NameSync, nil, job.Options{JobID: job.SyncJobID(job.QueueDistricts)})
	require.NoError(t, err)

	processed, err = w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	events := rec.All()
	require.Len(t, events, 1)
	assert.Equal(t, models.JobCompleted, events[0].Kind)
	assert.Equal(t, 3, events[0].Records)
	assert.Equal(t, 1, events[0].Attempt)

	got, err := q.GetJob(ctx, job.QueueDistricts, job.SyncJobID(job.QueueDistricts))
	require.NoError(t, err)
	assert.Equal(t, job.StateCompleted, got.State)
	assert.Equal(t, "3 districts", got.Result)
}

func TestProcessNextFailureKinds(t *testing.T) {
	tests := []struct {
		name    string
		handler Handler
		want    models.JobEventKind
		state   job.State
	}{
		{
			name: "retryable",
			handler: func(context.Context, *job.Job) (Outcome, error) {
				return Outcome{}, errors.NewTransportError("/x", stderrors.New("timeout"))
			},
			want:  models.JobRetrying,
			state: job.StateDelayed,
		},
		{
			name: "not retryable",
			handler: func(context.Context, *job.Job) (Outcome, error) {
				return Outcome{}, errors.NewInvalidParameterError("payload", "bad")
			},
			want:  models.JobFailed,
			state: job.StateFailed,
		},
		{
			name: "panic",
			handler: func(context.Context, *job.Job) (Outcome, error) {
				panic("boom")
			},
			want:  models.JobRetrying,
			state: job.StateDelayed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newTestQueue(t, time.Minute)
			ctx := context.Background()
			rec := &eventRecorder{}
			w := newTestWorker(t, q, job.QueueStations, tt.handler, rec)

			_, _, err := q.Enqueue(ctx, job.QueueStations, job.NameStation, job.EntityPayload{ID: 1}, job.Options{JobID: "station:1"})
			require.NoError(t, err)

			processed, err := w.ProcessNext(ctx)
			require.NoError(t, err)
			require.True(t, processed)

			events := rec.All()
			require.Len(t, events, 1)
			assert.Equal(t, tt.want, events[0].Kind)
			assert.NotEmpty(t, events[0].Error)

			got, err := q.GetJob(ctx, job.QueueStations, "station:1")
			require.NoError(t, err)
			assert.Equal(t, tt.state, got.State)
		})
	}
}

type lostLeaseQueue struct {
	*job.RedisQueue
}

func (q lostLeaseQueue) Renew(context.Context, *job.Job) error {
	return job.ErrLeaseLost
}

func TestLeaseLostCancelsJob(t *testing.T) {
	q := lostLeaseQueue{newTestQueue(t, time.Minute)}
	ctx := context.Background()
	rec := &eventRecorder{}

	w := newTestWorker(t, q, job.QueueVehicles, func(ctx context.Context, j *job.Job) (Outcome, error) {
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-time.After(5 * time.Second):
			return Outcome{}, nil
		}
	}, rec)

	_, _, err := q.Enqueue(ctx, job.QueueVehicles, job.NameSync, nil, job.Options{})
	require.NoError(t, err)

	start := time.Now()
	processed, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	assert.Less(t, time.Since(start), 2*time.Second)

	events := rec.All()
	require.Len(t, events, 1)
	assert.Equal(t, models.JobLeaseLost, events[0].Kind)

	stats, err := q.Stats(ctx, job.QueueVehicles)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Active, "the reaper owns the job now")
}

func TestHeartbeatKeepsLongJobLeased(t *testing.T) {
	q := newTestQueue(t, 300*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &eventRecorder{}

	var runs atomic.Int32
	w := newTestWorker(t, q, job.QueueVehicleAvailability, func(ctx context.Context, j *job.Job) (Outcome, error) {
		runs.Add(1)
		time.Sleep(time.Second)
		return Outcome{Records: 1}, nil
	}, rec)

	_, _, err := q.Enqueue(ctx, job.QueueVehicleAvailability, job.NameSync, nil, job.Options{JobID: "long"})
	require.NoError(t, err)

	require.NoError(t, w.Start(ctx))
	require.Eventually(t, func() bool {
		return rec.Count(models.JobCompleted) == 1
	}, 5*time.Second, 20*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, w.Stop(stopCtx))

	assert.Equal(t, int32(1), runs.Load(), "the reaper must not hand out a heartbeated job")
	got, err := q.GetJob(ctx, job.QueueVehicleAvailability, "long")
	require.NoError(t, err)
	assert.Equal(t, 1, got.AttemptsMade)
}

func TestReaperRecoversCrashedWorker(t *testing.T) {
	q := newTestQueue(t, 200*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &eventRecorder{}

	_, _, err := q.Enqueue(ctx, job.QueueIncidentTypes, job.NameSync, nil, job.Options{JobID: "orphan"})
	require.NoError(t, err)

	// claimed by a worker that never comes back
	claimed, err := q.Claim(ctx, job.QueueIncidentTypes, "dead")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	w := newTestWorker(t, q, job.QueueIncidentTypes, func(context.Context, *job.Job) (Outcome, error) {
		return Outcome{}, nil
	}, rec)
	require.NoError(t, w.Start(ctx))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = w.Stop(stopCtx)
	}()

	require.Eventually(t, func() bool {
		return rec.Count(models.JobCompleted) == 1
	}, 5*time.Second, 20*time.Millisecond)

	events := rec.All()
	assert.Equal(t, 2, events[0].Attempt)
}

func TestReaperReportsExhaustedJob(t *testing.T) {
	q := newTestQueue(t, 200*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &eventRecorder{}

	_, _, err := q.Enqueue(ctx, job.QueueDistricts, job.NameSync, nil, job.Options{JobID: "last-try", Attempts: 1})
	require.NoError(t, err)
	claimed, err := q.Claim(ctx, job.QueueDistricts, "dead")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	var runs atomic.Int32
	w := newTestWorker(t, q, job.QueueDistricts, func(context.Context, *job.Job) (Outcome, error) {
		runs.Add(1)
		return Outcome{}, nil
	}, rec)
	require.NoError(t, w.Start(ctx))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = w.Stop(stopCtx)
	}()

	require.Eventually(t, func() bool {
		return rec.Count(models.JobFailed) == 1
	}, 5*time.Second, 20*time.Millisecond)

	e := rec.All()[0]
	assert.Equal(t, job.QueueDistricts, e.Queue)
	assert.Equal(t, "last-try", e.JobID)
	assert.Equal(t, job.NameSync, e.JobName)
	assert.Equal(t, 1, e.Attempt)
	assert.Equal(t, 1, e.MaxAttempts)
	assert.Equal(t, "lease expired", e.Error)
	assert.False(t, e.OccurredAt.IsZero())
	assert.Zero(t, runs.Load())

	got, err := q.GetJob(ctx, job.QueueDistricts, "last-try")
	require.NoError(t, err)
	assert.Equal(t, job.StateFailed, got.State)
}

func TestStartStop(t *testing.T) {
	q := newTestQueue(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &eventRecorder{}

	w := newTestWorker(t, q, job.QueueStations, func(context.Context, *job.Job) (Outcome, error) {
		return Outcome{Records: 1}, nil
	}, rec)

	for _, id := range []string{"station:1", "station:2", "station:3"} {
		_, _, err := q.Enqueue(ctx, job.QueueStations, job.NameStation, nil, job.Options{JobID: id})
		require.NoError(t, err)
	}

	require.NoError(t, w.Start(ctx))
	assert.Error(t, w.Start(ctx))

	require.Eventually(t, func() bool {
		return rec.Count(models.JobCompleted) == 3
	}, 5*time.Second, 10*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, w.Stop(stopCtx))
	assert.Error(t, w.Stop(stopCtx))
}

func TestStopWaitsForRunningJob(t *testing.T) {
	q := newTestQueue(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &eventRecorder{}

	started := make(chan struct{})
	w := newTestWorker(t, q, job.QueueMetadata, func(ctx context.Context, j *job.Job) (Outcome, error) {
		close(started)
		time.Sleep(200 * time.Millisecond)
		return Outcome{}, ctx.Err()
	}, rec)

	_, _, err := q.Enqueue(ctx, job.QueueMetadata, job.NameRecord, nil, job.Options{})
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	<-started

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, w.Stop(stopCtx))

	events := rec.All()
	require.Len(t, events, 1)
	assert.Equal(t, models.JobCompleted, events[0].Kind, "stopping must not cancel a running handler")
}
