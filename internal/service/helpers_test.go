package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/incident-sync/internal/adapter"
	"github.com/incident-sync/internal/config"
	"github.com/incident-sync/internal/errors"
	"github.com/incident-sync/internal/job"
	"github.com/incident-sync/internal/logging"
	"github.com/incident-sync/internal/storage"
	"github.com/incident-sync/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type obj = map[string]interface{}

type stubResponse func(params map[string]interface{}) (interface{}, error)

// stubUpstream answers Fetch calls from canned JSON bodies keyed by endpoint
type stubUpstream struct {
	mu        sync.Mutex
	responses map[string]stubResponse
	calls     map[string]int
}

func newStubUpstream() *stubUpstream {
	return &stubUpstream{responses: map[string]stubResponse{}, calls: map[string]int{}}
}

func (u *stubUpstream) Set(endpoint string, body interface{}) {
	u.SetFunc(endpoint, func(map[string]interface{}) (interface{}, error) { return body, nil })
}

func (u *stubUpstream) SetFunc(endpoint string, fn stubResponse) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.responses[endpoint] = fn
}

func (u *stubUpstream) Calls(endpoint string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls[endpoint]
}

func (u *stubUpstream) Fetch(_ context.Context, endpoint string, params map[string]interface{}, out interface{}) error {
	u.mu.Lock()
	fn, ok := u.responses[endpoint]
	u.calls[endpoint]++
	u.mu.Unlock()

	if !ok {
		return errors.NewUpstreamError(endpoint, 404, fmt.Errorf("no stub for %s", endpoint))
	}
	body, err := fn(params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func paramID(params map[string]interface{}, key string) int64 {
	switch v := params[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	upstream *stubUpstream
	store    *storage.MemoryPersister
	queue    *job.RedisQueue
	clock    *fakeClock
	service  *SyncService
	ctx      context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	queue := job.NewRedisQueue(client, job.DefaultPolicies(), &config.QueueConfig{
		KeyPrefix:     "svc",
		LeaseDuration: time.Minute,
	}, job.WithClock(clock.Now), job.WithQueueLogger(logging.Discard()))

	upstream := newStubUpstream()
	store := storage.NewMemoryPersister()
	svc, err := NewSyncService(&SyncServiceConfig{
		API:   adapter.NewAPI(upstream),
		Store: store,
		Queue: queue,
		Discovery: config.DiscoveryConfig{
			LatestCount: 15,
			OpenLimit:   500,
			CloseAfter:  72 * time.Hour,
		},
		Location: time.UTC,
		Logger:   logging.Discard(),
		Now:      clock.Now,
	})
	require.NoError(t, err)

	return &fixture{
		upstream: upstream,
		store:    store,
		queue:    queue,
		clock:    clock,
		service:  svc,
		ctx:      logging.WithLogger(context.Background(), logging.Discard()),
	}
}

// worker builds a worker for queue backed by the service handler
func (f *fixture) worker(t *testing.T, queue string) *worker.Worker {
	t.Helper()
	h, err := f.service.Handler(queue)
	require.NoError(t, err)
	w, err := worker.NewWorker(f.queue, h, &worker.Config{
		Queue:         queue,
		LeaseDuration: time.Minute,
		Logger:        logging.Discard(),
		Now:           f.clock.Now,
	})
	require.NoError(t, err)
	return w
}

// drain runs jobs of queue until none is eligible and returns how many ran
func (f *fixture) drain(t *testing.T, queue string) int {
	t.Helper()
	w := f.worker(t, queue)
	n := 0
	for {
		processed, err := w.ProcessNext(f.ctx)
		require.NoError(t, err)
		if !processed {
			return n
		}
		n++
		require.Less(t, n, 100, "queue %s never drained", queue)
	}
}

// run executes one handler directly without going through the queue
func (f *fixture) run(t *testing.T, queue, name string, payload interface{}) (worker.Outcome, error) {
	t.Helper()
	h, err := f.service.Handler(queue)
	require.NoError(t, err)
	var raw json.RawMessage
	if payload != nil {
		raw, err = json.Marshal(payload)
		require.NoError(t, err)
	}
	return h(f.ctx, &job.Job{ID: "direct", Queue: queue, Name: name, Payload: raw})
}
