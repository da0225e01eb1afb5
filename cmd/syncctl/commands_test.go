package main

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/incident-sync/internal/config"
	"github.com/incident-sync/internal/job"
	"github.com/incident-sync/internal/logging"
	"github.com/incident-sync/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvents struct {
	counts []storage.JobEventCount
	since  time.Time
}

func (f *fakeEvents) CountByKind(_ context.Context, since time.Time) ([]storage.JobEventCount, error) {
	f.since = since
	return f.counts, nil
}

func setupCLI(t *testing.T) (*job.RedisQueue, *app) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := job.NewRedisQueue(client, job.DefaultPolicies(), &config.QueueConfig{KeyPrefix: "ctl"},
		job.WithQueueLogger(logging.Discard()))
	return q, &app{queue: q}
}

func execute(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(func(context.Context) (*app, error) { return a, nil })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestEnqueueCommand(t *testing.T) {
	q, a := setupCLI(t)
	ctx := context.Background()

	out, err := execute(t, a, "enqueue", "districts")
	require.NoError(t, err)
	assert.Contains(t, out, "enqueued districts/districts:sync")

	// a second sync trigger collapses onto the first
	out, err = execute(t, a, "enqueue", "districts")
	require.NoError(t, err)
	assert.Contains(t, out, "already waiting")

	_, err = execute(t, a, "enqueue", "stations", "--name", "station", "--id", "station:4", "--payload", `{"id":4}`, "--delay", "1m")
	require.NoError(t, err)
	j, err := q.GetJob(ctx, job.QueueStations, "station:4")
	require.NoError(t, err)
	assert.Equal(t, job.StateDelayed, j.State)
	assert.JSONEq(t, `{"id":4}`, string(j.Payload))
}

func TestEnqueueCommandRejects(t *testing.T) {
	_, a := setupCLI(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown queue", []string{"enqueue", "nope"}},
		{"open incidents", []string{"enqueue", "open-incidents", "--name", "refresh"}},
		{"bad payload", []string{"enqueue", "stations", "--payload", "{"}},
		{"negative delay", []string{"enqueue", "stations", "--delay=-1s"}},
		{"missing queue", []string{"enqueue"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, a, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestStatsAndJobCommands(t *testing.T) {
	q, a := setupCLI(t)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, job.QueueVehicles, job.NameSync, nil, job.Options{JobID: "v1"})
	require.NoError(t, err)

	out, err := execute(t, a, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "QUEUE")
	assert.Regexp(t, `vehicles\s+1\s+0\s+0\s+0\s+0`, out)

	out, err = execute(t, a, "job", "vehicles", "v1")
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "v1"`)
	assert.Contains(t, out, `"state": "waiting"`)

	_, err = execute(t, a, "job", "vehicles", "missing")
	assert.Error(t, err)
}

func TestReclaimCommand(t *testing.T) {
	_, a := setupCLI(t)

	out, err := execute(t, a, "reclaim", "stations")
	require.NoError(t, err)
	assert.Contains(t, out, "requeued=0 failed=0")

	_, err = execute(t, a, "reclaim", "nope")
	assert.Error(t, err)
}

func TestReclaimCommandListsFailedJobs(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Now()
	q := job.NewRedisQueue(client, job.DefaultPolicies(), &config.QueueConfig{KeyPrefix: "ctl", LeaseDuration: time.Minute},
		job.WithQueueLogger(logging.Discard()), job.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, job.QueueDistricts, job.NameSync, nil, job.Options{JobID: "districts:sync", Attempts: 1})
	require.NoError(t, err)
	_, err = q.Claim(ctx, job.QueueDistricts, "dead")
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)

	out, err := execute(t, &app{queue: q}, "reclaim", "districts")
	require.NoError(t, err)
	assert.Contains(t, out, "requeued=0 failed=1")
	assert.Contains(t, out, "failed districts:sync (sync) after 1 attempts")
}

func TestEventsCommand(t *testing.T) {
	_, a := setupCLI(t)

	_, err := execute(t, a, "events")
	assert.Error(t, err, "events need ClickHouse")

	events := &fakeEvents{counts: []storage.JobEventCount{
		{Queue: "stations", Kind: "completed", Count: 12},
		{Queue: "stations", Kind: "retrying", Count: 2},
	}}
	a.events = events

	out, err := execute(t, a, "events", "--since", "1h")
	require.NoError(t, err)
	assert.Regexp(t, `stations\s+completed\s+12`, out)
	assert.WithinDuration(t, time.Now().Add(-time.Hour), events.since, time.Minute)
}

func TestOpenErrorIsReported(t *testing.T) {
	root := newRootCmd(func(context.Context) (*app, error) { return nil, stderrors.New("redis down") })
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"stats"})
	assert.EqualError(t, root.Execute(), "redis down")
}
