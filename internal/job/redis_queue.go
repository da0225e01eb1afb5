package job

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/incident-sync/internal/config"
	"github.com/incident-sync/internal/errors"
	"github.com/incident-sync/internal/logging"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseLost is returned when a worker acts on a job it no longer holds.
var ErrLeaseLost = stderrors.New("job lease lost")

// RedisQueue is the durable queue set. Each queue is a group of keys:
//
//	<prefix>:<queue>:job:<id>   hash, the job
//	<prefix>:<queue>:pending    zset, waiting and delayed jobs by delay_until
//	<prefix>:<queue>:active     zset, leased jobs by lease expiry
//	<prefix>:<queue>:completed  zset, by finish time
//	<prefix>:<queue>:failed     zset, by finish time
//
// The scripts reach job hashes through the key prefix rather than KEYS, so
// the queue needs a standalone Redis server, not a cluster.
type RedisQueue struct {
	client   *redis.Client
	prefix   string
	policies Policies
	lease    time.Duration
	now      func() time.Time
	logger   *logging.Logger
}

// QueueOption configures a RedisQueue
type QueueOption func(*RedisQueue)

// WithClock replaces time.Now
func WithClock(now func() time.Time) QueueOption {
	return func(q *RedisQueue) { q.now = now }
}

// WithQueueLogger sets the queue logger
func WithQueueLogger(l *logging.Logger) QueueOption {
	return func(q *RedisQueue) { q.logger = l }
}

// NewRedisQueue creates the queue set over client
func NewRedisQueue(client *redis.Client, policies Policies, cfg *config.QueueConfig, opts ...QueueOption) *RedisQueue {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "sync"
	}
	lease := cfg.LeaseDuration
	if lease <= 0 {
		lease = 15 * time.Minute
	}
	q := &RedisQueue{
		client:   client,
		prefix:   prefix,
		policies: policies,
		lease:    lease,
		now:      time.Now,
		logger:   logging.GetGlobalLogger().Named("queue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// LeaseDuration returns the lease granted on claim
func (q *RedisQueue) LeaseDuration() time.Duration {
	return q.lease
}

// Policies returns the policy table the queue applies
func (q *RedisQueue) Policies() Policies {
	return q.policies
}

func (q *RedisQueue) key(queue, suffix string) string {
	return q.prefix + ":" + queue + ":" + suffix
}

func (q *RedisQueue) jobKeyPrefix(queue string) string {
	return q.key(queue, "job:")
}

func (q *RedisQueue) jobKey(queue, id string) string {
	return q.jobKeyPrefix(queue) + id
}

func (q *RedisQueue) policy(queue string) (Policy, error) {
	pol, ok := q.policies.Get(queue)
	if !ok {
		return Policy{}, errors.NewInvalidParameterError("queue", fmt.Sprintf("unknown queue %q", queue))
	}
	return pol, nil
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

type enqueueCall struct {
	job  *Job
	keys []string
	args []interface{}
}

// prepare applies policy defaults and per-call options to spec
func (q *RedisQueue) prepare(spec Spec) (*enqueueCall, error) {
	pol, err := q.policy(spec.Queue)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(spec.Name) == "" {
		return nil, errors.NewInvalidParameterError("name", "job name is required")
	}

	payload, err := encodePayload(spec.Payload)
	if err != nil {
		return nil, errors.NewInvalidParameterError("payload", err.Error())
	}

	opts := spec.Options
	id := strings.TrimSpace(opts.JobID)
	if id == "" {
		id = uuid.New().String()
	}
	delay := pol.Delay
	if opts.Delay != nil {
		delay = *opts.Delay
	}
	if delay < 0 {
		delay = 0
	}
	attempts := pol.Attempts
	if opts.Attempts > 0 {
		attempts = opts.Attempts
	}
	backoff := pol.Backoff
	if opts.Backoff != nil {
		backoff = *opts.Backoff
	}

	now := q.now()
	j := &Job{
		ID:          id,
		Queue:       spec.Queue,
		Name:        spec.Name,
		Payload:     payload,
		MaxAttempts: attempts,
		Backoff:     backoff,
		State:       StateWaiting,
		DelayUntil:  now.Add(delay),
		CreatedAt:   now,
	}
	if delay > 0 {
		j.State = StateDelayed
	}

	args := []interface{}{
		id, millis(j.DelayUntil),
		"id", id,
		"queue", j.Queue,
		"name", j.Name,
		"payload", string(payload),
		"state", string(j.State),
		"attempts_made", 0,
		"max_attempts", attempts,
		"backoff_type", string(backoff.Type),
		"backoff_delay_ms", backoff.Delay.Milliseconds(),
		"backoff_max_ms", backoff.MaxDelay.Milliseconds(),
		"delay_until", millis(j.DelayUntil),
		"created_at", millis(now),
		"processed_at", "",
		"finished_at", "",
		"lease_owner", "",
		"lease_until", "",
		"last_error", "",
		"result", "",
	}
	keys := []string{
		q.jobKey(spec.Queue, id),
		q.key(spec.Queue, "pending"),
		q.key(spec.Queue, "completed"),
		q.key(spec.Queue, "failed"),
	}
	return &enqueueCall{job: j, keys: keys, args: args}, nil
}

func encodePayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		if len(p) > 0 && !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return p, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

// Enqueue adds a job. When a waiting, delayed or active job with the same id
// exists nothing is written; the existing job is returned with created=false.
func (q *RedisQueue) Enqueue(ctx context.Context, queue, name string, payload interface{}, opts Options) (*Job, bool, error) {
	call, err := q.prepare(Spec{Queue: queue, Name: name, Payload: payload, Options: opts})
	if err != nil {
		return nil, false, err
	}

	created, err := enqueueScript.Run(ctx, q.client, call.keys, call.args...).Int()
	if err != nil {
		return nil, false, errors.NewQueueError("enqueue", fmt.Errorf("failed to enqueue %s/%s: %w", queue, call.job.ID, err))
	}
	if created == 1 {
		q.logger.WithFields(map[string]interface{}{
			"queue":      queue,
			"jobId":      call.job.ID,
			"name":       name,
			"delayUntil": call.job.DelayUntil,
		}).Debug("Job enqueued")
		return call.job, true, nil
	}

	existing, err := q.GetJob(ctx, queue, call.job.ID)
	if err != nil && !errors.HasCategory(err, errors.CategoryNotFound) {
		return nil, false, err
	}
	if existing == nil {
		existing = call.job
	}
	return existing, false, nil
}

// EnqueueBulk enqueues specs in one round trip and returns how many were
// created. Duplicates are skipped as in Enqueue.
func (q *RedisQueue) EnqueueBulk(ctx context.Context, specs []Spec) (int, error) {
	if len(specs) == 0 {
		return 0, nil
	}
	calls := make([]*enqueueCall, 0, len(specs))
	for _, spec := range specs {
		call, err := q.prepare(spec)
		if err != nil {
			return 0, err
		}
		calls = append(calls, call)
	}

	// the script may not be cached yet and EVALSHA inside a pipeline cannot
	// fall back, so load it first
	if err := enqueueScript.Load(ctx, q.client).Err(); err != nil {
		return 0, errors.NewQueueError("enqueue", fmt.Errorf("failed to load enqueue script: %w", err))
	}

	pipe := q.client.Pipeline()
	cmds := make([]*redis.Cmd, len(calls))
	for i, call := range calls {
		cmds[i] = enqueueScript.EvalSha(ctx, pipe, call.keys, call.args...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.NewQueueError("enqueue", fmt.Errorf("failed to enqueue %d jobs: %w", len(calls), err))
	}

	created := 0
	for _, cmd := range cmds {
		if n, _ := cmd.Int(); n == 1 {
			created++
		}
	}
	return created, nil
}

// Claim leases the earliest eligible job of queue to owner. It returns
// nil, nil when nothing is eligible.
func (q *RedisQueue) Claim(ctx context.Context, queue, owner string) (*Job, error) {
	if _, err := q.policy(queue); err != nil {
		return nil, err
	}
	now := q.now()
	res, err := claimScript.Run(ctx, q.client,
		[]string{q.key(queue, "pending"), q.key(queue, "active")},
		millis(now), millis(now.Add(q.lease)), owner, q.jobKeyPrefix(queue),
	).Slice()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.NewQueueError("claim", fmt.Errorf("failed to claim from %s: %w", queue, err))
	}
	return q.decode(pairsToMap(res))
}

// Renew extends the lease on j. It returns ErrLeaseLost when the lease has
// been reclaimed or the job finished elsewhere.
func (q *RedisQueue) Renew(ctx context.Context, j *Job) error {
	until := q.now().Add(q.lease)
	n, err := renewScript.Run(ctx, q.client,
		[]string{q.jobKey(j.Queue, j.ID), q.key(j.Queue, "active")},
		j.ID, j.LeaseOwner, millis(until),
	).Int()
	if err != nil {
		return errors.NewQueueError("renew", fmt.Errorf("failed to renew %s/%s: %w", j.Queue, j.ID, err))
	}
	if n != 1 {
		return ErrLeaseLost
	}
	j.LeaseUntil = &until
	return nil
}

// Complete marks j completed and trims the completed set to the policy's
// keep count.
func (q *RedisQueue) Complete(ctx context.Context, j *Job, result string) error {
	pol, err := q.policy(j.Queue)
	if err != nil {
		return err
	}
	now := q.now()
	n, err := completeScript.Run(ctx, q.client,
		[]string{q.jobKey(j.Queue, j.ID), q.key(j.Queue, "active"), q.key(j.Queue, "completed")},
		j.ID, j.LeaseOwner, millis(now), pol.KeepCompleted, q.jobKeyPrefix(j.Queue), result,
	).Int()
	if err != nil {
		return errors.NewQueueError("complete", fmt.Errorf("failed to complete %s/%s: %w", j.Queue, j.ID, err))
	}
	if n != 1 {
		return ErrLeaseLost
	}
	j.State = StateCompleted
	j.FinishedAt = &now
	j.Result = result
	j.LeaseOwner, j.LeaseUntil = "", nil
	return nil
}

// Fail records jobErr on j. The job is scheduled for retry after its backoff
// when attempts remain and jobErr is retryable; otherwise it fails terminally.
// The returned state is StateDelayed or StateFailed.
func (q *RedisQueue) Fail(ctx context.Context, j *Job, jobErr error) (State, error) {
	pol, err := q.policy(j.Queue)
	if err != nil {
		return "", err
	}

	now := q.now()
	retry := errors.IsRetryable(jobErr) && j.AttemptsMade < j.MaxAttempts
	retryAt := now.Add(j.Backoff.Next(j.AttemptsMade))
	retryFlag := "0"
	if retry {
		retryFlag = "1"
	}
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}

	n, err := failScript.Run(ctx, q.client,
		[]string{q.jobKey(j.Queue, j.ID), q.key(j.Queue, "active"), q.key(j.Queue, "pending"), q.key(j.Queue, "failed")},
		j.ID, j.LeaseOwner, millis(now), retryFlag, millis(retryAt), pol.KeepFailed, q.jobKeyPrefix(j.Queue), msg,
	).Int()
	if err != nil {
		return "", errors.NewQueueError("fail", fmt.Errorf("failed to fail %s/%s: %w", j.Queue, j.ID, err))
	}
	if n < 0 {
		return "", ErrLeaseLost
	}

	j.LastError = msg
	j.LeaseOwner, j.LeaseUntil = "", nil
	if n == 1 {
		j.State = StateDelayed
		j.DelayUntil = retryAt
		return StateDelayed, nil
	}
	j.State = StateFailed
	j.FinishedAt = &now
	return StateFailed, nil
}

// ReclaimExpired returns active jobs whose lease has expired to waiting.
// Jobs that already used every attempt fail with "lease expired" and are
// returned so the caller can report them.
func (q *RedisQueue) ReclaimExpired(ctx context.Context, queue string) (requeued int, failed []*Job, err error) {
	pol, err := q.policy(queue)
	if err != nil {
		return 0, nil, err
	}
	res, err := reclaimScript.Run(ctx, q.client,
		[]string{q.key(queue, "active"), q.key(queue, "pending"), q.key(queue, "failed")},
		millis(q.now()), q.jobKeyPrefix(queue), pol.KeepFailed,
	).Slice()
	if err != nil {
		return 0, nil, errors.NewQueueError("reclaim", fmt.Errorf("failed to reclaim %s: %w", queue, err))
	}
	if len(res) == 0 {
		return 0, nil, nil
	}
	n, _ := res[0].(int64)
	requeued = int(n)
	for _, raw := range res[1:] {
		pairs, ok := raw.([]interface{})
		if !ok {
			continue
		}
		j, err := q.decode(pairsToMap(pairs))
		if err != nil {
			q.logger.WithError(err).WithField("queue", queue).Warn("Failed to decode reclaimed job")
			continue
		}
		failed = append(failed, j)
	}
	if requeued+len(failed) > 0 {
		q.logger.WithFields(map[string]interface{}{
			"queue":    queue,
			"requeued": requeued,
			"failed":   len(failed),
		}).Warn("Reclaimed jobs with expired leases")
	}
	return requeued, failed, nil
}

// Stats counts the jobs of queue per state
func (q *RedisQueue) Stats(ctx context.Context, queue string) (*Stats, error) {
	if _, err := q.policy(queue); err != nil {
		return nil, err
	}
	now := strconv.FormatInt(q.now().UnixMilli(), 10)

	pipe := q.client.Pipeline()
	waiting := pipe.ZCount(ctx, q.key(queue, "pending"), "-inf", now)
	delayed := pipe.ZCount(ctx, q.key(queue, "pending"), "("+now, "+inf")
	active := pipe.ZCard(ctx, q.key(queue, "active"))
	completed := pipe.ZCard(ctx, q.key(queue, "completed"))
	failed := pipe.ZCard(ctx, q.key(queue, "failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.NewQueueError("stats", fmt.Errorf("failed to read stats of %s: %w", queue, err))
	}

	return &Stats{
		Queue:     queue,
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// AllStats returns Stats for every queue
func (q *RedisQueue) AllStats(ctx context.Context) ([]*Stats, error) {
	out := make([]*Stats, 0, len(QueueNames))
	for _, name := range QueueNames {
		s, err := q.Stats(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// GetJob loads a job. A missing job is a not_found error.
func (q *RedisQueue) GetJob(ctx context.Context, queue, id string) (*Job, error) {
	if _, err := q.policy(queue); err != nil {
		return nil, err
	}
	fields, err := q.client.HGetAll(ctx, q.jobKey(queue, id)).Result()
	if err != nil {
		return nil, errors.NewQueueError("get job", fmt.Errorf("failed to load %s/%s: %w", queue, id, err))
	}
	if len(fields) == 0 {
		return nil, errors.NewNotFoundError("job", queue+"/"+id)
	}
	return q.decode(fields)
}

func pairsToMap(res []interface{}) map[string]string {
	out := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		k, _ := res[i].(string)
		v, _ := res[i+1].(string)
		out[k] = v
	}
	return out
}

func (q *RedisQueue) decode(f map[string]string) (*Job, error) {
	atoi := func(k string) int {
		n, _ := strconv.Atoi(f[k])
		return n
	}
	ms := func(k string) time.Duration {
		n, _ := strconv.ParseInt(f[k], 10, 64)
		return time.Duration(n) * time.Millisecond
	}
	ts := func(k string) *time.Time {
		n, err := strconv.ParseInt(f[k], 10, 64)
		if err != nil || f[k] == "" {
			return nil
		}
		t := time.UnixMilli(n)
		return &t
	}

	j := &Job{
		ID:           f["id"],
		Queue:        f["queue"],
		Name:         f["name"],
		AttemptsMade: atoi("attempts_made"),
		MaxAttempts:  atoi("max_attempts"),
		Backoff: Backoff{
			Type:     BackoffType(f["backoff_type"]),
			Delay:    ms("backoff_delay_ms"),
			MaxDelay: ms("backoff_max_ms"),
		},
		State:       State(f["state"]),
		ProcessedAt: ts("processed_at"),
		FinishedAt:  ts("finished_at"),
		LeaseOwner:  f["lease_owner"],
		LeaseUntil:  ts("lease_until"),
		LastError:   f["last_error"],
		Result:      f["result"],
	}
	if j.ID == "" {
		return nil, errors.NewQueueError("decode", fmt.Errorf("job hash has no id"))
	}
	if p := f["payload"]; p != "" {
		j.Payload = json.RawMessage(p)
	}
	if t := ts("delay_until"); t != nil {
		j.DelayUntil = *t
	}
	if t := ts("created_at"); t != nil {
		j.CreatedAt = *t
	}

	// pending jobs become eligible by time alone
	if j.State == StateWaiting || j.State == StateDelayed {
		if j.DelayUntil.After(q.now()) {
			j.State = StateDelayed
		} else {
			j.State = StateWaiting
		}
	}
	return j, nil
}
