// Package worker runs queue consumers: claim, execute under a heartbeated
// lease, acknowledge, and report a JobEvent for every finished attempt.
package worker

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/incident-sync/internal/errors"
	"github.com/incident-sync/internal/job"
	"github.com/incident-sync/internal/logging"
	"github.com/incident-sync/internal/models"
)

// Outcome is what a handler reports for a successful run
type Outcome struct {
	Records int
	Message string
}

// Handler executes one job
type Handler func(ctx context.Context, j *job.Job) (Outcome, error)

// Queue is the subset of the queue set a worker needs
type Queue interface {
	Claim(ctx context.Context, queue, owner string) (*job.Job, error)
	Renew(ctx context.Context, j *job.Job) error
	Complete(ctx context.Context, j *job.Job, result string) error
	Fail(ctx context.Context, j *job.Job, jobErr error) (job.State, error)
	ReclaimExpired(ctx context.Context, queue string) (requeued int, failed []*job.Job, err error)
}

// Config holds configuration for a worker
type Config struct {
	Queue           string
	Concurrency     int
	LeaseDuration   time.Duration
	PollInterval    time.Duration
	MaxIdleInterval time.Duration
	ReaperInterval  time.Duration
	Sinks           []EventSink
	Logger          *logging.Logger
	Now             func() time.Time
}

// Worker consumes one queue with Concurrency goroutines
type Worker struct {
	queue   Queue
	handler Handler
	cfg     Config
	id      string
	logger  *logging.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// jobs run under jobCtx so that stopping the worker does not abort them
	jobCtx    context.Context
	jobCancel context.CancelFunc
}

// NewWorker creates a worker for cfg.Queue
func NewWorker(q Queue, handler Handler, cfg *Config) (*Worker, error) {
	if q == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	if cfg.Queue == "" {
		return nil, fmt.Errorf("queue name cannot be empty")
	}

	c := *cfg
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 15 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxIdleInterval < c.PollInterval {
		c.MaxIdleInterval = c.PollInterval
	}
	if c.ReaperInterval <= 0 {
		c.ReaperInterval = 30 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	logger := c.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	id := uuid.New().String()[:8]
	return &Worker{
		queue:   q,
		handler: handler,
		cfg:     c,
		id:      id,
		logger:  logger.Named("worker").WithFields(map[string]interface{}{"queue": c.Queue, "worker": id}),
	}, nil
}

// Start launches the consumer goroutines and the reaper
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("worker for queue %s is already running", w.cfg.Queue)
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.jobCtx, w.jobCancel = context.WithCancel(context.WithoutCancel(ctx))

	w.logger.WithField("concurrency", w.cfg.Concurrency).Info("Starting worker")

	for i := 0; i < w.cfg.Concurrency; i++ {
		owner := fmt.Sprintf("%s-%d", w.id, i)
		w.wg.Add(1)
		go w.loop(ctx, owner)
	}
	w.wg.Add(1)
	go w.reapLoop(ctx)
	return nil
}

// Stop stops claiming and waits for running jobs until ctx expires. Jobs
// still running at that point are cancelled and left to lease expiry.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker for queue %s is not running", w.cfg.Queue)
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.jobCancel()
		w.logger.Info("Worker stopped gracefully")
		return nil
	case <-ctx.Done():
		w.jobCancel()
		w.logger.Warn("Worker stop timed out, abandoning running jobs")
		return ctx.Err()
	}
}

func (w *Worker) loop(ctx context.Context, owner string) {
	defer w.wg.Done()

	idle := w.cfg.PollInterval
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		processed, err := w.processNext(ctx, owner)
		if err != nil {
			w.logger.WithError(err).Error("Failed to claim job")
		}
		if processed {
			idle = w.cfg.PollInterval
			continue
		}

		timer := time.NewTimer(idle)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-w.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
		idle *= 2
		if idle > w.cfg.MaxIdleInterval {
			idle = w.cfg.MaxIdleInterval
		}
	}
}

func (w *Worker) reapLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.reap(ctx)
		}
	}
}

// reap reclaims expired leases and reports the jobs that ran out of attempts
// while their worker was gone.
func (w *Worker) reap(ctx context.Context) {
	_, failed, err := w.queue.ReclaimExpired(ctx, w.cfg.Queue)
	if err != nil {
		w.logger.WithError(err).Warn("Failed to reclaim expired leases")
		return
	}
	for _, j := range failed {
		occurred := w.cfg.Now()
		if j.FinishedAt != nil {
			occurred = *j.FinishedAt
		}
		w.emit(models.JobEvent{
			Queue:       w.cfg.Queue,
			JobID:       j.ID,
			JobName:     j.Name,
			Kind:        models.JobFailed,
			Attempt:     j.AttemptsMade,
			MaxAttempts: j.MaxAttempts,
			Error:       j.LastError,
			WorkerID:    w.id,
			OccurredAt:  occurred,
		})
	}
}

// ProcessNext claims and runs at most one job. It reports whether a job was
// claimed.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	if w.jobCtx == nil {
		w.jobCtx, w.jobCancel = context.WithCancel(context.WithoutCancel(ctx))
	}
	return w.processNext(ctx, w.id)
}

func (w *Worker) processNext(ctx context.Context, owner string) (bool, error) {
	j, err := w.queue.Claim(ctx, w.cfg.Queue, owner)
	if err != nil {
		return false, err
	}
	if j == nil {
		return false, nil
	}
	w.execute(j, owner)
	return true, nil
}

func (w *Worker) execute(j *job.Job, owner string) {
	logger := w.logger.WithFields(map[string]interface{}{
		"jobId":   j.ID,
		"jobName": j.Name,
		"attempt": j.AttemptsMade,
	})
	start := w.cfg.Now()

	jobCtx, cancel := context.WithCancelCause(w.jobCtx)
	defer cancel(nil)
	jobCtx = logging.WithLogger(jobCtx, logger)

	hbDone := make(chan struct{})
	hbStopped := make(chan struct{})
	go w.heartbeat(jobCtx, j, cancel, hbDone, hbStopped)

	outcome, runErr := w.run(jobCtx, j)
	close(hbDone)
	<-hbStopped

	event := models.JobEvent{
		Queue:       j.Queue,
		JobID:       j.ID,
		JobName:     j.Name,
		Attempt:     j.AttemptsMade,
		MaxAttempts: j.MaxAttempts,
		Records:     outcome.Records,
		Message:     outcome.Message,
		WorkerID:    owner,
	}

	// acknowledgements use the worker context, the job context may be cancelled
	ackCtx := w.jobCtx

	switch {
	case stderrors.Is(context.Cause(jobCtx), job.ErrLeaseLost):
		event.Kind = models.JobLeaseLost
		event.Error = job.ErrLeaseLost.Error()
		if runErr != nil {
			event.Error = runErr.Error()
		}
	case runErr == nil:
		if err := w.queue.Complete(ackCtx, j, outcome.Message); err != nil {
			event.Kind, event.Error = ackFailure(err)
		} else {
			event.Kind = models.JobCompleted
		}
	default:
		event.Error = runErr.Error()
		state, err := w.queue.Fail(ackCtx, j, runErr)
		switch {
		case err != nil:
			event.Kind, event.Error = ackFailure(err)
		case state == job.StateDelayed:
			event.Kind = models.JobRetrying
		default:
			event.Kind = models.JobFailed
		}
	}

	end := w.cfg.Now()
	event.Duration = end.Sub(start)
	event.OccurredAt = end
	w.emit(event)
}

func ackFailure(err error) (models.JobEventKind, string) {
	if stderrors.Is(err, job.ErrLeaseLost) {
		return models.JobLeaseLost, err.Error()
	}
	// the lease will expire and the reaper hands the job out again
	return models.JobLeaseLost, fmt.Sprintf("acknowledge failed: %v", err)
}

// run calls the handler, turning a panic into an error
func (w *Worker) run(ctx context.Context, j *job.Job) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.WithFields(map[string]interface{}{
				"jobId": j.ID,
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("Handler panicked")
			err = errors.NewInternalError(fmt.Sprintf("handler panic: %v", r), nil)
		}
	}()
	return w.handler(ctx, j)
}

func (w *Worker) heartbeat(ctx context.Context, j *job.Job, cancel context.CancelCauseFunc, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(w.cfg.LeaseDuration / 3)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.queue.Renew(ctx, j)
			if stderrors.Is(err, job.ErrLeaseLost) {
				w.logger.WithField("jobId", j.ID).Warn("Lease lost, cancelling job")
				cancel(job.ErrLeaseLost)
				return
			}
			if err != nil {
				w.logger.WithError(err).WithField("jobId", j.ID).Warn("Failed to renew lease")
			}
		}
	}
}

func (w *Worker) emit(event models.JobEvent) {
	for _, sink := range w.cfg.Sinks {
		sink.HandleEvent(w.jobCtx, event)
	}
}
