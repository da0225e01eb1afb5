package models

import "time"

// JobEventKind is the outcome a worker reports for one job attempt
type JobEventKind string

const (
	JobCompleted JobEventKind = "completed"
	JobRetrying  JobEventKind = "retrying"
	JobFailed    JobEventKind = "failed"
	JobLeaseLost JobEventKind = "lease_lost"
)

// JobEvent is emitted once per finished attempt.
type JobEvent struct {
	Queue       string        `json:"queue"`
	JobID       string        `json:"jobId"`
	JobName     string        `json:"jobName"`
	Kind        JobEventKind  `json:"kind"`
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"maxAttempts"`
	Records     int           `json:"records"`
	Message     string        `json:"message,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	WorkerID    string        `json:"workerId"`
	OccurredAt  time.Time     `json:"occurredAt"`
}
