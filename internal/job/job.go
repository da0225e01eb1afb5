// Package job defines the durable job model, the per-queue policy table and
// the Redis-backed queue that workers claim jobs from.
package job

import (
	"encoding/json"
	"fmt"
	"time"
)

// Queue names
const (
	QueueStations            = "stations"
	QueueVehicles            = "vehicles"
	QueueVehicleAvailability = "vehicle-availability"
	QueueIncidentTypes       = "incident-types"
	QueueDistricts           = "districts"
	QueueIncidentDiscovery   = "incident-discovery"
	QueueOpenIncidents       = "open-incidents"
	QueueMetadata            = "metadata"
)

// QueueNames lists every queue in startup order
var QueueNames = []string{
	QueueStations,
	QueueVehicles,
	QueueVehicleAvailability,
	QueueIncidentTypes,
	QueueDistricts,
	QueueIncidentDiscovery,
	QueueOpenIncidents,
	QueueMetadata,
}

// Job names
const (
	NameSync    = "sync"
	NameStation = "station"
	NameVehicle = "vehicle"
	NameRefresh = "refresh"
	NameRecord  = "record"
)

// State is a job's position in its lifecycle
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no worker will run the job again
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is one unit of work in a queue
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Name         string          `json:"name"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	AttemptsMade int             `json:"attemptsMade"`
	MaxAttempts  int             `json:"maxAttempts"`
	Backoff      Backoff         `json:"backoff"`
	State        State           `json:"state"`
	DelayUntil   time.Time       `json:"delayUntil"`
	CreatedAt    time.Time       `json:"createdAt"`
	ProcessedAt  *time.Time      `json:"processedAt,omitempty"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`
	LeaseOwner   string          `json:"leaseOwner,omitempty"`
	LeaseUntil   *time.Time      `json:"leaseUntil,omitempty"`
	LastError    string          `json:"lastError,omitempty"`
	Result       string          `json:"result,omitempty"`
}

// DecodePayload unmarshals the job payload into v
func (j *Job) DecodePayload(v interface{}) error {
	if len(j.Payload) == 0 {
		return fmt.Errorf("job %s has no payload", j.ID)
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("failed to decode payload of job %s: %w", j.ID, err)
	}
	return nil
}

// Options override the queue policy for a single enqueue
type Options struct {
	// JobID doubles as the dedup key. Empty means a generated UUID.
	JobID string
	// Delay replaces the policy delay when set.
	Delay    *time.Duration
	Attempts int
	Backoff  *Backoff
}

// WithDelay returns Options with an explicit delay
func WithDelay(id string, d time.Duration) Options {
	return Options{JobID: id, Delay: &d}
}

// Spec is one entry of a bulk enqueue
type Spec struct {
	Queue   string
	Name    string
	Payload interface{}
	Options Options
}

// Stats counts a queue's jobs per state
type Stats struct {
	Queue     string `json:"queue"`
	Waiting   int64  `json:"waiting"`
	Delayed   int64  `json:"delayed"`
	Active    int64  `json:"active"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
}

// IncidentPayload is the payload of an open-incidents job
type IncidentPayload struct {
	IncidentID int64 `json:"incidentId"`
}

// EntityPayload is the payload of a single station or vehicle job
type EntityPayload struct {
	ID int64 `json:"id"`
}

// IncidentJobID is the dedup id shared by every refresh of one incident
func IncidentJobID(incidentID int64) string {
	return fmt.Sprintf("open-incident-%d", incidentID)
}

// SyncJobID is the fixed id of a queue's repeat trigger
func SyncJobID(queue string) string {
	return queue + ":" + NameSync
}
