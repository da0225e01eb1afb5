package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/incident-sync/internal/models"
)

// JobEventRepository appends worker job events to ClickHouse
type JobEventRepository struct {
	db *ClickHouseDB
}

// NewJobEventRepository creates a new job event repository
func NewJobEventRepository(db *ClickHouseDB) *JobEventRepository {
	return &JobEventRepository{db: db}
}

// InsertBatch writes events in one batch. Empty input is a no-op.
func (r *JobEventRepository) InsertBatch(ctx context.Context, events []models.JobEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO job_events (
			occurred_at, queue, job_id, job_name, kind, attempt, max_attempts,
			records, message, error, duration_ms, worker_id
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, e := range events {
		if err := batch.Append(
			e.OccurredAt.UTC(),
			e.Queue,
			e.JobID,
			e.JobName,
			string(e.Kind),
			uint32(e.Attempt),     // #nosec G115 - attempts are bounded by policy
			uint32(e.MaxAttempts), // #nosec G115
			uint32(e.Records),     // #nosec G115
			e.Message,
			e.Error,
			uint64(e.Duration/time.Millisecond), // #nosec G115
			e.WorkerID,
		); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// JobEventCount is one row of CountByKind
type JobEventCount struct {
	Queue string
	Kind  string
	Count uint64
}

// CountByKind aggregates events per queue and kind since a point in time
func (r *JobEventRepository) CountByKind(ctx context.Context, since time.Time) ([]JobEventCount, error) {
	query := `
		SELECT queue, kind, count() AS n
		FROM job_events
		WHERE occurred_at >= ?
		GROUP BY queue, kind
		ORDER BY queue, kind
	`

	rows, err := r.db.Conn().Query(ctx, query, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query job events: %w", err)
	}
	defer rows.Close()

	var out []JobEventCount
	for rows.Next() {
		var c JobEventCount
		if err := rows.Scan(&c.Queue, &c.Kind, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan job event count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
