package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/incident-sync/internal/errors"
	"github.com/incident-sync/internal/models"
	"github.com/jackc/pgx/v5"
)

// PostgresPersister is the canonical store backed by Postgres
type PostgresPersister struct {
	db *PostgresDB
}

// NewPostgresPersister creates a new Postgres persister
func NewPostgresPersister(db *PostgresDB) *PostgresPersister {
	return &PostgresPersister{db: db}
}

// Upsert merges rows into table. Empty input issues no statement. Batches
// larger than the bind-parameter limit are written in one transaction.
func (p *PostgresPersister) Upsert(ctx context.Context, table *Table, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	if err := validateRows(table, rows); err != nil {
		return errors.NewInvalidParameterError("rows", err.Error())
	}

	rows = collapseRows(rows)
	width := len(table.WriteColumns())
	chunks := chunkRows(rows, width)

	if len(chunks) == 1 {
		if _, err := p.db.Pool().Exec(ctx, BuildUpsert(table, len(rows)), flatten(rows, width)...); err != nil {
			return errors.NewPersistenceError("upsert "+table.Name, fmt.Errorf("failed to upsert %d rows: %w", len(rows), err))
		}
		return nil
	}

	tx, err := p.db.Pool().Begin(ctx)
	if err != nil {
		return errors.NewPersistenceError("upsert "+table.Name, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	for _, chunk := range chunks {
		if _, err := tx.Exec(ctx, BuildUpsert(table, len(chunk)), flatten(chunk, width)...); err != nil {
			return errors.NewPersistenceError("upsert "+table.Name, fmt.Errorf("failed to upsert %d rows: %w", len(chunk), err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.NewPersistenceError("upsert "+table.Name, fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

func flatten(rows []Row, width int) []any {
	args := make([]any, 0, len(rows)*width)
	for _, r := range rows {
		args = append(args, r...)
	}
	return args
}

// OpenIncidentIDs returns incidents flagged open, least recently refreshed
// first, so a backlog larger than limit rotates across cycles.
func (p *PostgresPersister) OpenIncidentIDs(ctx context.Context, limit int) ([]int64, error) {
	query := `
		SELECT id
		FROM incidents
		WHERE is_open IS TRUE
		ORDER BY modified_at ASC NULLS FIRST, id
		LIMIT $1
	`

	rows, err := p.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, errors.NewPersistenceError("open incidents", fmt.Errorf("failed to query open incidents: %w", err))
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewPersistenceError("open incidents", fmt.Errorf("failed to scan incident id: %w", err))
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistenceError("open incidents", fmt.Errorf("failed to iterate open incidents: %w", err))
	}
	return ids, nil
}

// ExistingIncidentIDs returns which of ids are already stored
func (p *PostgresPersister) ExistingIncidentIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	existing := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	rows, err := p.db.Pool().Query(ctx, `SELECT id FROM incidents WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.NewPersistenceError("existing incidents", fmt.Errorf("failed to query incidents: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewPersistenceError("existing incidents", fmt.Errorf("failed to scan incident id: %w", err))
		}
		existing[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistenceError("existing incidents", err)
	}
	return existing, nil
}

// CloseCheck loads an incident's timestamp, coordinates and the number of
// dispatched vehicles that have not left the scene.
func (p *PostgresPersister) CloseCheck(ctx context.Context, id int64) (*models.CloseCheck, error) {
	query := `
		SELECT i.incident_timestamp, i.latitude, i.longitude, COALESCE(i.is_open, false),
			   (SELECT count(*) FROM dispatched_vehicles dv
				WHERE dv.incident_id = i.id AND dv.departure_time = $2)
		FROM incidents i
		WHERE i.id = $1
	`

	check := models.CloseCheck{IncidentID: id}
	err := p.db.Pool().QueryRow(ctx, query, id, models.NotYetTimestamp).Scan(
		&check.IncidentTimestamp,
		&check.Latitude,
		&check.Longitude,
		&check.IsOpen,
		&check.VehiclesOnScene,
	)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NewNotFoundError("incident", strconv.FormatInt(id, 10))
		}
		return nil, errors.NewPersistenceError("close check", fmt.Errorf("failed to load incident %d: %w", id, err))
	}
	return &check, nil
}

// MarkClosed flags an incident closed
func (p *PostgresPersister) MarkClosed(ctx context.Context, id int64, at time.Time) error {
	tag, err := p.db.Pool().Exec(ctx,
		`UPDATE incidents SET is_open = false, modified_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return errors.NewPersistenceError("mark closed", fmt.Errorf("failed to close incident %d: %w", id, err))
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("incident", strconv.FormatInt(id, 10))
	}
	return nil
}

// IncidentCodes returns every known incident type code
func (p *PostgresPersister) IncidentCodes(ctx context.Context) (map[string]struct{}, error) {
	rows, err := p.db.Pool().Query(ctx, `SELECT incident_code FROM incident_types WHERE incident_code IS NOT NULL`)
	if err != nil {
		return nil, errors.NewPersistenceError("incident codes", fmt.Errorf("failed to query incident codes: %w", err))
	}
	defer rows.Close()

	codes := make(map[string]struct{})
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, errors.NewPersistenceError("incident codes", fmt.Errorf("failed to scan incident code: %w", err))
		}
		codes[code] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistenceError("incident codes", err)
	}
	return codes, nil
}

// SyncMetadata returns the recorded outcome for an entity type, or nil.
func (p *PostgresPersister) SyncMetadata(ctx context.Context, entityType string) (*models.SyncMetadata, error) {
	query := `
		SELECT entity_type, last_run_at, last_success_at, last_record_count, last_status, last_error
		FROM sync_metadata
		WHERE entity_type = $1
	`

	var m models.SyncMetadata
	err := p.db.Pool().QueryRow(ctx, query, entityType).Scan(
		&m.EntityType,
		&m.LastRunAt,
		&m.LastSuccessAt,
		&m.LastRecordCount,
		&m.LastStatus,
		&m.LastError,
	)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.NewPersistenceError("sync metadata", fmt.Errorf("failed to get sync metadata: %w", err))
	}
	return &m, nil
}
