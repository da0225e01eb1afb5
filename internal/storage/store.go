package storage

import (
	"context"
	"time"

	"github.com/incident-sync/internal/models"
)

// IncidentStore holds the incident queries that drive discovery and closing.
type IncidentStore interface {
	// OpenIncidentIDs lists incidents flagged open, least recently
	// refreshed first.
	OpenIncidentIDs(ctx context.Context, limit int) ([]int64, error)
	// ExistingIncidentIDs returns the subset of ids already stored.
	ExistingIncidentIDs(ctx context.Context, ids []int64) (map[int64]bool, error)
	// CloseCheck loads the state the close rules are evaluated on. A missing
	// incident is a not_found error.
	CloseCheck(ctx context.Context, id int64) (*models.CloseCheck, error)
	MarkClosed(ctx context.Context, id int64, at time.Time) error
	// IncidentCodes returns the known incident type codes.
	IncidentCodes(ctx context.Context) (map[string]struct{}, error)
}

// Store is everything the sync handlers need from the canonical store.
type Store interface {
	Persister
	IncidentStore
}

var (
	_ Store = (*PostgresPersister)(nil)
	_ Store = (*MemoryPersister)(nil)
)
