package storage

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/incident-sync/internal/errors"
	"github.com/incident-sync/internal/models"
)

// MemoryPersister applies the same merge as PostgresPersister to in-process
// maps. It backs tests and local dry runs.
type MemoryPersister struct {
	mu     sync.RWMutex
	tables map[string]map[any]Row
	writes int
}

// NewMemoryPersister creates an empty in-memory store
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{tables: make(map[string]map[any]Row)}
}

// Upsert merges rows into table. Empty input is a no-op and is not counted
// as a write.
func (m *MemoryPersister) Upsert(ctx context.Context, table *Table, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.NewPersistenceError("upsert "+table.Name, err)
	}
	if err := validateRows(table, rows); err != nil {
		return errors.NewInvalidParameterError("rows", err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[table.Name]
	if !ok {
		t = make(map[any]Row)
		m.tables[table.Name] = t
	}
	for _, r := range collapseRows(rows) {
		t[r[0]] = MergeRow(t[r[0]], r)
	}
	m.writes++
	return nil
}

// Writes returns how many non-empty upserts were applied
func (m *MemoryPersister) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Count returns the number of rows stored in table
func (m *MemoryPersister) Count(table *Table) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables[table.Name])
}

// Get returns a stored row as a column map, or nil when absent.
func (m *MemoryPersister) Get(table *Table, key any) map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.tables[table.Name][key]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(r))
	for i, c := range table.WriteColumns() {
		out[c] = r[i]
	}
	return out
}

func (m *MemoryPersister) column(table *Table, r Row, name string) any {
	for i, c := range table.WriteColumns() {
		if c == name && i < len(r) {
			return r[i]
		}
	}
	return nil
}

// OpenIncidentIDs returns incidents flagged open, least recently refreshed
// first, in the same order as the Postgres query.
func (m *MemoryPersister) OpenIncidentIDs(ctx context.Context, limit int) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type openIncident struct {
		id       int64
		modified *time.Time
	}
	var open []openIncident
	for key, r := range m.tables[IncidentsTable.Name] {
		if isOpen, _ := m.column(IncidentsTable, r, "is_open").(bool); !isOpen {
			continue
		}
		inc := openIncident{id: key.(int64)}
		if at, ok := m.column(IncidentsTable, r, "modified_at").(time.Time); ok {
			inc.modified = &at
		}
		open = append(open, inc)
	}
	sort.Slice(open, func(i, j int) bool {
		a, b := open[i], open[j]
		switch {
		case a.modified == nil && b.modified != nil:
			return true
		case a.modified != nil && b.modified == nil:
			return false
		case a.modified != nil && !a.modified.Equal(*b.modified):
			return a.modified.Before(*b.modified)
		}
		return a.id < b.id
	})
	if limit > 0 && len(open) > limit {
		open = open[:limit]
	}

	ids := make([]int64, len(open))
	for i, inc := range open {
		ids[i] = inc.id
	}
	return ids, nil
}

// ExistingIncidentIDs returns which of ids are already stored
func (m *MemoryPersister) ExistingIncidentIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	existing := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if _, ok := m.tables[IncidentsTable.Name][id]; ok {
			existing[id] = true
		}
	}
	return existing, nil
}

// CloseCheck mirrors the Postgres query over the in-memory tables
func (m *MemoryPersister) CloseCheck(ctx context.Context, id int64) (*models.CloseCheck, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.tables[IncidentsTable.Name][id]
	if !ok {
		return nil, errors.NewNotFoundError("incident", strconv.FormatInt(id, 10))
	}

	check := &models.CloseCheck{IncidentID: id}
	if ts, ok := m.column(IncidentsTable, r, "incident_timestamp").(time.Time); ok {
		check.IncidentTimestamp = &ts
	}
	if lat, ok := m.column(IncidentsTable, r, "latitude").(float64); ok {
		check.Latitude = &lat
	}
	if lon, ok := m.column(IncidentsTable, r, "longitude").(float64); ok {
		check.Longitude = &lon
	}
	check.IsOpen, _ = m.column(IncidentsTable, r, "is_open").(bool)

	for _, dv := range m.tables[DispatchedVehiclesTable.Name] {
		incidentID, _ := m.column(DispatchedVehiclesTable, dv, "incident_id").(int64)
		departure, ok := m.column(DispatchedVehiclesTable, dv, "departure_time").(time.Time)
		if incidentID == id && ok && departure.Equal(models.NotYetTimestamp) {
			check.VehiclesOnScene++
		}
	}
	return check, nil
}

// MarkClosed flags an incident closed
func (m *MemoryPersister) MarkClosed(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.tables[IncidentsTable.Name][id]
	if !ok {
		return errors.NewNotFoundError("incident", strconv.FormatInt(id, 10))
	}
	r = append(Row(nil), r...)
	for i, c := range IncidentsTable.WriteColumns() {
		switch c {
		case "is_open":
			r[i] = false
		case "modified_at":
			r[i] = at
		}
	}
	m.tables[IncidentsTable.Name][id] = r
	return nil
}

// IncidentCodes returns every known incident type code
func (m *MemoryPersister) IncidentCodes(ctx context.Context) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	codes := make(map[string]struct{})
	for _, r := range m.tables[IncidentTypesTable.Name] {
		if code, ok := m.column(IncidentTypesTable, r, "incident_code").(string); ok {
			codes[code] = struct{}{}
		}
	}
	return codes, nil
}
