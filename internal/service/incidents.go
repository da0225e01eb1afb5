package service

import (
	"context"
	"fmt"
	"time"

	"github.com/incident-sync/internal/errors"
	"github.com/incident-sync/internal/job"
	"github.com/incident-sync/internal/logging"
	"github.com/incident-sync/internal/models"
	"github.com/incident-sync/internal/normalize"
	"github.com/incident-sync/internal/storage"
	"github.com/incident-sync/internal/worker"
)

// Reasons reported when an incident stays open
const (
	ReasonNoCoordinates   = "no coordinates"
	ReasonVehiclesOnScene = "vehicles in scene"
)

// discover enqueues a job for every incident that is new upstream and a
// delayed refresh for every incident still open in the store. It is the only
// producer of open-incidents jobs.
func (s *SyncService) discover(ctx context.Context, _ *job.Job) (worker.Outcome, error) {
	logger := logging.FromContext(ctx)

	newIDs, latestErr := s.newIncidentIDs(ctx)
	if latestErr != nil {
		// refreshes must keep flowing while the listing endpoint is down
		logger.WithError(latestErr).Warn("Failed to read latest incidents")
	}

	openIDs, err := s.store.OpenIncidentIDs(ctx, s.discovery.OpenLimit)
	if err != nil {
		return worker.Outcome{}, err
	}

	specs := make([]job.Spec, 0, len(newIDs)+len(openIDs))
	for _, id := range newIDs {
		specs = append(specs, job.Spec{
			Queue:   job.QueueOpenIncidents,
			Name:    job.NameRefresh,
			Payload: job.IncidentPayload{IncidentID: id},
			Options: job.WithDelay(job.IncidentJobID(id), 0),
		})
	}
	for _, id := range openIDs {
		specs = append(specs, job.Spec{
			Queue:   job.QueueOpenIncidents,
			Name:    job.NameRefresh,
			Payload: job.IncidentPayload{IncidentID: id},
			Options: job.Options{JobID: job.IncidentJobID(id)},
		})
	}

	created, err := s.queue.EnqueueBulk(ctx, specs)
	if err != nil {
		return worker.Outcome{}, err
	}

	outcome := worker.Outcome{
		Records: created,
		Message: fmt.Sprintf("%d new incidents, %d open, %d jobs enqueued", len(newIDs), len(openIDs), created),
	}
	if latestErr != nil {
		return outcome, latestErr
	}
	return outcome, nil
}

// newIncidentIDs lists the ids of the latest upstream incidents that are not
// stored yet
func (s *SyncService) newIncidentIDs(ctx context.Context) ([]int64, error) {
	latest, err := s.api.LatestIncidents(ctx, s.discovery.LatestCount)
	if err != nil {
		return nil, err
	}
	ids, errs := normalize.LatestIncidentIDs(latest)
	s.dropped(ctx, "incident listing", errs)
	if len(ids) == 0 {
		return nil, nil
	}

	existing, err := s.store.ExistingIncidentIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	fresh := ids[:0]
	for _, id := range ids {
		if !existing[id] {
			fresh = append(fresh, id)
		}
	}
	return fresh, nil
}

// refreshIncident syncs one incident and closes it when the close rules
// allow. An incident that stays open is picked up again by discovery.
func (s *SyncService) refreshIncident(ctx context.Context, j *job.Job) (worker.Outcome, error) {
	var p job.IncidentPayload
	if err := j.DecodePayload(&p); err != nil {
		return worker.Outcome{}, errors.NewInvalidParameterError("payload", err.Error())
	}
	if p.IncidentID <= 0 {
		return worker.Outcome{}, errors.NewInvalidParameterError("payload.incidentId", "must be a positive id")
	}
	id := p.IncidentID

	records, err := s.syncIncident(ctx, id)
	if err != nil {
		return worker.Outcome{}, err
	}

	check, err := s.store.CloseCheck(ctx, id)
	if err != nil {
		return worker.Outcome{}, err
	}

	now := s.now()
	closeIt, reason := CloseDecision(check, now, s.discovery.CloseAfter)
	if !closeIt {
		return worker.Outcome{Records: records, Message: fmt.Sprintf("incident %d open: %s", id, reason)}, nil
	}
	if err := s.store.MarkClosed(ctx, id, now); err != nil {
		return worker.Outcome{}, err
	}
	return worker.Outcome{Records: records, Message: fmt.Sprintf("incident %d closed: %s", id, reason)}, nil
}

// syncIncident fetches the four incident payloads and upserts the incident
// with its dispatched stations and vehicles
func (s *SyncService) syncIncident(ctx context.Context, id int64) (int, error) {
	details, err := s.api.IncidentDetails(ctx, id)
	if err != nil {
		return 0, err
	}
	report, err := s.api.IncidentReport(ctx, id)
	if err != nil {
		return 0, err
	}
	attending, err := s.api.AttendingStations(ctx, id)
	if err != nil {
		return 0, err
	}
	dispatched, err := s.api.DispatchedVehicles(ctx, id)
	if err != nil {
		return 0, err
	}

	codes, err := s.store.IncidentCodes(ctx)
	if err != nil {
		return 0, err
	}

	incident, err := normalize.Incident(normalize.IncidentInput{
		ID:         id,
		Report:     report,
		Details:    details,
		Attending:  attending.Items,
		KnownCodes: codes,
		Location:   s.loc,
		Now:        s.now(),
	})
	if err != nil {
		return 0, err
	}
	stations, errs := normalize.DispatchedStations(id, attending.Items)
	s.dropped(ctx, "dispatched station", errs)
	vehicles, errs := normalize.DispatchedVehicles(id, dispatched.Items, s.loc)
	s.dropped(ctx, "dispatched vehicle", errs)

	if err := s.store.Upsert(ctx, storage.IncidentsTable, []storage.Row{storage.IncidentRow(incident)}); err != nil {
		return 0, err
	}
	if err := s.store.Upsert(ctx, storage.DispatchedStationsTable, storage.Rows(stations, storage.DispatchedStationRow)); err != nil {
		return 0, err
	}
	if err := s.store.Upsert(ctx, storage.DispatchedVehiclesTable, storage.Rows(vehicles, storage.DispatchedVehicleRow)); err != nil {
		return 0, err
	}
	return 1 + len(stations) + len(vehicles), nil
}

// CloseDecision applies the close rules to the stored incident state. An
// incident older than closeAfter closes unconditionally; one with an unknown
// timestamp counts as old.
func CloseDecision(c *models.CloseCheck, now time.Time, closeAfter time.Duration) (bool, string) {
	if c.IncidentTimestamp == nil || c.IncidentTimestamp.Before(now.Add(-closeAfter)) {
		return true, fmt.Sprintf("older than %s", closeAfter)
	}
	if !c.HasCoordinates() {
		return false, ReasonNoCoordinates
	}
	if c.VehiclesOnScene > 0 {
		return false, ReasonVehiclesOnScene
	}
	return true, "all vehicles left the scene"
}
