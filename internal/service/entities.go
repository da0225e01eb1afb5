package service

import (
	"context"
	"fmt"

	"github.com/incident-sync/internal/errors"
	"github.com/incident-sync/internal/job"
	"github.com/incident-sync/internal/models"
	"github.com/incident-sync/internal/normalize"
	"github.com/incident-sync/internal/storage"
	"github.com/incident-sync/internal/worker"
)

// syncStations upserts the station list and fans out one detail job per
// station.
func (s *SyncService) syncStations(ctx context.Context, _ *job.Job) (worker.Outcome, error) {
	list, err := s.api.Stations(ctx)
	if err != nil {
		return worker.Outcome{}, err
	}
	operative, err := s.api.OperativeStations(ctx)
	if err != nil {
		return worker.Outcome{}, err
	}

	stations, errs := normalize.Stations(list, operative)
	s.dropped(ctx, "station", errs)
	if err := s.store.Upsert(ctx, storage.StationsTable, storage.Rows(stations, storage.StationRow)); err != nil {
		return worker.Outcome{}, err
	}

	specs := make([]job.Spec, len(stations))
	for i, st := range stations {
		specs[i] = job.Spec{
			Queue:   job.QueueStations,
			Name:    job.NameStation,
			Payload: job.EntityPayload{ID: st.ID},
			Options: job.Options{JobID: fmt.Sprintf("station:%d", st.ID)},
		}
	}
	created, err := s.queue.EnqueueBulk(ctx, specs)
	if err != nil {
		return worker.Outcome{}, err
	}

	return worker.Outcome{
		Records: len(stations),
		Message: fmt.Sprintf("%d stations, %d detail jobs", len(stations), created),
	}, nil
}

func (s *SyncService) syncStation(ctx context.Context, j *job.Job) (worker.Outcome, error) {
	id, err := entityID(j)
	if err != nil {
		return worker.Outcome{}, err
	}
	detail, err := s.api.StationDetail(ctx, id)
	if err != nil {
		return worker.Outcome{}, err
	}
	station, err := normalize.StationDetail(detail, id)
	if err != nil {
		return worker.Outcome{}, err
	}
	if err := s.store.Upsert(ctx, storage.StationsTable, []storage.Row{storage.StationRow(station)}); err != nil {
		return worker.Outcome{}, err
	}
	return worker.Outcome{Records: 1, Message: fmt.Sprintf("station %d", id)}, nil
}

func (s *SyncService) syncVehicles(ctx context.Context, _ *job.Job) (worker.Outcome, error) {
	list, err := s.api.Vehicles(ctx)
	if err != nil {
		return worker.Outcome{}, err
	}

	vehicles, errs := normalize.Vehicles(list)
	s.dropped(ctx, "vehicle", errs)
	if err := s.store.Upsert(ctx, storage.VehiclesTable, storage.Rows(vehicles, storage.VehicleRow)); err != nil {
		return worker.Outcome{}, err
	}

	specs := make([]job.Spec, len(vehicles))
	for i, v := range vehicles {
		specs[i] = job.Spec{
			Queue:   job.QueueVehicles,
			Name:    job.NameVehicle,
			Payload: job.EntityPayload{ID: v.ID},
			Options: job.Options{JobID: fmt.Sprintf("vehicle:%d", v.ID)},
		}
	}
	created, err := s.queue.EnqueueBulk(ctx, specs)
	if err != nil {
		return worker.Outcome{}, err
	}

	return worker.Outcome{
		Records: len(vehicles),
		Message: fmt.Sprintf("%d vehicles, %d detail jobs", len(vehicles), created),
	}, nil
}

func (s *SyncService) syncVehicle(ctx context.Context, j *job.Job) (worker.Outcome, error) {
	id, err := entityID(j)
	if err != nil {
		return worker.Outcome{}, err
	}
	detail, err := s.api.VehicleDetail(ctx, id)
	if err != nil {
		return worker.Outcome{}, err
	}
	vehicle, err := normalize.VehicleDetail(detail, id)
	if err != nil {
		return worker.Outcome{}, err
	}
	if err := s.store.Upsert(ctx, storage.VehiclesTable, []storage.Row{storage.VehicleRow(vehicle)}); err != nil {
		return worker.Outcome{}, err
	}
	return worker.Outcome{Records: 1, Message: fmt.Sprintf("vehicle %d", id)}, nil
}

func (s *SyncService) syncVehicleAvailability(ctx context.Context, _ *job.Job) (worker.Outcome, error) {
	list, err := s.api.VehicleAvailability(ctx)
	if err != nil {
		return worker.Outcome{}, err
	}
	states, errs := normalize.VehicleAvailability(list)
	s.dropped(ctx, "vehicle availability", errs)
	if err := s.store.Upsert(ctx, storage.VehicleAvailabilityTable, storage.Rows(states, storage.VehicleAvailabilityRow)); err != nil {
		return worker.Outcome{}, err
	}
	return worker.Outcome{Records: len(states), Message: fmt.Sprintf("%d availability states", len(states))}, nil
}

func (s *SyncService) syncIncidentTypes(ctx context.Context, _ *job.Job) (worker.Outcome, error) {
	tree, err := s.api.IncidentTypes(ctx)
	if err != nil {
		return worker.Outcome{}, err
	}
	types, errs := normalize.IncidentTypes(tree)
	s.dropped(ctx, "incident type", errs)
	if err := s.store.Upsert(ctx, storage.IncidentTypesTable, storage.Rows(types, storage.IncidentTypeRow)); err != nil {
		return worker.Outcome{}, err
	}
	return worker.Outcome{Records: len(types), Message: fmt.Sprintf("%d incident types", len(types))}, nil
}

// syncDistricts writes provinces, cantons and districts in that order
func (s *SyncService) syncDistricts(ctx context.Context, _ *job.Job) (worker.Outcome, error) {
	provinceList, err := s.api.Provinces(ctx)
	if err != nil {
		return worker.Outcome{}, err
	}
	cantonList, err := s.api.Cantons(ctx)
	if err != nil {
		return worker.Outcome{}, err
	}
	districtList, err := s.api.Districts(ctx)
	if err != nil {
		return worker.Outcome{}, err
	}

	provinces, errs := normalize.Provinces(provinceList)
	s.dropped(ctx, "province", errs)
	cantons, errs := normalize.Cantons(cantonList)
	s.dropped(ctx, "canton", errs)
	districts, errs := normalize.Districts(districtList)
	s.dropped(ctx, "district", errs)

	if err := s.store.Upsert(ctx, storage.ProvincesTable, storage.Rows(provinces, storage.ProvinceRow)); err != nil {
		return worker.Outcome{}, err
	}
	if err := s.store.Upsert(ctx, storage.CantonsTable, storage.Rows(cantons, storage.CantonRow)); err != nil {
		return worker.Outcome{}, err
	}
	if err := s.store.Upsert(ctx, storage.DistrictsTable, storage.Rows(districts, storage.DistrictRow)); err != nil {
		return worker.Outcome{}, err
	}

	total := len(provinces) + len(cantons) + len(districts)
	return worker.Outcome{
		Records: total,
		Message: fmt.Sprintf("%d provinces, %d cantons, %d districts", len(provinces), len(cantons), len(districts)),
	}, nil
}

// recordMetadata upserts the sync_metadata row carried by the job
func (s *SyncService) recordMetadata(ctx context.Context, j *job.Job) (worker.Outcome, error) {
	var meta models.SyncMetadata
	if err := j.DecodePayload(&meta); err != nil {
		return worker.Outcome{}, errors.NewInvalidParameterError("payload", err.Error())
	}
	if meta.EntityType == "" {
		return worker.Outcome{}, errors.NewInvalidParameterError("payload.entityType", "is required")
	}
	if err := s.store.Upsert(ctx, storage.SyncMetadataTable, []storage.Row{storage.SyncMetadataRow(meta)}); err != nil {
		return worker.Outcome{}, err
	}
	return worker.Outcome{Records: 1, Message: meta.EntityType}, nil
}
