package storage

import "github.com/incident-sync/internal/models"

func cols(names ...string) []Column {
	out := make([]Column, len(names))
	for i, n := range names {
		out[i] = Column{Name: n}
	}
	return out
}

// Canonical tables. The column order here is the value order of the
// matching row mapper.
var (
	StationsTable = &Table{
		Name: "stations",
		Key:  "id",
		Columns: cols("name", "station_key", "radio_channel", "latitude", "longitude",
			"address", "phone_number", "fax", "email", "is_operative"),
	}

	VehiclesTable = &Table{
		Name: "vehicles",
		Key:  "id",
		Columns: cols("internal_number", "plate", "station_id", "description_type",
			"class", "description_operational_status"),
	}

	VehicleAvailabilityTable = &Table{
		Name:    "vehicle_availability",
		Key:     "id",
		Columns: cols("description"),
	}

	IncidentTypesTable = &Table{
		Name:    "incident_types",
		Key:     "id",
		Columns: cols("incident_code", "name", "parent_id"),
	}

	ProvincesTable = &Table{Name: "provinces", Key: "id", Columns: cols("name", "code")}
	CantonsTable   = &Table{Name: "cantons", Key: "id", Columns: cols("name", "code", "province_id")}
	DistrictsTable = &Table{Name: "districts", Key: "id", Columns: cols("name", "code", "canton_id")}

	IncidentsTable = &Table{
		Name: "incidents",
		Key:  "id",
		Columns: append(cols("ee_consecutive", "address", "important_details",
			"incident_code", "specific_incident_code", "dispatch_incident_code",
			"specific_dispatch_incident_code", "responsible_station_id", "incident_timestamp",
			"latitude", "longitude", "province_id", "canton_id", "district_id", "is_open",
			"modified_at"),
			Column{Name: "first_seen_at", HasDefault: true}),
	}

	DispatchedStationsTable = &Table{
		Name:    "dispatched_stations",
		Key:     "id",
		Columns: cols("incident_id", "station_id", "service_type_id", "attention_on_foot"),
	}

	DispatchedVehiclesTable = &Table{
		Name: "dispatched_vehicles",
		Key:  "id",
		Columns: cols("incident_id", "vehicle_id", "station_id", "dispatched_time",
			"arrival_time", "departure_time", "base_return_time", "attention_on_foot"),
	}

	SyncMetadataTable = &Table{
		Name: "sync_metadata",
		Key:  "entity_type",
		Columns: cols("last_run_at", "last_success_at", "last_record_count",
			"last_status", "last_error"),
	}
)

// Tables lists every canonical table
var Tables = []*Table{
	StationsTable, VehiclesTable, VehicleAvailabilityTable, IncidentTypesTable,
	ProvincesTable, CantonsTable, DistrictsTable, IncidentsTable,
	DispatchedStationsTable, DispatchedVehiclesTable, SyncMetadataTable,
}

// StationRow maps a station onto StationsTable
func StationRow(s models.Station) Row {
	return Row{s.ID, val(s.Name), val(s.StationKey), val(s.RadioChannel), val(s.Latitude),
		val(s.Longitude), val(s.Address), val(s.PhoneNumber), val(s.Fax), val(s.Email),
		val(s.IsOperative)}
}

// VehicleRow maps a vehicle onto VehiclesTable
func VehicleRow(v models.Vehicle) Row {
	return Row{v.ID, val(v.InternalNumber), val(v.Plate), val(v.StationID),
		val(v.DescriptionType), val(v.Class), val(v.DescriptionOperationalStatus)}
}

// VehicleAvailabilityRow maps an availability state onto VehicleAvailabilityTable
func VehicleAvailabilityRow(v models.VehicleAvailability) Row {
	return Row{v.ID, val(v.Description)}
}

// IncidentTypeRow maps an incident type onto IncidentTypesTable
func IncidentTypeRow(t models.IncidentType) Row {
	return Row{t.ID, val(t.IncidentCode), val(t.Name), val(t.ParentID)}
}

// ProvinceRow maps a province onto ProvincesTable
func ProvinceRow(p models.Province) Row {
	return Row{p.ID, val(p.Name), val(p.Code)}
}

// CantonRow maps a canton onto CantonsTable
func CantonRow(c models.Canton) Row {
	return Row{c.ID, val(c.Name), val(c.Code), val(c.ProvinceID)}
}

// DistrictRow maps a district onto DistrictsTable
func DistrictRow(d models.District) Row {
	return Row{d.ID, val(d.Name), val(d.Code), val(d.CantonID)}
}

// IncidentRow maps an incident onto IncidentsTable. It omits first_seen_at,
// which the database fills on insert.
func IncidentRow(i models.Incident) Row {
	return Row{i.ID, val(i.EEConsecutive), val(i.Address), val(i.ImportantDetails),
		val(i.IncidentCode), val(i.SpecificIncidentCode), val(i.DispatchIncidentCode),
		val(i.SpecificDispatchIncidentCode), val(i.ResponsibleStationID),
		val(i.IncidentTimestamp), val(i.Latitude), val(i.Longitude), val(i.ProvinceID),
		val(i.CantonID), val(i.DistrictID), val(i.IsOpen), val(i.ModifiedAt)}
}

// DispatchedStationRow maps an attending station onto DispatchedStationsTable
func DispatchedStationRow(d models.DispatchedStation) Row {
	return Row{d.ID, val(d.IncidentID), val(d.StationID), val(d.ServiceTypeID),
		val(d.AttentionOnFoot)}
}

// DispatchedVehicleRow maps a dispatched vehicle onto DispatchedVehiclesTable
func DispatchedVehicleRow(d models.DispatchedVehicle) Row {
	return Row{d.ID, val(d.IncidentID), val(d.VehicleID), val(d.StationID),
		val(d.DispatchedTime), val(d.ArrivalTime), val(d.DepartureTime),
		val(d.BaseReturnTime), val(d.AttentionOnFoot)}
}

// SyncMetadataRow maps a sync run summary onto SyncMetadataTable
func SyncMetadataRow(m models.SyncMetadata) Row {
	return Row{m.EntityType, val(m.LastRunAt), val(m.LastSuccessAt),
		val(m.LastRecordCount), val(m.LastStatus), val(m.LastError)}
}

// Rows maps a slice of records through fn.
func Rows[T any](items []T, fn func(T) Row) []Row {
	out := make([]Row, len(items))
	for i, it := range items {
		out[i] = fn(it)
	}
	return out
}
