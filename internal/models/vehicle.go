package models

import "time"

// NotYetTimestamp is the upstream's placeholder for a dispatch milestone that
// has not happened, e.g. a vehicle that has not left the scene.
var NotYetTimestamp = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)

// Vehicle is a unit in the fleet.
type Vehicle struct {
	ID                           int64   `json:"id" db:"id"`
	InternalNumber               *string `json:"internalNumber,omitempty" db:"internal_number"`
	Plate                        *string `json:"plate,omitempty" db:"plate"`
	StationID                    *int64  `json:"stationId,omitempty" db:"station_id"`
	DescriptionType              *string `json:"descriptionType,omitempty" db:"description_type"`
	Class                        *string `json:"class,omitempty" db:"class"`
	DescriptionOperationalStatus *string `json:"descriptionOperationalStatus,omitempty" db:"description_operational_status"`
}

// VehicleAvailability is one of the availability states a vehicle can be in.
type VehicleAvailability struct {
	ID          int64   `json:"id" db:"id"`
	Description *string `json:"description,omitempty" db:"description"`
}

// DispatchedVehicle is a vehicle sent to an incident together with its
// timeline. VehicleID is nil for attention on foot.
type DispatchedVehicle struct {
	ID              int64      `json:"id" db:"id"`
	IncidentID      *int64     `json:"incidentId,omitempty" db:"incident_id"`
	VehicleID       *int64     `json:"vehicleId,omitempty" db:"vehicle_id"`
	StationID       *int64     `json:"stationId,omitempty" db:"station_id"`
	DispatchedTime  *time.Time `json:"dispatchedTime,omitempty" db:"dispatched_time"`
	ArrivalTime     *time.Time `json:"arrivalTime,omitempty" db:"arrival_time"`
	DepartureTime   *time.Time `json:"departureTime,omitempty" db:"departure_time"`
	BaseReturnTime  *time.Time `json:"baseReturnTime,omitempty" db:"base_return_time"`
	AttentionOnFoot *bool      `json:"attentionOnFoot,omitempty" db:"attention_on_foot"`
}

// OnScene reports whether the vehicle has not yet left the incident.
func (v DispatchedVehicle) OnScene() bool {
	return v.DepartureTime != nil && v.DepartureTime.Equal(NotYetTimestamp)
}
