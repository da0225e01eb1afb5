package models

import "time"

// Incident is an emergency report. FirstSeenAt is filled by the database on
// first insert and never touched by the sync.
type Incident struct {
	ID                           int64      `json:"id" db:"id"`
	EEConsecutive                *string    `json:"eeConsecutive,omitempty" db:"ee_consecutive"`
	Address                      *string    `json:"address,omitempty" db:"address"`
	ImportantDetails             *string    `json:"importantDetails,omitempty" db:"important_details"`
	IncidentCode                 *string    `json:"incidentCode,omitempty" db:"incident_code"`
	SpecificIncidentCode         *string    `json:"specificIncidentCode,omitempty" db:"specific_incident_code"`
	DispatchIncidentCode         *string    `json:"dispatchIncidentCode,omitempty" db:"dispatch_incident_code"`
	SpecificDispatchIncidentCode *string    `json:"specificDispatchIncidentCode,omitempty" db:"specific_dispatch_incident_code"`
	ResponsibleStationID         *int64     `json:"responsibleStationId,omitempty" db:"responsible_station_id"`
	IncidentTimestamp            *time.Time `json:"incidentTimestamp,omitempty" db:"incident_timestamp"`
	Latitude                     *float64   `json:"latitude,omitempty" db:"latitude"`
	Longitude                    *float64   `json:"longitude,omitempty" db:"longitude"`
	ProvinceID                   *int64     `json:"provinceId,omitempty" db:"province_id"`
	CantonID                     *int64     `json:"cantonId,omitempty" db:"canton_id"`
	DistrictID                   *int64     `json:"districtId,omitempty" db:"district_id"`
	IsOpen                       *bool      `json:"isOpen,omitempty" db:"is_open"`
	ModifiedAt                   *time.Time `json:"modifiedAt,omitempty" db:"modified_at"`
	FirstSeenAt                  *time.Time `json:"firstSeenAt,omitempty" db:"first_seen_at"`
}

// IncidentType is a node of the incident classification tree.
type IncidentType struct {
	ID           int64   `json:"id" db:"id"`
	IncidentCode *string `json:"incidentCode,omitempty" db:"incident_code"`
	Name         *string `json:"name,omitempty" db:"name"`
	ParentID     *int64  `json:"parentId,omitempty" db:"parent_id"`
}

// CloseCheck is the stored state the close rules are evaluated against.
type CloseCheck struct {
	IncidentID        int64
	IncidentTimestamp *time.Time
	Latitude          *float64
	Longitude         *float64
	IsOpen            bool
	VehiclesOnScene   int
}

// HasCoordinates reports whether both coordinates are known and non-zero.
func (c CloseCheck) HasCoordinates() bool {
	return c.Latitude != nil && c.Longitude != nil && *c.Latitude != 0 && *c.Longitude != 0
}
