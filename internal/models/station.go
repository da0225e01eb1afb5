package models

// Station is a fire station as materialized in the canonical store.
// Every field except ID may be nil; a nil field never overwrites a stored value.
type Station struct {
	ID           int64    `json:"id" db:"id"`
	Name         *string  `json:"name,omitempty" db:"name"`
	StationKey   *string  `json:"stationKey,omitempty" db:"station_key"`
	RadioChannel *string  `json:"radioChannel,omitempty" db:"radio_channel"`
	Latitude     *float64 `json:"latitude,omitempty" db:"latitude"`
	Longitude    *float64 `json:"longitude,omitempty" db:"longitude"`
	Address      *string  `json:"address,omitempty" db:"address"`
	PhoneNumber  *string  `json:"phoneNumber,omitempty" db:"phone_number"`
	Fax          *string  `json:"fax,omitempty" db:"fax"`
	Email        *string  `json:"email,omitempty" db:"email"`
	IsOperative  *bool    `json:"isOperative,omitempty" db:"is_operative"`
}

// DispatchedStation links a station to an incident it attended.
type DispatchedStation struct {
	ID              int64  `json:"id" db:"id"`
	IncidentID      *int64 `json:"incidentId,omitempty" db:"incident_id"`
	StationID       *int64 `json:"stationId,omitempty" db:"station_id"`
	ServiceTypeID   *int64 `json:"serviceTypeId,omitempty" db:"service_type_id"`
	AttentionOnFoot *bool  `json:"attentionOnFoot,omitempty" db:"attention_on_foot"`
}
