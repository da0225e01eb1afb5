package normalize

import (
	"strings"
	"time"

	"github.com/incident-sync/internal/adapter"
	"github.com/incident-sync/internal/models"
)

const (
	responsibleServiceType = "RESPONSABLE"
	attentionOnFootUnit    = "ATENCION A PIE"
)

// IncidentInput gathers the four upstream payloads that describe one incident.
type IncidentInput struct {
	ID        int64
	Report    *adapter.IncidentReport
	Details   *adapter.IncidentDetails
	Attending []adapter.AttendingStationItem

	// KnownCodes is the local incident type catalogue. Codes missing from it
	// are stored as nil. A nil map accepts every code.
	KnownCodes map[string]struct{}
	Location   *time.Location
	Now        time.Time
}

// Incident builds the canonical incident record
func Incident(in IncidentInput) (models.Incident, error) {
	id := in.ID
	if id <= 0 && in.Report != nil {
		id = in.Report.ID
	}
	if id <= 0 {
		return models.Incident{}, missingID("incident", in.ID)
	}

	inc := models.Incident{ID: id}
	if !in.Now.IsZero() {
		now := in.Now
		inc.ModifiedAt = &now
	}

	if r := in.Report; r != nil {
		inc.EEConsecutive = Text(r.EEConsecutive)
		inc.Address = Text(r.Location)
		inc.ImportantDetails = Text(r.Directions)
		inc.IncidentTimestamp = CombineDateTime(r.Date, r.NoticeTime, in.Location)
		inc.ProvinceID = ID(r.ProvinceID)
		inc.CantonID = ID(r.CantonID)
		inc.DistrictID = ID(r.DistrictID)
		inc.IsOpen = Bool(strings.EqualFold(strings.TrimSpace(r.Open), "true"))
	}

	if d := in.Details; d != nil {
		inc.IncidentCode = in.code(d.IncidentCode)
		inc.SpecificIncidentCode = in.code(d.SpecificIncidentCode)
		inc.DispatchIncidentCode = in.code(d.DispatchIncidentCode)
		inc.SpecificDispatchIncidentCode = in.code(d.SpecificDispatchIncidentCode)
		inc.Latitude = Coordinate(d.Latitude)
		inc.Longitude = Coordinate(d.Longitude)
	}

	inc.ResponsibleStationID = ResponsibleStation(in.Attending)
	return inc, nil
}

func (in IncidentInput) code(raw *string) *string {
	if raw == nil {
		return nil
	}
	c := IncidentCode(*raw)
	if c == "" {
		return nil
	}
	if in.KnownCodes != nil {
		if _, ok := in.KnownCodes[c]; !ok {
			return nil
		}
	}
	return &c
}

// ResponsibleStation picks the station in charge of an incident: the one
// flagged RESPONSABLE, else the last one listed.
func ResponsibleStation(attending []adapter.AttendingStationItem) *int64 {
	for _, s := range attending {
		if strings.EqualFold(strings.TrimSpace(s.ServiceType), responsibleServiceType) && s.StationID > 0 {
			return ID(s.StationID)
		}
	}
	for i := len(attending) - 1; i >= 0; i-- {
		if attending[i].StationID > 0 {
			return ID(attending[i].StationID)
		}
	}
	return nil
}

// DispatchedStations builds the incident's station attendance records
func DispatchedStations(incidentID int64, items []adapter.AttendingStationItem) ([]models.DispatchedStation, []error) {
	out := make([]models.DispatchedStation, 0, len(items))
	var errs []error
	for i, s := range items {
		if s.ID <= 0 {
			errs = append(errs, missingID("dispatched station", i))
			continue
		}
		out = append(out, models.DispatchedStation{
			ID:              s.ID,
			IncidentID:      ID(incidentID),
			StationID:       ID(s.StationID),
			ServiceTypeID:   ID(s.ServiceTypeID),
			AttentionOnFoot: Bool(s.AttentionOnFoot),
		})
	}
	return out, errs
}

// DispatchedVehicles builds the incident's vehicle dispatch records. Units
// attending on foot have no vehicle.
func DispatchedVehicles(incidentID int64, items []adapter.DispatchedVehicleItem, loc *time.Location) ([]models.DispatchedVehicle, []error) {
	out := make([]models.DispatchedVehicle, 0, len(items))
	var errs []error
	for i, v := range items {
		if v.ID <= 0 {
			errs = append(errs, missingID("dispatched vehicle", i))
			continue
		}
		onFoot := strings.EqualFold(strings.TrimSpace(v.Unit), attentionOnFootUnit)
		dv := models.DispatchedVehicle{
			ID:              v.ID,
			IncidentID:      ID(incidentID),
			StationID:       ID(v.StationID),
			DispatchedTime:  Timestamp(v.DispatchTime, loc),
			ArrivalTime:     Timestamp(v.ArrivalTime, loc),
			DepartureTime:   Timestamp(v.DepartureTime, loc),
			BaseReturnTime:  Timestamp(v.BaseReturnTime, loc),
			AttentionOnFoot: Bool(onFoot),
		}
		if !onFoot {
			dv.VehicleID = ID(v.VehicleID)
		}
		out = append(out, dv)
	}
	return out, errs
}
