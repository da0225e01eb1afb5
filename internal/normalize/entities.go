package normalize

import (
	"github.com/incident-sync/internal/adapter"
	"github.com/incident-sync/internal/errors"
	"github.com/incident-sync/internal/models"
)

func missingID(entity string, ref interface{}) error {
	return errors.NewNormalizationError(entity, ref, "missing identifier")
}

// Stations builds the list-level station records. operative may be nil, in
// which case is_operative is left unknown.
func Stations(list *adapter.StationList, operative *adapter.StationList) ([]models.Station, []error) {
	if list == nil {
		return nil, nil
	}

	var operativeIDs map[int64]bool
	if operative != nil {
		operativeIDs = make(map[int64]bool, len(operative.Items))
		for _, s := range operative.Items {
			operativeIDs[s.ID] = true
		}
	}

	out := make([]models.Station, 0, len(list.Items))
	var errs []error
	for i, item := range list.Items {
		if item.ID <= 0 {
			errs = append(errs, missingID("station", i))
			continue
		}
		s := models.Station{
			ID:         item.ID,
			Name:       Text(item.Name),
			StationKey: Text(item.Key),
		}
		if operativeIDs != nil {
			s.IsOperative = Bool(operativeIDs[item.ID])
		}
		out = append(out, s)
	}
	return out, errs
}

// StationDetail builds the detail-level station record. fallbackID is the
// id the detail was requested for, used when the body omits it.
func StationDetail(d *adapter.StationDetail, fallbackID int64) (models.Station, error) {
	id := d.ID
	if id <= 0 {
		id = fallbackID
	}
	if id <= 0 {
		return models.Station{}, missingID("station detail", fallbackID)
	}
	return models.Station{
		ID:           id,
		Name:         Text(d.Name),
		StationKey:   Text(d.Key),
		RadioChannel: Text(d.RadioChannel),
		Latitude:     Coordinate(d.Latitude),
		Longitude:    Coordinate(d.Longitude),
		Address:      Text(d.Address),
		PhoneNumber:  Text(d.Phone),
		Fax:          Text(d.Fax),
		Email:        Text(d.Email),
	}, nil
}

// Vehicles builds list-level vehicle records
func Vehicles(list *adapter.VehicleList) ([]models.Vehicle, []error) {
	if list == nil {
		return nil, nil
	}
	out := make([]models.Vehicle, 0, len(list.Items))
	var errs []error
	for i, item := range list.Items {
		if item.ID <= 0 {
			errs = append(errs, missingID("vehicle", i))
			continue
		}
		out = append(out, models.Vehicle{
			ID:             item.ID,
			InternalNumber: Text(item.InternalNumber),
		})
	}
	return out, errs
}

// VehicleDetail builds the detail-level vehicle record
func VehicleDetail(d *adapter.VehicleDetail, fallbackID int64) (models.Vehicle, error) {
	id := d.ID
	if id <= 0 {
		id = fallbackID
	}
	if id <= 0 {
		return models.Vehicle{}, missingID("vehicle detail", fallbackID)
	}
	return models.Vehicle{
		ID:                           id,
		InternalNumber:               Text(d.InternalNumber),
		Plate:                        Text(d.Plate),
		StationID:                    ID(d.StationID),
		DescriptionType:              Text(d.Type),
		Class:                        Text(d.Class),
		DescriptionOperationalStatus: Text(d.OperationalStatus),
	}, nil
}

// VehicleAvailability builds availability state records
func VehicleAvailability(list *adapter.AvailabilityList) ([]models.VehicleAvailability, []error) {
	if list == nil {
		return nil, nil
	}
	out := make([]models.VehicleAvailability, 0, len(list.Items))
	var errs []error
	for i, item := range list.Items {
		if item.ID <= 0 {
			errs = append(errs, missingID("vehicle availability", i))
			continue
		}
		out = append(out, models.VehicleAvailability{ID: item.ID, Description: Text(item.Description)})
	}
	return out, errs
}

// IncidentTypes flattens the classification tree depth-first so parents
// always precede their children.
func IncidentTypes(tree *adapter.IncidentTypeTree) ([]models.IncidentType, []error) {
	if tree == nil {
		return nil, nil
	}
	var out []models.IncidentType
	var errs []error

	var walk func(nodes []adapter.IncidentTypeNode, parent *int64)
	walk = func(nodes []adapter.IncidentTypeNode, parent *int64) {
		for _, n := range nodes {
			if n.ID <= 0 {
				errs = append(errs, missingID("incident type", n.Code))
				// children keep the nearest valid ancestor
				walk(n.Items, parent)
				continue
			}
			var code *string
			if c := IncidentCode(n.Code); c != "" {
				code = &c
			}
			out = append(out, models.IncidentType{
				ID:           n.ID,
				IncidentCode: code,
				Name:         Text(n.Name),
				ParentID:     parent,
			})
			id := n.ID
			walk(n.Items, &id)
		}
	}
	walk(tree.Items, nil)
	return out, errs
}

// Provinces builds province records
func Provinces(list *adapter.ProvinceList) ([]models.Province, []error) {
	if list == nil {
		return nil, nil
	}
	out := make([]models.Province, 0, len(list.Items))
	var errs []error
	for i, p := range list.Items {
		if p.ID <= 0 {
			errs = append(errs, missingID("province", i))
			continue
		}
		out = append(out, models.Province{ID: p.ID, Name: Text(p.Name), Code: Text(p.Code)})
	}
	return out, errs
}

// Cantons builds canton records
func Cantons(list *adapter.CantonList) ([]models.Canton, []error) {
	if list == nil {
		return nil, nil
	}
	out := make([]models.Canton, 0, len(list.Items))
	var errs []error
	for i, c := range list.Items {
		if c.ID <= 0 {
			errs = append(errs, missingID("canton", i))
			continue
		}
		out = append(out, models.Canton{ID: c.ID, Name: Text(c.Name), Code: Text(c.Code), ProvinceID: ID(c.ProvinceID)})
	}
	return out, errs
}

// Districts builds district records
func Districts(list *adapter.DistrictList) ([]models.District, []error) {
	if list == nil {
		return nil, nil
	}
	out := make([]models.District, 0, len(list.Items))
	var errs []error
	for i, d := range list.Items {
		if d.ID <= 0 {
			errs = append(errs, missingID("district", i))
			continue
		}
		out = append(out, models.District{ID: d.ID, Name: Text(d.Name), Code: Text(d.Code), CantonID: ID(d.CantonID)})
	}
	return out, errs
}

// LatestIncidentIDs extracts the distinct incident ids of a latest-incidents
// listing, in listing order.
func LatestIncidentIDs(list *adapter.LatestIncidents) ([]int64, []error) {
	if list == nil {
		return nil, nil
	}
	seen := make(map[int64]bool, len(list.Items))
	var ids []int64
	var errs []error
	for i, item := range list.Items {
		if item.ID <= 0 {
			errs = append(errs, missingID("incident listing", i))
			continue
		}
		if seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		ids = append(ids, item.ID)
	}
	return ids, errs
}
