package normalize

import (
	"testing"
	"time"

	"github.com/incident-sync/internal/adapter"
	"github.com/incident-sync/internal/errors"
	"github.com/incident-sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func costaRica(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Costa_Rica")
	require.NoError(t, err)
	return loc
}

func TestText(t *testing.T) {
	assert.Nil(t, Text("   "))
	assert.Equal(t, "ESTACION CENTRAL", *Text("  ESTACION CENTRAL \n"))
	// decomposed "é" becomes the composed form
	assert.Equal(t, "Heredia \u00e9", *Text("Heredia e\u0301"))
}

func TestFloatAndCoordinate(t *testing.T) {
	tests := []struct {
		in        adapter.Number
		wantFloat *float64
		wantCoord *float64
	}{
		{"9.9368", ptr(9.9368), ptr(9.9368)},
		{"-84,07", ptr(-84.07), ptr(-84.07)},
		{"0", ptr(0.0), nil},
		{"", nil, nil},
		{"N/A", nil, nil},
		{"NaN", nil, nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.wantFloat, Float(tt.in))
			assert.Equal(t, tt.wantCoord, Coordinate(tt.in))
		})
	}
}

func TestTimestamp(t *testing.T) {
	loc := costaRica(t)

	got := Timestamp("2024-03-05T14:22:10", loc)
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2024, 3, 5, 20, 22, 10, 0, time.UTC), got.UTC())

	sentinel := Timestamp("0001-01-01T00:00:00", loc)
	require.NotNil(t, sentinel)
	assert.True(t, sentinel.Equal(models.NotYetTimestamp))

	assert.Nil(t, Timestamp("yesterday", loc))
	assert.Nil(t, Timestamp("", loc))
}

func TestCombineDateTime(t *testing.T) {
	loc := costaRica(t)
	got := CombineDateTime("2024-03-05T00:00:00", "1900-01-01T14:22:10", loc)
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2024, 3, 5, 14, 22, 10, 0, loc), *got)

	assert.Nil(t, CombineDateTime("", "1900-01-01T14:22:10", loc))
}

func TestStationsKeepsRecordsWithNullableFields(t *testing.T) {
	list := &adapter.StationList{Items: []adapter.StationListItem{
		{ID: 1, Key: "1-1", Name: "METROPOLITANA NORTE"},
		{ID: 2, Key: "1-2", Name: ""},
		{ID: 0, Key: "??", Name: "SIN ID"},
		{ID: 3, Key: "2-1", Name: "ALAJUELA"},
	}}
	operative := &adapter.StationList{Items: []adapter.StationListItem{{ID: 1}, {ID: 3}}}

	stations, errs := Stations(list, operative)

	require.Len(t, stations, 3)
	require.Len(t, errs, 1)
	assert.True(t, errors.HasCategory(errs[0], errors.CategoryNormalization))
	assert.False(t, errors.IsRetryable(errs[0]))

	assert.Nil(t, stations[1].Name)
	assert.Equal(t, true, *stations[0].IsOperative)
	assert.Equal(t, false, *stations[1].IsOperative)
}

func TestStationDetailFallsBackToRequestedID(t *testing.T) {
	s, err := StationDetail(&adapter.StationDetail{
		Name:      "GUADALUPE",
		Latitude:  "9.9468",
		Longitude: "bad",
		Email:     " ",
	}, 12)
	require.NoError(t, err)
	assert.Equal(t, int64(12), s.ID)
	assert.Equal(t, 9.9468, *s.Latitude)
	assert.Nil(t, s.Longitude)
	assert.Nil(t, s.Email)

	_, err = StationDetail(&adapter.StationDetail{}, 0)
	assert.Error(t, err)
}

func TestIncidentTypesFlattening(t *testing.T) {
	tree := &adapter.IncidentTypeTree{Items: []adapter.IncidentTypeNode{
		{ID: 1, Code: "1.", Name: "FUEGO", Items: []adapter.IncidentTypeNode{
			{ID: 2, Code: "1.1", Name: "ESTRUCTURAL", Items: []adapter.IncidentTypeNode{
				{ID: 3, Code: "1.1.1.", Name: "VIVIENDA"},
			}},
			{ID: 0, Code: "1.2", Name: "ROTO", Items: []adapter.IncidentTypeNode{
				{ID: 4, Code: "1.2.1", Name: "HUERFANO"},
			}},
		}},
		{ID: 5, Code: "2", Name: "RESCATE"},
	}}

	types, errs := IncidentTypes(tree)
	require.Len(t, errs, 1)
	require.Len(t, types, 5)

	byID := map[int64]models.IncidentType{}
	for i, it := range types {
		byID[it.ID] = it
		if it.ParentID != nil {
			// parents come first
			found := false
			for _, prev := range types[:i] {
				found = found || prev.ID == *it.ParentID
			}
			assert.True(t, found, "parent of %d listed after it", it.ID)
		}
	}
	assert.Nil(t, byID[1].ParentID)
	assert.Equal(t, "1", *byID[1].IncidentCode)
	assert.Equal(t, int64(1), *byID[2].ParentID)
	assert.Equal(t, int64(2), *byID[3].ParentID)
	assert.Equal(t, "1.1.1", *byID[3].IncidentCode)
	assert.Equal(t, int64(1), *byID[4].ParentID)
	assert.Nil(t, byID[5].ParentID)
}

func TestIncident(t *testing.T) {
	loc := costaRica(t)
	now := time.Date(2024, 3, 5, 21, 0, 0, 0, time.UTC)
	code := "6.1."
	unknown := "99.9"

	inc, err := Incident(IncidentInput{
		ID: 1500,
		Report: &adapter.IncidentReport{
			EEConsecutive: "EE-2024-0001",
			Location:      "SAN JOSE, CARMEN",
			Directions:    "100m norte del parque",
			Date:          "2024-03-05T00:00:00",
			NoticeTime:    "1900-01-01T14:22:10",
			ProvinceID:    1,
			CantonID:      0,
			DistrictID:    104,
			Open:          "true",
		},
		Details: &adapter.IncidentDetails{
			IncidentCode:         &code,
			DispatchIncidentCode: &unknown,
			Latitude:             "9.93",
			Longitude:            "0",
		},
		Attending: []adapter.AttendingStationItem{
			{ID: 10, StationID: 4, ServiceType: "APOYO"},
			{ID: 11, StationID: 7, ServiceType: "RESPONSABLE"},
			{ID: 12, StationID: 9, ServiceType: "APOYO"},
		},
		KnownCodes: map[string]struct{}{"6.1": {}},
		Location:   loc,
		Now:        now,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1500), inc.ID)
	assert.Equal(t, "SAN JOSE, CARMEN", *inc.Address)
	assert.Equal(t, "100m norte del parque", *inc.ImportantDetails)
	assert.Equal(t, time.Date(2024, 3, 5, 14, 22, 10, 0, loc), *inc.IncidentTimestamp)
	assert.Equal(t, int64(1), *inc.ProvinceID)
	assert.Nil(t, inc.CantonID)
	assert.Equal(t, int64(104), *inc.DistrictID)
	assert.True(t, *inc.IsOpen)
	assert.Equal(t, "6.1", *inc.IncidentCode)
	assert.Nil(t, inc.DispatchIncidentCode, "unknown code is dropped")
	assert.Equal(t, 9.93, *inc.Latitude)
	assert.Nil(t, inc.Longitude, "zero coordinate is unknown")
	assert.Equal(t, int64(7), *inc.ResponsibleStationID)
	assert.Equal(t, now, *inc.ModifiedAt)
	assert.Nil(t, inc.FirstSeenAt)
}

func TestIncidentRequiresID(t *testing.T) {
	_, err := Incident(IncidentInput{})
	assert.True(t, errors.HasCategory(err, errors.CategoryNormalization))
}

func TestResponsibleStationFallsBackToLast(t *testing.T) {
	got := ResponsibleStation([]adapter.AttendingStationItem{
		{StationID: 4, ServiceType: "APOYO"},
		{StationID: 9, ServiceType: "APOYO"},
	})
	assert.Equal(t, int64(9), *got)
	assert.Nil(t, ResponsibleStation(nil))
}

func TestDispatchedVehicles(t *testing.T) {
	loc := costaRica(t)
	items := []adapter.DispatchedVehicleItem{
		{ID: 1, VehicleID: 301, StationID: 4, Unit: "M-12", DispatchTime: "2024-03-05T14:23:00", DepartureTime: "0001-01-01T00:00:00"},
		{ID: 2, VehicleID: 0, StationID: 4, Unit: "ATENCION A PIE"},
		{ID: 0, VehicleID: 5},
	}

	got, errs := DispatchedVehicles(1500, items, loc)
	require.Len(t, got, 2)
	require.Len(t, errs, 1)

	assert.Equal(t, int64(301), *got[0].VehicleID)
	assert.True(t, got[0].OnScene())
	assert.False(t, *got[0].AttentionOnFoot)
	assert.Equal(t, int64(1500), *got[0].IncidentID)

	assert.Nil(t, got[1].VehicleID)
	assert.True(t, *got[1].AttentionOnFoot)
	assert.False(t, got[1].OnScene())
}

func TestLatestIncidentIDsDeduplicates(t *testing.T) {
	ids, errs := LatestIncidentIDs(&adapter.LatestIncidents{Items: []adapter.LatestIncidentItem{
		{ID: 3}, {ID: 1}, {ID: 3}, {ID: 0},
	}})
	assert.Equal(t, []int64{3, 1}, ids)
	assert.Len(t, errs, 1)
}

func ptr[T any](v T) *T { return &v }
