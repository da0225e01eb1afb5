package adapter

import "context"

// Endpoint names as exposed by SIGAE
const (
	EndpointStations           = "ObtenerEstaciones"
	EndpointOperativeStations  = "ObtenerEstacionesOperativas"
	EndpointStationDetail      = "ObtenerEstacionDetalle"
	EndpointVehicles           = "ObtenerVehiculosComboF5"
	EndpointVehicleDetail      = "ObtenerDatosVehiculo"
	EndpointAvailability       = "ObtenerEstadoDisponibilidadUnidades"
	EndpointIncidentTypes      = "ObtenerTiposIncidente"
	EndpointProvinces          = "ObtenerProvinciaLista"
	EndpointCantons            = "ObtenerCantonesLista"
	EndpointDistricts          = "ObtenerDistritosLista"
	EndpointLatestIncidents    = "ObtenerListaUltimasEmergenciasApp"
	EndpointIncidentDetails    = "ObtenerDetalleEmergencias"
	EndpointIncidentReport     = "ObtenerBoletaIncidente"
	EndpointAttendingStations  = "ObtenerEstacionesAtiendeIncidente"
	EndpointDispatchedVehicles = "ObtenerUnidadesDespachadasIncidente"
)

// incident categories requested from the latest-incidents endpoint
var incidentCategories = []int{1, 2, 3, 4, 5, 6, 7, 8, 9}

// API is the typed endpoint catalogue on top of a Fetcher.
type API struct {
	fetcher Fetcher
}

// NewAPI wraps a fetcher
func NewAPI(f Fetcher) *API {
	return &API{fetcher: f}
}

// Stations lists every station, operative or not
func (a *API) Stations(ctx context.Context) (*StationList, error) {
	return fetchInto[StationList](ctx, a.fetcher, EndpointStations, nil)
}

// OperativeStations lists the stations currently in service
func (a *API) OperativeStations(ctx context.Context) (*StationList, error) {
	return fetchInto[StationList](ctx, a.fetcher, EndpointOperativeStations, nil)
}

// StationDetail fetches one station's contact and location data
func (a *API) StationDetail(ctx context.Context, id int64) (*StationDetail, error) {
	return fetchInto[StationDetail](ctx, a.fetcher, EndpointStationDetail, map[string]interface{}{"id_estacion": id})
}

// Vehicles lists the fleet
func (a *API) Vehicles(ctx context.Context) (*VehicleList, error) {
	return fetchInto[VehicleList](ctx, a.fetcher, EndpointVehicles, nil)
}

// VehicleDetail fetches one vehicle's plate, type and home station
func (a *API) VehicleDetail(ctx context.Context, id int64) (*VehicleDetail, error) {
	return fetchInto[VehicleDetail](ctx, a.fetcher, EndpointVehicleDetail, map[string]interface{}{"Id_Vehiculo": id})
}

// VehicleAvailability lists the vehicle availability states
func (a *API) VehicleAvailability(ctx context.Context) (*AvailabilityList, error) {
	return fetchInto[AvailabilityList](ctx, a.fetcher, EndpointAvailability, nil)
}

// IncidentTypes returns the incident type tree
func (a *API) IncidentTypes(ctx context.Context) (*IncidentTypeTree, error) {
	return fetchInto[IncidentTypeTree](ctx, a.fetcher, EndpointIncidentTypes, nil)
}

// Provinces lists the provinces
func (a *API) Provinces(ctx context.Context) (*ProvinceList, error) {
	return fetchInto[ProvinceList](ctx, a.fetcher, EndpointProvinces, nil)
}

// Cantons lists the cantons of every province
func (a *API) Cantons(ctx context.Context) (*CantonList, error) {
	return fetchInto[CantonList](ctx, a.fetcher, EndpointCantons, nil)
}

// Districts lists the districts of every canton
func (a *API) Districts(ctx context.Context) (*DistrictList, error) {
	return fetchInto[DistrictList](ctx, a.fetcher, EndpointDistricts, nil)
}

// LatestIncidents returns the most recent count incidents across all categories.
func (a *API) LatestIncidents(ctx context.Context, count int) (*LatestIncidents, error) {
	params := map[string]interface{}{
		"numero_registros":            count,
		"id_tipo_incidentes_despacho": incidentCategories,
		"id_tipo_incidentes_real":     incidentCategories,
	}
	return fetchInto[LatestIncidents](ctx, a.fetcher, EndpointLatestIncidents, params)
}

// IncidentDetails fetches the dispatch codes and geography of an incident
func (a *API) IncidentDetails(ctx context.Context, id int64) (*IncidentDetails, error) {
	return fetchInto[IncidentDetails](ctx, a.fetcher, EndpointIncidentDetails, map[string]interface{}{"id_boleta_incidente": id})
}

// IncidentReport fetches the incident report: address, notice time and
// coordinates
func (a *API) IncidentReport(ctx context.Context, id int64) (*IncidentReport, error) {
	return fetchInto[IncidentReport](ctx, a.fetcher, EndpointIncidentReport, map[string]interface{}{"Id_Boleta_Incidente": id})
}

// AttendingStations lists the stations attending an incident
func (a *API) AttendingStations(ctx context.Context, incidentID int64) (*AttendingStations, error) {
	return fetchInto[AttendingStations](ctx, a.fetcher, EndpointAttendingStations, map[string]interface{}{"Id_Boleta_Incidente": incidentID})
}

// DispatchedVehicles lists the vehicles dispatched to an incident with their
// dispatch, arrival and departure times
func (a *API) DispatchedVehicles(ctx context.Context, incidentID int64) (*DispatchedVehicles, error) {
	return fetchInto[DispatchedVehicles](ctx, a.fetcher, EndpointDispatchedVehicles, map[string]interface{}{"Id_Boleta_Incidente": incidentID})
}

func fetchInto[T any](ctx context.Context, f Fetcher, endpoint string, params map[string]interface{}) (*T, error) {
	var out T
	if err := f.Fetch(ctx, endpoint, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
