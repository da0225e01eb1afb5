package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Number holds a numeric upstream value verbatim. SIGAE is inconsistent
// about quoting numbers, so both 9.93 and "9.93" decode; null decodes to "".
type Number string

// UnmarshalJSON accepts a JSON number, a JSON string or null
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*n = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = Number(s)
	case len(data) > 0 && (data[0] == '-' || (data[0] >= '0' && data[0] <= '9')):
		*n = Number(data)
	default:
		return fmt.Errorf("cannot decode %s as number", string(data))
	}
	return nil
}

// Envelope fields present on every SIGAE response
type Envelope struct {
	Code        *string `json:"Codigo"`
	Description *string `json:"Descripcion"`
}

// Stations

type StationListItem struct {
	ID   int64  `json:"IdEstacion"`
	Key  string `json:"ClaveEstacion"`
	Name string `json:"Nombre"`
}

type StationList struct {
	Envelope
	Items []StationListItem `json:"Items"`
}

type StationDetail struct {
	Envelope
	ID           int64  `json:"IdEstacion"`
	Key          string `json:"ClaveEstacion"`
	Name         string `json:"Nombre"`
	RadioChannel string `json:"CanalRadio"`
	Address      string `json:"Direccion"`
	Email        string `json:"Email"`
	Fax          string `json:"Fax"`
	Phone        string `json:"Telefono"`
	Latitude     Number `json:"Latitud"`
	Longitude    Number `json:"Longitud"`
}

// Vehicles

type VehicleListItem struct {
	ID             int64  `json:"IdVehiculo"`
	InternalNumber string `json:"NumeroInterno"`
}

type VehicleList struct {
	Envelope
	Items []VehicleListItem `json:"Items"`
}

type VehicleDetail struct {
	Envelope
	ID                int64  `json:"Id_vehiculo"`
	InternalNumber    string `json:"Numero_interno"`
	Plate             string `json:"Placa"`
	Class             string `json:"Des_clase_vehiculo"`
	Type              string `json:"Des_tipo_vehiculo"`
	OperationalStatus string `json:"Des_estado_operativo"`
	StationID         int64  `json:"Id_estacion"`
}

type AvailabilityItem struct {
	ID          int64  `json:"IdGrupoClasificacion"`
	Description string `json:"Descripcion"`
}

type AvailabilityList struct {
	Envelope
	Items []AvailabilityItem `json:"Items"`
}

// Incident types arrive as a tree

type IncidentTypeNode struct {
	ID    int64              `json:"id_tipo_incidente"`
	Code  string             `json:"codigo_tipo_incidente"`
	Name  string             `json:"tipo_incidente"`
	Items []IncidentTypeNode `json:"items"`
}

type IncidentTypeTree struct {
	Envelope
	Items []IncidentTypeNode `json:"items"`
}

// Geography

type ProvinceItem struct {
	ID   int64  `json:"IdProvincia"`
	Name string `json:"Provincia"`
	Code string `json:"CodigoProvincia"`
}

type ProvinceList struct {
	Envelope
	Items []ProvinceItem `json:"Items"`
}

type CantonItem struct {
	ID         int64  `json:"IdCanton"`
	Name       string `json:"Canton"`
	Code       string `json:"CodigoCanton"`
	ProvinceID int64  `json:"IdProvincia"`
}

type CantonList struct {
	Envelope
	Items []CantonItem `json:"Items"`
}

type DistrictItem struct {
	ID       int64  `json:"Id_Distrito"`
	Name     string `json:"Distrito"`
	Code     string `json:"Codigo_Distrito"`
	CantonID int64  `json:"Id_Canton"`
}

type DistrictList struct {
	Envelope
	Items []DistrictItem `json:"Items"`
}

// Incidents

type LatestIncidentItem struct {
	ID                   int64  `json:"idBoletaIncidente"`
	EEConsecutive        string `json:"consecutivoEE"`
	Address              string `json:"direccion"`
	ResponsibleStation   string `json:"estacionResponsable"`
	Date                 string `json:"fecha"`
	Time                 string `json:"horaIncidente"`
	IncidentTypeCode     string `json:"codigoTipoIncidente"`
	DispatchTypeCode     string `json:"codigoTipoIncidenteDespacho"`
	IncidentTypeName     string `json:"tipoIncidente"`
	DispatchIncidentName string `json:"tipoIncidenteDespacho"`
}

type LatestIncidents struct {
	Envelope
	Items []LatestIncidentItem `json:"items"`
}

// IncidentDetails is ObtenerDetalleEmergencias
type IncidentDetails struct {
	Envelope
	IncidentCode                 *string `json:"codigo_tipo_incidente"`
	SpecificIncidentCode         *string `json:"codigo_tipo_incidente_esp"`
	DispatchIncidentCode         *string `json:"codigo_tipo_incidente_despacho"`
	SpecificDispatchIncidentCode *string `json:"codigo_tipo_incidente_despacho_esp"`
	Latitude                     Number  `json:"latitud"`
	Longitude                    Number  `json:"longitud"`
	ImportantDetails             string  `json:"DetallesImportantes"`
}

// IncidentReport is ObtenerBoletaIncidente
type IncidentReport struct {
	Envelope
	ID            int64  `json:"Id_Boleta_Incidente"`
	EEConsecutive string `json:"Consecutivo"`
	Location      string `json:"DesUbicacion"`
	Directions    string `json:"Direccion"`
	Date          string `json:"Fecha"`
	NoticeTime    string `json:"Hora_Aviso"`
	ProvinceID    int64  `json:"Id_Provincia"`
	CantonID      int64  `json:"Id_Canton"`
	DistrictID    int64  `json:"Id_Distrito"`
	Open          string `json:"Estado_Abierto"`
}

type AttendingStationItem struct {
	ID              int64  `json:"IdBoletaEstacionAtiende"`
	StationID       int64  `json:"IdEstacion"`
	StationKey      string `json:"ClaveEstacion"`
	StationName     string `json:"NombreEstacion"`
	ServiceTypeID   int64  `json:"IdTipoServicio"`
	ServiceType     string `json:"DestipoServicio"`
	AttentionOnFoot bool   `json:"AtencionAPie"`
}

type AttendingStations struct {
	Envelope
	Items []AttendingStationItem `json:"Items"`
}

type DispatchedVehicleItem struct {
	ID             int64  `json:"IdBoletaUnidadDespachada"`
	VehicleID      int64  `json:"CodigoUnidad"`
	StationID      int64  `json:"CodigoEstacion"`
	Unit           string `json:"Unidad"`
	DispatchTime   string `json:"HoraDespacho"`
	ArrivalTime    string `json:"HoraLLegada"`
	DepartureTime  string `json:"HoraRetiro"`
	BaseReturnTime string `json:"HoraBase"`
}

type DispatchedVehicles struct {
	Envelope
	Items []DispatchedVehicleItem `json:"Items"`
}
