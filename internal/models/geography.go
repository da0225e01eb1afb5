package models

// Province is the top level of the administrative division.
type Province struct {
	ID   int64   `json:"id" db:"id"`
	Name *string `json:"name,omitempty" db:"name"`
	Code *string `json:"code,omitempty" db:"code"`
}

// Canton belongs to a province.
type Canton struct {
	ID         int64   `json:"id" db:"id"`
	Name       *string `json:"name,omitempty" db:"name"`
	Code       *string `json:"code,omitempty" db:"code"`
	ProvinceID *int64  `json:"provinceId,omitempty" db:"province_id"`
}

// District belongs to a canton.
type District struct {
	ID       int64   `json:"id" db:"id"`
	Name     *string `json:"name,omitempty" db:"name"`
	Code     *string `json:"code,omitempty" db:"code"`
	CantonID *int64  `json:"cantonId,omitempty" db:"canton_id"`
}
