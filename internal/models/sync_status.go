package models

import "time"

// SyncMetadata records the outcome of the last full sync of an entity type.
type SyncMetadata struct {
	EntityType      string     `json:"entityType" db:"entity_type"`
	LastRunAt       *time.Time `json:"lastRunAt,omitempty" db:"last_run_at"`
	LastSuccessAt   *time.Time `json:"lastSuccessAt,omitempty" db:"last_success_at"`
	LastRecordCount *int64     `json:"lastRecordCount,omitempty" db:"last_record_count"`
	LastStatus      *string    `json:"lastStatus,omitempty" db:"last_status"`
	LastError       *string    `json:"lastError,omitempty" db:"last_error"`
}
