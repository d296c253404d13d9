// internal/database/models.go
package database

import "time"

// ChangeUnit is one journaled change unit of a project
type ChangeUnit struct {
	ID             string    `json:"id"`
	ProjectRoot    string    `json:"project_root"`
	FirstSeenAt    time.Time `json:"first_seen_at"`
	OperationCount int       `json:"operation_count"`
}

// Operation is one journaled tracked operation. Snapshot content lives in the
// content pool and is referenced by hash; an empty hash means that side is
// absent.
type Operation struct {
	ID             int64     `json:"id"`
	ProjectRoot    string    `json:"project_root"`
	ChangeUnitID   string    `json:"change_unit_id"`
	Seq            uint64    `json:"seq"`
	Kind           string    `json:"kind"`
	Path           string    `json:"path"`
	Destination    string    `json:"destination,omitempty"`
	OriginalHash   string    `json:"original_hash,omitempty"`
	OriginalMode   uint32    `json:"original_mode,omitempty"`
	OriginalSource string    `json:"original_source,omitempty"`
	ModifiedHash   string    `json:"modified_hash,omitempty"`
	ModifiedMode   uint32    `json:"modified_mode,omitempty"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// Project summarizes the journal of one project root
type Project struct {
	Root           string    `json:"root"`
	UnitCount      int       `json:"unit_count"`
	OperationCount int       `json:"operation_count"`
	LastRecordedAt time.Time `json:"last_recorded_at"`
}
