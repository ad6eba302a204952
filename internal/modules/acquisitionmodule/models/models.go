// Package models holds the persisted shapes of the acquisition module.
package models

import "time"

// AcquisitionRecord is the history row written when a run finishes. It never
// carries session material; SessionKey is a one-way hash.
type AcquisitionRecord struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SessionKey    string    `gorm:"index;type:varchar(64)" json:"-"`
	Title         string    `gorm:"not null" json:"title"`
	SourceHash    string    `gorm:"type:varchar(40);index" json:"source_hash"`
	State         string    `gorm:"type:varchar(16);index" json:"state"`
	FailureKind   string    `gorm:"type:varchar(32)" json:"failure_kind,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	StreamURL     string    `json:"stream_url,omitempty"`
	MediaType     string    `gorm:"type:varchar(16)" json:"media_type,omitempty"`
	Container     string    `gorm:"type:varchar(8)" json:"container,omitempty"`
	FileName      string    `json:"file_name,omitempty"`
	Attempts      int       `json:"attempts"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `gorm:"index" json:"finished_at"`
}

// TableName overrides the gorm default
func (AcquisitionRecord) TableName() string {
	return "acquisition_records"
}
