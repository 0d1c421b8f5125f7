package models

import (
	"time"
)

// Stage statuses
const (
	StageActive   = "active"
	StageApproved = "approved"
	StageRejected = "rejected"
)

// Stage is one numbered revision checkpoint of a track.
// (track_id, version) is unique; the version line has no gaps.
type Stage struct {
	StageID      uint64        `gorm:"primaryKey;autoIncrement" json:"stageId"`
	TrackID      uint64        `gorm:"not null;index:idx_stage_track_version,unique" json:"trackId"`
	Version      uint64        `gorm:"not null;index:idx_stage_track_version,unique" json:"version"`
	Status       string        `gorm:"size:16;not null;index" json:"status"`
	CreatedBy    string        `gorm:"size:64" json:"createdBy"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	Guide        *Guide        `gorm:"foreignKey:StageID" json:"guide,omitempty"`
	VersionStems []VersionStem `gorm:"foreignKey:StageID" json:"versionStems,omitempty"`
}

// TableName overrides the table name for Stage
func (Stage) TableName() string {
	return "stages"
}
