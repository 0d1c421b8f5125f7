package models

import (
	"time"
)

// Stem is a live uploaded audio layer. FilePath may change; Identity never does.
type Stem struct {
	StemID     uint64    `gorm:"primaryKey;autoIncrement" json:"stemId"`
	TrackID    uint64    `gorm:"not null;index" json:"trackId"`
	Identity   string    `gorm:"size:255;not null;index" json:"identity"`
	Category   string    `gorm:"size:64;not null" json:"category"`
	FilePath   string    `gorm:"size:1024;not null;index" json:"filePath"`
	UploadedBy string    `gorm:"size:64" json:"uploadedBy"`
	Meta       JSON      `json:"meta,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// VersionStem freezes one stem's file as it was when a stage was created.
// Rows are only ever inserted, and deleted by rollback.
type VersionStem struct {
	VersionStemID uint64    `gorm:"primaryKey;autoIncrement" json:"versionStemId"`
	StageID       uint64    `gorm:"not null;index:idx_version_stem_stage_identity,unique" json:"stageId"`
	StemID        uint64    `gorm:"not null;index" json:"stemId"`
	Identity      string    `gorm:"size:255;not null;index:idx_version_stem_stage_identity,unique" json:"identity"`
	Category      string    `gorm:"size:64;not null" json:"category"`
	FilePath      string    `gorm:"size:1024;not null" json:"filePath"`
	CreatedAt     time.Time `json:"createdAt"`
}

// TableName overrides the table name for Stem
func (Stem) TableName() string {
	return "stems"
}

// TableName overrides the table name for VersionStem
func (VersionStem) TableName() string {
	return "version_stems"
}
