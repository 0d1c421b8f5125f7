package models

import (
	"time"
)

// Guide is the reference mix and waveform for exactly one stage
type Guide struct {
	GuideID      uint64    `gorm:"primaryKey;autoIncrement" json:"guideId"`
	StageID      uint64    `gorm:"not null;uniqueIndex" json:"stageId"`
	MixPath      string    `gorm:"size:1024" json:"mixPath"`
	WaveformPath string    `gorm:"size:1024" json:"waveformPath"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Stems        []Stem    `gorm:"many2many:guide_stems;joinForeignKey:GuideID;joinReferences:StemID" json:"stems,omitempty"`
}

// GuideStem is the join row between a guide and a stem it was built from
type GuideStem struct {
	GuideID   uint64    `gorm:"primaryKey" json:"guideId"`
	StemID    uint64    `gorm:"primaryKey" json:"stemId"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName overrides the table name for Guide
func (Guide) TableName() string {
	return "guides"
}

// TableName overrides the table name for GuideStem
func (GuideStem) TableName() string {
	return "guide_stems"
}
