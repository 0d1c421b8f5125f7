package models

import (
	"time"
)

// Member roles on a track
const (
	RoleOwner        = "owner"
	RoleCollaborator = "collaborator"
)

// Track is a music project worked on by a set of collaborators
type Track struct {
	TrackID   uint64        `gorm:"primaryKey;autoIncrement" json:"trackId"`
	Title     string        `gorm:"size:255;not null" json:"title"`
	OwnerID   string        `gorm:"size:64;not null;index" json:"ownerId"`
	Meta      JSON          `json:"meta,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Members   []TrackMember `gorm:"foreignKey:TrackID" json:"members,omitempty"`
	Stages    []Stage       `gorm:"foreignKey:TrackID" json:"stages,omitempty"`
}

// TrackMember is one entry of a track's collaborator set
type TrackMember struct {
	TrackID   uint64    `gorm:"primaryKey" json:"trackId"`
	UserID    string    `gorm:"primaryKey;size:64" json:"userId"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName overrides the table name for Track
func (Track) TableName() string {
	return "tracks"
}

// TableName overrides the table name for TrackMember
func (TrackMember) TableName() string {
	return "track_members"
}
