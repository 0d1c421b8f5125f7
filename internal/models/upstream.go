package models

import (
	"time"
)

// Upstream and review statuses
const (
	UpstreamPending  = "pending"
	UpstreamApproved = "approved"
	UpstreamRejected = "rejected"

	DecisionPending  = "pending"
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// Diff entry kinds
const (
	KindNew       = "new"
	KindModify    = "modify"
	KindUnchanged = "unchanged"
)

// Upstream is a proposed change set against a track's active stage
type Upstream struct {
	UpstreamID    uint64         `gorm:"primaryKey;autoIncrement" json:"upstreamId"`
	TrackID       uint64         `gorm:"not null;index" json:"trackId"`
	StageID       uint64         `gorm:"not null;index" json:"stageId"`
	Title         string         `gorm:"size:255" json:"title"`
	Description   string         `gorm:"type:text" json:"description"`
	SubmittedBy   string         `gorm:"size:64;not null" json:"submittedBy"`
	Status        string         `gorm:"size:16;not null;index" json:"status"`
	MergedStageID *uint64        `gorm:"index" json:"mergedStageId,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	Stems         []UpstreamStem `gorm:"foreignKey:UpstreamID" json:"stems,omitempty"`
	Reviews       []Review       `gorm:"foreignKey:UpstreamID" json:"reviews,omitempty"`
	Comments      []Comment      `gorm:"foreignKey:UpstreamID" json:"comments,omitempty"`
}

// UpstreamStem is one classified entry of an upstream's diff.
// FilePath is captured at submission time.
type UpstreamStem struct {
	UpstreamStemID uint64    `gorm:"primaryKey;autoIncrement" json:"upstreamStemId"`
	UpstreamID     uint64    `gorm:"not null;index" json:"upstreamId"`
	StemID         uint64    `gorm:"not null" json:"stemId"`
	VersionStemID  *uint64   `json:"versionStemId"`
	Identity       string    `gorm:"size:255;not null" json:"identity"`
	Category       string    `gorm:"size:64;not null" json:"category"`
	FilePath       string    `gorm:"size:1024;not null" json:"filePath"`
	Kind           string    `gorm:"size:16;not null" json:"kind"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Review is a user's assignment to, and decision on, an upstream
type Review struct {
	ReviewID   uint64     `gorm:"primaryKey;autoIncrement" json:"reviewId"`
	UpstreamID uint64     `gorm:"not null;index:idx_review_upstream_user,unique" json:"upstreamId"`
	UserID     string     `gorm:"size:64;not null;index:idx_review_upstream_user,unique" json:"userId"`
	Decision   string     `gorm:"size:16;not null" json:"decision"`
	DecidedAt  *time.Time `json:"decidedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Comment is a note pinned to a playback position of an upstream
type Comment struct {
	CommentID  uint64    `gorm:"primaryKey;autoIncrement" json:"commentId"`
	UpstreamID uint64    `gorm:"not null;index" json:"upstreamId"`
	UserID     string    `gorm:"size:64;not null" json:"userId"`
	Position   float64   `gorm:"not null;default:0" json:"position"`
	Text       string    `gorm:"type:text;not null" json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName overrides the table name for Upstream
func (Upstream) TableName() string {
	return "upstreams"
}

// TableName overrides the table name for UpstreamStem
func (UpstreamStem) TableName() string {
	return "upstream_stems"
}

// TableName overrides the table name for Review
func (Review) TableName() string {
	return "reviews"
}

// TableName overrides the table name for Comment
func (Comment) TableName() string {
	return "comments"
}
