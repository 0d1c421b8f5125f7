package services

import (
	"context"
	"errors"
	"strings"

	"github.com/localnerve/stemflow/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TrackInput describes a new track
type TrackInput struct {
	Title         string
	OwnerID       string
	Collaborators []string
	Meta          []byte
}

// CreateTrack creates a track with its owner and collaborator set. Stages
// are opened separately by OpenInitialStage.
func (w *Workflow) CreateTrack(ctx context.Context, input TrackInput) (*models.Track, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" || input.OwnerID == "" {
		return nil, invalidState("track title and owner are required")
	}

	track := models.Track{Title: title, OwnerID: input.OwnerID}
	meta, err := models.MetaJSON(input.Meta)
	if err != nil {
		return nil, invalidState("%s %v", "track", err)
	}
	track.Meta = meta

	err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&track).Error; err != nil {
			return err
		}

		members := []models.TrackMember{{TrackID: track.TrackID, UserID: input.OwnerID, Role: models.RoleOwner}}
		seen := map[string]bool{input.OwnerID: true}
		for _, userID := range input.Collaborators {
			if userID == "" || seen[userID] {
				continue
			}
			seen[userID] = true
			members = append(members, models.TrackMember{TrackID: track.TrackID, UserID: userID, Role: models.RoleCollaborator})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&members).Error
	})
	if err != nil {
		return nil, asTransactionError("create track", err)
	}

	return w.GetTrack(ctx, track.TrackID)
}

// GetTrack returns a track with its members and stage line
func (w *Workflow) GetTrack(ctx context.Context, trackID uint64) (*models.Track, error) {
	var track models.Track
	err := quiet(w.DB.WithContext(ctx)).
		Preload("Members").
		Preload("Stages", func(db *gorm.DB) *gorm.DB { return db.Order("version ASC") }).
		First(&track, trackID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("track %d", trackID)
		}
		return nil, err
	}
	return &track, nil
}

// AddCollaborator adds userID to the track's collaborator set
func (w *Workflow) AddCollaborator(ctx context.Context, trackID uint64, userID string) error {
	if userID == "" {
		return invalidState("collaborator id is required")
	}
	if _, err := w.GetTrack(ctx, trackID); err != nil {
		return err
	}
	member := models.TrackMember{TrackID: trackID, UserID: userID, Role: models.RoleCollaborator}
	return w.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&member).Error
}

// IsOwner reports whether userID owns the track
func (w *Workflow) IsOwner(ctx context.Context, trackID uint64, userID string) (bool, error) {
	track, err := w.GetTrack(ctx, trackID)
	if err != nil {
		return false, err
	}
	return track.OwnerID == userID, nil
}

// IsMember reports whether userID is the owner or a collaborator of the track
func (w *Workflow) IsMember(ctx context.Context, trackID uint64, userID string) (bool, error) {
	var count int64
	err := w.DB.WithContext(ctx).Model(&models.TrackMember{}).
		Where("track_id = ? AND user_id = ?", trackID, userID).
		Count(&count).Error
	return count > 0, err
}
