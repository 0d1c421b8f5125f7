package services

import (
	"context"
	"errors"
	"strings"

	"github.com/localnerve/stemflow/internal/logger"
	"github.com/localnerve/stemflow/internal/models"
	"gorm.io/gorm"
)

// UpstreamInput describes a proposed change set against an active stage
type UpstreamInput struct {
	StageID     uint64
	Title       string
	Description string
	SubmittedBy string
	StemIDs     []uint64
	Reviewers   []string
}

// CreateUpstream classifies the proposed stems against the stage and
// records the upstream with its reviewers. The track owner's review is
// stored already approved.
func (w *Workflow) CreateUpstream(ctx context.Context, input UpstreamInput) (*models.Upstream, error) {
	if len(input.StemIDs) == 0 {
		return nil, invalidState("upstream proposes no stems")
	}
	if input.SubmittedBy == "" {
		return nil, invalidState("upstream submitter is required")
	}

	stage, err := w.GetStage(ctx, input.StageID)
	if err != nil {
		return nil, err
	}

	var upstream models.Upstream
	err = w.withTrackLock(ctx, "create upstream", stage.TrackID, func(tx *gorm.DB, track *models.Track) error {
		target, err := getStage(tx, input.StageID)
		if err != nil {
			return err
		}
		if target.Status != models.StageActive {
			return invalidState("stage %d is %s and accepts no upstreams", target.StageID, target.Status)
		}

		entries, err := computeDiff(tx, target.StageID, input.StemIDs)
		if err != nil {
			return err
		}

		upstream = models.Upstream{
			TrackID:     target.TrackID,
			StageID:     target.StageID,
			Title:       strings.TrimSpace(input.Title),
			Description: input.Description,
			SubmittedBy: input.SubmittedBy,
			Status:      models.UpstreamPending,
		}
		for _, entry := range entries {
			upstream.Stems = append(upstream.Stems, models.UpstreamStem{
				StemID:        entry.StemID,
				VersionStemID: entry.VersionStemID,
				Identity:      entry.Identity,
				Category:      entry.Category,
				FilePath:      entry.FilePath,
				Kind:          entry.Kind,
			})
		}
		upstream.Reviews = reviewsFor(track.OwnerID, input.Reviewers)

		return tx.Create(&upstream).Error
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Upstream created",
		logger.Uint64("upstreamID", upstream.UpstreamID),
		logger.Uint64("stageID", upstream.StageID),
		logger.Int("stems", len(upstream.Stems)),
		logger.Int("reviewers", len(upstream.Reviews)))

	return &upstream, nil
}

// reviewsFor builds the owner's approved review plus pending reviews for the others
func reviewsFor(ownerID string, reviewers []string) []models.Review {
	now := nowUTC()
	reviews := []models.Review{{UserID: ownerID, Decision: models.DecisionApproved, DecidedAt: &now}}
	seen := map[string]bool{ownerID: true}
	for _, userID := range reviewers {
		if userID == "" || seen[userID] {
			continue
		}
		seen[userID] = true
		reviews = append(reviews, models.Review{UserID: userID, Decision: models.DecisionPending})
	}
	return reviews
}

// GetUpstream returns an upstream with its diff entries and reviews
func (w *Workflow) GetUpstream(ctx context.Context, upstreamID uint64) (*models.Upstream, error) {
	return getUpstream(w.DB.WithContext(ctx), upstreamID)
}

func getUpstream(db *gorm.DB, upstreamID uint64) (*models.Upstream, error) {
	var upstream models.Upstream
	err := quiet(db).
		Preload("Stems").
		Preload("Reviews", func(db *gorm.DB) *gorm.DB { return db.Order("review_id ASC") }).
		First(&upstream, upstreamID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("upstream %d", upstreamID)
		}
		return nil, err
	}
	return &upstream, nil
}

// ListUpstreams returns the upstreams submitted against a stage
func (w *Workflow) ListUpstreams(ctx context.Context, stageID uint64) ([]models.Upstream, error) {
	if _, err := w.GetStage(ctx, stageID); err != nil {
		return nil, err
	}
	var upstreams []models.Upstream
	err := w.DB.WithContext(ctx).
		Preload("Reviews").
		Where("stage_id = ?", stageID).
		Order("upstream_id ASC").
		Find(&upstreams).Error
	return upstreams, err
}

// UpstreamDiff returns the diff recorded when the upstream was submitted
func (w *Workflow) UpstreamDiff(ctx context.Context, upstreamID uint64) ([]DiffEntry, error) {
	upstream, err := w.GetUpstream(ctx, upstreamID)
	if err != nil {
		return nil, err
	}
	entries := make([]DiffEntry, 0, len(upstream.Stems))
	for _, s := range upstream.Stems {
		entries = append(entries, DiffEntry{
			StemID:        s.StemID,
			VersionStemID: s.VersionStemID,
			Identity:      s.Identity,
			Category:      s.Category,
			FilePath:      s.FilePath,
			Kind:          s.Kind,
		})
	}
	sortDiff(entries)
	return entries, nil
}

// AddComment attaches a note at a playback position, in seconds, to an upstream
func (w *Workflow) AddComment(ctx context.Context, upstreamID uint64, userID string, position float64, text string) (*models.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalidState("comment text is required")
	}
	if position < 0 {
		return nil, invalidState("comment position must not be negative")
	}
	if _, err := w.GetUpstream(ctx, upstreamID); err != nil {
		return nil, err
	}

	comment := models.Comment{
		UpstreamID: upstreamID,
		UserID:     userID,
		Position:   position,
		Text:       text,
	}
	if err := w.DB.WithContext(ctx).Create(&comment).Error; err != nil {
		return nil, err
	}
	return &comment, nil
}

// ListComments returns an upstream's comments in playback order
func (w *Workflow) ListComments(ctx context.Context, upstreamID uint64) ([]models.Comment, error) {
	if _, err := w.GetUpstream(ctx, upstreamID); err != nil {
		return nil, err
	}
	var comments []models.Comment
	err := w.DB.WithContext(ctx).
		Where("upstream_id = ?", upstreamID).
		Order("position ASC, comment_id ASC").
		Find(&comments).Error
	return comments, err
}
