package services

import (
	"context"
	"errors"
	"time"

	"github.com/localnerve/stemflow/internal/logger"
	"github.com/localnerve/stemflow/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errMergeRequired aborts a decision transaction whose outcome is approval
var errMergeRequired = errors.New("approval requires merge")

func nowUTC() time.Time {
	return time.Now().UTC()
}

// AggregateDecisions folds reviews into an upstream outcome. One rejection
// rejects; approval needs every review approved.
func AggregateDecisions(reviews []models.Review) string {
	if len(reviews) == 0 {
		return models.UpstreamPending
	}
	approved := 0
	for _, review := range reviews {
		switch review.Decision {
		case models.DecisionRejected:
			return models.UpstreamRejected
		case models.DecisionApproved:
			approved++
		}
	}
	if approved == len(reviews) {
		return models.UpstreamApproved
	}
	return models.UpstreamPending
}

// AssignReviewers adds pending reviews for users not yet reviewing the upstream
func (w *Workflow) AssignReviewers(ctx context.Context, upstreamID uint64, userIDs []string) ([]models.Review, error) {
	upstream, err := w.GetUpstream(ctx, upstreamID)
	if err != nil {
		return nil, err
	}
	if upstream.Status != models.UpstreamPending {
		return nil, invalidState("upstream %d is %s", upstreamID, upstream.Status)
	}

	stage, err := w.GetStage(ctx, upstream.StageID)
	if err != nil {
		return nil, err
	}
	if stage.Status != models.StageActive {
		return nil, ErrStageAlreadyDecided
	}

	track, err := w.GetTrack(ctx, upstream.TrackID)
	if err != nil {
		return nil, err
	}

	reviews := reviewsFor(track.OwnerID, userIDs)
	err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range reviews {
			reviews[i].UpstreamID = upstreamID
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&reviews).Error
	})
	if err != nil {
		return nil, asTransactionError("assign reviewers", err)
	}

	upstream, err = w.GetUpstream(ctx, upstreamID)
	if err != nil {
		return nil, err
	}
	return upstream.Reviews, nil
}

// RecordDecision stores a reviewer's decision and aggregates the upstream.
// An approving outcome merges the upstream in the same transaction.
func (w *Workflow) RecordDecision(ctx context.Context, upstreamID uint64, userID string, decision string) (*models.Upstream, error) {
	if decision != models.DecisionApproved && decision != models.DecisionRejected {
		return nil, invalidState("decision must be %s or %s", models.DecisionApproved, models.DecisionRejected)
	}

	upstream, err := w.GetUpstream(ctx, upstreamID)
	if err != nil {
		return nil, err
	}

	err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		outcome, err := recordDecisionTx(tx, upstreamID, userID, decision)
		if err != nil {
			return err
		}
		if outcome == models.UpstreamApproved {
			return errMergeRequired
		}
		return nil
	})

	if errors.Is(err, errMergeRequired) {
		err = w.withTrackLock(ctx, "record decision", upstream.TrackID, func(tx *gorm.DB, _ *models.Track) error {
			outcome, err := recordDecisionTx(tx, upstreamID, userID, decision)
			if err != nil {
				return err
			}
			if outcome != models.UpstreamApproved {
				return nil
			}
			_, err = w.mergeUpstreamTx(ctx, tx, upstreamID)
			return err
		})
		mergesTotal.WithLabelValues(resultLabel(err)).Inc()
	} else {
		err = asTransactionError("record decision", err)
	}
	if err != nil {
		return nil, err
	}

	decisionsTotal.WithLabelValues(decision).Inc()
	logger.Info("Review decision recorded",
		logger.Uint64("upstreamID", upstreamID),
		logger.String("userID", userID),
		logger.String("decision", decision))

	return w.GetUpstream(ctx, upstreamID)
}

// lockUpstream takes the upstream row lock; decisions on one upstream run one
// at a time so each aggregates over the others' committed reviews.
func lockUpstream(tx *gorm.DB, upstreamID uint64) error {
	var row models.Upstream
	err := quiet(tx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("upstream_id").
		First(&row, upstreamID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound("upstream %d", upstreamID)
	}
	return err
}

// recordDecisionTx applies one decision and persists the aggregate outcome
func recordDecisionTx(tx *gorm.DB, upstreamID uint64, userID string, decision string) (string, error) {
	if err := lockUpstream(tx, upstreamID); err != nil {
		return "", err
	}
	upstream, err := getUpstream(tx, upstreamID)
	if err != nil {
		return "", err
	}
	if upstream.Status != models.UpstreamPending {
		return "", invalidState("upstream %d is already %s", upstreamID, upstream.Status)
	}

	stage, err := getStage(tx, upstream.StageID)
	if err != nil {
		return "", err
	}
	if stage.Status != models.StageActive {
		return "", ErrStageAlreadyDecided
	}

	var review *models.Review
	for i := range upstream.Reviews {
		if upstream.Reviews[i].UserID == userID {
			review = &upstream.Reviews[i]
			break
		}
	}
	if review == nil {
		return "", ErrNotAReviewer
	}

	now := nowUTC()
	err = tx.Model(review).Updates(map[string]interface{}{
		"decision":   decision,
		"decided_at": now,
	}).Error
	if err != nil {
		return "", err
	}
	review.Decision = decision
	review.DecidedAt = &now

	return applyOutcome(tx, upstream)
}

// applyOutcome folds the upstream's reviews and stores a final outcome
func applyOutcome(tx *gorm.DB, upstream *models.Upstream) (string, error) {
	outcome := AggregateDecisions(upstream.Reviews)
	if outcome == models.UpstreamPending {
		return outcome, nil
	}

	res := tx.Model(&models.Upstream{}).
		Where("upstream_id = ? AND status = ?", upstream.UpstreamID, models.UpstreamPending).
		Update("status", outcome)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "", invalidState("upstream %d was decided concurrently", upstream.UpstreamID)
	}
	upstream.Status = outcome
	return outcome, nil
}

// Aggregate re-evaluates an upstream from its reviews and merges it on approval
func (w *Workflow) Aggregate(ctx context.Context, upstreamID uint64) (*models.Upstream, error) {
	upstream, err := w.GetUpstream(ctx, upstreamID)
	if err != nil {
		return nil, err
	}
	if upstream.Status != models.UpstreamPending {
		return upstream, nil
	}

	merged := false
	err = w.withTrackLock(ctx, "aggregate", upstream.TrackID, func(tx *gorm.DB, _ *models.Track) error {
		if err := lockUpstream(tx, upstreamID); err != nil {
			return err
		}
		current, err := getUpstream(tx, upstreamID)
		if err != nil {
			return err
		}
		if current.Status != models.UpstreamPending {
			return nil
		}

		stage, err := getStage(tx, current.StageID)
		if err != nil {
			return err
		}
		if stage.Status != models.StageActive {
			return ErrStageAlreadyDecided
		}

		outcome, err := applyOutcome(tx, current)
		if err != nil || outcome != models.UpstreamApproved {
			return err
		}
		merged = true
		_, err = w.mergeUpstreamTx(ctx, tx, upstreamID)
		return err
	})
	if merged {
		mergesTotal.WithLabelValues(resultLabel(err)).Inc()
	}
	if err != nil {
		return nil, err
	}

	return w.GetUpstream(ctx, upstreamID)
}
