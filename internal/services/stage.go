package services

import (
	"context"
	"errors"

	"github.com/localnerve/stemflow/internal/logger"
	"github.com/localnerve/stemflow/internal/models"
	"gorm.io/gorm"
	"gorm.io/hints"
)

// OpenInitialStage creates version 1 of a track from its current stems
func (w *Workflow) OpenInitialStage(ctx context.Context, trackID uint64, userID string) (*models.Stage, error) {
	var stage *models.Stage

	err := w.withTrackLock(ctx, "open initial stage", trackID, func(tx *gorm.DB, track *models.Track) error {
		var count int64
		if err := tx.Model(&models.Stage{}).Where("track_id = ?", trackID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return conflict("track %d already has stages", trackID)
		}

		var stems []models.Stem
		if err := tx.Where("track_id = ?", trackID).Order("stem_id ASC").Find(&stems).Error; err != nil {
			return err
		}
		selections := make([]StemSelection, 0, len(stems))
		for _, stem := range latestStemsByIdentity(stems) {
			selections = append(selections, SelectStem(stem))
		}

		stage = &models.Stage{
			TrackID:   trackID,
			Version:   1,
			Status:    models.StageActive,
			CreatedBy: userID,
		}
		if err := tx.Create(stage).Error; err != nil {
			if isDuplicateKey(err) {
				return conflict("track %d already has stages", trackID)
			}
			return err
		}

		versionStems, err := SnapshotStage(tx, stage.StageID, selections)
		if err != nil {
			return err
		}
		stage.VersionStems = versionStems

		stage.Guide, err = Materialize(ctx, tx, w.Mixer, stage, versionStems)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Initial stage opened",
		logger.Uint64("trackID", trackID),
		logger.Uint64("stageID", stage.StageID),
		logger.Int("stems", len(stage.VersionStems)))

	return stage, nil
}

// MergeUpstream advances the track by merging an approved upstream into
// its active target stage.
func (w *Workflow) MergeUpstream(ctx context.Context, upstreamID uint64) (*models.Stage, error) {
	upstream, err := w.GetUpstream(ctx, upstreamID)
	if err != nil {
		return nil, err
	}

	var stage *models.Stage
	err = w.withTrackLock(ctx, "merge upstream", upstream.TrackID, func(tx *gorm.DB, _ *models.Track) error {
		var err error
		stage, err = w.mergeUpstreamTx(ctx, tx, upstreamID)
		return err
	})
	mergesTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		return nil, err
	}
	return stage, nil
}

// mergeUpstreamTx runs the merge inside a transaction that already holds the track lock
func (w *Workflow) mergeUpstreamTx(ctx context.Context, tx *gorm.DB, upstreamID uint64) (*models.Stage, error) {
	var upstream models.Upstream
	if err := quiet(tx).Preload("Stems").First(&upstream, upstreamID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("upstream %d", upstreamID)
		}
		return nil, err
	}
	if upstream.Status != models.UpstreamApproved {
		return nil, invalidState("upstream %d is %s", upstreamID, upstream.Status)
	}
	if upstream.MergedStageID != nil {
		return nil, invalidState("upstream %d was already merged into stage %d", upstreamID, *upstream.MergedStageID)
	}

	target, err := getStage(tx, upstream.StageID)
	if err != nil {
		return nil, err
	}

	head, err := headVersion(tx, target.TrackID)
	if err != nil {
		return nil, err
	}

	if target.Status != models.StageActive {
		if head > target.Version {
			return nil, versionConflict("track %d advanced past version %d", target.TrackID, target.Version)
		}
		return nil, invalidState("stage %d is %s", target.StageID, target.Status)
	}

	res := tx.Model(&models.Stage{}).
		Where("stage_id = ? AND status = ? AND version = ?", target.StageID, models.StageActive, target.Version).
		Update("status", models.StageApproved)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, versionConflict("stage %d changed during merge", target.StageID)
	}

	stage := &models.Stage{
		TrackID:   target.TrackID,
		Version:   head + 1,
		Status:    models.StageActive,
		CreatedBy: upstream.SubmittedBy,
	}
	if err := tx.Create(stage).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, versionConflict("version %d of track %d already exists", stage.Version, stage.TrackID)
		}
		return nil, err
	}

	snapshot, err := ListVersionStems(tx, target.StageID)
	if err != nil {
		return nil, err
	}
	versionStems, err := SnapshotStage(tx, stage.StageID, overlayUpstream(snapshot, upstream.Stems))
	if err != nil {
		return nil, err
	}
	stage.VersionStems = versionStems

	if stage.Guide, err = Materialize(ctx, tx, w.Mixer, stage, versionStems); err != nil {
		return nil, err
	}

	err = tx.Model(&models.Upstream{}).
		Where("upstream_id = ?", upstreamID).
		Update("merged_stage_id", stage.StageID).Error
	if err != nil {
		return nil, err
	}

	logger.Info("Upstream merged",
		logger.Uint64("upstreamID", upstreamID),
		logger.Uint64("trackID", stage.TrackID),
		logger.Uint64("fromVersion", target.Version),
		logger.Uint64("toVersion", stage.Version))

	return stage, nil
}

// overlayUpstream applies an upstream's new and modified stems over a snapshot
func overlayUpstream(snapshot []models.VersionStem, entries []models.UpstreamStem) []StemSelection {
	selections := make([]StemSelection, 0, len(snapshot)+len(entries))
	index := make(map[string]int, len(snapshot))
	for _, vs := range snapshot {
		index[vs.Identity] = len(selections)
		selections = append(selections, StemSelection{
			StemID:   vs.StemID,
			Identity: vs.Identity,
			Category: vs.Category,
			FilePath: vs.FilePath,
		})
	}

	for _, entry := range entries {
		if entry.Kind == models.KindUnchanged {
			continue
		}
		sel := StemSelection{
			StemID:   entry.StemID,
			Identity: entry.Identity,
			Category: entry.Category,
			FilePath: entry.FilePath,
		}
		if i, ok := index[entry.Identity]; ok {
			selections[i] = sel
			continue
		}
		index[entry.Identity] = len(selections)
		selections = append(selections, sel)
	}
	return selections
}

// RejectStage discards an active stage's content and reopens the approved
// stage before it. The upstream merged into the stage is rejected too, so it
// cannot be merged again. The version counter does not move back.
func (w *Workflow) RejectStage(ctx context.Context, stageID uint64) (*models.Stage, error) {
	stage, err := w.GetStage(ctx, stageID)
	if err != nil {
		return nil, err
	}

	var reopened models.Stage
	err = w.withTrackLock(ctx, "reject stage", stage.TrackID, func(tx *gorm.DB, _ *models.Track) error {
		current, err := getStage(tx, stageID)
		if err != nil {
			return err
		}
		if current.Status != models.StageActive {
			return invalidState("stage %d is %s", stageID, current.Status)
		}
		if current.Version <= 1 {
			return invalidState("stage %d is the first version of its track", stageID)
		}

		err = quiet(tx).
			Where("track_id = ? AND version < ? AND status = ?", current.TrackID, current.Version, models.StageApproved).
			Order("version DESC").
			First(&reopened).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return invalidState("stage %d has no approved predecessor", stageID)
			}
			return err
		}

		res := tx.Model(&models.Stage{}).
			Where("stage_id = ? AND status = ?", stageID, models.StageActive).
			Update("status", models.StageRejected)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return versionConflict("stage %d changed during reject", stageID)
		}

		err = tx.Model(&models.Upstream{}).
			Where("stage_id = ? AND status = ?", stageID, models.UpstreamPending).
			Update("status", models.UpstreamRejected).Error
		if err != nil {
			return err
		}

		// the upstream that produced the rejected stage is rejected with it
		err = tx.Model(&models.Upstream{}).
			Where("merged_stage_id = ?", stageID).
			Update("status", models.UpstreamRejected).Error
		if err != nil {
			return err
		}

		reopened.Status = models.StageActive
		return tx.Model(&models.Stage{}).
			Where("stage_id = ?", reopened.StageID).
			Update("status", models.StageActive).Error
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Stage rejected",
		logger.Uint64("stageID", stageID),
		logger.Uint64("trackID", stage.TrackID),
		logger.Uint64("reopenedVersion", reopened.Version))

	return &reopened, nil
}

// GetStage returns a stage with its guide and snapshot
func (w *Workflow) GetStage(ctx context.Context, stageID uint64) (*models.Stage, error) {
	var stage models.Stage
	err := quiet(w.DB.WithContext(ctx)).
		Preload("Guide.Stems").
		Preload("VersionStems", func(db *gorm.DB) *gorm.DB { return db.Order("category ASC, identity ASC") }).
		First(&stage, stageID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("stage %d", stageID)
		}
		return nil, err
	}
	return &stage, nil
}

// ListStages returns a track's stage line in version order
func (w *Workflow) ListStages(ctx context.Context, trackID uint64) ([]models.Stage, error) {
	var stages []models.Stage
	err := w.DB.WithContext(ctx).
		Clauses(hints.CommentBefore("select", "stemflow:list_stages")).
		Where("track_id = ?", trackID).
		Order("version ASC").
		Find(&stages).Error
	return stages, err
}

// ActiveStage returns the stage currently open for upstreams
func (w *Workflow) ActiveStage(ctx context.Context, trackID uint64) (*models.Stage, error) {
	var stage models.Stage
	err := quiet(w.DB.WithContext(ctx)).
		Where("track_id = ? AND status = ?", trackID, models.StageActive).
		First(&stage).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("active stage of track %d", trackID)
		}
		return nil, err
	}
	return &stage, nil
}

func getStage(db *gorm.DB, stageID uint64) (*models.Stage, error) {
	var stage models.Stage
	if err := quiet(db).First(&stage, stageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("stage %d", stageID)
		}
		return nil, err
	}
	return &stage, nil
}

// headVersion is the highest version ever issued on the track
func headVersion(db *gorm.DB, trackID uint64) (uint64, error) {
	var head uint64
	err := db.Model(&models.Stage{}).
		Select("COALESCE(MAX(version), 0)").
		Where("track_id = ?", trackID).
		Scan(&head).Error
	return head, err
}
