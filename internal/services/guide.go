package services

import (
	"context"
	"errors"

	"github.com/localnerve/stemflow/internal/audio"
	"github.com/localnerve/stemflow/internal/logger"
	"github.com/localnerve/stemflow/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Materialize renders the stage's guide from its snapshot and creates or
// updates the stage's single Guide record.
func Materialize(ctx context.Context, tx *gorm.DB, mixer audio.Mixer, stage *models.Stage, versionStems []models.VersionStem) (*models.Guide, error) {
	paths := make([]string, 0, len(versionStems))
	for _, vs := range versionStems {
		paths = append(paths, vs.FilePath)
	}

	result, err := mixer.Mix(ctx, audio.MixRequest{
		TrackID:      stage.TrackID,
		StageID:      stage.StageID,
		StageVersion: stage.Version,
		StemPaths:    paths,
	})
	if err != nil {
		return nil, err
	}

	var guide models.Guide
	err = quiet(tx).Where("stage_id = ?", stage.StageID).First(&guide).Error
	switch {
	case err == nil:
		err = tx.Model(&guide).Updates(map[string]interface{}{
			"mix_path":      result.MixPath,
			"waveform_path": result.WaveformPath,
		}).Error
		if err != nil {
			return nil, err
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		guide = models.Guide{
			StageID:      stage.StageID,
			MixPath:      result.MixPath,
			WaveformPath: result.WaveformPath,
		}
		if err := tx.Create(&guide).Error; err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if _, err := LinkStems(tx, guide.GuideID, paths); err != nil {
		return nil, err
	}

	logger.Debug("Guide materialized",
		logger.Uint64("stageID", stage.StageID),
		logger.Uint64("guideID", guide.GuideID),
		logger.String("mixPath", guide.MixPath))

	return &guide, nil
}

// LinkStems associates the guide with the live stems behind filePaths.
// Paths that resolve to no stem of the guide's track are logged and skipped.
// Returns the number of links added.
func LinkStems(tx *gorm.DB, guideID uint64, filePaths []string) (int, error) {
	var trackID uint64
	err := tx.Table("guides").
		Select("stages.track_id").
		Joins("JOIN stages ON stages.stage_id = guides.stage_id").
		Where("guides.guide_id = ?", guideID).
		Scan(&trackID).Error
	if err != nil {
		return 0, err
	}
	if trackID == 0 {
		return 0, notFound("guide %d", guideID)
	}

	var links []models.GuideStem
	linked := make(map[uint64]bool)
	for _, filePath := range filePaths {
		var stems []models.Stem
		if err := tx.Where("track_id = ? AND file_path = ?", trackID, filePath).Find(&stems).Error; err != nil {
			return 0, err
		}
		if len(stems) == 0 {
			logger.Warn("Guide stem path did not resolve, skipping",
				logger.Uint64("guideID", guideID),
				logger.String("filePath", filePath))
			continue
		}
		for _, stem := range stems {
			if linked[stem.StemID] {
				continue
			}
			linked[stem.StemID] = true
			links = append(links, models.GuideStem{GuideID: guideID, StemID: stem.StemID})
		}
	}
	if len(links) == 0 {
		return 0, nil
	}

	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&links)
	return int(res.RowsAffected), res.Error
}
