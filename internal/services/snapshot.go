package services

import (
	"context"

	"github.com/localnerve/stemflow/internal/logger"
	"github.com/localnerve/stemflow/internal/models"
	"gorm.io/gorm"
	"gorm.io/hints"
)

// StemSelection is one stem file frozen into a stage
type StemSelection struct {
	StemID   uint64
	Identity string
	Category string
	FilePath string
}

// SelectStem captures a live stem's current file
func SelectStem(stem models.Stem) StemSelection {
	return StemSelection{
		StemID:   stem.StemID,
		Identity: stem.Identity,
		Category: stem.Category,
		FilePath: stem.FilePath,
	}
}

// SnapshotStage freezes selections as the stage's VersionStems. A stage is
// snapshotted exactly once.
func SnapshotStage(tx *gorm.DB, stageID uint64, selections []StemSelection) ([]models.VersionStem, error) {
	var existing int64
	if err := tx.Model(&models.VersionStem{}).Where("stage_id = ?", stageID).Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		logger.Error("Stage already has a snapshot",
			logger.Uint64("stageID", stageID),
			logger.Int64("versionStems", existing))
		return nil, ErrDuplicateSnapshot
	}

	if len(selections) == 0 {
		return []models.VersionStem{}, nil
	}

	seen := make(map[string]bool, len(selections))
	rows := make([]models.VersionStem, 0, len(selections))
	for _, sel := range selections {
		if seen[sel.Identity] {
			return nil, invalidState("stem identity %s selected twice for stage %d", sel.Identity, stageID)
		}
		seen[sel.Identity] = true
		rows = append(rows, models.VersionStem{
			StageID:  stageID,
			StemID:   sel.StemID,
			Identity: sel.Identity,
			Category: sel.Category,
			FilePath: sel.FilePath,
		})
	}

	if err := tx.Create(&rows).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, ErrDuplicateSnapshot
		}
		return nil, err
	}
	return rows, nil
}

// ListVersionStems returns a stage's frozen stem set
func ListVersionStems(db *gorm.DB, stageID uint64) ([]models.VersionStem, error) {
	var rows []models.VersionStem
	err := db.Clauses(hints.CommentBefore("select", "stemflow:list_version_stems")).
		Where("stage_id = ?", stageID).
		Order("category ASC, identity ASC").
		Find(&rows).Error
	return rows, err
}

// ListVersionStems returns the frozen stem set of a stage
func (w *Workflow) ListVersionStems(ctx context.Context, stageID uint64) ([]models.VersionStem, error) {
	if _, err := w.GetStage(ctx, stageID); err != nil {
		return nil, err
	}
	return ListVersionStems(w.DB.WithContext(ctx), stageID)
}
