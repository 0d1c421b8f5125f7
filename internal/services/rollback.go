// rollback.go
//
// Collaborative stem revision and review service
// Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC
//
// This file is part of stemflow.
// stemflow is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// stemflow is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.
// You should have received a copy of the GNU Affero General Public License along with stemflow.
// If not, see <https://www.gnu.org/licenses/>.
// Additional terms under GNU AGPL version 3 section 7:
// a) The reasonable legal notice of original copyright and author attribution must be preserved
//    by including the string: "Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC"
//    in this material, copies, or source code of derived works.

package services

import (
	"context"
	"errors"

	"github.com/localnerve/stemflow/internal/logger"
	"github.com/localnerve/stemflow/internal/models"
	"gorm.io/gorm"
)

// RollbackResult reports what a rollback removed
type RollbackResult struct {
	TrackID         uint64           `json:"trackId"`
	TargetVersion   uint64           `json:"targetVersion"`
	DeletedStageIDs []uint64         `json:"deletedStageIds"`
	Deleted         map[string]int64 `json:"deleted"`
}

// cascadeIDs holds the ids collected per table during a rollback walk
type cascadeIDs map[string][]uint64

// cascadeNode is one table in the rollback dependency graph. Rows are
// collected parent first and deleted children first.
type cascadeNode struct {
	table    string
	model    interface{}
	column   string
	collect  func(tx *gorm.DB, ids cascadeIDs) ([]uint64, error)
	children []*cascadeNode
}

func pluckIDs(tx *gorm.DB, model interface{}, column string, query string, args ...interface{}) ([]uint64, error) {
	var ids []uint64
	err := tx.Model(model).Where(query, args...).Pluck(column, &ids).Error
	return ids, err
}

// rollbackGraph describes everything hanging off the stages being removed
func rollbackGraph(trackID, targetVersion uint64) *cascadeNode {
	byUpstream := func(model interface{}, column string) func(*gorm.DB, cascadeIDs) ([]uint64, error) {
		return func(tx *gorm.DB, ids cascadeIDs) ([]uint64, error) {
			return pluckIDs(tx, model, column, "upstream_id IN ?", ids["upstreams"])
		}
	}

	return &cascadeNode{
		table:  "stages",
		model:  &models.Stage{},
		column: "stage_id",
		collect: func(tx *gorm.DB, _ cascadeIDs) ([]uint64, error) {
			return pluckIDs(tx, &models.Stage{}, "stage_id", "track_id = ? AND version > ?", trackID, targetVersion)
		},
		children: []*cascadeNode{
			{
				table:  "guides",
				model:  &models.Guide{},
				column: "guide_id",
				collect: func(tx *gorm.DB, ids cascadeIDs) ([]uint64, error) {
					return pluckIDs(tx, &models.Guide{}, "guide_id", "stage_id IN ?", ids["stages"])
				},
				children: []*cascadeNode{
					{
						table:  "guide_stems",
						model:  &models.GuideStem{},
						column: "guide_id",
						collect: func(_ *gorm.DB, ids cascadeIDs) ([]uint64, error) {
							return ids["guides"], nil
						},
					},
				},
			},
			{
				table:  "version_stems",
				model:  &models.VersionStem{},
				column: "version_stem_id",
				collect: func(tx *gorm.DB, ids cascadeIDs) ([]uint64, error) {
					return pluckIDs(tx, &models.VersionStem{}, "version_stem_id", "stage_id IN ?", ids["stages"])
				},
			},
			{
				table:  "upstreams",
				model:  &models.Upstream{},
				column: "upstream_id",
				collect: func(tx *gorm.DB, ids cascadeIDs) ([]uint64, error) {
					return pluckIDs(tx, &models.Upstream{}, "upstream_id",
						"stage_id IN ? OR merged_stage_id IN ?", ids["stages"], ids["stages"])
				},
				children: []*cascadeNode{
					{table: "upstream_stems", model: &models.UpstreamStem{}, column: "upstream_stem_id", collect: byUpstream(&models.UpstreamStem{}, "upstream_stem_id")},
					{table: "reviews", model: &models.Review{}, column: "review_id", collect: byUpstream(&models.Review{}, "review_id")},
					{table: "comments", model: &models.Comment{}, column: "comment_id", collect: byUpstream(&models.Comment{}, "comment_id")},
				},
			},
		},
	}
}

// walk collects ids parent first and returns the nodes in visit order.
// A node whose parent collected nothing is skipped.
func (n *cascadeNode) walk(tx *gorm.DB, ids cascadeIDs, order []*cascadeNode) ([]*cascadeNode, error) {
	collected, err := n.collect(tx, ids)
	if err != nil {
		return nil, err
	}
	if len(collected) == 0 {
		return order, nil
	}
	ids[n.table] = collected
	order = append(order, n)

	for _, child := range n.children {
		if order, err = child.walk(tx, ids, order); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Rollback deletes every stage of the track above targetVersion, with
// everything that depends on them, and reopens the target stage.
func (w *Workflow) Rollback(ctx context.Context, trackID uint64, targetVersion uint64) (*RollbackResult, error) {
	result := &RollbackResult{
		TrackID:       trackID,
		TargetVersion: targetVersion,
		Deleted:       map[string]int64{},
	}

	err := w.withTrackLock(ctx, "rollback", trackID, func(tx *gorm.DB, _ *models.Track) error {
		var target models.Stage
		err := quiet(tx).Where("track_id = ? AND version = ?", trackID, targetVersion).First(&target).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("version %d of track %d", targetVersion, trackID)
			}
			return err
		}
		if target.Status == models.StageActive {
			return invalidState("version %d is already active", targetVersion)
		}

		var active models.Stage
		err = quiet(tx).Where("track_id = ? AND status = ?", trackID, models.StageActive).First(&active).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return invalidState("track %d has no active stage", trackID)
			}
			return err
		}
		if target.Version > active.Version {
			return invalidState("version %d is newer than active version %d", targetVersion, active.Version)
		}

		ids := cascadeIDs{}
		order, err := rollbackGraph(trackID, targetVersion).walk(tx, ids, nil)
		if err != nil {
			return err
		}

		for i := len(order) - 1; i >= 0; i-- {
			node := order[i]
			res := tx.Where(node.column+" IN ?", ids[node.table]).Delete(node.model)
			if res.Error != nil {
				return res.Error
			}
			result.Deleted[node.table] = res.RowsAffected
		}
		result.DeletedStageIDs = ids["stages"]

		return tx.Model(&target).Update("status", models.StageActive).Error
	})
	rollbacksTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		logger.Warn("Rollback failed",
			logger.Uint64("trackID", trackID),
			logger.Uint64("targetVersion", targetVersion),
			logger.ErrorField(err))
		return nil, err
	}

	stagesDeletedTotal.Add(float64(len(result.DeletedStageIDs)))
	logger.Info("Track rolled back",
		logger.Uint64("trackID", trackID),
		logger.Uint64("targetVersion", targetVersion),
		logger.Int("stagesDeleted", len(result.DeletedStageIDs)))

	return result, nil
}
