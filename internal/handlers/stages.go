// stages.go
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

package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/stemflow/internal/cache"
	"github.com/localnerve/stemflow/internal/middleware"
	"github.com/localnerve/stemflow/internal/models"
	"github.com/localnerve/stemflow/internal/services"
	"github.com/localnerve/stemflow/internal/types"
	"github.com/localnerve/stemflow/internal/utils"
)

// Presigner turns stored paths into time-limited URLs
type Presigner interface {
	PresignGet(ctx context.Context, key string) (string, error)
	PresignTTL() time.Duration
}

// StageHandler handles stage, diff, playback and upstream submission routes
type StageHandler struct {
	Workflow *services.Workflow
	Store    Presigner
	Cache    *cache.PlaybackCache
}

// GetStage handles GET /api/stages/:stage
// @Summary Get a stage
// @Description Get a stage with its guide and frozen stem snapshot
// @Tags Stages
// @Produce json
// @Param stage path int true "Stage ID"
// @Success 200 {object} models.Stage
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /stages/{stage} [get]
func (h *StageHandler) GetStage(c *fiber.Ctx) error {
	stage, err := h.memberStage(c)
	if err != nil {
		return workflowErrorResponse(c, err, "getStage")
	}
	return utils.SuccessResponse(c, stage, fiber.StatusOK)
}

// RejectStage handles POST /api/stages/:stage/reject
// @Summary Reject the active stage
// @Description Reject the active stage and reopen the approved stage before it (owner only)
// @Tags Stages
// @Produce json
// @Param stage path int true "Stage ID"
// @Success 200 {object} utils.SuccessResponseStruct
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Router /stages/{stage}/reject [post]
func (h *StageHandler) RejectStage(c *fiber.Ctx) error {
	stageID, err := paramID(c, "stage")
	if err != nil {
		return workflowErrorResponse(c, err, "rejectStage")
	}
	stage, err := h.Workflow.GetStage(c.UserContext(), stageID)
	if err != nil {
		return workflowErrorResponse(c, err, "rejectStage")
	}
	if err := authorizeTrack(c, h.Workflow, stage.TrackID, true); err != nil {
		return workflowErrorResponse(c, err, "rejectStage")
	}

	reopened, err := h.Workflow.RejectStage(c.UserContext(), stageID)
	if err != nil {
		return workflowErrorResponse(c, err, "rejectStage")
	}
	return utils.MutationSuccessResponse(c, reopened.Version, 1)
}

// Diff handles GET /api/stages/:stage/diff?stems=1,2,3
// @Summary Preview a diff
// @Description Classify proposed stems against the stage snapshot, new first, then modify, then unchanged
// @Tags Stages
// @Produce json
// @Param stage path int true "Stage ID"
// @Param stems query string true "Comma-separated stem IDs"
// @Success 200 {array} services.DiffEntry
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /stages/{stage}/diff [get]
func (h *StageHandler) Diff(c *fiber.Ctx) error {
	stemIDs, err := parseIDList(c, "stems")
	if err != nil || len(stemIDs) == 0 {
		return utils.ErrorResponse(c, "Invalid stems", fiber.StatusBadRequest, "data.validation.input")
	}

	stage, err := h.memberStage(c)
	if err != nil {
		return workflowErrorResponse(c, err, "diff")
	}

	diff, err := h.Workflow.ComputeDiff(c.UserContext(), stage.StageID, stemIDs)
	if err != nil {
		return workflowErrorResponse(c, err, "diff")
	}
	return utils.SuccessResponse(c, diff, fiber.StatusOK)
}

// Playback handles GET /api/stages/:stage/playback
// @Summary Stage playback set
// @Description Presigned URLs for the stage's guide and frozen stems
// @Tags Stages
// @Produce json
// @Param stage path int true "Stage ID"
// @Success 200 {object} cache.PlaybackSet
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 503 {object} utils.ErrorResponseStruct
// @Router /stages/{stage}/playback [get]
func (h *StageHandler) Playback(c *fiber.Ctx) error {
	stage, err := h.memberStage(c)
	if err != nil {
		return workflowErrorResponse(c, err, "playback")
	}

	if set, ok := h.Cache.Get(c.UserContext(), stage.StageID); ok {
		return utils.SuccessResponse(c, set, fiber.StatusOK)
	}

	if h.Store == nil {
		return utils.ErrorResponse(c, "Object storage is not configured", fiber.StatusServiceUnavailable, "playback")
	}

	set, err := buildPlayback(c.UserContext(), h.Store, stage)
	if err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusBadGateway, "playback")
	}
	h.Cache.Set(c.UserContext(), set)

	return utils.SuccessResponse(c, set, fiber.StatusOK)
}

// buildPlayback presigns every artifact needed to reconstruct a stage
func buildPlayback(ctx context.Context, store Presigner, stage *models.Stage) (*cache.PlaybackSet, error) {
	set := &cache.PlaybackSet{
		StageID:   stage.StageID,
		Version:   stage.Version,
		Stems:     make([]cache.PlaybackStem, 0, len(stage.VersionStems)),
		ExpiresAt: time.Now().UTC().Add(store.PresignTTL()),
	}

	if stage.Guide != nil {
		var err error
		if set.GuideURL, err = store.PresignGet(ctx, stage.Guide.MixPath); err != nil {
			return nil, err
		}
		if set.WaveformURL, err = store.PresignGet(ctx, stage.Guide.WaveformPath); err != nil {
			return nil, err
		}
	}

	for _, vs := range stage.VersionStems {
		url, err := store.PresignGet(ctx, vs.FilePath)
		if err != nil {
			return nil, err
		}
		set.Stems = append(set.Stems, cache.PlaybackStem{
			VersionStemID: vs.VersionStemID,
			Identity:      vs.Identity,
			Category:      vs.Category,
			URL:           url,
		})
	}
	return set, nil
}

// ListUpstreams handles GET /api/stages/:stage/upstreams
// @Summary List upstreams
// @Description List the upstreams submitted against a stage
// @Tags Upstreams
// @Produce json
// @Param stage path int true "Stage ID"
// @Success 200 {array} models.Upstream
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /stages/{stage}/upstreams [get]
func (h *StageHandler) ListUpstreams(c *fiber.Ctx) error {
	stage, err := h.memberStage(c)
	if err != nil {
		return workflowErrorResponse(c, err, "listUpstreams")
	}

	upstreams, err := h.Workflow.ListUpstreams(c.UserContext(), stage.StageID)
	if err != nil {
		return workflowErrorResponse(c, err, "listUpstreams")
	}
	return utils.SuccessResponse(c, upstreams, fiber.StatusOK)
}

// CreateUpstream handles POST /api/stages/:stage/upstreams
// @Summary Submit an upstream
// @Description Propose a stem set against the active stage and assign reviewers
// @Tags Upstreams
// @Accept json
// @Produce json
// @Param stage path int true "Stage ID"
// @Param body body object true "title, description, stemIds, reviewers"
// @Success 201 {object} models.Upstream
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /stages/{stage}/upstreams [post]
func (h *StageHandler) CreateUpstream(c *fiber.Ctx) error {
	var body struct {
		Title       string                           `json:"title"`
		Description string                           `json:"description"`
		StemIDs     types.FlexList[types.FlexUint64] `json:"stemIds"`
		Reviewers   types.FlexList[string]           `json:"reviewers"`
	}
	if err := c.BodyParser(&body); err != nil || len(body.StemIDs) == 0 {
		return utils.ErrorResponse(c, "Invalid input", fiber.StatusBadRequest, "data.validation.input")
	}

	stage, err := h.memberStage(c)
	if err != nil {
		return workflowErrorResponse(c, err, "createUpstream")
	}

	var stemIDs []uint64
	for _, id := range types.Distinct(body.StemIDs.Slice()) {
		stemIDs = append(stemIDs, id.Uint64())
	}
	if len(stemIDs) == 0 {
		return utils.ErrorResponse(c, "Invalid stems", fiber.StatusBadRequest, "data.validation.input")
	}

	upstream, err := h.Workflow.CreateUpstream(c.UserContext(), services.UpstreamInput{
		StageID:     stage.StageID,
		Title:       body.Title,
		Description: body.Description,
		SubmittedBy: middleware.UserID(c),
		StemIDs:     stemIDs,
		Reviewers:   types.Distinct(body.Reviewers.Slice()),
	})
	if err != nil {
		return workflowErrorResponse(c, err, "createUpstream")
	}
	return utils.SuccessResponse(c, upstream, fiber.StatusCreated)
}

// memberStage loads the route's stage after checking track membership
func (h *StageHandler) memberStage(c *fiber.Ctx) (*models.Stage, error) {
	stageID, err := paramID(c, "stage")
	if err != nil {
		return nil, err
	}
	stage, err := h.Workflow.GetStage(c.UserContext(), stageID)
	if err != nil {
		return nil, err
	}
	if err := authorizeTrack(c, h.Workflow, stage.TrackID, false); err != nil {
		return nil, err
	}
	return stage, nil
}
