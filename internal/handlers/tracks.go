package handlers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/stemflow/internal/cache"
	"github.com/localnerve/stemflow/internal/middleware"
	"github.com/localnerve/stemflow/internal/services"
	"github.com/localnerve/stemflow/internal/types"
	"github.com/localnerve/stemflow/internal/utils"
)

// TrackHandler handles track, stage line and rollback routes
type TrackHandler struct {
	Workflow *services.Workflow
	Cache    *cache.PlaybackCache
}

// CreateTrack handles POST /api/tracks
// @Summary Create a track
// @Description Create a track owned by the caller with an optional collaborator set
// @Tags Tracks
// @Accept json
// @Produce json
// @Param body body object true "title, collaborators, meta"
// @Success 201 {object} models.Track
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Router /tracks [post]
func (h *TrackHandler) CreateTrack(c *fiber.Ctx) error {
	var body struct {
		Title         string                 `json:"title"`
		Collaborators types.FlexList[string] `json:"collaborators"`
		Meta          json.RawMessage        `json:"meta"`
	}
	if err := c.BodyParser(&body); err != nil || body.Title == "" {
		return utils.ErrorResponse(c, "Invalid input", fiber.StatusBadRequest, "data.validation.input")
	}

	track, err := h.Workflow.CreateTrack(c.UserContext(), services.TrackInput{
		Title:         body.Title,
		OwnerID:       middleware.UserID(c),
		Collaborators: body.Collaborators.Slice(),
		Meta:          body.Meta,
	})
	if err != nil {
		return workflowErrorResponse(c, err, "createTrack")
	}
	return utils.SuccessResponse(c, track, fiber.StatusCreated)
}

// GetTrack handles GET /api/tracks/:track
// @Summary Get a track
// @Description Get a track with its members and stage line
// @Tags Tracks
// @Produce json
// @Param track path int true "Track ID"
// @Success 200 {object} models.Track
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /tracks/{track} [get]
func (h *TrackHandler) GetTrack(c *fiber.Ctx) error {
	trackID, err := paramID(c, "track")
	if err != nil {
		return workflowErrorResponse(c, err, "getTrack")
	}
	if err := authorizeTrack(c, h.Workflow, trackID, false); err != nil {
		return workflowErrorResponse(c, err, "getTrack")
	}

	track, err := h.Workflow.GetTrack(c.UserContext(), trackID)
	if err != nil {
		return workflowErrorResponse(c, err, "getTrack")
	}
	return utils.SuccessResponse(c, track, fiber.StatusOK)
}

// AddCollaborator handles POST /api/tracks/:track/collaborators
// @Summary Add collaborators
// @Description Add users to the track's collaborator set (owner only)
// @Tags Tracks
// @Accept json
// @Produce json
// @Param track path int true "Track ID"
// @Param body body object true "userIds"
// @Success 200 {object} models.Track
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /tracks/{track}/collaborators [post]
func (h *TrackHandler) AddCollaborator(c *fiber.Ctx) error {
	trackID, err := paramID(c, "track")
	if err != nil {
		return workflowErrorResponse(c, err, "addCollaborator")
	}

	var body struct {
		UserIDs types.FlexList[string] `json:"userIds"`
	}
	if err := c.BodyParser(&body); err != nil || len(body.UserIDs) == 0 {
		return utils.ErrorResponse(c, "Invalid input", fiber.StatusBadRequest, "data.validation.input")
	}

	if err := authorizeTrack(c, h.Workflow, trackID, true); err != nil {
		return workflowErrorResponse(c, err, "addCollaborator")
	}
	for _, userID := range types.Distinct(body.UserIDs.Slice()) {
		if err := h.Workflow.AddCollaborator(c.UserContext(), trackID, userID); err != nil {
			return workflowErrorResponse(c, err, "addCollaborator")
		}
	}

	track, err := h.Workflow.GetTrack(c.UserContext(), trackID)
	if err != nil {
		return workflowErrorResponse(c, err, "addCollaborator")
	}
	return utils.SuccessResponse(c, track, fiber.StatusOK)
}

// OpenInitialStage handles POST /api/tracks/:track/stages
// @Summary Open the first stage
// @Description Create version 1 from the track's current stems (owner only)
// @Tags Stages
// @Produce json
// @Param track path int true "Track ID"
// @Success 201 {object} models.Stage
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Router /tracks/{track}/stages [post]
func (h *TrackHandler) OpenInitialStage(c *fiber.Ctx) error {
	trackID, err := paramID(c, "track")
	if err != nil {
		return workflowErrorResponse(c, err, "openInitialStage")
	}
	if err := authorizeTrack(c, h.Workflow, trackID, true); err != nil {
		return workflowErrorResponse(c, err, "openInitialStage")
	}

	stage, err := h.Workflow.OpenInitialStage(c.UserContext(), trackID, middleware.UserID(c))
	if err != nil {
		return workflowErrorResponse(c, err, "openInitialStage")
	}
	return utils.SuccessResponse(c, stage, fiber.StatusCreated)
}

// ListStages handles GET /api/tracks/:track/stages
// @Summary List stages
// @Description List the track's stages in version order
// @Tags Stages
// @Produce json
// @Param track path int true "Track ID"
// @Success 200 {array} models.Stage
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /tracks/{track}/stages [get]
func (h *TrackHandler) ListStages(c *fiber.Ctx) error {
	trackID, err := paramID(c, "track")
	if err != nil {
		return workflowErrorResponse(c, err, "listStages")
	}
	if err := authorizeTrack(c, h.Workflow, trackID, false); err != nil {
		return workflowErrorResponse(c, err, "listStages")
	}

	stages, err := h.Workflow.ListStages(c.UserContext(), trackID)
	if err != nil {
		return workflowErrorResponse(c, err, "listStages")
	}
	return utils.SuccessResponse(c, stages, fiber.StatusOK)
}

// Rollback handles POST /api/tracks/:track/rollback
// @Summary Roll back a track
// @Description Delete every stage above the target version and reopen the target (owner only)
// @Tags Stages
// @Accept json
// @Produce json
// @Param track path int true "Track ID"
// @Param body body object true "version"
// @Success 200 {object} utils.SuccessResponseStruct
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Router /tracks/{track}/rollback [post]
func (h *TrackHandler) Rollback(c *fiber.Ctx) error {
	trackID, err := paramID(c, "track")
	if err != nil {
		return workflowErrorResponse(c, err, "rollback")
	}

	var body struct {
		Version types.FlexUint64 `json:"version"`
	}
	if err := c.BodyParser(&body); err != nil || body.Version == 0 {
		return utils.ErrorResponse(c, "Invalid input", fiber.StatusBadRequest, "data.validation.input")
	}

	if err := authorizeTrack(c, h.Workflow, trackID, true); err != nil {
		return workflowErrorResponse(c, err, "rollback")
	}

	result, err := h.Workflow.Rollback(c.UserContext(), trackID, body.Version.Uint64())
	if err != nil {
		return workflowErrorResponse(c, err, "rollback")
	}
	h.Cache.Invalidate(c.UserContext(), result.DeletedStageIDs...)

	var affected int64
	for _, n := range result.Deleted {
		affected += n
	}
	return utils.MutationSuccessResponse(c, result.TargetVersion, affected)
}
