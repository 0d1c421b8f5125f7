package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/stemflow/internal/middleware"
	"github.com/localnerve/stemflow/internal/models"
	"github.com/localnerve/stemflow/internal/services"
	"github.com/localnerve/stemflow/internal/types"
	"github.com/localnerve/stemflow/internal/utils"
)

// UpstreamHandler handles review, merge and comment routes
type UpstreamHandler struct {
	Workflow *services.Workflow
}

// upstreamView is an upstream with its diff in review order
type upstreamView struct {
	*models.Upstream
	Diff []services.DiffEntry `json:"diff"`
}

// GetUpstream handles GET /api/upstreams/:upstream
// @Summary Get an upstream
// @Description Get an upstream with its reviews and the diff recorded at submission
// @Tags Upstreams
// @Produce json
// @Param upstream path int true "Upstream ID"
// @Success 200 {object} models.Upstream
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /upstreams/{upstream} [get]
func (h *UpstreamHandler) GetUpstream(c *fiber.Ctx) error {
	upstream, err := h.authorized(c, false)
	if err != nil {
		return workflowErrorResponse(c, err, "getUpstream")
	}

	diff, err := h.Workflow.UpstreamDiff(c.UserContext(), upstream.UpstreamID)
	if err != nil {
		return workflowErrorResponse(c, err, "getUpstream")
	}
	return utils.SuccessResponse(c, upstreamView{Upstream: upstream, Diff: diff}, fiber.StatusOK)
}

// AssignReviewers handles POST /api/upstreams/:upstream/reviewers
// @Summary Assign reviewers
// @Description Add pending reviews for users; the track owner always reviews (owner only)
// @Tags Reviews
// @Accept json
// @Produce json
// @Param upstream path int true "Upstream ID"
// @Param body body object true "userIds"
// @Success 200 {array} models.Review
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /upstreams/{upstream}/reviewers [post]
func (h *UpstreamHandler) AssignReviewers(c *fiber.Ctx) error {
	var body struct {
		UserIDs types.FlexList[string] `json:"userIds"`
	}
	if err := c.BodyParser(&body); err != nil || len(body.UserIDs) == 0 {
		return utils.ErrorResponse(c, "Invalid input", fiber.StatusBadRequest, "data.validation.input")
	}

	upstream, err := h.authorized(c, true)
	if err != nil {
		return workflowErrorResponse(c, err, "assignReviewers")
	}

	reviews, err := h.Workflow.AssignReviewers(c.UserContext(), upstream.UpstreamID, body.UserIDs.Slice())
	if err != nil {
		return workflowErrorResponse(c, err, "assignReviewers")
	}
	return utils.SuccessResponse(c, reviews, fiber.StatusOK)
}

// RecordDecision handles POST /api/upstreams/:upstream/decision
// @Summary Record a review decision
// @Description Approve or reject as the calling reviewer. The final approval merges the upstream.
// @Tags Reviews
// @Accept json
// @Produce json
// @Param upstream path int true "Upstream ID"
// @Param body body object true "decision: approved | rejected"
// @Success 200 {object} models.Upstream
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Router /upstreams/{upstream}/decision [post]
func (h *UpstreamHandler) RecordDecision(c *fiber.Ctx) error {
	var body struct {
		Decision string `json:"decision"`
	}
	if err := c.BodyParser(&body); err != nil || body.Decision == "" {
		return utils.ErrorResponse(c, "Invalid input", fiber.StatusBadRequest, "data.validation.input")
	}

	upstream, err := h.authorized(c, false)
	if err != nil {
		return workflowErrorResponse(c, err, "recordDecision")
	}

	upstream, err = h.Workflow.RecordDecision(c.UserContext(), upstream.UpstreamID, middleware.UserID(c), body.Decision)
	if err != nil {
		return workflowErrorResponse(c, err, "recordDecision")
	}
	return utils.SuccessResponse(c, upstream, fiber.StatusOK)
}

// Aggregate handles POST /api/upstreams/:upstream/aggregate
// @Summary Aggregate reviews
// @Description Re-evaluate the upstream from its reviews, merging it on approval (owner only)
// @Tags Reviews
// @Produce json
// @Param upstream path int true "Upstream ID"
// @Success 200 {object} models.Upstream
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Router /upstreams/{upstream}/aggregate [post]
func (h *UpstreamHandler) Aggregate(c *fiber.Ctx) error {
	upstream, err := h.authorized(c, true)
	if err != nil {
		return workflowErrorResponse(c, err, "aggregate")
	}

	upstream, err = h.Workflow.Aggregate(c.UserContext(), upstream.UpstreamID)
	if err != nil {
		return workflowErrorResponse(c, err, "aggregate")
	}
	return utils.SuccessResponse(c, upstream, fiber.StatusOK)
}

// Merge handles POST /api/upstreams/:upstream/merge
// @Summary Merge an approved upstream
// @Description Advance the track by merging an approved upstream into its active stage (owner only)
// @Tags Reviews
// @Produce json
// @Param upstream path int true "Upstream ID"
// @Success 200 {object} utils.SuccessResponseStruct
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Router /upstreams/{upstream}/merge [post]
func (h *UpstreamHandler) Merge(c *fiber.Ctx) error {
	upstream, err := h.authorized(c, true)
	if err != nil {
		return workflowErrorResponse(c, err, "merge")
	}

	stage, err := h.Workflow.MergeUpstream(c.UserContext(), upstream.UpstreamID)
	if err != nil {
		return workflowErrorResponse(c, err, "merge")
	}
	return utils.MutationSuccessResponse(c, stage.Version, int64(len(stage.VersionStems)))
}

// ListComments handles GET /api/upstreams/:upstream/comments
// @Summary List comments
// @Description List an upstream's comments in playback order
// @Tags Comments
// @Produce json
// @Param upstream path int true "Upstream ID"
// @Success 200 {array} models.Comment
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /upstreams/{upstream}/comments [get]
func (h *UpstreamHandler) ListComments(c *fiber.Ctx) error {
	upstream, err := h.authorized(c, false)
	if err != nil {
		return workflowErrorResponse(c, err, "listComments")
	}

	comments, err := h.Workflow.ListComments(c.UserContext(), upstream.UpstreamID)
	if err != nil {
		return workflowErrorResponse(c, err, "listComments")
	}
	return utils.SuccessResponse(c, comments, fiber.StatusOK)
}

// AddComment handles POST /api/upstreams/:upstream/comments
// @Summary Comment on an upstream
// @Description Pin a note to a playback position in seconds
// @Tags Comments
// @Accept json
// @Produce json
// @Param upstream path int true "Upstream ID"
// @Param body body object true "position, text"
// @Success 201 {object} models.Comment
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /upstreams/{upstream}/comments [post]
func (h *UpstreamHandler) AddComment(c *fiber.Ctx) error {
	var body struct {
		Position float64 `json:"position"`
		Text     string  `json:"text"`
	}
	if err := c.BodyParser(&body); err != nil {
		return utils.ErrorResponse(c, "Invalid input", fiber.StatusBadRequest, "data.validation.input")
	}

	upstream, err := h.authorized(c, false)
	if err != nil {
		return workflowErrorResponse(c, err, "addComment")
	}

	comment, err := h.Workflow.AddComment(c.UserContext(), upstream.UpstreamID, middleware.UserID(c), body.Position, body.Text)
	if err != nil {
		return workflowErrorResponse(c, err, "addComment")
	}
	return utils.SuccessResponse(c, comment, fiber.StatusCreated)
}

// authorized loads the route's upstream after checking the caller's track role
func (h *UpstreamHandler) authorized(c *fiber.Ctx, ownerOnly bool) (*models.Upstream, error) {
	upstreamID, err := paramID(c, "upstream")
	if err != nil {
		return nil, err
	}
	upstream, err := h.Workflow.GetUpstream(c.UserContext(), upstreamID)
	if err != nil {
		return nil, err
	}
	if err := authorizeTrack(c, h.Workflow, upstream.TrackID, ownerOnly); err != nil {
		return nil, err
	}
	return upstream, nil
}
