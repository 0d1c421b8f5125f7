package handlers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/stemflow/internal/middleware"
	"github.com/localnerve/stemflow/internal/services"
	"github.com/localnerve/stemflow/internal/storage"
	"github.com/localnerve/stemflow/internal/types"
	"github.com/localnerve/stemflow/internal/utils"
)

// StemHandler handles live stem routes
type StemHandler struct {
	Workflow *services.Workflow
	Store    *storage.ObjectStore
}

// CreateStem handles POST /api/tracks/:track/stems
// @Summary Register a stem
// @Description Register an already stored stem file. replaces names the stem whose layer this take continues.
// @Tags Stems
// @Accept json
// @Produce json
// @Param track path int true "Track ID"
// @Param body body object true "category, filePath, replaces, meta"
// @Success 201 {object} models.Stem
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /tracks/{track}/stems [post]
func (h *StemHandler) CreateStem(c *fiber.Ctx) error {
	trackID, err := paramID(c, "track")
	if err != nil {
		return workflowErrorResponse(c, err, "createStem")
	}

	var body struct {
		Category string           `json:"category"`
		FilePath string           `json:"filePath"`
		Replaces types.FlexUint64 `json:"replaces"`
		Meta     json.RawMessage  `json:"meta"`
	}
	if err := c.BodyParser(&body); err != nil {
		return utils.ErrorResponse(c, "Invalid input", fiber.StatusBadRequest, "data.validation.input")
	}

	if err := authorizeTrack(c, h.Workflow, trackID, false); err != nil {
		return workflowErrorResponse(c, err, "createStem")
	}

	stem, err := h.Workflow.CreateStem(c.UserContext(), services.StemInput{
		TrackID:    trackID,
		Category:   body.Category,
		FilePath:   body.FilePath,
		UploadedBy: middleware.UserID(c),
		Replaces:   body.Replaces.Uint64(),
		Meta:       body.Meta,
	})
	if err != nil {
		return workflowErrorResponse(c, err, "createStem")
	}
	return utils.SuccessResponse(c, stem, fiber.StatusCreated)
}

// UploadStem handles POST /api/tracks/:track/stems/upload
// @Summary Upload a stem
// @Description Upload an audio file to object storage and register it as a stem
// @Tags Stems
// @Accept mpfd
// @Produce json
// @Param track path int true "Track ID"
// @Param file formData file true "Audio file"
// @Param category formData string true "Stem category"
// @Param replaces formData int false "Stem ID this take replaces"
// @Success 201 {object} models.Stem
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 503 {object} utils.ErrorResponseStruct
// @Router /tracks/{track}/stems/upload [post]
func (h *StemHandler) UploadStem(c *fiber.Ctx) error {
	if h.Store == nil {
		return utils.ErrorResponse(c, "Object storage is not configured", fiber.StatusServiceUnavailable, "uploadStem")
	}

	trackID, err := paramID(c, "track")
	if err != nil {
		return workflowErrorResponse(c, err, "uploadStem")
	}
	if err := authorizeTrack(c, h.Workflow, trackID, false); err != nil {
		return workflowErrorResponse(c, err, "uploadStem")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.ErrorResponse(c, "Missing file", fiber.StatusBadRequest, "data.validation.input")
	}
	category := c.FormValue("category")
	if category == "" {
		return utils.ErrorResponse(c, "Missing category", fiber.StatusBadRequest, "data.validation.input")
	}
	var replaces types.FlexUint64
	if v := c.FormValue("replaces"); v != "" {
		if err := replaces.UnmarshalJSON([]byte(v)); err != nil {
			return utils.ErrorResponse(c, "Invalid replaces", fiber.StatusBadRequest, "data.validation.input")
		}
	}

	file, err := fileHeader.Open()
	if err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusBadRequest, "uploadStem")
	}
	defer file.Close()

	key, err := h.Store.PutStem(c.UserContext(), trackID, fileHeader.Filename, file, fileHeader.Size, fileHeader.Header.Get("Content-Type"))
	if err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusBadGateway, "uploadStem")
	}

	stem, err := h.Workflow.CreateStem(c.UserContext(), services.StemInput{
		TrackID:    trackID,
		Category:   category,
		FilePath:   key,
		UploadedBy: middleware.UserID(c),
		Replaces:   replaces.Uint64(),
	})
	if err != nil {
		return workflowErrorResponse(c, err, "uploadStem")
	}
	return utils.SuccessResponse(c, stem, fiber.StatusCreated)
}

// ListStems handles GET /api/tracks/:track/stems
// @Summary List stems
// @Description List the track's live stems
// @Tags Stems
// @Produce json
// @Param track path int true "Track ID"
// @Success 200 {array} models.Stem
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /tracks/{track}/stems [get]
func (h *StemHandler) ListStems(c *fiber.Ctx) error {
	trackID, err := paramID(c, "track")
	if err != nil {
		return workflowErrorResponse(c, err, "listStems")
	}
	if err := authorizeTrack(c, h.Workflow, trackID, false); err != nil {
		return workflowErrorResponse(c, err, "listStems")
	}

	stems, err := h.Workflow.ListStems(c.UserContext(), trackID)
	if err != nil {
		return workflowErrorResponse(c, err, "listStems")
	}
	return utils.SuccessResponse(c, stems, fiber.StatusOK)
}

// UpdateStem handles PATCH /api/stems/:stem
// @Summary Repoint a stem
// @Description Point a live stem at a new file. Existing stage snapshots are unaffected.
// @Tags Stems
// @Accept json
// @Produce json
// @Param stem path int true "Stem ID"
// @Param body body object true "filePath"
// @Success 200 {object} models.Stem
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /stems/{stem} [patch]
func (h *StemHandler) UpdateStem(c *fiber.Ctx) error {
	stemID, err := paramID(c, "stem")
	if err != nil {
		return workflowErrorResponse(c, err, "updateStem")
	}

	var body struct {
		FilePath string `json:"filePath"`
	}
	if err := c.BodyParser(&body); err != nil || body.FilePath == "" {
		return utils.ErrorResponse(c, "Invalid input", fiber.StatusBadRequest, "data.validation.input")
	}

	stem, err := h.Workflow.GetStem(c.UserContext(), stemID)
	if err != nil {
		return workflowErrorResponse(c, err, "updateStem")
	}
	if err := authorizeTrack(c, h.Workflow, stem.TrackID, false); err != nil {
		return workflowErrorResponse(c, err, "updateStem")
	}

	stem, err = h.Workflow.UpdateStemFile(c.UserContext(), stemID, body.FilePath)
	if err != nil {
		return workflowErrorResponse(c, err, "updateStem")
	}
	return utils.SuccessResponse(c, stem, fiber.StatusOK)
}
