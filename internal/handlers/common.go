// common.go
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
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/stemflow/internal/logger"
	"github.com/localnerve/stemflow/internal/middleware"
	"github.com/localnerve/stemflow/internal/services"
	"github.com/localnerve/stemflow/internal/types"
	"github.com/localnerve/stemflow/internal/utils"
)

// parseIDList extracts ids from query parameters, supporting both
// repeated keys and comma-separated values. First occurrence order is kept.
func parseIDList(c *fiber.Ctx, key string) ([]uint64, error) {
	seen := make(map[uint64]struct{})
	var ids []uint64

	// Visit all query arguments to collect repeated parameters
	args := c.Context().QueryArgs()
	for k, value := range args.All() {
		if string(k) != key {
			continue
		}
		// Split by comma in case the value itself is comma-separated
		for _, v := range strings.Split(string(value), ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			id, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return nil, err
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	return ids, nil
}

// paramID parses a numeric route parameter
func paramID(c *fiber.Ctx, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, types.ValidationError("Invalid " + name + " id")
	}
	return id, nil
}

// authorizeTrack checks that the caller belongs to the track, or owns it when ownerOnly
func authorizeTrack(c *fiber.Ctx, w *services.Workflow, trackID uint64, ownerOnly bool) error {
	userID := middleware.UserID(c)
	track, err := w.GetTrack(c.UserContext(), trackID)
	if err != nil {
		return err
	}

	if track.OwnerID == userID {
		return nil
	}
	if ownerOnly {
		return types.ForbiddenError("Only the track owner may do this", "auth.owner")
	}
	for _, m := range track.Members {
		if m.UserID == userID {
			return nil
		}
	}
	return types.ForbiddenError("Not a collaborator on this track", "auth.member")
}

// workflowErrorResponse maps workflow errors onto HTTP responses
func workflowErrorResponse(c *fiber.Ctx, err error, errorType string) error {
	var ce *types.CustomError
	switch {
	case errors.As(err, &ce):
		return utils.ErrorResponse(c, ce.Message, ce.Code, ce.Type)
	case errors.Is(err, services.ErrNotFound):
		return utils.NotFoundResponse(c, err.Error())
	case errors.Is(err, services.ErrVersionConflict):
		return utils.VersionErrorResponse(c)
	case errors.Is(err, services.ErrConflict), errors.Is(err, services.ErrStageAlreadyDecided):
		return utils.ErrorResponse(c, err.Error(), fiber.StatusConflict, errorType)
	case errors.Is(err, services.ErrNotAReviewer):
		return utils.ForbiddenResponse(c, err.Error(), errorType)
	case errors.Is(err, services.ErrInvalidState):
		return utils.ErrorResponse(c, err.Error(), fiber.StatusBadRequest, errorType)
	default:
		logger.Error("Request failed",
			logger.String("type", errorType),
			logger.String("url", c.OriginalURL()),
			logger.ErrorField(err))
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, errorType)
	}
}

// ErrorHandler handles errors that escape route handlers and middleware
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()
	errorType := "unknown"

	var fe *fiber.Error
	var ce *types.CustomError
	switch {
	case errors.As(err, &ce):
		code = ce.Code
		message = ce.Message
		errorType = ce.Type
	case errors.As(err, &fe):
		code = fe.Code
		message = fe.Message
	}

	// Check for version errors
	versionError := false
	if strings.HasPrefix(message, services.ErrVersionConflict.Error()) {
		versionError = true
		errorType = "version"
		code = fiber.StatusConflict
	}

	return c.Status(code).JSON(fiber.Map{
		"status":       code,
		"message":      message,
		"ok":           false,
		"versionError": versionError,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"url":          c.OriginalURL(),
		"type":         errorType,
	})
}
