package types

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// CustomError is a request failure with the status and type reported to the client
type CustomError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (e *CustomError) Error() string {
	return fmt.Sprintf("%d: %s [type: %s]", e.Code, e.Message, e.Type)
}

// ValidationError reports malformed request input
func ValidationError(message string) *CustomError {
	return &CustomError{Code: fiber.StatusBadRequest, Message: message, Type: "data.validation.input"}
}

// ForbiddenError reports a caller without the required track role
func ForbiddenError(message, errorType string) *CustomError {
	return &CustomError{Code: fiber.StatusForbidden, Message: message, Type: errorType}
}
