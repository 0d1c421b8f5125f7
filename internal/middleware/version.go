package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/stemflow/internal/types"
)

// APIVersionHeader selects the API revision a client speaks
const APIVersionHeader = "X-Api-Version"

const currentAPIVersion = "1.0.0"

// VersionMiddleware parses the X-Api-Version header and stores it in context.
// Only major version 1 is served.
func VersionMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		version := normalizeVersion(c.Get(APIVersionHeader, currentAPIVersion))
		if !strings.HasPrefix(version, "1.") {
			return &types.CustomError{
				Code:    fiber.StatusBadRequest,
				Message: "Unsupported API version " + version,
				Type:    "api.version",
			}
		}

		c.Locals("apiVersion", version)
		c.Set(APIVersionHeader, currentAPIVersion)

		return c.Next()
	}
}

// normalizeVersion expands aliases such as "1" and "1.0" to major.minor.patch
func normalizeVersion(version string) string {
	version = strings.TrimPrefix(strings.TrimSpace(version), "v")
	switch strings.Count(version, ".") {
	case 0:
		return version + ".0.0"
	case 1:
		return version + ".0"
	default:
		return version
	}
}

// APIVersion returns the version VersionMiddleware stored for the request
func APIVersion(c *fiber.Ctx) string {
	if v, ok := c.Locals("apiVersion").(string); ok {
		return v
	}
	return currentAPIVersion
}
