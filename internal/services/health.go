package services

import (
	"context"
	"fmt"
	"time"

	"github.com/localnerve/stemflow/internal/config"
	"github.com/localnerve/stemflow/internal/logger"
	"github.com/localnerve/stemflow/internal/utils"
	"gorm.io/gorm"
)

// ObjectStorePinger checks object storage reachability for the health check
type ObjectStorePinger interface {
	Ping(ctx context.Context) error
}

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status       string            `json:"status"`
	Database     string            `json:"database"`
	Authorizer   string            `json:"authorizer"`
	ObjectStore  string            `json:"objectStore"`
	Details      map[string]string `json:"details,omitempty"`
	ErrorMessage string            `json:"error,omitempty"`
}

func (r *HealthCheckResult) fail(component, detailKey string, err error) {
	r.Status = "unhealthy"
	r.Details[detailKey] = err.Error()
	msg := fmt.Sprintf("%s check failed: %v", component, err)
	if r.ErrorMessage == "" {
		r.ErrorMessage = msg
	} else {
		r.ErrorMessage += "; " + msg
	}
	logger.Warn("Health check failed",
		logger.String("component", component),
		logger.ErrorField(err))
}

// HealthCheck performs a comprehensive health check of the service.
// store may be nil when object storage is not configured.
func HealthCheck(ctx context.Context, cfg *config.Config, db *gorm.DB, store ObjectStorePinger) HealthCheckResult {
	result := HealthCheckResult{
		Status:      "healthy",
		Authorizer:  "disabled",
		ObjectStore: "disabled",
		Details:     make(map[string]string),
	}

	// Check database connectivity
	sqlDB, err := db.DB()
	if err != nil {
		result.Database = "error"
		result.fail("database", "database_error", err)
	} else if err := sqlDB.PingContext(ctx); err != nil {
		result.Database = "unreachable"
		result.fail("database", "database_ping_error", err)
	} else {
		result.Database = "ok"
		result.Details["database_type"] = cfg.DBType
		result.Details["database_name"] = cfg.DBDatabase
	}

	if cfg.AuthMode == config.AuthModeAuthorizer {
		if err := utils.PingAuthorizer(ctx, cfg.AuthzURL); err != nil {
			result.Authorizer = "unreachable"
			result.fail("authorizer", "authorizer_error", err)
		} else {
			result.Authorizer = "ok"
			result.Details["authorizer_url"] = cfg.AuthzURL
		}
	}

	if store != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			result.ObjectStore = "unreachable"
			result.fail("object store", "object_store_error", err)
		} else {
			result.ObjectStore = "ok"
			result.Details["object_store_bucket"] = cfg.MinioBucket
		}
	}

	if result.Status == "healthy" {
		logger.Debug("Health check passed - all systems operational")
	}

	return result
}
