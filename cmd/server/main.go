// main.go
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

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	swagger "github.com/gofiber/swagger"
	"github.com/localnerve/stemflow/internal/audio"
	"github.com/localnerve/stemflow/internal/cache"
	"github.com/localnerve/stemflow/internal/config"
	"github.com/localnerve/stemflow/internal/database"
	"github.com/localnerve/stemflow/internal/handlers"
	"github.com/localnerve/stemflow/internal/logger"
	"github.com/localnerve/stemflow/internal/middleware"
	"github.com/localnerve/stemflow/internal/services"
	"github.com/localnerve/stemflow/internal/storage"

	_ "github.com/localnerve/stemflow/docs/api" // Swagger docs
)

// @title Stemflow API
// @version 1.0.0
// @description Collaborative stem revision and review service
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url https://github.com/localnerve/stemflow
// @contact.email info@localnerve.com

// @license.name AGPL-3.0
// @license.url https://www.gnu.org/licenses/agpl-3.0.html

// @host localhost:3000
// @BasePath /api
// @schemes http https

// @securityDefinitions.apikey CookieAuth
// @in cookie
// @name cookie_session

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogFile,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAge,
		Compress:   true,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", logger.ErrorField(err))
	}
	defer database.Close(db)

	if err := database.AutoMigrate(db); err != nil {
		logger.Fatal("Failed to run migrations", logger.ErrorField(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var store *storage.ObjectStore
	if cfg.ObjectStorageEnabled() {
		store, err = storage.NewObjectStore(cfg)
		if err != nil {
			logger.Fatal("Failed to create object store client", logger.ErrorField(err))
		}
		if err := store.EnsureBucket(ctx); err != nil {
			logger.Fatal("Failed to prepare stem bucket",
				logger.String("bucket", store.Bucket()),
				logger.ErrorField(err))
		}
	} else {
		logger.Warn("MINIO_ENDPOINT not set, uploads and playback are disabled")
	}

	var playback *cache.PlaybackCache
	if cfg.CacheEnabled() {
		playback, err = cache.NewPlaybackCache(ctx, cfg)
		if err != nil {
			logger.Warn("Playback cache unavailable, continuing without it", logger.ErrorField(err))
			playback = nil
		}
	}
	defer playback.Close()

	workflow := services.NewWorkflow(db, newMixer(cfg, store))

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler,
		BodyLimit:    256 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(compress.New())

	// Prometheus metrics
	prometheus := fiberprometheus.New("stemflow")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	// Swagger documentation
	app.Get("/swagger/*", swagger.HandlerDefault)

	app.Get("/health", func(c *fiber.Ctx) error {
		var pinger services.ObjectStorePinger
		if store != nil {
			pinger = store
		}
		result := services.HealthCheck(c.UserContext(), cfg, db, pinger)
		status := fiber.StatusOK
		if result.Status != "healthy" {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(result)
	})

	// API routes under /api
	api := app.Group("/api")
	api.Use(middleware.VersionMiddleware())

	handlers.RegisterRoutes(api, handlers.Deps{
		Workflow: workflow,
		Store:    store,
		Cache:    playback,
	}, middleware.Auth(cfg))

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"status":    fiber.StatusNotFound,
			"message":   "[404] Resource Not Found",
			"ok":        false,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"url":       c.OriginalURL(),
		})
	})

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		logger.Info("Gracefully shutting down...")
		_ = app.ShutdownWithTimeout(30 * time.Second)
	}()

	logger.Info("Starting server",
		logger.String("port", cfg.Port),
		logger.String("authMode", cfg.AuthMode),
		logger.String("mixer", cfg.MixerMode))
	if err := app.Listen(":" + cfg.Port); err != nil {
		logger.Fatal("Failed to start server", logger.ErrorField(err))
	}

	logger.Info("Server stopped")
}

func newMixer(cfg *config.Config, store *storage.ObjectStore) audio.Mixer {
	if cfg.MixerMode == "paths" {
		return audio.NewPathMixer(cfg.GuideDir)
	}
	mixer := audio.NewFFmpegMixer(cfg.FFmpegPath, cfg.WaveformPath, cfg.GuideDir)
	if store != nil {
		// uploaded stems live in the bucket; ffmpeg reads them over presigned URLs
		mixer.WithInputs(store)
	}
	return mixer
}
