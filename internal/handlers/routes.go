package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/stemflow/internal/cache"
	"github.com/localnerve/stemflow/internal/services"
	"github.com/localnerve/stemflow/internal/storage"
)

// Deps are the collaborators the HTTP routes share
type Deps struct {
	Workflow *services.Workflow
	Store    *storage.ObjectStore
	Cache    *cache.PlaybackCache
}

// RegisterRoutes mounts the workflow API on router. auth resolves the caller.
func RegisterRoutes(router fiber.Router, deps Deps, auth fiber.Handler) {
	tracks := &TrackHandler{Workflow: deps.Workflow, Cache: deps.Cache}
	stems := &StemHandler{Workflow: deps.Workflow, Store: deps.Store}
	stages := &StageHandler{Workflow: deps.Workflow, Cache: deps.Cache}
	if deps.Store != nil {
		stages.Store = deps.Store
	}
	upstreams := &UpstreamHandler{Workflow: deps.Workflow}

	router.Use(auth)

	router.Post("/tracks", tracks.CreateTrack)
	router.Get("/tracks/:track", tracks.GetTrack)
	router.Post("/tracks/:track/collaborators", tracks.AddCollaborator)
	router.Post("/tracks/:track/stages", tracks.OpenInitialStage)
	router.Get("/tracks/:track/stages", tracks.ListStages)
	router.Post("/tracks/:track/rollback", tracks.Rollback)

	router.Post("/tracks/:track/stems/upload", stems.UploadStem)
	router.Post("/tracks/:track/stems", stems.CreateStem)
	router.Get("/tracks/:track/stems", stems.ListStems)
	router.Patch("/stems/:stem", stems.UpdateStem)

	router.Get("/stages/:stage", stages.GetStage)
	router.Post("/stages/:stage/reject", stages.RejectStage)
	router.Get("/stages/:stage/diff", stages.Diff)
	router.Get("/stages/:stage/playback", stages.Playback)
	router.Get("/stages/:stage/upstreams", stages.ListUpstreams)
	router.Post("/stages/:stage/upstreams", stages.CreateUpstream)

	router.Get("/upstreams/:upstream", upstreams.GetUpstream)
	router.Post("/upstreams/:upstream/reviewers", upstreams.AssignReviewers)
	router.Post("/upstreams/:upstream/decision", upstreams.RecordDecision)
	router.Post("/upstreams/:upstream/aggregate", upstreams.Aggregate)
	router.Post("/upstreams/:upstream/merge", upstreams.Merge)
	router.Get("/upstreams/:upstream/comments", upstreams.ListComments)
	router.Post("/upstreams/:upstream/comments", upstreams.AddComment)
}
