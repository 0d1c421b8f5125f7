package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/stemflow/internal/audio"
	"github.com/localnerve/stemflow/internal/config"
	"github.com/localnerve/stemflow/internal/database"
	"github.com/localnerve/stemflow/internal/handlers"
	"github.com/localnerve/stemflow/internal/middleware"
	"github.com/localnerve/stemflow/internal/models"
	"github.com/localnerve/stemflow/internal/services"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	owner = "owner"
	bob   = "bob"
	carol = "carol"
	dave  = "dave"
)

var headerAuth = &config.Config{AuthMode: config.AuthModeHeader}

// setupTestDB creates a private in-memory SQLite database for testing
func setupTestDB(t *testing.T) *gorm.DB {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared&_foreign_keys=1"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

// setupApp mounts every route with header authentication
func setupApp(t *testing.T) (*fiber.App, *services.Workflow) {
	w := services.NewWorkflow(setupTestDB(t), audio.NewPathMixer("guides"))
	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler})
	api := app.Group("/api")
	api.Use(middleware.VersionMiddleware())
	handlers.RegisterRoutes(api, handlers.Deps{Workflow: w}, middleware.Auth(headerAuth))
	return app, w
}

// call sends a JSON request as user and decodes the response into out when non-nil
func call(t *testing.T, app *fiber.App, method, path, user string, body interface{}, out interface{}) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(middleware.UserIDHeader, user)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("Failed to execute request: %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func expectStatus(t *testing.T, got, want int, what string) {
	t.Helper()
	if got != want {
		t.Fatalf("%s: expected status %d, got %d", what, want, got)
	}
}

// openTrack creates a track with bob and carol, a drums and a vocal stem, and stage v1
func openTrack(t *testing.T, app *fiber.App) (models.Track, models.Stage, []models.Stem) {
	t.Helper()
	var track models.Track
	status := call(t, app, "POST", "/api/tracks", owner, map[string]interface{}{
		"title":         "Night Drive",
		"collaborators": []string{bob, carol},
	}, &track)
	expectStatus(t, status, fiber.StatusCreated, "create track")

	var stems []models.Stem
	for _, category := range []string{"drums", "vocal"} {
		var stem models.Stem
		status = call(t, app, "POST", fmt.Sprintf("/api/tracks/%d/stems", track.TrackID), owner, map[string]interface{}{
			"category": category,
			"filePath": "tracks/" + category + "-1.wav",
		}, &stem)
		expectStatus(t, status, fiber.StatusCreated, "create stem")
		stems = append(stems, stem)
	}

	var stage models.Stage
	status = call(t, app, "POST", fmt.Sprintf("/api/tracks/%d/stages", track.TrackID), owner, nil, &stage)
	expectStatus(t, status, fiber.StatusCreated, "open initial stage")
	return track, stage, stems
}

// propose registers a replacement for base as user and submits it against stageID
func propose(t *testing.T, app *fiber.App, user string, stageID uint64, base models.Stem, path string, reviewers ...string) models.Upstream {
	t.Helper()
	var stem models.Stem
	status := call(t, app, "POST", fmt.Sprintf("/api/tracks/%d/stems", base.TrackID), user, map[string]interface{}{
		"category": base.Category,
		"filePath": path,
		"replaces": base.StemID,
	}, &stem)
	expectStatus(t, status, fiber.StatusCreated, "create replacement stem")

	body := map[string]interface{}{
		"title":   "replace " + base.Category,
		"stemIds": []uint64{stem.StemID},
	}
	if len(reviewers) > 0 {
		body["reviewers"] = reviewers
	}
	var upstream models.Upstream
	status = call(t, app, "POST", fmt.Sprintf("/api/stages/%d/upstreams", stageID), user, body, &upstream)
	expectStatus(t, status, fiber.StatusCreated, "create upstream")
	return upstream
}

func TestRequiresUser(t *testing.T) {
	app, _ := setupApp(t)
	status := call(t, app, "POST", "/api/tracks", "", map[string]string{"title": "x"}, nil)
	expectStatus(t, status, fiber.StatusUnauthorized, "anonymous create")
}

func TestTrackMembership(t *testing.T) {
	app, _ := setupApp(t)
	track, stage, _ := openTrack(t, app)

	if len(stage.VersionStems) != 2 || stage.Version != 1 {
		t.Fatalf("expected v1 with 2 stems, got v%d with %d", stage.Version, len(stage.VersionStems))
	}

	var got models.Track
	status := call(t, app, "GET", fmt.Sprintf("/api/tracks/%d", track.TrackID), bob, nil, &got)
	expectStatus(t, status, fiber.StatusOK, "member get track")
	if len(got.Members) != 3 {
		t.Errorf("expected 3 members, got %d", len(got.Members))
	}

	var failure map[string]interface{}
	status = call(t, app, "GET", fmt.Sprintf("/api/tracks/%d", track.TrackID), dave, nil, &failure)
	expectStatus(t, status, fiber.StatusForbidden, "outsider get track")
	if failure["type"] != "auth.member" {
		t.Errorf("expected auth.member, got %v", failure["type"])
	}

	status = call(t, app, "POST", fmt.Sprintf("/api/tracks/%d/collaborators", track.TrackID), bob, map[string]interface{}{"userIds": dave}, nil)
	expectStatus(t, status, fiber.StatusForbidden, "collaborator adds collaborator")

	status = call(t, app, "POST", fmt.Sprintf("/api/tracks/%d/collaborators", track.TrackID), owner, map[string]interface{}{"userIds": dave}, nil)
	expectStatus(t, status, fiber.StatusOK, "owner adds collaborator")

	status = call(t, app, "GET", fmt.Sprintf("/api/tracks/%d/stems", track.TrackID), dave, nil, nil)
	expectStatus(t, status, fiber.StatusOK, "new collaborator lists stems")

	status = call(t, app, "POST", fmt.Sprintf("/api/tracks/%d/stages", track.TrackID), owner, nil, nil)
	expectStatus(t, status, fiber.StatusConflict, "second initial stage")

	status = call(t, app, "GET", "/api/tracks/999", owner, nil, nil)
	expectStatus(t, status, fiber.StatusNotFound, "unknown track")

	status = call(t, app, "GET", "/api/tracks/abc", owner, nil, nil)
	expectStatus(t, status, fiber.StatusBadRequest, "bad track id")
}

func TestDiffEndpoint(t *testing.T) {
	app, _ := setupApp(t)
	track, stage, stems := openTrack(t, app)

	var bass models.Stem
	status := call(t, app, "POST", fmt.Sprintf("/api/tracks/%d/stems", track.TrackID), bob, map[string]interface{}{
		"category": "bass",
		"filePath": "tracks/bass-1.wav",
	}, &bass)
	expectStatus(t, status, fiber.StatusCreated, "create bass")

	var diff []services.DiffEntry
	path := fmt.Sprintf("/api/stages/%d/diff?stems=%d,%d", stage.StageID, bass.StemID, stems[0].StemID)
	status = call(t, app, "GET", path, bob, nil, &diff)
	expectStatus(t, status, fiber.StatusOK, "diff")
	if len(diff) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(diff))
	}
	if diff[0].Kind != models.KindNew || diff[1].Kind != models.KindUnchanged {
		t.Errorf("expected new then unchanged, got %s %s", diff[0].Kind, diff[1].Kind)
	}

	status = call(t, app, "GET", fmt.Sprintf("/api/stages/%d/diff?stems=x", stage.StageID), bob, nil, nil)
	expectStatus(t, status, fiber.StatusBadRequest, "bad stems")

	status = call(t, app, "GET", fmt.Sprintf("/api/stages/%d/diff?stems=9999", stage.StageID), bob, nil, nil)
	expectStatus(t, status, fiber.StatusNotFound, "unknown stem")
}

func TestReviewFlowMerges(t *testing.T) {
	app, _ := setupApp(t)
	track, stage, stems := openTrack(t, app)

	upstream := propose(t, app, bob, stage.StageID, stems[0], "tracks/drums-2.wav", carol)
	if upstream.Status != models.UpstreamPending || len(upstream.Reviews) != 2 {
		t.Fatalf("expected pending upstream with 2 reviews, got %s with %d", upstream.Status, len(upstream.Reviews))
	}

	decisionPath := fmt.Sprintf("/api/upstreams/%d/decision", upstream.UpstreamID)

	status := call(t, app, "POST", decisionPath, dave, map[string]string{"decision": "approved"}, nil)
	expectStatus(t, status, fiber.StatusForbidden, "outsider decision")

	var failure map[string]interface{}
	status = call(t, app, "POST", decisionPath, bob, map[string]string{"decision": "approved"}, &failure)
	expectStatus(t, status, fiber.StatusForbidden, "non-reviewer decision")
	if failure["type"] != "recordDecision" {
		t.Errorf("expected recordDecision error type, got %v", failure["type"])
	}

	status = call(t, app, "POST", decisionPath, carol, map[string]string{"decision": "maybe"}, nil)
	expectStatus(t, status, fiber.StatusBadRequest, "bad decision")

	var decided models.Upstream
	status = call(t, app, "POST", decisionPath, carol, map[string]string{"decision": "approved"}, &decided)
	expectStatus(t, status, fiber.StatusOK, "final approval")
	if decided.Status != models.UpstreamApproved || decided.MergedStageID == nil {
		t.Fatalf("expected merged upstream, got %s", decided.Status)
	}

	var stages []models.Stage
	status = call(t, app, "GET", fmt.Sprintf("/api/tracks/%d/stages", track.TrackID), bob, nil, &stages)
	expectStatus(t, status, fiber.StatusOK, "list stages")
	if len(stages) != 2 || stages[0].Status != models.StageApproved || stages[1].Status != models.StageActive {
		t.Fatalf("expected approved v1 and active v2, got %+v", stages)
	}

	var view struct {
		models.Upstream
		Diff []services.DiffEntry `json:"diff"`
	}
	status = call(t, app, "GET", fmt.Sprintf("/api/upstreams/%d", upstream.UpstreamID), carol, nil, &view)
	expectStatus(t, status, fiber.StatusOK, "get upstream")
	if len(view.Diff) != 1 || view.Diff[0].Kind != models.KindModify {
		t.Errorf("expected one modify entry, got %+v", view.Diff)
	}

	status = call(t, app, "POST", fmt.Sprintf("/api/stages/%d/upstreams", stage.StageID), bob, map[string]interface{}{
		"stemIds": []uint64{stems[1].StemID},
	}, nil)
	expectStatus(t, status, fiber.StatusBadRequest, "upstream against approved stage")
}

func TestOwnerOnlyUpstreamAggregates(t *testing.T) {
	app, _ := setupApp(t)
	_, stage, stems := openTrack(t, app)

	upstream := propose(t, app, owner, stage.StageID, stems[1], "tracks/vocal-2.wav")
	if upstream.Status != models.UpstreamPending {
		t.Fatalf("expected pending upstream, got %s", upstream.Status)
	}

	status := call(t, app, "POST", fmt.Sprintf("/api/upstreams/%d/aggregate", upstream.UpstreamID), bob, nil, nil)
	expectStatus(t, status, fiber.StatusForbidden, "collaborator aggregate")

	var merged models.Upstream
	status = call(t, app, "POST", fmt.Sprintf("/api/upstreams/%d/aggregate", upstream.UpstreamID), owner, nil, &merged)
	expectStatus(t, status, fiber.StatusOK, "owner aggregate")
	if merged.Status != models.UpstreamApproved {
		t.Fatalf("expected approved, got %s", merged.Status)
	}

	status = call(t, app, "POST", fmt.Sprintf("/api/upstreams/%d/reviewers", upstream.UpstreamID), owner, map[string]interface{}{"userIds": carol}, nil)
	expectStatus(t, status, fiber.StatusBadRequest, "reviewers on decided upstream")

	var failure map[string]interface{}
	status = call(t, app, "POST", fmt.Sprintf("/api/upstreams/%d/merge", upstream.UpstreamID), owner, nil, &failure)
	expectStatus(t, status, fiber.StatusConflict, "merge twice")
	if failure["versionError"] != true {
		t.Errorf("expected a version error, got %v", failure)
	}
}

func TestRejectAndRollback(t *testing.T) {
	app, _ := setupApp(t)
	track, v1, stems := openTrack(t, app)

	first := propose(t, app, owner, v1.StageID, stems[0], "tracks/drums-2.wav")
	call(t, app, "POST", fmt.Sprintf("/api/upstreams/%d/aggregate", first.UpstreamID), owner, nil, nil)

	var stages []models.Stage
	call(t, app, "GET", fmt.Sprintf("/api/tracks/%d/stages", track.TrackID), owner, nil, &stages)
	if len(stages) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(stages))
	}
	v2 := stages[1]

	rejectPath := fmt.Sprintf("/api/stages/%d/reject", v2.StageID)
	status := call(t, app, "POST", rejectPath, bob, nil, nil)
	expectStatus(t, status, fiber.StatusForbidden, "collaborator reject")

	var mutation map[string]interface{}
	status = call(t, app, "POST", rejectPath, owner, nil, &mutation)
	expectStatus(t, status, fiber.StatusOK, "owner reject")
	if mutation["newVersion"] != "1" {
		t.Errorf("expected v1 reopened, got %v", mutation["newVersion"])
	}

	status = call(t, app, "POST", fmt.Sprintf("/api/stages/%d/reject", v1.StageID), owner, nil, nil)
	expectStatus(t, status, fiber.StatusBadRequest, "reject v1")

	status = call(t, app, "POST", fmt.Sprintf("/api/upstreams/%d/merge", first.UpstreamID), owner, nil, nil)
	expectStatus(t, status, fiber.StatusBadRequest, "merge rejected upstream again")

	second := propose(t, app, owner, v1.StageID, stems[1], "tracks/vocal-2.wav")
	call(t, app, "POST", fmt.Sprintf("/api/upstreams/%d/aggregate", second.UpstreamID), owner, nil, nil)

	call(t, app, "GET", fmt.Sprintf("/api/tracks/%d/stages", track.TrackID), owner, nil, &stages)
	if len(stages) != 3 || stages[2].Version != 3 || stages[2].Status != models.StageActive {
		t.Fatalf("expected active v3 after reopen, got %+v", stages)
	}

	rollbackPath := fmt.Sprintf("/api/tracks/%d/rollback", track.TrackID)
	status = call(t, app, "POST", rollbackPath, bob, map[string]interface{}{"version": 1}, nil)
	expectStatus(t, status, fiber.StatusForbidden, "collaborator rollback")

	status = call(t, app, "POST", rollbackPath, owner, map[string]interface{}{"version": "0"}, nil)
	expectStatus(t, status, fiber.StatusBadRequest, "rollback to 0")

	status = call(t, app, "POST", rollbackPath, owner, map[string]interface{}{"version": "1"}, &mutation)
	expectStatus(t, status, fiber.StatusOK, "rollback")
	if mutation["newVersion"] != "1" {
		t.Errorf("expected newVersion 1, got %v", mutation["newVersion"])
	}

	call(t, app, "GET", fmt.Sprintf("/api/tracks/%d/stages", track.TrackID), owner, nil, &stages)
	if len(stages) != 1 || stages[0].Status != models.StageActive {
		t.Fatalf("expected only active v1, got %+v", stages)
	}

	status = call(t, app, "GET", fmt.Sprintf("/api/stages/%d", v2.StageID), owner, nil, nil)
	expectStatus(t, status, fiber.StatusNotFound, "deleted stage")
}

func TestComments(t *testing.T) {
	app, _ := setupApp(t)
	_, stage, stems := openTrack(t, app)
	upstream := propose(t, app, bob, stage.StageID, stems[0], "tracks/drums-2.wav")

	path := fmt.Sprintf("/api/upstreams/%d/comments", upstream.UpstreamID)
	for _, c := range []map[string]interface{}{
		{"position": 42.5, "text": "snare too loud"},
		{"position": 3, "text": "nice intro"},
	} {
		status := call(t, app, "POST", path, carol, c, nil)
		expectStatus(t, status, fiber.StatusCreated, "add comment")
	}

	status := call(t, app, "POST", path, carol, map[string]interface{}{"position": -1, "text": "x"}, nil)
	expectStatus(t, status, fiber.StatusBadRequest, "negative position")

	status = call(t, app, "POST", path, dave, map[string]interface{}{"position": 1, "text": "x"}, nil)
	expectStatus(t, status, fiber.StatusForbidden, "outsider comment")

	var comments []models.Comment
	status = call(t, app, "GET", path, owner, nil, &comments)
	expectStatus(t, status, fiber.StatusOK, "list comments")
	if len(comments) != 2 || comments[0].Text != "nice intro" {
		t.Errorf("expected comments in playback order, got %+v", comments)
	}
}

func TestUpdateStem(t *testing.T) {
	app, _ := setupApp(t)
	_, _, stems := openTrack(t, app)

	var stem models.Stem
	status := call(t, app, "PATCH", fmt.Sprintf("/api/stems/%d", stems[0].StemID), bob, map[string]string{"filePath": "tracks/drums-fixed.wav"}, &stem)
	expectStatus(t, status, fiber.StatusOK, "update stem")
	if stem.FilePath != "tracks/drums-fixed.wav" || stem.Identity != stems[0].Identity {
		t.Errorf("unexpected stem after update: %+v", stem)
	}

	status = call(t, app, "PATCH", fmt.Sprintf("/api/stems/%d", stems[0].StemID), bob, map[string]string{}, nil)
	expectStatus(t, status, fiber.StatusBadRequest, "empty path")
}

func TestUploadWithoutObjectStorage(t *testing.T) {
	app, _ := setupApp(t)
	track, _, _ := openTrack(t, app)

	status := call(t, app, "POST", fmt.Sprintf("/api/tracks/%d/stems/upload", track.TrackID), owner, nil, nil)
	expectStatus(t, status, fiber.StatusServiceUnavailable, "upload without store")
}

// fakePresigner signs by prefixing a fixed host
type fakePresigner struct {
	calls int
}

func (p *fakePresigner) PresignGet(_ context.Context, key string) (string, error) {
	p.calls++
	return "https://objects.test/" + key + "?sig=1", nil
}

func (p *fakePresigner) PresignTTL() time.Duration {
	return 10 * time.Minute
}

func TestPlayback(t *testing.T) {
	app, w := setupApp(t)
	_, stage, _ := openTrack(t, app)

	presigner := &fakePresigner{}
	playback := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler})
	h := &handlers.StageHandler{Workflow: w, Store: presigner}
	playback.Get("/api/stages/:stage/playback", middleware.Auth(headerAuth), h.Playback)

	var set struct {
		StageID     uint64 `json:"stageId"`
		Version     uint64 `json:"version"`
		GuideURL    string `json:"guideUrl"`
		WaveformURL string `json:"waveformUrl"`
		Stems       []struct {
			Identity string `json:"identity"`
			URL      string `json:"url"`
		} `json:"stems"`
	}
	status := call(t, playback, "GET", fmt.Sprintf("/api/stages/%d/playback", stage.StageID), bob, nil, &set)
	expectStatus(t, status, fiber.StatusOK, "playback")

	if set.StageID != stage.StageID || set.Version != 1 {
		t.Errorf("unexpected playback header: %+v", set)
	}
	if !strings.HasPrefix(set.GuideURL, "https://objects.test/guides/") || set.WaveformURL == "" {
		t.Errorf("expected presigned guide urls, got %q %q", set.GuideURL, set.WaveformURL)
	}
	if len(set.Stems) != 2 || !strings.HasPrefix(set.Stems[0].URL, "https://objects.test/tracks/") {
		t.Errorf("expected two presigned stems, got %+v", set.Stems)
	}
	if presigner.calls != 4 {
		t.Errorf("expected 4 presign calls, got %d", presigner.calls)
	}

	// the shared routes run without object storage
	status = call(t, app, "GET", fmt.Sprintf("/api/stages/%d/playback", stage.StageID), bob, nil, nil)
	expectStatus(t, status, fiber.StatusServiceUnavailable, "playback without store")
}
