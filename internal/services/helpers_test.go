package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/localnerve/stemflow/internal/audio"
	"github.com/localnerve/stemflow/internal/database"
	"github.com/localnerve/stemflow/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testOwner = "owner-1"

// setupWorkflow opens a private shared-cache in-memory database per test
func setupWorkflow(t *testing.T) (*Workflow, *gorm.DB) {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared&_pragma=foreign_keys(1)"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))

	return NewWorkflow(db, audio.NewPathMixer("guides")), db
}

func createTrack(t *testing.T, w *Workflow, collaborators ...string) *models.Track {
	t.Helper()
	track, err := w.CreateTrack(context.Background(), TrackInput{
		Title:         "Night Drive",
		OwnerID:       testOwner,
		Collaborators: collaborators,
	})
	require.NoError(t, err)
	return track
}

func addStem(t *testing.T, w *Workflow, trackID uint64, category, filePath string, replaces uint64) *models.Stem {
	t.Helper()
	stem, err := w.CreateStem(context.Background(), StemInput{
		TrackID:    trackID,
		Category:   category,
		FilePath:   filePath,
		UploadedBy: testOwner,
		Replaces:   replaces,
	})
	require.NoError(t, err)
	return stem
}

// mergeStems submits an owner-only upstream against stageID and aggregates
// it, which approves and merges it. Returns the new active stage.
func mergeStems(t *testing.T, w *Workflow, stageID uint64, stems ...*models.Stem) *models.Stage {
	t.Helper()
	ctx := context.Background()

	ids := make([]uint64, 0, len(stems))
	for _, s := range stems {
		ids = append(ids, s.StemID)
	}
	upstream, err := w.CreateUpstream(ctx, UpstreamInput{
		StageID:     stageID,
		Title:       "change",
		SubmittedBy: testOwner,
		StemIDs:     ids,
	})
	require.NoError(t, err)

	upstream, err = w.Aggregate(ctx, upstream.UpstreamID)
	require.NoError(t, err)
	require.Equal(t, models.UpstreamApproved, upstream.Status)
	require.NotNil(t, upstream.MergedStageID)

	stage, err := w.GetStage(ctx, *upstream.MergedStageID)
	require.NoError(t, err)
	return stage
}

// threeStageTrack builds v1 (approved), v2 (approved), v3 (active)
func threeStageTrack(t *testing.T, w *Workflow) (*models.Track, []*models.Stage) {
	t.Helper()
	ctx := context.Background()

	track := createTrack(t, w, "alice", "bob")
	vocal := addStem(t, w, track.TrackID, "vocal", "stems/vocal-1.wav", 0)
	bass := addStem(t, w, track.TrackID, "bass", "stems/bass-1.wav", 0)

	v1, err := w.OpenInitialStage(ctx, track.TrackID, testOwner)
	require.NoError(t, err)

	bass2 := addStem(t, w, track.TrackID, "bass", "stems/bass-2.wav", bass.StemID)
	v2 := mergeStems(t, w, v1.StageID, vocal, bass2)

	vocal2 := addStem(t, w, track.TrackID, "vocal", "stems/vocal-2.wav", vocal.StemID)
	v3 := mergeStems(t, w, v2.StageID, vocal2)

	return track, []*models.Stage{v1, v2, v3}
}

func stageVersions(t *testing.T, w *Workflow, trackID uint64) ([]uint64, int) {
	t.Helper()
	stages, err := w.ListStages(context.Background(), trackID)
	require.NoError(t, err)
	versions := make([]uint64, 0, len(stages))
	active := 0
	for _, s := range stages {
		versions = append(versions, s.Version)
		if s.Status == models.StageActive {
			active++
		}
	}
	return versions, active
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

// failingMixer fails every render
type failingMixer struct{}

func (failingMixer) Mix(context.Context, audio.MixRequest) (audio.MixResult, error) {
	return audio.MixResult{}, errors.New("mixer unavailable")
}
