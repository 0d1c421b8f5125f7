package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/localnerve/stemflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenInitialStageSnapshotsLatestStems(t *testing.T) {
	w, _ := setupWorkflow(t)
	ctx := context.Background()

	track := createTrack(t, w)
	drums := addStem(t, w, track.TrackID, "drums", "stems/drums-1.wav", 0)
	addStem(t, w, track.TrackID, "drums", "stems/drums-2.wav", drums.StemID)
	addStem(t, w, track.TrackID, "keys", "stems/keys-1.wav", 0)

	stage, err := w.OpenInitialStage(ctx, track.TrackID, testOwner)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stage.Version)
	assert.Equal(t, models.StageActive, stage.Status)

	got, err := w.ListVersionStems(ctx, stage.StageID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "stems/drums-2.wav", got[0].FilePath)
	assert.Equal(t, "stems/keys-1.wav", got[1].FilePath)

	require.NotNil(t, stage.Guide)
	assert.Equal(t, "guides/track-1/v1/guide.mp3", stage.Guide.MixPath)
}

func TestOpenInitialStageConflict(t *testing.T) {
	w, _ := setupWorkflow(t)
	ctx := context.Background()

	track := createTrack(t, w)
	_, err := w.OpenInitialStage(ctx, track.TrackID, testOwner)
	require.NoError(t, err)

	_, err = w.OpenInitialStage(ctx, track.TrackID, testOwner)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = w.OpenInitialStage(ctx, 999, testOwner)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMergeUpstreamAdvancesVersion(t *testing.T) {
	w, _ := setupWorkflow(t)
	ctx := context.Background()

	track, stages := threeStageTrack(t, w)

	versions, active := stageVersions(t, w, track.TrackID)
	assert.Equal(t, []uint64{1, 2, 3}, versions)
	assert.Equal(t, 1, active)

	v2, err := w.GetStage(ctx, stages[1].StageID)
	require.NoError(t, err)
	assert.Equal(t, models.StageApproved, v2.Status)

	v3, err := w.GetStage(ctx, stages[2].StageID)
	require.NoError(t, err)
	paths := map[string]string{}
	for _, vs := range v3.VersionStems {
		paths[vs.Category] = vs.FilePath
	}
	assert.Equal(t, map[string]string{
		"bass":  "stems/bass-2.wav",
		"vocal": "stems/vocal-2.wav",
	}, paths)
	require.NotNil(t, v3.Guide)
	assert.Len(t, v3.Guide.Stems, 2)
}

func TestMergeUpstreamRequiresApproval(t *testing.T) {
	w, _ := setupWorkflow(t)
	ctx := context.Background()

	track := createTrack(t, w, "alice")
	stem := addStem(t, w, track.TrackID, "pad", "stems/pad.wav", 0)
	stage, err := w.OpenInitialStage(ctx, track.TrackID, testOwner)
	require.NoError(t, err)

	upstream, err := w.CreateUpstream(ctx, UpstreamInput{
		StageID:     stage.StageID,
		SubmittedBy: "alice",
		StemIDs:     []uint64{stem.StemID},
		Reviewers:   []string{"alice"},
	})
	require.NoError(t, err)

	_, err = w.MergeUpstream(ctx, upstream.UpstreamID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = w.MergeUpstream(ctx, 12345)
	assert.ErrorIs(t, err, ErrNotFound)
}

// Two approved upstreams race to merge into the same active v3
func TestConcurrentMergeOneWins(t *testing.T) {
	w, db := setupWorkflow(t)
	ctx := context.Background()

	track, stages := threeStageTrack(t, w)
	v3 := stages[2]

	var upstreamIDs []uint64
	for _, path := range []string{"stems/lead-a.wav", "stems/lead-b.wav"} {
		stem := addStem(t, w, track.TrackID, "lead", path, 0)
		upstream, err := w.CreateUpstream(ctx, UpstreamInput{
			StageID:     v3.StageID,
			SubmittedBy: "alice",
			StemIDs:     []uint64{stem.StemID},
			Reviewers:   []string{"alice"},
		})
		require.NoError(t, err)
		require.NoError(t, db.Model(&models.Upstream{}).
			Where("upstream_id = ?", upstream.UpstreamID).
			Update("status", models.UpstreamApproved).Error)
		upstreamIDs = append(upstreamIDs, upstream.UpstreamID)
	}

	var wg sync.WaitGroup
	results := make([]*models.Stage, len(upstreamIDs))
	errs := make([]error, len(upstreamIDs))
	for i, id := range upstreamIDs {
		wg.Add(1)
		go func(i int, id uint64) {
			defer wg.Done()
			results[i], errs[i] = w.MergeUpstream(ctx, id)
		}(i, id)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for i := range errs {
		switch {
		case errs[i] == nil:
			wins++
			assert.Equal(t, uint64(4), results[i].Version)
		case errors.Is(errs[i], ErrVersionConflict):
			conflicts++
		default:
			t.Fatalf("unexpected merge error: %v", errs[i])
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)

	versions, active := stageVersions(t, w, track.TrackID)
	assert.Equal(t, []uint64{1, 2, 3, 4}, versions)
	assert.Equal(t, 1, active)
	assert.Equal(t, 0, w.locks.size())
}

func TestMergeFailureLeavesTrackUnchanged(t *testing.T) {
	w, db := setupWorkflow(t)
	ctx := context.Background()

	track := createTrack(t, w)
	stem := addStem(t, w, track.TrackID, "fx", "stems/fx.wav", 0)
	stage, err := w.OpenInitialStage(ctx, track.TrackID, testOwner)
	require.NoError(t, err)

	upstream, err := w.CreateUpstream(ctx, UpstreamInput{
		StageID:     stage.StageID,
		SubmittedBy: testOwner,
		StemIDs:     []uint64{stem.StemID},
	})
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Upstream{}).
		Where("upstream_id = ?", upstream.UpstreamID).
		Update("status", models.UpstreamApproved).Error)

	w.Mixer = failingMixer{}
	_, err = w.MergeUpstream(ctx, upstream.UpstreamID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransaction)

	versions, active := stageVersions(t, w, track.TrackID)
	assert.Equal(t, []uint64{1}, versions)
	assert.Equal(t, 1, active)

	got, err := w.GetUpstream(ctx, upstream.UpstreamID)
	require.NoError(t, err)
	assert.Nil(t, got.MergedStageID)
	assert.Equal(t, int64(1), countRows(t, db, &models.Guide{}))
}

func TestRejectStageReopensPredecessor(t *testing.T) {
	w, _ := setupWorkflow(t)
	ctx := context.Background()

	track, stages := threeStageTrack(t, w)
	v3 := stages[2]

	stem := addStem(t, w, track.TrackID, "perc", "stems/perc.wav", 0)
	pending, err := w.CreateUpstream(ctx, UpstreamInput{
		StageID:     v3.StageID,
		SubmittedBy: "bob",
		StemIDs:     []uint64{stem.StemID},
		Reviewers:   []string{"alice"},
	})
	require.NoError(t, err)

	reopened, err := w.RejectStage(ctx, v3.StageID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), reopened.Version)
	assert.Equal(t, models.StageActive, reopened.Status)

	rejected, err := w.GetStage(ctx, v3.StageID)
	require.NoError(t, err)
	assert.Equal(t, models.StageRejected, rejected.Status)

	got, err := w.GetUpstream(ctx, pending.UpstreamID)
	require.NoError(t, err)
	assert.Equal(t, models.UpstreamRejected, got.Status)

	// the version counter keeps moving forward
	next := mergeStems(t, w, reopened.StageID, stem)
	assert.Equal(t, uint64(4), next.Version)

	versions, active := stageVersions(t, w, track.TrackID)
	assert.Equal(t, []uint64{1, 2, 3, 4}, versions)
	assert.Equal(t, 1, active)
}

func TestRejectedStageUpstreamCannotMergeAgain(t *testing.T) {
	w, _ := setupWorkflow(t)
	ctx := context.Background()

	track := createTrack(t, w)
	bass := addStem(t, w, track.TrackID, "bass", "stems/bass-1.wav", 0)
	v1, err := w.OpenInitialStage(ctx, track.TrackID, testOwner)
	require.NoError(t, err)

	bass2 := addStem(t, w, track.TrackID, "bass", "stems/bass-2.wav", bass.StemID)
	v2 := mergeStems(t, w, v1.StageID, bass2)

	upstreams, err := w.ListUpstreams(ctx, v1.StageID)
	require.NoError(t, err)
	require.Len(t, upstreams, 1)
	merged := upstreams[0]

	_, err = w.RejectStage(ctx, v2.StageID)
	require.NoError(t, err)

	got, err := w.GetUpstream(ctx, merged.UpstreamID)
	require.NoError(t, err)
	assert.Equal(t, models.UpstreamRejected, got.Status)
	require.NotNil(t, got.MergedStageID)
	assert.Equal(t, v2.StageID, *got.MergedStageID)

	_, err = w.MergeUpstream(ctx, merged.UpstreamID)
	assert.ErrorIs(t, err, ErrInvalidState)

	versions, active := stageVersions(t, w, track.TrackID)
	assert.Equal(t, []uint64{1, 2}, versions)
	assert.Equal(t, 1, active)

	frozen, err := w.ListVersionStems(ctx, v1.StageID)
	require.NoError(t, err)
	require.Len(t, frozen, 1)
	assert.Equal(t, "stems/bass-1.wav", frozen[0].FilePath)
}

func TestMergeUpstreamRejectsMergedUpstream(t *testing.T) {
	w, db := setupWorkflow(t)
	ctx := context.Background()

	track := createTrack(t, w)
	v1, err := w.OpenInitialStage(ctx, track.TrackID, testOwner)
	require.NoError(t, err)
	keys := addStem(t, w, track.TrackID, "keys", "stems/keys.wav", 0)
	v2 := mergeStems(t, w, v1.StageID, keys)

	upstreams, err := w.ListUpstreams(ctx, v1.StageID)
	require.NoError(t, err)
	require.Len(t, upstreams, 1)

	// reopen the target by hand so only the merge marker guards the upstream
	require.NoError(t, db.Model(&models.Stage{}).Where("stage_id = ?", v2.StageID).Update("status", models.StageRejected).Error)
	require.NoError(t, db.Model(&models.Stage{}).Where("stage_id = ?", v1.StageID).Update("status", models.StageActive).Error)

	_, err = w.MergeUpstream(ctx, upstreams[0].UpstreamID)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Contains(t, err.Error(), "already merged")
}

func TestRejectStageInvalid(t *testing.T) {
	w, _ := setupWorkflow(t)
	ctx := context.Background()

	_, stages := threeStageTrack(t, w)

	_, err := w.RejectStage(ctx, stages[1].StageID)
	assert.ErrorIs(t, err, ErrInvalidState)

	track := createTrack(t, w)
	v1, err := w.OpenInitialStage(ctx, track.TrackID, testOwner)
	require.NoError(t, err)
	_, err = w.RejectStage(ctx, v1.StageID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = w.RejectStage(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActiveStage(t *testing.T) {
	w, _ := setupWorkflow(t)
	ctx := context.Background()

	track, stages := threeStageTrack(t, w)
	active, err := w.ActiveStage(ctx, track.TrackID)
	require.NoError(t, err)
	assert.Equal(t, stages[2].StageID, active.StageID)

	_, err = w.ActiveStage(ctx, 4242)
	assert.ErrorIs(t, err, ErrNotFound)
}
