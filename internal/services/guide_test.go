package services

import (
	"context"
	"testing"

	"github.com/localnerve/stemflow/internal/audio"
	"github.com/localnerve/stemflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaterializeUpsertsOneGuidePerStage(t *testing.T) {
	w, db := setupWorkflow(t)
	ctx := context.Background()

	track := createTrack(t, w)
	addStem(t, w, track.TrackID, "drums", "stems/drums.wav", 0)
	stage, err := w.OpenInitialStage(ctx, track.TrackID, testOwner)
	require.NoError(t, err)

	snapshot, err := ListVersionStems(db, stage.StageID)
	require.NoError(t, err)

	guide, err := Materialize(ctx, db, audio.NewPathMixer("renders"), stage, snapshot)
	require.NoError(t, err)
	assert.Equal(t, stage.Guide.GuideID, guide.GuideID)
	assert.Equal(t, "renders/track-1/v1/guide.mp3", guide.MixPath)
	assert.Equal(t, "renders/track-1/v1/guide.peaks.json", guide.WaveformPath)

	assert.Equal(t, int64(1), countRows(t, db, &models.Guide{}))
	assert.Equal(t, int64(1), countRows(t, db, &models.GuideStem{}))
}

func TestLinkStemsSkipsUnresolvedAndDuplicates(t *testing.T) {
	w, db := setupWorkflow(t)
	ctx := context.Background()

	track := createTrack(t, w)
	addStem(t, w, track.TrackID, "horns", "stems/horns.wav", 0)
	stage, err := w.OpenInitialStage(ctx, track.TrackID, testOwner)
	require.NoError(t, err)
	brass := addStem(t, w, track.TrackID, "brass", "stems/brass.wav", 0)

	other := createTrack(t, w)
	addStem(t, w, other.TrackID, "brass", "stems/foreign.wav", 0)

	added, err := LinkStems(db, stage.Guide.GuideID, []string{
		"stems/horns.wav",
		"stems/brass.wav",
		"stems/brass.wav",
		"stems/missing.wav",
		"stems/foreign.wav",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	got, err := w.GetStage(ctx, stage.StageID)
	require.NoError(t, err)
	require.Len(t, got.Guide.Stems, 2)
	ids := []uint64{got.Guide.Stems[0].StemID, got.Guide.Stems[1].StemID}
	assert.Contains(t, ids, brass.StemID)

	_, err = LinkStems(db, 999, []string{"stems/horns.wav"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotStageIsWrittenOnce(t *testing.T) {
	w, db := setupWorkflow(t)
	ctx := context.Background()

	track := createTrack(t, w)
	stem := addStem(t, w, track.TrackID, "bass", "stems/bass.wav", 0)
	stage, err := w.OpenInitialStage(ctx, track.TrackID, testOwner)
	require.NoError(t, err)

	_, err = SnapshotStage(db, stage.StageID, []StemSelection{SelectStem(*stem)})
	assert.ErrorIs(t, err, ErrDuplicateSnapshot)

	// a stem file change never reaches the frozen snapshot
	_, err = w.UpdateStemFile(ctx, stem.StemID, "stems/bass-fixed.wav")
	require.NoError(t, err)
	frozen, err := w.ListVersionStems(ctx, stage.StageID)
	require.NoError(t, err)
	require.Len(t, frozen, 1)
	assert.Equal(t, "stems/bass.wav", frozen[0].FilePath)
}

func TestSnapshotStageRejectsRepeatedIdentity(t *testing.T) {
	_, db := setupWorkflow(t)

	sel := StemSelection{StemID: 1, Identity: "keys:1", Category: "keys", FilePath: "k.wav"}
	_, err := SnapshotStage(db, 77, []StemSelection{sel, sel})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, int64(0), countRows(t, db, &models.VersionStem{}))
}

func TestListVersionStemsOrdering(t *testing.T) {
	w, db := setupWorkflow(t)
	ctx := context.Background()

	track := createTrack(t, w)
	stage, err := w.OpenInitialStage(ctx, track.TrackID, testOwner)
	require.NoError(t, err)

	bassA := addStem(t, w, track.TrackID, "bass", "a.wav", 0)
	bassB := addStem(t, w, track.TrackID, "bass", "b.wav", 0)
	vocal := addStem(t, w, track.TrackID, "vocal", "c.wav", 0)

	_, err = SnapshotStage(db, stage.StageID, []StemSelection{SelectStem(*vocal), SelectStem(*bassB), SelectStem(*bassA)})
	require.NoError(t, err)

	got, err := ListVersionStems(db, stage.StageID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t,
		[]string{bassA.Identity, bassB.Identity, vocal.Identity},
		[]string{got[0].Identity, got[1].Identity, got[2].Identity})
}
