package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/localnerve/stemflow/internal/audio"
	"github.com/localnerve/stemflow/internal/database"
	"github.com/localnerve/stemflow/internal/models"
	"github.com/localnerve/stemflow/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestParseOutputFormat(t *testing.T) {
	for in, want := range map[string]outputFormat{"": outputTable, "TABLE": outputTable, "json": outputJSON, "yaml": outputYAML} {
		got, err := parseOutputFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := parseOutputFormat("xml")
	assert.Error(t, err)
}

func TestPrintOutput(t *testing.T) {
	data := map[string]int64{"stages": 2, "guides": 2}
	rows := [][]string{{"guides", "2"}, {"stages", "2"}}

	var buf bytes.Buffer
	require.NoError(t, printOutput(&buf, outputTable, data, []string{"TABLE", "DELETED"}, rows))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "TABLE"))

	buf.Reset()
	require.NoError(t, printOutput(&buf, outputJSON, data, nil, nil))
	assert.Contains(t, buf.String(), `"stages": 2`)

	buf.Reset()
	require.NoError(t, printOutput(&buf, outputYAML, data, nil, nil))
	assert.Contains(t, buf.String(), "guides: 2")
}

func TestParseID(t *testing.T) {
	id, err := parseID("track id", "42")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)

	for _, bad := range []string{"0", "-1", "x"} {
		_, err := parseID("track id", bad)
		assert.Error(t, err, bad)
	}
}

func TestRollbackRequiresConfirmation(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"rollback", "1", "1"})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}

// recordingPlayback remembers invalidated stages
type recordingPlayback struct {
	stageIDs []uint64
}

func (r *recordingPlayback) Invalidate(_ context.Context, stageIDs ...uint64) {
	r.stageIDs = append(r.stageIDs, stageIDs...)
}

func TestRollbackTrackInvalidatesPlayback(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:stemctl_rollback?mode=memory&cache=shared&_pragma=foreign_keys(1)"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.AutoMigrate(db))

	ctx := context.Background()
	w := services.NewWorkflow(db, audio.NewPathMixer("guides"))
	track, err := w.CreateTrack(ctx, services.TrackInput{Title: "Ops", OwnerID: "owner"})
	require.NoError(t, err)
	v1, err := w.OpenInitialStage(ctx, track.TrackID, "owner")
	require.NoError(t, err)

	stem, err := w.CreateStem(ctx, services.StemInput{TrackID: track.TrackID, Category: "pad", FilePath: "pad.wav", UploadedBy: "owner"})
	require.NoError(t, err)
	upstream, err := w.CreateUpstream(ctx, services.UpstreamInput{StageID: v1.StageID, SubmittedBy: "owner", StemIDs: []uint64{stem.StemID}})
	require.NoError(t, err)
	upstream, err = w.Aggregate(ctx, upstream.UpstreamID)
	require.NoError(t, err)
	require.Equal(t, models.UpstreamApproved, upstream.Status)
	require.NotNil(t, upstream.MergedStageID)

	playback := &recordingPlayback{}
	result, err := rollbackTrack(ctx, w, playback, track.TrackID, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{*upstream.MergedStageID}, result.DeletedStageIDs)
	assert.Equal(t, result.DeletedStageIDs, playback.stageIDs)

	_, err = rollbackTrack(ctx, w, playback, track.TrackID, 1)
	assert.ErrorIs(t, err, services.ErrInvalidState)
	assert.Len(t, playback.stageIDs, 1)
}
