// Package main provides stemctl, the operator CLI for stemflow track maintenance.
// It talks to the database directly and shares the service's workflow rules.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/localnerve/stemflow/internal/audio"
	"github.com/localnerve/stemflow/internal/cache"
	"github.com/localnerve/stemflow/internal/config"
	"github.com/localnerve/stemflow/internal/database"
	"github.com/localnerve/stemflow/internal/logger"
	"github.com/localnerve/stemflow/internal/services"
	"github.com/localnerve/stemflow/internal/storage"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	version = "dev"

	outputFlag string
	timeout    time.Duration
)

// env is the per-invocation database and workflow
type env struct {
	cfg      *config.Config
	db       *gorm.DB
	workflow *services.Workflow
	playback *cache.PlaybackCache
}

// playbackInvalidator drops cached playback sets for stages
type playbackInvalidator interface {
	Invalidate(ctx context.Context, stageIDs ...uint64)
}

func openEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogFile,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAge,
	}); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	var mixer audio.Mixer = audio.NewPathMixer(cfg.GuideDir)
	if cfg.MixerMode == "ffmpeg" {
		ffmpeg := audio.NewFFmpegMixer(cfg.FFmpegPath, cfg.WaveformPath, cfg.GuideDir)
		if cfg.ObjectStorageEnabled() {
			store, err := storage.NewObjectStore(cfg)
			if err != nil {
				_ = database.Close(db)
				return nil, fmt.Errorf("creating object store client: %w", err)
			}
			ffmpeg.WithInputs(store)
		}
		mixer = ffmpeg
	}

	e := &env{cfg: cfg, db: db, workflow: services.NewWorkflow(db, mixer)}
	if cfg.CacheEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if e.playback, err = cache.NewPlaybackCache(ctx, cfg); err != nil {
			logger.Warn("Playback cache unavailable, cached playback sets expire by TTL", logger.ErrorField(err))
			e.playback = nil
		}
	}
	return e, nil
}

func (e *env) close() {
	_ = e.playback.Close()
	_ = database.Close(e.db)
	logger.Sync()
}

// rollbackTrack rolls the track back and drops playback sets cached for the
// deleted stages
func rollbackTrack(ctx context.Context, w *services.Workflow, playback playbackInvalidator, trackID, target uint64) (*services.RollbackResult, error) {
	result, err := w.Rollback(ctx, trackID, target)
	if err != nil {
		return nil, err
	}
	playback.Invalidate(ctx, result.DeletedStageIDs...)
	return result, nil
}

// withEnv runs fn with an open environment and a bounded context
func withEnv(fn func(ctx context.Context, e *env) error) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return fn(ctx, e)
}

func parseID(name, s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return id, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the stemflow schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(_ context.Context, e *env) error {
				if err := database.AutoMigrate(e.db); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema migrated (%s)\n", e.cfg.DBType)
				return nil
			})
		},
	}
}

func newStagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stages TRACK_ID",
		Short: "List a track's stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}
			trackID, err := parseID("track id", args[0])
			if err != nil {
				return err
			}
			return withEnv(func(ctx context.Context, e *env) error {
				stages, err := e.workflow.ListStages(ctx, trackID)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(stages))
				for _, s := range stages {
					rows = append(rows, []string{
						strconv.FormatUint(s.StageID, 10),
						strconv.FormatUint(s.Version, 10),
						s.Status,
						s.CreatedBy,
						s.CreatedAt.UTC().Format(time.RFC3339),
					})
				}
				return printOutput(cmd.OutOrStdout(), format, stages,
					[]string{"STAGE", "VERSION", "STATUS", "CREATED BY", "CREATED"}, rows)
			})
		},
	}
}

func newRollbackCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "rollback TRACK_ID VERSION",
		Short: "Roll a track back to an earlier version",
		Long: `Reopen VERSION as the active stage of the track. Every newer stage is
deleted together with its guide, snapshot, upstreams, reviews and comments.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}
			trackID, err := parseID("track id", args[0])
			if err != nil {
				return err
			}
			target, err := parseID("version", args[1])
			if err != nil {
				return err
			}
			if !yes {
				return fmt.Errorf("rollback deletes stages newer than v%d; pass --yes to confirm", target)
			}
			return withEnv(func(ctx context.Context, e *env) error {
				result, err := rollbackTrack(ctx, e.workflow, e.playback, trackID, target)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(result.Deleted))
				for _, table := range sortedKeys(result.Deleted) {
					rows = append(rows, []string{table, strconv.FormatInt(result.Deleted[table], 10)})
				}
				return printOutput(cmd.OutOrStdout(), format, result, []string{"TABLE", "DELETED"}, rows)
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the destructive rollback")
	return cmd
}

func newRejectStageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject-stage STAGE_ID",
		Short: "Reject an active stage and reopen its predecessor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}
			stageID, err := parseID("stage id", args[0])
			if err != nil {
				return err
			}
			return withEnv(func(ctx context.Context, e *env) error {
				reopened, err := e.workflow.RejectStage(ctx, stageID)
				if err != nil {
					return err
				}
				return printOutput(cmd.OutOrStdout(), format, reopened,
					[]string{"STAGE", "VERSION", "STATUS"},
					[][]string{{
						strconv.FormatUint(reopened.StageID, 10),
						strconv.FormatUint(reopened.Version, 10),
						reopened.Status,
					}})
			})
		},
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stemctl",
		Short: "Operator CLI for stemflow tracks",
		Long: `stemctl runs maintenance operations against the stemflow database.

Configuration is read from the same environment variables (and .env file)
as the server.`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")

	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newStagesCmd())
	rootCmd.AddCommand(newRollbackCmd())
	rootCmd.AddCommand(newRejectStageCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
