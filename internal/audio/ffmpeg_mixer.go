package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/localnerve/stemflow/internal/logger"
)

// FFmpegMixer mixes stems with ffmpeg's amix filter and extracts waveform
// peaks with audiowaveform.
type FFmpegMixer struct {
	ffmpegPath   string
	waveformPath string
	dir          string
	bitrate      string
	inputs       InputResolver
}

// NewFFmpegMixer creates a new FFmpegMixer writing guides under dir
func NewFFmpegMixer(ffmpegPath, waveformPath, dir string) *FFmpegMixer {
	return &FFmpegMixer{
		ffmpegPath:   ffmpegPath,
		waveformPath: waveformPath,
		dir:          dir,
		bitrate:      "192k",
	}
}

// WithInputs sets the resolver applied to stem paths before mixing
func (m *FFmpegMixer) WithInputs(r InputResolver) *FFmpegMixer {
	m.inputs = r
	return m
}

// resolveInputs maps stem paths through the resolver, if any
func (m *FFmpegMixer) resolveInputs(ctx context.Context, stemPaths []string) ([]string, error) {
	if m.inputs == nil {
		return stemPaths, nil
	}
	resolved := make([]string, 0, len(stemPaths))
	for _, p := range stemPaths {
		in, err := m.inputs.ResolveInput(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve stem %s: %w", p, err)
		}
		resolved = append(resolved, in)
	}
	return resolved, nil
}

// Mix renders the guide mix, then its waveform peaks
func (m *FFmpegMixer) Mix(ctx context.Context, req MixRequest) (MixResult, error) {
	result := GuidePaths(m.dir, req)
	if len(req.StemPaths) == 0 {
		return result, nil
	}

	inputs, err := m.resolveInputs(ctx, req.StemPaths)
	if err != nil {
		return MixResult{}, err
	}

	if err := os.MkdirAll(filepath.Dir(result.MixPath), os.ModePerm); err != nil {
		return MixResult{}, fmt.Errorf("failed to create guide directory: %w", err)
	}

	if err := m.run(ctx, m.ffmpegPath, mixArgs(inputs, result.MixPath, m.bitrate)); err != nil {
		return MixResult{}, fmt.Errorf("ffmpeg mix failed: %w", err)
	}

	if err := m.run(ctx, m.waveformPath, waveformArgs(result.MixPath, result.WaveformPath)); err != nil {
		return MixResult{}, fmt.Errorf("waveform extraction failed: %w", err)
	}

	logger.Info("Rendered guide",
		logger.Uint64("track_id", req.TrackID),
		logger.Uint64("version", req.StageVersion),
		logger.Int("stems", len(req.StemPaths)))

	return result, nil
}

func (m *FFmpegMixer) run(ctx context.Context, bin string, args []string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr

	logger.Debug("Executing", logger.String("bin", bin), logger.Strings("args", args))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, stderr.String())
	}
	return nil
}

// mixArgs builds an ffmpeg invocation that sums all inputs without
// normalizing levels
func mixArgs(inputs []string, output, bitrate string) []string {
	args := []string{"-y"}
	for _, in := range inputs {
		args = append(args, "-i", in)
	}
	args = append(args,
		"-filter_complex", "amix=inputs="+strconv.Itoa(len(inputs))+":duration=longest:normalize=0",
		"-c:a", "libmp3lame",
		"-b:a", bitrate,
		output,
	)
	return args
}

func waveformArgs(input, output string) []string {
	return []string{
		"-i", input,
		"-o", output,
		"--pixels-per-second", "20",
		"--bits", "8",
	}
}
