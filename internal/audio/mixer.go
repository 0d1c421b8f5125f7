// Package audio adapts the external mixing and waveform tools that render a
// stage's guide. Only file paths cross this boundary.
package audio

import (
	"context"
	"fmt"
	"path"
)

// MixRequest describes one guide render
type MixRequest struct {
	TrackID      uint64
	StageID      uint64
	StageVersion uint64
	StemPaths    []string
}

// MixResult holds the artifact paths produced for a guide
type MixResult struct {
	MixPath      string
	WaveformPath string
}

// InputResolver maps a stored stem path to an input the mixing tool can
// open, such as a local file or a presigned URL.
type InputResolver interface {
	ResolveInput(ctx context.Context, stemPath string) (string, error)
}

// Mixer renders a reference mix and waveform peaks from a set of stem files
type Mixer interface {
	Mix(ctx context.Context, req MixRequest) (MixResult, error)
}

// GuidePaths returns the artifact locations for a stage under dir
func GuidePaths(dir string, req MixRequest) MixResult {
	base := path.Join(dir, fmt.Sprintf("track-%d", req.TrackID), fmt.Sprintf("v%d", req.StageVersion))
	return MixResult{
		MixPath:      path.Join(base, "guide.mp3"),
		WaveformPath: path.Join(base, "guide.peaks.json"),
	}
}

// PathMixer only assigns artifact paths; rendering happens elsewhere
type PathMixer struct {
	Dir string
}

// NewPathMixer creates a PathMixer rooted at dir
func NewPathMixer(dir string) *PathMixer {
	return &PathMixer{Dir: dir}
}

// Mix returns the deterministic guide paths for the request
func (m *PathMixer) Mix(_ context.Context, req MixRequest) (MixResult, error) {
	return GuidePaths(m.Dir, req), nil
}
