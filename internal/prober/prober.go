// Package prober fetches a source blob from Storage into a local file and
// runs it through the shared transcoder.Runner to extract duration,
// dimensions, bitrate, frame rate, codec and aspect ratio.
package prober

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/arjunmehta/hlsvod/internal/storage"
	"github.com/arjunmehta/hlsvod/internal/transcoder"
)

// Prober probes source videos for metadata ahead of transcoding.
type Prober struct {
	runner  transcoder.Runner
	storage storage.Storage
}

// New constructs a Prober.
func New(runner transcoder.Runner, store storage.Storage) *Prober {
	return &Prober{runner: runner, storage: store}
}

// Probe fetches inputPath from storage into a temp file and runs ffprobe
// against it. Object-storage backends have no local path to hand ffprobe
// directly, so this localization step runs unconditionally even against
// the Local backend.
func (p *Prober) Probe(ctx context.Context, inputPath string) (*transcoder.Metadata, error) {
	rc, err := p.storage.Get(ctx, inputPath)
	if err != nil {
		return nil, fmt.Errorf("prober: failed to open source: %w", err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "probe-*")
	if err != nil {
		return nil, fmt.Errorf("prober: failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("prober: failed to localize source: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("prober: failed to close temp file: %w", err)
	}

	md, err := p.runner.RunProbe(ctx, tmpPath)
	if err != nil {
		return nil, fmt.Errorf("prober: ffprobe failed: %w", err)
	}
	return md, nil
}
