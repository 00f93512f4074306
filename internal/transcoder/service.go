// Package transcoder turns a probed source video into per-resolution HLS
// renditions plus a master playlist, with partial-failure isolation
// across resolutions.
package transcoder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arjunmehta/hlsvod/internal/apperr"
	"github.com/arjunmehta/hlsvod/internal/logging"
	"github.com/arjunmehta/hlsvod/internal/storage"
	"github.com/arjunmehta/hlsvod/internal/tracing"
	"github.com/arjunmehta/hlsvod/pkg/models"
)

const (
	segmentDurationSec = 10
	maxAudioBitrateK   = "128k"
)

// Output is one successfully produced rendition, returned from
// TranscodeToHLS.
type Output struct {
	Resolution   models.Resolution
	Width        int
	Height       int
	BitrateKbps  int64
	PlaylistPath string
	SegmentPaths []string
	FileSize     int64
	SegmentCount int
}

// Request is the input to TranscodeToHLS: the video id, the canonical
// storage path of its source blob, the resolutions to attempt, optional
// prior probe metadata, and an optional progress callback. There is no
// output prefix: outputs are always written under the canonical
// hls/{videoId}/ paths of the storage path helpers.
type Request struct {
	VideoID              string
	InputPath            string // canonical storage path of the source blob
	RequestedResolutions []models.Resolution
	SourceMetadata       *Metadata // already-probed source; probed from the localized input when nil
	OnProgress           func(percent float64, currentResolution models.Resolution)
}

// Service orchestrates transcoding operations.
type Service struct {
	runner  Runner
	storage storage.Storage
	tempDir string
	log     *logging.Logger
}

// NewService constructs a Service.
func NewService(runner Runner, store storage.Storage, tempDir string, log *logging.Logger) *Service {
	return &Service{runner: runner, storage: store, tempDir: tempDir, log: log}
}

// TranscodeToHLS runs one FFmpeg invocation per surviving resolution
// (never a single var_stream_map invocation, so a failure on one
// resolution can never abort another), continue-on-error collection of
// successful outputs, and descending-height master playlist assembly.
func (s *Service) TranscodeToHLS(ctx context.Context, req Request) ([]Output, string, error) {
	// Step 1: isolated temp workspace, removed on every exit path.
	workDir, err := os.MkdirTemp(s.tempDir, fmt.Sprintf("job-%s-*", req.VideoID))
	if err != nil {
		return nil, "", fmt.Errorf("transcoder: failed to create workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	// Step 2: source localization (no-op cost difference is invisible to
	// this code — Storage.Get always returns a stream, whether local or
	// remote).
	localInput, err := s.localize(ctx, workDir, req.InputPath)
	if err != nil {
		return nil, "", fmt.Errorf("transcoder: failed to localize source: %w", err)
	}

	if req.SourceMetadata == nil {
		md, err := s.runner.RunProbe(ctx, localInput)
		if err != nil {
			return nil, "", fmt.Errorf("transcoder: failed to probe source: %w", err)
		}
		req.SourceMetadata = md
	}

	// Step 3: resolution filtering, never upscale.
	rungs := filterLadder(req.RequestedResolutions, req.SourceMetadata.Height)

	var outputs []Output
	n := len(rungs)
	for i, rung := range rungs {
		if ctx.Err() != nil {
			return outputs, "", ctx.Err()
		}

		out, err := s.encodeRendition(ctx, workDir, localInput, req, rung, i, n)
		if err != nil {
			s.log.WithVideoID(req.VideoID).WithError(err).Warnf("rendition %s failed, continuing with remaining resolutions", rung.Resolution)
			continue
		}
		outputs = append(outputs, out)
	}

	// Step 7: partial failure policy.
	if len(outputs) == 0 {
		return nil, "", apperr.New(apperr.CodeAllRenditionsFailed, "transcoder: all renditions failed")
	}

	// Step 8: master playlist, sorted by descending height.
	masterPath, err := s.writeMasterPlaylist(ctx, req.VideoID, outputs)
	if err != nil {
		return outputs, "", fmt.Errorf("transcoder: failed to write master playlist: %w", err)
	}

	return outputs, masterPath, nil
}

func (s *Service) localize(ctx context.Context, workDir, inputPath string) (string, error) {
	rc, err := s.storage.Get(ctx, inputPath)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	localPath := filepath.Join(workDir, "source"+filepath.Ext(inputPath))
	f, err := os.Create(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(f, rc); err != nil {
		return "", err
	}
	return localPath, nil
}

func (s *Service) encodeRendition(ctx context.Context, workDir, localInput string, req Request, rung Rung, index, total int) (out Output, err error) {
	span, ctx := tracing.StartSpan(ctx, "transcoder.encodeRendition")
	tracing.SetTag(span, "video.id", req.VideoID)
	tracing.SetTag(span, "resolution", string(rung.Resolution))
	defer func() {
		tracing.LogError(span, err)
		tracing.FinishSpan(span)
	}()

	renditionDir := filepath.Join(workDir, string(rung.Resolution))
	if err := os.MkdirAll(renditionDir, 0755); err != nil {
		return Output{}, fmt.Errorf("failed to create rendition directory: %w", err)
	}

	playlistFile := filepath.Join(renditionDir, "playlist.m3u8")
	segmentTemplate := filepath.Join(renditionDir, "segment_%03d.ts")

	maxrate := rung.VideoBitrateKbps * 12 / 10
	bufsize := rung.VideoBitrateKbps * 2

	args := []string{
		"-y",
		"-i", localInput,
		"-vf", fmt.Sprintf("scale=-2:%d:force_original_aspect_ratio=decrease", rung.Height),
		"-c:v", "libx264",
		"-profile:v", "main",
		"-level", "3.1",
		"-pix_fmt", "yuv420p",
		"-preset", "fast",
		"-b:v", fmt.Sprintf("%dk", rung.VideoBitrateKbps),
		"-maxrate", fmt.Sprintf("%dk", maxrate),
		"-bufsize", fmt.Sprintf("%dk", bufsize),
		"-c:a", "aac",
		"-b:a", maxAudioBitrateK,
		"-ac", "2",
		"-ar", "44100",
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", segmentDurationSec),
		"-hls_list_size", "0",
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", segmentTemplate,
		"-progress", "pipe:1",
		playlistFile,
	}

	durationSec := req.SourceMetadata.DurationSec

	onProgress := req.OnProgress
	_, _, err = s.runner.RunEncode(ctx, args, func(elapsedSec float64) {
		if onProgress == nil || durationSec <= 0 {
			return
		}
		innerPct := elapsedSec / durationSec * 100
		if innerPct > 100 {
			innerPct = 100
		}
		overall := (float64(index) + innerPct/100) / float64(total) * 100
		onProgress(overall, rung.Resolution)
	})
	if err != nil {
		return Output{}, err
	}

	segmentPaths, err := sortedSegmentFiles(renditionDir)
	if err != nil {
		return Output{}, err
	}

	storagePlaylistPath := storage.VariantPlaylistPath(req.VideoID, string(rung.Resolution))
	var totalSize int64

	playlistInfo, err := uploadFile(ctx, s.storage, playlistFile, storagePlaylistPath)
	if err != nil {
		return Output{}, err
	}
	totalSize += playlistInfo

	storageSegmentPaths := make([]string, 0, len(segmentPaths))
	for i, localSeg := range segmentPaths {
		dest := storage.SegmentPath(req.VideoID, string(rung.Resolution), i)
		size, err := uploadFile(ctx, s.storage, localSeg, dest)
		if err != nil {
			return Output{}, err
		}
		totalSize += size
		storageSegmentPaths = append(storageSegmentPaths, dest)
	}

	return Output{
		Resolution:   rung.Resolution,
		Width:        rung.Width,
		Height:       rung.Height,
		BitrateKbps:  rung.VideoBitrateKbps,
		PlaylistPath: storagePlaylistPath,
		SegmentPaths: storageSegmentPaths,
		FileSize:     totalSize,
		SegmentCount: len(storageSegmentPaths),
	}, nil
}

func uploadFile(ctx context.Context, store storage.Storage, localPath, storagePath string) (int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if err := store.Save(ctx, storagePath, f, info.Size()); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func sortedSegmentFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var segments []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".ts") {
			segments = append(segments, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(segments)
	return segments, nil
}

// writeMasterPlaylist composes and uploads the top-level master playlist
// sorted by descending height.
func (s *Service) writeMasterPlaylist(ctx context.Context, videoID string, outputs []Output) (string, error) {
	sorted := make([]Output, len(outputs))
	copy(sorted, outputs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Height > sorted[j].Height })

	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n\n")
	for _, o := range sorted {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n", o.BitrateKbps*1000, o.Width, o.Height)
		fmt.Fprintf(&b, "%s/playlist.m3u8\n", o.Resolution)
	}

	masterPath := storage.MasterPlaylistPath(videoID)
	if err := s.storage.Save(ctx, masterPath, strings.NewReader(b.String()), int64(b.Len())); err != nil {
		return "", err
	}
	return masterPath, nil
}

// Thumbnail extracts a single frame from the source and saves it as the
// video's thumbnail. It seeks to min(10, duration/2)
// seconds and letterbox-fits the frame within 320x240.
func (s *Service) Thumbnail(ctx context.Context, videoID, inputPath string, durationSec float64) (string, error) {
	workDir, err := os.MkdirTemp(s.tempDir, fmt.Sprintf("thumb-%s-*", videoID))
	if err != nil {
		return "", fmt.Errorf("transcoder: failed to create workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	localInput, err := s.localize(ctx, workDir, inputPath)
	if err != nil {
		return "", fmt.Errorf("transcoder: failed to localize source: %w", err)
	}

	seekSec := durationSec / 2
	if seekSec > 10 {
		seekSec = 10
	}
	if seekSec < 0 {
		seekSec = 0
	}

	outputPath := filepath.Join(workDir, "thumbnail.jpg")
	args := []string{
		"-y",
		"-ss", fmt.Sprintf("%.2f", seekSec),
		"-i", localInput,
		"-vframes", "1",
		"-vf", "scale=320:240:force_original_aspect_ratio=decrease,pad=320:240:(ow-iw)/2:(oh-ih)/2",
		"-q:v", "2",
		outputPath,
	}

	if _, _, err := s.runner.RunEncode(ctx, args, nil); err != nil {
		return "", fmt.Errorf("transcoder: failed to extract thumbnail: %w", err)
	}

	storagePath := storage.ThumbnailPath(videoID)
	if _, err := uploadFile(ctx, s.storage, outputPath, storagePath); err != nil {
		return "", fmt.Errorf("transcoder: failed to save thumbnail: %w", err)
	}

	return storagePath, nil
}
