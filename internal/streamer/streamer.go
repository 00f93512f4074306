// Package streamer provides read-only access to a video's HLS artifacts,
// gated on the Repository's readiness state so a reader never observes a
// partially-written rendition.
package streamer

import (
	"context"
	"fmt"
	"io"
	"regexp"

	"github.com/arjunmehta/hlsvod/internal/apperr"
	"github.com/arjunmehta/hlsvod/internal/storage"
	"github.com/arjunmehta/hlsvod/pkg/models"
)

// segmentNamePattern is the only shape a segment name may take.
var segmentNamePattern = regexp.MustCompile(`^segment_\d{3}\.ts$`)

// repository is the slice of database.Repository this package depends on.
type repository interface {
	FindVideoByID(ctx context.Context, id string) (*models.Video, error)
	FindReadyOutput(ctx context.Context, videoID string, resolution models.Resolution) (*models.VideoOutput, error)
	FindOutputsByVideoID(ctx context.Context, videoID string) ([]models.VideoOutput, error)
}

// Streamer serves HLS playlists, segments, and thumbnails for READY videos.
type Streamer struct {
	repo    repository
	storage storage.Storage
}

// New constructs a Streamer.
func New(repo repository, store storage.Storage) *Streamer {
	return &Streamer{repo: repo, storage: store}
}

func (s *Streamer) requireReady(ctx context.Context, videoID string) (*models.Video, error) {
	video, err := s.repo.FindVideoByID(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if video.Status != models.VideoStatusReady {
		return nil, apperr.New(apperr.CodeVideoNotReady, "video is not ready for streaming")
	}
	return video, nil
}

// GetPlaylist returns a variant playlist's bytes, after verifying the video
// is READY and a matching READY VideoOutput exists.
func (s *Streamer) GetPlaylist(ctx context.Context, videoID string, resolution models.Resolution) ([]byte, error) {
	if _, err := s.requireReady(ctx, videoID); err != nil {
		return nil, err
	}
	output, err := s.repo.FindReadyOutput(ctx, videoID, resolution)
	if err != nil {
		return nil, err
	}
	return s.readAll(ctx, output.PlaylistPath, apperr.CodePlaylistNotFound)
}

// GetSegment returns one MPEG-TS segment's bytes, after the same readiness
// check as GetPlaylist, and validating the requested name matches
// segment_NNN.ts exactly. An invalid name is a 400, not a 404.
func (s *Streamer) GetSegment(ctx context.Context, videoID string, resolution models.Resolution, name string) ([]byte, error) {
	if !segmentNamePattern.MatchString(name) {
		return nil, apperr.New(apperr.CodeInvalidSegmentName, "segment name must match segment_NNN.ts")
	}
	if _, err := s.requireReady(ctx, videoID); err != nil {
		return nil, err
	}
	output, err := s.repo.FindReadyOutput(ctx, videoID, resolution)
	if err != nil {
		return nil, err
	}
	segmentPath := fmt.Sprintf("%s/%s", output.SegmentDir, name)
	return s.readAll(ctx, segmentPath, apperr.CodeSegmentNotFound)
}

// GetMasterPlaylist returns the stored master playlist's bytes, after
// verifying the video is READY and has at least one READY output.
func (s *Streamer) GetMasterPlaylist(ctx context.Context, videoID string) ([]byte, error) {
	if _, err := s.requireReady(ctx, videoID); err != nil {
		return nil, err
	}
	outputs, err := s.repo.FindOutputsByVideoID(ctx, videoID)
	if err != nil {
		return nil, err
	}
	hasReady := false
	for _, o := range outputs {
		if o.Status == models.OutputStatusReady {
			hasReady = true
			break
		}
	}
	if !hasReady {
		return nil, apperr.New(apperr.CodeMasterPlaylistNotFound, "no ready renditions for video")
	}
	return s.readAll(ctx, storage.MasterPlaylistPath(videoID), apperr.CodeMasterPlaylistNotFound)
}

// GetThumbnail returns the video's thumbnail JPEG bytes, after verifying
// the video is READY.
func (s *Streamer) GetThumbnail(ctx context.Context, videoID string) ([]byte, error) {
	video, err := s.requireReady(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if video.ThumbnailPath == nil {
		return nil, apperr.New(apperr.CodeThumbnailNotFound, "video has no thumbnail")
	}
	return s.readAll(ctx, *video.ThumbnailPath, apperr.CodeThumbnailNotFound)
}

func (s *Streamer) readAll(ctx context.Context, path string, notFoundCode apperr.Code) ([]byte, error) {
	exists, err := s.storage.Exists(ctx, path)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageUnavailable, "failed to check blob existence", err)
	}
	if !exists {
		return nil, apperr.New(notFoundCode, "blob missing from storage")
	}

	rc, err := s.storage.Get(ctx, path)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageUnavailable, "failed to open blob", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageUnavailable, "failed to read blob", err)
	}
	return data, nil
}
