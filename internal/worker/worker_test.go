package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/arjunmehta/hlsvod/internal/database"
	"github.com/arjunmehta/hlsvod/internal/logging"
	"github.com/arjunmehta/hlsvod/internal/queue"
	"github.com/arjunmehta/hlsvod/internal/storage"
	"github.com/arjunmehta/hlsvod/internal/transcoder"
	"github.com/arjunmehta/hlsvod/pkg/models"
)

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return queue.NewWithClient(client)
}

type fakeRepo struct {
	mu            sync.Mutex
	videoStatuses []models.VideoStatus
	jobStatuses   []models.JobStatus
	savedOutputs  []models.VideoOutput
	thumbnail     string
}

func (f *fakeRepo) UpdateVideoStatus(ctx context.Context, videoID string, status models.VideoStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videoStatuses = append(f.videoStatuses, status)
	return nil
}

func (f *fakeRepo) UpdateVideoMetadata(ctx context.Context, videoID string, meta database.VideoMetadata) error {
	return nil
}

func (f *fakeRepo) UpdateJobStatus(ctx context.Context, videoID string, status models.JobStatus, progress float64, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobStatuses = append(f.jobStatuses, status)
	return nil
}

func (f *fakeRepo) UpdateJobProgress(ctx context.Context, videoID string, detail models.ProgressDetail) error {
	return nil
}

func (f *fakeRepo) SaveOutputs(ctx context.Context, videoID string, outputs []models.VideoOutput, thumbnailPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedOutputs = outputs
	f.thumbnail = thumbnailPath
	return nil
}

type fakeProber struct {
	md  *transcoder.Metadata
	err error
}

func (f *fakeProber) Probe(ctx context.Context, inputPath string) (*transcoder.Metadata, error) {
	return f.md, f.err
}

type fakeTranscoder struct {
	outputs []transcoder.Output
	master  string
	err     error
	thumb   string
	thumbErr error
}

func (f *fakeTranscoder) TranscodeToHLS(ctx context.Context, req transcoder.Request) ([]transcoder.Output, string, error) {
	if req.OnProgress != nil {
		req.OnProgress(50, models.Resolution720p)
		req.OnProgress(100, models.Resolution720p)
	}
	return f.outputs, f.master, f.err
}

func (f *fakeTranscoder) Thumbnail(ctx context.Context, videoID, inputPath string, durationSec float64) (string, error) {
	return f.thumb, f.thumbErr
}

type noopStorage struct{ storage.Storage }

func (noopStorage) Delete(ctx context.Context, path string) error { return nil }

func newTestHandle(t *testing.T, q *queue.Queue, videoID string) *queue.JobHandle {
	t.Helper()
	payload := models.JobData{InputPath: "uploads/raw/" + videoID + ".mp4", RequestedResolutions: []models.Resolution{models.Resolution720p}}
	_, err := q.Enqueue(context.Background(), string(models.JobTypeHLSTranscode), payload, queue.EnqueueOptions{
		JobID: models.ExternalKeyFor(videoID),
	})
	require.NoError(t, err)
	handle, err := q.Dequeue(context.Background(), []string{string(models.JobTypeHLSTranscode)})
	require.NoError(t, err)
	require.NotNil(t, handle)
	return handle
}

func TestProcessOnceSuccessPath(t *testing.T) {
	q := newTestQueue(t)
	repo := &fakeRepo{}
	tr := &fakeTranscoder{
		outputs: []transcoder.Output{{Resolution: models.Resolution720p, Width: 1280, Height: 720, BitrateKbps: 2500, PlaylistPath: "hls/v1/720p/playlist.m3u8", FileSize: 1000, SegmentCount: 5}},
		master:  "hls/v1/master.m3u8",
		thumb:   "thumbnails/v1/thumbnail.jpg",
	}
	pr := &fakeProber{md: &transcoder.Metadata{DurationSec: 60, Width: 1920, Height: 1080}}

	pool := New(Config{Workers: 1}, q, repo, pr, tr, noopStorage{}, mustLogger(t))

	handle := newTestHandle(t, q, "v1")
	pool.processOnce(context.Background(), "worker-0", handle)

	require.Contains(t, repo.videoStatuses, models.VideoStatusProcessing)
	require.Contains(t, repo.videoStatuses, models.VideoStatusReady)
	require.Contains(t, repo.jobStatuses, models.JobStatusProcessing)
	require.Contains(t, repo.jobStatuses, models.JobStatusCompleted)
	require.Len(t, repo.savedOutputs, 1)
	require.Equal(t, "thumbnails/v1/thumbnail.jpg", repo.thumbnail)
}

func TestProcessOnceTranscodeFailureSchedulesRetry(t *testing.T) {
	q := newTestQueue(t)
	repo := &fakeRepo{}
	tr := &fakeTranscoder{err: errors.New("ffmpeg exploded")}
	pr := &fakeProber{md: &transcoder.Metadata{DurationSec: 60, Height: 1080}}

	pool := New(Config{Workers: 1}, q, repo, pr, tr, noopStorage{}, mustLogger(t))

	handle := newTestHandle(t, q, "v2")
	pool.processOnce(context.Background(), "worker-0", handle)

	require.Contains(t, repo.videoStatuses, models.VideoStatusFailed)
	require.Contains(t, repo.jobStatuses, models.JobStatusRetrying)

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Delayed)
}

func mustLogger(t *testing.T) *logging.Logger {
	t.Helper()
	log, err := logging.NewLogger(logging.Config{Level: "error", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	return log
}
