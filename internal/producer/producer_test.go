package producer

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/arjunmehta/hlsvod/internal/queue"
	"github.com/arjunmehta/hlsvod/pkg/models"
)

type fakeStore struct {
	video *models.Video
	job   *models.TranscodingJob
	err   error
}

func (f *fakeStore) CreateVideoAndJob(ctx context.Context, video *models.Video, job *models.TranscodingJob) error {
	if f.err != nil {
		return f.err
	}
	video.ID = "video-1"
	job.VideoID = video.ID
	job.ExternalKey = models.ExternalKeyFor(video.ID)
	f.video, f.job = video, job
	return nil
}

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return queue.NewWithClient(client)
}

func TestSubmitTranscodeEnqueuesWithDeterministicKey(t *testing.T) {
	store := &fakeStore{}
	q := newTestQueue(t)
	p := New(store, q)

	video, job, err := p.SubmitTranscode(context.Background(), SubmitRequest{
		Title:                "sample",
		UploadPath:           "uploads/raw/video-1.mp4",
		RequestedResolutions: []models.Resolution{models.Resolution720p},
	})
	require.NoError(t, err)
	require.Equal(t, "transcode-video-1", job.ExternalKey)

	handle, err := q.Dequeue(context.Background(), []string{string(models.JobTypeHLSTranscode)})
	require.NoError(t, err)
	require.NotNil(t, handle)
	require.Equal(t, "transcode-video-1", handle.ID())
	require.Equal(t, video.ID, "video-1")
}

func TestSubmitTranscodeDBFailureNeverEnqueues(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	q := newTestQueue(t)
	p := New(store, q)

	_, _, err := p.SubmitTranscode(context.Background(), SubmitRequest{
		Title:      "sample",
		UploadPath: "uploads/raw/video-2.mp4",
	})
	require.Error(t, err)

	handle, err := q.Dequeue(context.Background(), []string{string(models.JobTypeHLSTranscode)})
	require.NoError(t, err)
	require.Nil(t, handle)
}
