package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/arjunmehta/hlsvod/pkg/models"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWithClient(client)
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	handle, err := q.Enqueue(ctx, "hls_transcode", map[string]string{"video_id": "v1"}, EnqueueOptions{JobID: "transcode-v1"})
	require.NoError(t, err)
	require.Equal(t, "transcode-v1", handle.ID())

	dequeued, err := q.Dequeue(ctx, []string{"hls_transcode"})
	require.NoError(t, err)
	require.NotNil(t, dequeued)
	require.Equal(t, "transcode-v1", dequeued.ID())

	var payload map[string]string
	require.NoError(t, dequeued.Payload(&payload))
	require.Equal(t, "v1", payload["video_id"])
}

func TestEnqueueDeduplicatesDeterministicID(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, "hls_transcode", map[string]string{"video_id": "v1"}, EnqueueOptions{JobID: "transcode-v1"})
	require.NoError(t, err)

	second, err := q.Enqueue(ctx, "hls_transcode", map[string]string{"video_id": "v1"}, EnqueueOptions{JobID: "transcode-v1"})
	require.NoError(t, err)

	require.Equal(t, first.ID(), second.ID())

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Waiting)
}

func TestDequeueEmptyReturnsNil(t *testing.T) {
	q := newTestQueue(t)
	handle, err := q.Dequeue(context.Background(), []string{"hls_transcode"})
	require.NoError(t, err)
	require.Nil(t, handle)
}

func TestPriorityOrdering(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "hls_transcode", "low", EnqueueOptions{JobID: "job-low", Priority: models.PriorityLow})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "hls_transcode", "high", EnqueueOptions{JobID: "job-high", Priority: models.PriorityHigh})
	require.NoError(t, err)

	first, err := q.Dequeue(ctx, []string{"hls_transcode"})
	require.NoError(t, err)
	require.Equal(t, "job-high", first.ID())
}

func TestFailWithRetrySchedulesBackoff(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "hls_transcode", "x", EnqueueOptions{JobID: "transcode-v2"})
	require.NoError(t, err)

	handle, err := q.Dequeue(ctx, []string{"hls_transcode"})
	require.NoError(t, err)
	require.Equal(t, 1, handle.AttemptCount())

	require.NoError(t, handle.Fail(ctx, nil, FailOptions{Retry: true}))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, stats.Waiting)
	require.EqualValues(t, 1, stats.Delayed)
}

func TestFailExhaustedMarksTerminallyFailed(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "hls_transcode", "x", EnqueueOptions{JobID: "transcode-v3"})
	require.NoError(t, err)

	var handle *JobHandle
	for i := 0; i < models.DefaultMaxAttempts; i++ {
		handle, err = q.Dequeue(ctx, []string{"hls_transcode"})
		require.NoError(t, err)
		require.NotNil(t, handle)
		require.NoError(t, handle.Fail(ctx, nil, FailOptions{Retry: i < models.DefaultMaxAttempts-1}))
		if i < models.DefaultMaxAttempts-1 {
			// Make the retry backoff due now so promoteDelayed moves the job back to ready.
			q.client.ZAdd(ctx, delayedKey, redis.Z{Score: 0, Member: "transcode-v3"})
		}
		q.promoteDelayed(ctx)
	}

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Failed)
}

func TestCompleteRemovesFromActive(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "hls_transcode", "x", EnqueueOptions{JobID: "transcode-v4"})
	require.NoError(t, err)

	handle, err := q.Dequeue(ctx, []string{"hls_transcode"})
	require.NoError(t, err)
	require.NoError(t, handle.Complete(ctx))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, stats.Active)
	require.EqualValues(t, 1, stats.Completed)
}
