// Package worker runs a pool of goroutines that each loop
// dequeue -> process one job attempt -> complete/fail, driving this
// domain's seven-step transcode state machine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/arjunmehta/hlsvod/internal/apperr"
	"github.com/arjunmehta/hlsvod/internal/database"
	"github.com/arjunmehta/hlsvod/internal/logging"
	"github.com/arjunmehta/hlsvod/internal/metrics"
	"github.com/arjunmehta/hlsvod/internal/queue"
	"github.com/arjunmehta/hlsvod/internal/storage"
	"github.com/arjunmehta/hlsvod/internal/transcoder"
	"github.com/arjunmehta/hlsvod/pkg/models"
)

// transcodeCodec is the video codec every rung in the resolution ladder
// encodes to, used only as a metrics label.
const transcodeCodec = "h264"

// repository is the slice of database.Repository this package depends on,
// narrowed so tests can supply a fake without a live Postgres connection.
type repository interface {
	UpdateVideoStatus(ctx context.Context, videoID string, status models.VideoStatus) error
	UpdateVideoMetadata(ctx context.Context, videoID string, meta database.VideoMetadata) error
	UpdateJobStatus(ctx context.Context, videoID string, status models.JobStatus, progress float64, errMsg string) error
	UpdateJobProgress(ctx context.Context, videoID string, detail models.ProgressDetail) error
	SaveOutputs(ctx context.Context, videoID string, outputs []models.VideoOutput, thumbnailPath string) error
}

// prober is the slice of prober.Prober this package depends on.
type prober interface {
	Probe(ctx context.Context, inputPath string) (*transcoder.Metadata, error)
}

// transcoderService is the slice of transcoder.Service this package
// depends on.
type transcoderService interface {
	TranscodeToHLS(ctx context.Context, req transcoder.Request) ([]transcoder.Output, string, error)
	Thumbnail(ctx context.Context, videoID, inputPath string, durationSec float64) (string, error)
}

// dequeuer is the slice of queue.Queue this package depends on.
type dequeuer interface {
	Dequeue(ctx context.Context, types []string) (*queue.JobHandle, error)
}

// Config tunes a Pool.
type Config struct {
	// Workers is the number of concurrent goroutines, each single-threaded
	// with respect to its own job.
	Workers int
	// DeleteSourceOnComplete removes the raw upload blob once all
	// renditions are saved, per an operator's retention policy.
	DeleteSourceOnComplete bool
}

// Pool owns a fixed number of worker goroutines dequeuing and processing
// transcoding jobs.
type Pool struct {
	cfg        Config
	queue      dequeuer
	repo       repository
	prober     prober
	transcoder transcoderService
	storage    storage.Storage
	log        *logging.Logger

	wg sync.WaitGroup
}

// New constructs a Pool.
func New(cfg Config, q dequeuer, repo repository, p prober, t transcoderService, store storage.Storage, log *logging.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Pool{cfg: cfg, queue: q, repo: repo, prober: p, transcoder: t, storage: store, log: log}
}

// Run starts cfg.Workers goroutines, each looping until ctx is cancelled.
// Run blocks until every worker has exited cleanly, which happens only
// after ctx.Done() fires — no DB or storage writes are performed after
// cancel.
func (p *Pool) Run(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		workerID := fmt.Sprintf("worker-%d", i)
		go p.loop(ctx, workerID)
	}
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	defer p.wg.Done()
	metrics.WorkerActive.WithLabelValues("transcode").Inc()
	defer metrics.WorkerActive.WithLabelValues("transcode").Dec()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		handle, err := p.queue.Dequeue(ctx, []string{string(models.JobTypeHLSTranscode)})
		if err != nil {
			p.log.WithError(err).Errorf("worker %s: dequeue failed", workerID)
			metrics.RecordError("worker", "dequeue_failed")
			continue
		}
		if handle == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		p.processOnce(ctx, workerID, handle)
		metrics.WorkerJobsProcessed.WithLabelValues(workerID, "transcode").Inc()
	}
}

func videoIDFromJobID(jobID string) string {
	return strings.TrimPrefix(jobID, "transcode-")
}

// processOnce runs the seven-step transcode state machine for one dequeued
// attempt.
func (p *Pool) processOnce(ctx context.Context, workerID string, handle *queue.JobHandle) {
	videoID := videoIDFromJobID(handle.ID())
	log := p.log.WithVideoID(videoID)
	start := time.Now()

	var payload models.JobData
	if err := handle.Payload(&payload); err != nil {
		p.fail(ctx, handle, videoID, start, log, fmt.Errorf("worker: failed to decode job payload: %w", err))
		return
	}

	// Step 1: enter PROCESSING for both the job and the video.
	if err := p.repo.UpdateJobStatus(ctx, videoID, models.JobStatusProcessing, 0, ""); err != nil {
		p.fail(ctx, handle, videoID, start, log, fmt.Errorf("worker: failed to mark job processing: %w", err))
		return
	}
	if err := p.repo.UpdateVideoStatus(ctx, videoID, models.VideoStatusProcessing); err != nil {
		p.fail(ctx, handle, videoID, start, log, fmt.Errorf("worker: failed to mark video processing: %w", err))
		return
	}
	if ctx.Err() != nil {
		return
	}

	// Step 2: probe source, record metadata.
	md, err := p.prober.Probe(ctx, payload.InputPath)
	if err != nil {
		p.fail(ctx, handle, videoID, start, log, fmt.Errorf("worker: probe failed: %w", err))
		return
	}
	if err := p.repo.UpdateVideoMetadata(ctx, videoID, database.VideoMetadata{DurationSeconds: md.DurationSec}); err != nil {
		p.fail(ctx, handle, videoID, start, log, fmt.Errorf("worker: failed to record metadata: %w", err))
		return
	}
	if ctx.Err() != nil {
		return
	}

	// Step 3: transcode, throttling progress writes to at most once per
	// whole-percent change.
	lastWritten := -1.0
	req := transcoder.Request{
		VideoID:              videoID,
		InputPath:            payload.InputPath,
		RequestedResolutions: payload.RequestedResolutions,
		SourceMetadata:       md,
		OnProgress: func(percent float64, currentResolution models.Resolution) {
			if math.Floor(percent) <= lastWritten {
				return
			}
			lastWritten = math.Floor(percent)
			_ = p.repo.UpdateJobProgress(ctx, videoID, models.ProgressDetail{
				Percent:           percent,
				CurrentResolution: currentResolution,
				CurrentTask:       "encoding",
			})
		},
	}
	outputs, _, err := p.transcoder.TranscodeToHLS(ctx, req)
	if err != nil {
		p.fail(ctx, handle, videoID, start, log, fmt.Errorf("worker: transcode failed: %w", err))
		return
	}
	if ctx.Err() != nil {
		return
	}

	// Step 4: thumbnail.
	thumbPath, err := p.transcoder.Thumbnail(ctx, videoID, payload.InputPath, md.DurationSec)
	if err != nil {
		p.fail(ctx, handle, videoID, start, log, fmt.Errorf("worker: thumbnail generation failed: %w", err))
		return
	}
	if ctx.Err() != nil {
		return
	}

	// Step 5: persist outputs, mark the video READY and the job COMPLETED.
	modelOutputs := make([]models.VideoOutput, 0, len(outputs))
	completed := make([]models.Resolution, 0, len(outputs))
	for _, o := range outputs {
		modelOutputs = append(modelOutputs, models.VideoOutput{
			Resolution:         o.Resolution,
			Width:              o.Width,
			Height:             o.Height,
			BitrateKbps:        o.BitrateKbps,
			PlaylistPath:       o.PlaylistPath,
			SegmentDir:         storage.VariantDir(videoID, string(o.Resolution)),
			FileSize:           o.FileSize,
			SegmentCount:       o.SegmentCount,
			SegmentDurationSec: models.DefaultSegmentDurationSec,
		})
		completed = append(completed, o.Resolution)
	}
	if err := p.repo.SaveOutputs(ctx, videoID, modelOutputs, thumbPath); err != nil {
		p.fail(ctx, handle, videoID, start, log, fmt.Errorf("worker: failed to save outputs: %w", err))
		return
	}
	if err := p.repo.UpdateJobProgress(ctx, videoID, models.ProgressDetail{
		Percent:              100,
		CompletedResolutions: completed,
		CurrentTask:          "done",
	}); err != nil {
		log.WithError(err).Warnf("failed to record final progress snapshot")
	}
	if err := p.repo.UpdateVideoStatus(ctx, videoID, models.VideoStatusReady); err != nil {
		p.fail(ctx, handle, videoID, start, log, fmt.Errorf("worker: failed to mark video ready: %w", err))
		return
	}
	if err := p.repo.UpdateJobStatus(ctx, videoID, models.JobStatusCompleted, 100, ""); err != nil {
		log.WithError(err).Errorf("failed to mark job completed after outputs were saved")
	}

	// Step 6: optional source cleanup.
	if p.cfg.DeleteSourceOnComplete {
		if err := p.storage.Delete(ctx, payload.InputPath); err != nil {
			log.WithError(err).Warnf("failed to delete source blob after successful transcode")
		}
	}

	if err := handle.Complete(ctx); err != nil {
		log.WithError(err).Errorf("failed to mark queue handle complete")
	}

	duration := time.Since(start).Seconds()
	for _, res := range completed {
		metrics.RecordJobCompleted("completed", duration, string(res), transcodeCodec)
	}
	metrics.VideoDurationProcessed.Add(md.DurationSec)
	log.Infof("worker %s: completed video %s", workerID, videoID)
}

// fail records the terminal-for-this-attempt state (video FAILED; job
// RETRYING with the error message while attempts remain, FAILED once they
// are exhausted) and releases the queue handle, for retry when attempts
// remain.
func (p *Pool) fail(ctx context.Context, handle *queue.JobHandle, videoID string, start time.Time, log *logging.Logger, cause error) {
	log.WithError(cause).Warnf("job attempt failed")
	metrics.RecordError("worker", "job_attempt_failed")

	msg := cause.Error()
	var appErr *apperr.Error
	if errors.As(cause, &appErr) {
		msg = appErr.Message
	}

	if err := p.repo.UpdateVideoStatus(ctx, videoID, models.VideoStatusFailed); err != nil {
		log.WithError(err).Errorf("failed to mark video failed")
	}

	// A retry-eligible attempt moves the job to RETRYING, not FAILED —
	// FAILED is reserved for the exhausted, terminal case so a later
	// PROCESSING transition on redelivery is never rejected as illegal.
	retry := handle.AttemptCount() < models.DefaultMaxAttempts
	jobStatus := models.JobStatusFailed
	if retry {
		jobStatus = models.JobStatusRetrying
	}
	if err := p.repo.UpdateJobStatus(ctx, videoID, jobStatus, 0, msg); err != nil {
		log.WithError(err).Errorf("failed to update job status after failure")
	}

	if err := handle.Fail(ctx, cause, queue.FailOptions{Retry: retry}); err != nil {
		log.WithError(err).Errorf("failed to release queue handle")
	}

	if !retry {
		metrics.RecordJobCompleted("failed", time.Since(start).Seconds(), "", transcodeCodec)
	}
}
