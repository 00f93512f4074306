// Package producer is the single entry point that turns an uploaded video
// into a durable job row and a queued unit of work, back to back, under
// the deterministic job key that keeps a video's transcoding attempts
// at-most-one-active.
package producer

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/arjunmehta/hlsvod/internal/apperr"
	"github.com/arjunmehta/hlsvod/internal/metrics"
	"github.com/arjunmehta/hlsvod/internal/queue"
	"github.com/arjunmehta/hlsvod/pkg/models"
)

// videoJobStore is the slice of Repository this package depends on,
// narrowed for testability the way transcoder.Runner narrows FFmpeg
// access.
type videoJobStore interface {
	CreateVideoAndJob(ctx context.Context, video *models.Video, job *models.TranscodingJob) error
}

// enqueuer is the slice of Queue this package depends on.
type enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload interface{}, opts queue.EnqueueOptions) (*queue.JobHandle, error)
}

// Producer submits newly uploaded videos for transcoding.
type Producer struct {
	repo  videoJobStore
	queue enqueuer
}

// New constructs a Producer.
func New(repo videoJobStore, q enqueuer) *Producer {
	return &Producer{repo: repo, queue: q}
}

// SubmitRequest is the input to SubmitTranscode.
type SubmitRequest struct {
	// VideoID, when set, is used as the Video's identity instead of
	// letting the Repository assign one — the upload handler must know
	// the id before this call returns, since it has already written the
	// source blob under uploads/raw/{videoId}{ext}.
	VideoID              string
	Title                string
	Description          string
	Tags                 []string
	OriginalName         string
	FileExtension        string
	FileSize             int64
	MimeType             string
	UploadPath           string
	RequestedResolutions []models.Resolution
	Priority             models.Priority
}

// SubmitTranscode creates the Video and its initial TranscodingJob row, then
// enqueues the work under the deterministic key transcode-{videoId}. If the
// queue is unavailable after the DB insert has already committed, the job
// row is left QUEUED rather than rolled back — a reconciliation sweep is
// out of scope — and the error returned is apperr.CodeQueueUnavailable so
// the caller can surface a retry candidate instead of a hard failure.
func (p *Producer) SubmitTranscode(ctx context.Context, req SubmitRequest) (*models.Video, *models.TranscodingJob, error) {
	if req.Priority == 0 {
		req.Priority = models.PriorityNormal
	}

	video := &models.Video{
		ID:            req.VideoID,
		Title:         req.Title,
		Description:   req.Description,
		Tags:          req.Tags,
		OriginalName:  req.OriginalName,
		FileExtension: req.FileExtension,
		FileSize:      req.FileSize,
		MimeType:      req.MimeType,
		UploadPath:    req.UploadPath,
		Status:        models.VideoStatusPending,
	}
	job := &models.TranscodingJob{
		JobType: models.JobTypeHLSTranscode,
		Status:  models.JobStatusQueued,
		JobData: models.JobData{
			InputPath:            req.UploadPath,
			RequestedResolutions: req.RequestedResolutions,
		},
		MaxAttempts: models.DefaultMaxAttempts,
	}

	if err := p.repo.CreateVideoAndJob(ctx, video, job); err != nil {
		return nil, nil, fmt.Errorf("producer: failed to create video and job: %w", err)
	}

	payload := models.JobData{
		InputPath:            req.UploadPath,
		RequestedResolutions: req.RequestedResolutions,
	}
	_, err := p.queue.Enqueue(ctx, string(models.JobTypeHLSTranscode), payload, queue.EnqueueOptions{
		Priority: req.Priority,
		JobID:    job.ExternalKey,
	})
	if err != nil {
		metrics.RecordError("producer", "enqueue_failed")
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return video, job, appErr
		}
		return video, job, apperr.Wrap(apperr.CodeQueueUnavailable, "job row created but enqueue failed; video remains queued for a reconciliation retry", err)
	}

	metrics.RecordJobCreated(strconv.Itoa(int(req.Priority)))
	return video, job, nil
}
