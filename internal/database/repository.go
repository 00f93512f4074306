// Package database implements the relational Repository: the durable store
// of Video, VideoOutput, and TranscodingJob rows, backed by Postgres via
// pgx/pgxpool. Status-transition legality, monotonic progress, and the
// attempt ceiling are enforced here in Go, against the row's current state,
// before the UPDATE is issued.
package database

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/arjunmehta/hlsvod/internal/apperr"
	"github.com/arjunmehta/hlsvod/internal/metrics"
	"github.com/arjunmehta/hlsvod/internal/tracing"
	"github.com/arjunmehta/hlsvod/pkg/models"
)

// recordOp reports a repository call's outcome and latency, keyed by
// operation name, to internal/metrics.
func recordOp(operation string, start time.Time, err *error) {
	status := "ok"
	if *err != nil {
		status = "error"
		metrics.RecordError("database", operation)
	}
	metrics.RecordDatabaseOperation(operation, status, time.Since(start).Seconds())
}

// Repository provides the relational operations of the video ingestion and
// streaming domain.
type Repository struct {
	db *DB
}

// NewRepository wraps a DB connection pool.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck reports whether the underlying connection pool can still
// reach Postgres.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Health(ctx)
}

// legalJobTransitions rejects nonsensical jumps like QUEUED->COMPLETED by
// listing, for each status, the statuses it may move to.
var legalJobTransitions = map[models.JobStatus]map[models.JobStatus]bool{
	models.JobStatusQueued: {
		models.JobStatusProcessing: true,
		models.JobStatusFailed:     true,
	},
	models.JobStatusProcessing: {
		models.JobStatusCompleted: true,
		models.JobStatusFailed:    true,
		models.JobStatusRetrying:  true,
	},
	models.JobStatusRetrying: {
		models.JobStatusQueued:     true,
		models.JobStatusProcessing: true,
		models.JobStatusFailed:     true,
	},
}

func validJobTransition(from, to models.JobStatus) bool {
	if from == to {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	return legalJobTransitions[from][to]
}

// CreateVideoAndJob inserts a Video and its initial TranscodingJob in a
// single transaction, matching the ownership rule that a video's first job
// row is created atomically with the video itself.
func (r *Repository) CreateVideoAndJob(ctx context.Context, video *models.Video, job *models.TranscodingJob) (err error) {
	span, ctx := tracing.StartSpan(ctx, "repository.CreateVideoAndJob")
	start := time.Now()
	defer func() {
		tracing.LogError(span, err)
		tracing.FinishSpan(span)
		recordOp("createVideoAndJob", start, &err)
	}()

	if video.ID == "" {
		video.ID = uuid.New().String()
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.VideoID = video.ID
	if job.ExternalKey == "" {
		job.ExternalKey = models.ExternalKeyFor(video.ID)
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = models.DefaultMaxAttempts
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.CodeDBUnavailable, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	videoQuery := `
		INSERT INTO videos (id, title, description, tags, original_name, file_extension,
			file_size, mime_type, upload_path, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, videoQuery,
		video.ID, video.Title, video.Description, video.Tags, video.OriginalName,
		video.FileExtension, video.FileSize, video.MimeType, video.UploadPath, video.Status,
	).Scan(&video.CreatedAt, &video.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert video: %w", err)
	}

	jobQuery := `
		INSERT INTO transcoding_jobs (id, external_key, video_id, job_type, status,
			progress_percentage, attempt_count, max_attempts, job_data, progress_data, result_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, jobQuery,
		job.ID, job.ExternalKey, job.VideoID, job.JobType, job.Status,
		job.Progress, job.AttemptCount, job.MaxAttempts, job.JobData, job.ProgressData, job.ResultData,
	).Scan(&job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transcoding job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.CodeDBUnavailable, "failed to commit transaction", err)
	}
	return nil
}

// UpdateVideoStatus sets a video's status, stamping processedAt the moment
// it becomes READY.
func (r *Repository) UpdateVideoStatus(ctx context.Context, videoID string, status models.VideoStatus) (err error) {
	span, ctx := tracing.StartSpan(ctx, "repository.UpdateVideoStatus")
	start := time.Now()
	defer func() {
		tracing.LogError(span, err)
		tracing.FinishSpan(span)
		recordOp("updateVideoStatus", start, &err)
	}()

	var query string
	if status == models.VideoStatusReady {
		query = `UPDATE videos SET status = $2, updated_at = now(), processed_at = now() WHERE id = $1`
	} else {
		query = `UPDATE videos SET status = $2, updated_at = now() WHERE id = $1`
	}

	tag, err := r.db.Pool.Exec(ctx, query, videoID, status)
	if err != nil {
		return fmt.Errorf("failed to update video status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.CodeVideoNotFound, "video not found")
	}
	return nil
}

// VideoMetadata is the probed attributes written back after the source is
// inspected.
type VideoMetadata struct {
	DurationSeconds float64
}

// UpdateVideoMetadata records probed duration, rounding to the nearest
// whole second as the schema stores an integer column.
func (r *Repository) UpdateVideoMetadata(ctx context.Context, videoID string, meta VideoMetadata) (err error) {
	span, ctx := tracing.StartSpan(ctx, "repository.UpdateVideoMetadata")
	start := time.Now()
	defer func() {
		tracing.LogError(span, err)
		tracing.FinishSpan(span)
		recordOp("updateVideoMetadata", start, &err)
	}()

	rounded := int(math.Round(meta.DurationSeconds))
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE videos SET duration_seconds = $2, updated_at = now() WHERE id = $1`,
		videoID, rounded,
	)
	if err != nil {
		return fmt.Errorf("failed to update video metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.CodeVideoNotFound, "video not found")
	}
	return nil
}

// UpdateJobStatus transitions a job's status, rejecting illegal transitions,
// stamping startedAt on the first entry into PROCESSING and completedAt on
// any terminal status, and incrementing attemptCount on FAILED while it is
// below maxAttempts.
func (r *Repository) UpdateJobStatus(ctx context.Context, videoID string, status models.JobStatus, progress float64, errMsg string) (err error) {
	span, ctx := tracing.StartSpan(ctx, "repository.UpdateJobStatus")
	start := time.Now()
	defer func() {
		tracing.LogError(span, err)
		tracing.FinishSpan(span)
		recordOp("updateJobStatus", start, &err)
	}()

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.CodeDBUnavailable, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	var current models.JobStatus
	var startedAt *time.Time
	var attemptCount, maxAttempts int
	err = tx.QueryRow(ctx,
		`SELECT status, started_at, attempt_count, max_attempts FROM transcoding_jobs WHERE video_id = $1`,
		videoID,
	).Scan(&current, &startedAt, &attemptCount, &maxAttempts)
	if err == pgx.ErrNoRows {
		return apperr.New(apperr.CodeVideoNotFound, "job not found")
	}
	if err != nil {
		return fmt.Errorf("failed to load job status: %w", err)
	}

	if !validJobTransition(current, status) {
		return apperr.New(apperr.CodeVideoProcessingError,
			fmt.Sprintf("illegal job status transition %s -> %s", current, status))
	}

	setStartedAt := status == models.JobStatusProcessing && startedAt == nil
	setCompletedAt := status.IsTerminal()
	incrementAttempts := status == models.JobStatusFailed && attemptCount < maxAttempts

	query := `
		UPDATE transcoding_jobs
		SET status = $2,
			progress_percentage = $3,
			error_message = $4,
			started_at = CASE WHEN $5 THEN now() ELSE started_at END,
			completed_at = CASE WHEN $6 THEN now() ELSE completed_at END,
			attempt_count = CASE WHEN $7 THEN attempt_count + 1 ELSE attempt_count END
		WHERE video_id = $1
	`
	_, err = tx.Exec(ctx, query, videoID, status, progress, errMsg, setStartedAt, setCompletedAt, incrementAttempts)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.CodeDBUnavailable, "failed to commit transaction", err)
	}
	return nil
}

// UpdateJobProgress writes the job's progress percentage and structured
// detail blob, rejecting any regression of percent within the same attempt.
func (r *Repository) UpdateJobProgress(ctx context.Context, videoID string, detail models.ProgressDetail) (err error) {
	span, ctx := tracing.StartSpan(ctx, "repository.UpdateJobProgress")
	start := time.Now()
	defer func() {
		tracing.LogError(span, err)
		tracing.FinishSpan(span)
		recordOp("updateJobProgress", start, &err)
	}()

	var currentPercent float64
	err = r.db.Pool.QueryRow(ctx,
		`SELECT progress_percentage FROM transcoding_jobs WHERE video_id = $1`,
		videoID,
	).Scan(&currentPercent)
	if err == pgx.ErrNoRows {
		return apperr.New(apperr.CodeVideoNotFound, "job not found")
	}
	if err != nil {
		return fmt.Errorf("failed to load job progress: %w", err)
	}
	if detail.Percent < currentPercent {
		return apperr.New(apperr.CodeVideoProcessingError, "progress may not regress within an attempt")
	}

	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE transcoding_jobs SET progress_percentage = $2, progress_data = $3 WHERE video_id = $1`,
		videoID, detail.Percent, detail,
	)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.CodeVideoNotFound, "job not found")
	}
	return nil
}

// SaveOutputs inserts one READY row per rendition and records the thumbnail
// path on the parent video.
func (r *Repository) SaveOutputs(ctx context.Context, videoID string, outputs []models.VideoOutput, thumbnailPath string) (err error) {
	span, ctx := tracing.StartSpan(ctx, "repository.SaveOutputs")
	start := time.Now()
	defer func() {
		tracing.LogError(span, err)
		tracing.FinishSpan(span)
		recordOp("saveOutputs", start, &err)
	}()

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.CodeDBUnavailable, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	outputQuery := `
		INSERT INTO video_outputs (id, video_id, resolution, width, height, bitrate_kbps,
			playlist_path, segment_dir, file_size, segment_count, segment_duration_sec, status, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
	`
	for i := range outputs {
		out := &outputs[i]
		if out.ID == "" {
			out.ID = uuid.New().String()
		}
		out.VideoID = videoID
		out.Status = models.OutputStatusReady
		_, err = tx.Exec(ctx, outputQuery,
			out.ID, out.VideoID, out.Resolution, out.Width, out.Height, out.BitrateKbps,
			out.PlaylistPath, out.SegmentDir, out.FileSize, out.SegmentCount, out.SegmentDurationSec, out.Status,
		)
		if err != nil {
			return fmt.Errorf("failed to insert output %s: %w", out.Resolution, err)
		}
	}

	tag, err := tx.Exec(ctx,
		`UPDATE videos SET thumbnail_path = $2, updated_at = now() WHERE id = $1`,
		videoID, thumbnailPath,
	)
	if err != nil {
		return fmt.Errorf("failed to set thumbnail path: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.CodeVideoNotFound, "video not found")
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.CodeDBUnavailable, "failed to commit transaction", err)
	}
	return nil
}

// FindVideoByID returns a single video by primary key.
func (r *Repository) FindVideoByID(ctx context.Context, id string) (_ *models.Video, err error) {
	span, ctx := tracing.StartSpan(ctx, "repository.FindVideoByID")
	start := time.Now()
	defer func() {
		tracing.LogError(span, err)
		tracing.FinishSpan(span)
		recordOp("findVideoByID", start, &err)
	}()

	var v models.Video
	query := `
		SELECT id, title, description, tags, original_name, file_extension, file_size,
			mime_type, upload_path, duration_seconds, thumbnail_path, status,
			created_at, updated_at, processed_at
		FROM videos
		WHERE id = $1
	`
	err = r.db.Pool.QueryRow(ctx, query, id).Scan(
		&v.ID, &v.Title, &v.Description, &v.Tags, &v.OriginalName, &v.FileExtension, &v.FileSize,
		&v.MimeType, &v.UploadPath, &v.DurationSeconds, &v.ThumbnailPath, &v.Status,
		&v.CreatedAt, &v.UpdatedAt, &v.ProcessedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, apperr.New(apperr.CodeVideoNotFound, "video not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find video %s: %w", id, err)
	}
	return &v, nil
}

// FindVideosPaginated lists videos matching filter, normalized for
// sensible defaults before building the query.
func (r *Repository) FindVideosPaginated(ctx context.Context, filter models.VideoFilter) (_ []models.Video, _ int, err error) {
	span, ctx := tracing.StartSpan(ctx, "repository.FindVideosPaginated")
	start := time.Now()
	defer func() {
		tracing.LogError(span, err)
		tracing.FinishSpan(span)
		recordOp("findVideosPaginated", start, &err)
	}()

	filter.Normalize()

	where := "WHERE 1=1"
	args := []interface{}{}
	argN := 0
	nextArg := func(v interface{}) string {
		argN++
		args = append(args, v)
		return fmt.Sprintf("$%d", argN)
	}

	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = %s", nextArg(filter.Status))
	}
	if filter.Search != "" {
		where += fmt.Sprintf(" AND title ILIKE %s", nextArg("%"+filter.Search+"%"))
	}
	if len(filter.Tags) > 0 {
		where += fmt.Sprintf(" AND tags && %s", nextArg(filter.Tags))
	}
	if filter.DateFrom != nil {
		where += fmt.Sprintf(" AND created_at >= %s", nextArg(*filter.DateFrom))
	}
	if filter.DateTo != nil {
		where += fmt.Sprintf(" AND created_at <= %s", nextArg(*filter.DateTo))
	}
	if filter.Resolution != "" {
		where += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM video_outputs vo WHERE vo.video_id = videos.id AND vo.resolution = %s AND vo.status = 'ready')", nextArg(filter.Resolution))
	}

	var total int
	countQuery := fmt.Sprintf("SELECT count(*) FROM videos %s", where)
	if err := r.db.Pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count videos: %w", err)
	}

	sortCol := filter.SortBy
	switch sortCol {
	case "created_at", "title", "file_size":
	default:
		sortCol = "created_at"
	}
	order := "DESC"
	if filter.SortOrder == "asc" {
		order = "ASC"
	}

	limitArg := nextArg(filter.Limit)
	offsetArg := nextArg(filter.Offset())
	listQuery := fmt.Sprintf(`
		SELECT id, title, description, tags, original_name, file_extension, file_size,
			mime_type, upload_path, duration_seconds, thumbnail_path, status,
			created_at, updated_at, processed_at
		FROM videos %s
		ORDER BY %s %s
		LIMIT %s OFFSET %s
	`, where, sortCol, order, limitArg, offsetArg)

	rows, err := r.db.Pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	var videos []models.Video
	for rows.Next() {
		var v models.Video
		if err := rows.Scan(
			&v.ID, &v.Title, &v.Description, &v.Tags, &v.OriginalName, &v.FileExtension, &v.FileSize,
			&v.MimeType, &v.UploadPath, &v.DurationSeconds, &v.ThumbnailPath, &v.Status,
			&v.CreatedAt, &v.UpdatedAt, &v.ProcessedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan video row: %w", err)
		}
		videos = append(videos, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate video rows: %w", err)
	}

	return videos, total, nil
}

// DeleteVideo removes a video and its dependent outputs/jobs in a single
// transaction; the FK cascade is a safety net, not the primary mechanism.
func (r *Repository) DeleteVideo(ctx context.Context, id string) (err error) {
	span, ctx := tracing.StartSpan(ctx, "repository.DeleteVideo")
	start := time.Now()
	defer func() {
		tracing.LogError(span, err)
		tracing.FinishSpan(span)
		recordOp("deleteVideo", start, &err)
	}()

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.CodeDBUnavailable, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM video_outputs WHERE video_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete outputs for video %s: %w", id, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM transcoding_jobs WHERE video_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete jobs for video %s: %w", id, err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete video %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.CodeVideoNotFound, "video not found")
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.CodeDBUnavailable, "failed to commit transaction", err)
	}
	return nil
}

// FindJobByVideoID returns the TranscodingJob owning a video, used by the
// status endpoint and by the Worker to look up attempt counts.
func (r *Repository) FindJobByVideoID(ctx context.Context, videoID string) (_ *models.TranscodingJob, err error) {
	span, ctx := tracing.StartSpan(ctx, "repository.FindJobByVideoID")
	start := time.Now()
	defer func() {
		tracing.LogError(span, err)
		tracing.FinishSpan(span)
		recordOp("findJobByVideoID", start, &err)
	}()

	var j models.TranscodingJob
	query := `
		SELECT id, external_key, video_id, job_type, status, progress_percentage,
			attempt_count, max_attempts, job_data, progress_data, result_data, error_message,
			created_at, started_at, completed_at, next_retry_at, worker_id
		FROM transcoding_jobs
		WHERE video_id = $1
	`
	err = r.db.Pool.QueryRow(ctx, query, videoID).Scan(
		&j.ID, &j.ExternalKey, &j.VideoID, &j.JobType, &j.Status, &j.Progress,
		&j.AttemptCount, &j.MaxAttempts, &j.JobData, &j.ProgressData, &j.ResultData, &j.ErrorMessage,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.NextRetryAt, &j.WorkerID,
	)
	if err == pgx.ErrNoRows {
		return nil, apperr.New(apperr.CodeVideoNotFound, "job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find job for video %s: %w", videoID, err)
	}
	return &j, nil
}

// FindOutputsByVideoID returns every rendition row for a video, in ascending
// bitrate order.
func (r *Repository) FindOutputsByVideoID(ctx context.Context, videoID string) (_ []models.VideoOutput, err error) {
	span, ctx := tracing.StartSpan(ctx, "repository.FindOutputsByVideoID")
	start := time.Now()
	defer func() {
		tracing.LogError(span, err)
		tracing.FinishSpan(span)
		recordOp("findOutputsByVideoID", start, &err)
	}()

	query := `
		SELECT id, video_id, resolution, width, height, bitrate_kbps, playlist_path,
			segment_dir, file_size, segment_count, segment_duration_sec, status, completed_at
		FROM video_outputs
		WHERE video_id = $1
		ORDER BY bitrate_kbps ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outputs for video %s: %w", videoID, err)
	}
	defer rows.Close()

	var outputs []models.VideoOutput
	for rows.Next() {
		var o models.VideoOutput
		if err := rows.Scan(
			&o.ID, &o.VideoID, &o.Resolution, &o.Width, &o.Height, &o.BitrateKbps, &o.PlaylistPath,
			&o.SegmentDir, &o.FileSize, &o.SegmentCount, &o.SegmentDurationSec, &o.Status, &o.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan output row: %w", err)
		}
		outputs = append(outputs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate output rows: %w", err)
	}
	return outputs, nil
}

// FindReadyOutput returns a single READY rendition, used by the Streamer's
// readiness gate before it serves a variant playlist or segment.
func (r *Repository) FindReadyOutput(ctx context.Context, videoID string, resolution models.Resolution) (_ *models.VideoOutput, err error) {
	span, ctx := tracing.StartSpan(ctx, "repository.FindReadyOutput")
	start := time.Now()
	defer func() {
		tracing.LogError(span, err)
		tracing.FinishSpan(span)
		recordOp("findReadyOutput", start, &err)
	}()

	var o models.VideoOutput
	query := `
		SELECT id, video_id, resolution, width, height, bitrate_kbps, playlist_path,
			segment_dir, file_size, segment_count, segment_duration_sec, status, completed_at
		FROM video_outputs
		WHERE video_id = $1 AND resolution = $2 AND status = $3
	`
	err = r.db.Pool.QueryRow(ctx, query, videoID, resolution, models.OutputStatusReady).Scan(
		&o.ID, &o.VideoID, &o.Resolution, &o.Width, &o.Height, &o.BitrateKbps, &o.PlaylistPath,
		&o.SegmentDir, &o.FileSize, &o.SegmentCount, &o.SegmentDurationSec, &o.Status, &o.CompletedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, apperr.New(apperr.CodeSegmentNotFound, "no ready output at requested resolution")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find ready output for video %s/%s: %w", videoID, resolution, err)
	}
	return &o, nil
}
