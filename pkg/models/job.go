package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JobType identifies the kind of work a TranscodingJob performs. Only
// HLSTranscode is ever produced by this service; Thumbnail is reserved
// queue-name space for a job type whose code path is intentionally unused
// (thumbnails are generated as a step of the transcode job, not as their
// own job type).
type JobType string

const (
	JobTypeHLSTranscode JobType = "hls_transcode"
	JobTypeThumbnail    JobType = "thumbnail"
)

// JobStatus is the lifecycle state of a TranscodingJob.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Priority is the queue dispatch priority; lower values dequeue first.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 2
	PriorityLow    Priority = 3
)

const DefaultMaxAttempts = 3

// JobData is the requested work for a TranscodingJob, snapshotted at
// enqueue time so a retried attempt replays identical inputs.
type JobData struct {
	InputPath            string       `json:"input_path"`
	RequestedResolutions []Resolution `json:"requested_resolutions"`
}

// ProgressDetail is the structured progress payload carried by a job, a
// typed replacement for an untyped data blob.
type ProgressDetail struct {
	Percent               float64      `json:"percent"`
	CurrentResolution     Resolution   `json:"current_resolution,omitempty"`
	CompletedResolutions  []Resolution `json:"completed_resolutions,omitempty"`
	CurrentTask           string       `json:"current_task,omitempty"`
	EstimatedTimeRemaining int64       `json:"estimated_time_remaining_sec,omitempty"`
}

// ResultData is the outcome snapshot column of a job. It is written only
// when the job row is created, with its zero value; no later step fills it.
type ResultData struct {
	Outputs       []Resolution `json:"outputs"`
	ThumbnailPath string       `json:"thumbnail_path,omitempty"`
}

// Value implements driver.Valuer so ProgressDetail round-trips through a
// jsonb column without a bespoke marshal call at every call site.
func (p ProgressDetail) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner for ProgressDetail.
func (p *ProgressDetail) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("progress detail: unsupported scan type %T", value)
	}
	return json.Unmarshal(b, p)
}

// Value implements driver.Valuer for JobData.
func (d JobData) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Scan implements sql.Scanner for JobData.
func (d *JobData) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("job data: unsupported scan type %T", value)
	}
	return json.Unmarshal(b, d)
}

// Value implements driver.Valuer for ResultData.
func (r ResultData) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner for ResultData.
func (r *ResultData) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("result data: unsupported scan type %T", value)
	}
	return json.Unmarshal(b, r)
}

// TranscodingJob is the worker's durable unit of work.
type TranscodingJob struct {
	ID            string         `json:"id" db:"id"`
	ExternalKey   string         `json:"external_key" db:"external_key"`
	VideoID       string         `json:"video_id" db:"video_id"`
	JobType       JobType        `json:"job_type" db:"job_type"`
	Status        JobStatus      `json:"status" db:"status"`
	Progress      float64        `json:"progress_percentage" db:"progress_percentage"`
	AttemptCount  int            `json:"attempt_count" db:"attempt_count"`
	MaxAttempts   int            `json:"max_attempts" db:"max_attempts"`
	JobData       JobData        `json:"job_data" db:"job_data"`
	ProgressData  ProgressDetail `json:"progress_data" db:"progress_data"`
	ResultData    ResultData     `json:"result_data" db:"result_data"`
	ErrorMessage  string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	NextRetryAt   *time.Time     `json:"next_retry_at,omitempty" db:"next_retry_at"`
	WorkerID      string         `json:"worker_id,omitempty" db:"worker_id"`
}

// ExternalKeyFor builds the deterministic job key used by the queue for
// de-duplication: a second upload attempt for the same video id can never
// enqueue a second in-flight job.
func ExternalKeyFor(videoID string) string {
	return fmt.Sprintf("transcode-%s", videoID)
}

// IsTerminal reports whether the job will never transition again.
func (j JobStatus) IsTerminal() bool {
	return j == JobStatusCompleted || j == JobStatusFailed
}
