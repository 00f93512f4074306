package models

import "time"

// VideoStatus is the lifecycle state of a Video.
type VideoStatus string

const (
	VideoStatusPending    VideoStatus = "pending"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusReady      VideoStatus = "ready"
	VideoStatusFailed     VideoStatus = "failed"
)

// Video is the logical asset a client uploaded.
type Video struct {
	ID              string      `json:"id" db:"id"`
	Title           string      `json:"title" db:"title"`
	Description     string      `json:"description,omitempty" db:"description"`
	Tags            []string    `json:"tags,omitempty" db:"tags"`
	OriginalName    string      `json:"original_name" db:"original_name"`
	FileExtension   string      `json:"file_extension" db:"file_extension"`
	FileSize        int64       `json:"file_size" db:"file_size"`
	MimeType        string      `json:"mime_type" db:"mime_type"`
	UploadPath      string      `json:"upload_path" db:"upload_path"`
	DurationSeconds *int        `json:"duration_seconds,omitempty" db:"duration_seconds"`
	ThumbnailPath   *string     `json:"thumbnail_path,omitempty" db:"thumbnail_path"`
	Status          VideoStatus `json:"status" db:"status"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
	ProcessedAt     *time.Time  `json:"processed_at,omitempty" db:"processed_at"`
}

// IsReady reports whether the video satisfies testable property 1:
// thumbnail and processedAt set, status READY.
func (v *Video) IsReady() bool {
	return v.Status == VideoStatusReady && v.ThumbnailPath != nil && v.ProcessedAt != nil
}

// VideoFilter narrows a paginated video listing. Field names mirror the
// query parameters of GET /api/v1/videos.
type VideoFilter struct {
	Page       int
	Limit      int
	SortBy     string // "created_at" | "title" | "file_size"
	SortOrder  string // "asc" | "desc"
	Status     VideoStatus
	Search     string
	Tags       []string
	DateFrom   *time.Time
	DateTo     *time.Time
	Resolution string // restrict to videos with a READY output at this resolution
}

// Normalize applies defaults so callers never special-case zero values
// when building SQL.
func (f *VideoFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.SortBy == "" {
		f.SortBy = "created_at"
	}
	if f.SortOrder != "asc" {
		f.SortOrder = "desc"
	}
}

// Offset returns the SQL OFFSET implied by the filter's page/limit.
func (f VideoFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}
