package models

import "time"

// OutputStatus is the lifecycle state of a VideoOutput.
type OutputStatus string

const (
	OutputStatusPending    OutputStatus = "pending"
	OutputStatusProcessing OutputStatus = "processing"
	OutputStatusReady      OutputStatus = "ready"
	OutputStatusFailed     OutputStatus = "failed"
)

// Resolution is one rung of the transcoding ladder.
type Resolution string

const (
	Resolution480p  Resolution = "480p"
	Resolution720p  Resolution = "720p"
	Resolution1080p Resolution = "1080p"
)

// VideoOutput is one HLS rendition of a Video.
type VideoOutput struct {
	ID                 string       `json:"id" db:"id"`
	VideoID            string       `json:"video_id" db:"video_id"`
	Resolution         Resolution   `json:"resolution" db:"resolution"`
	Width              int          `json:"width" db:"width"`
	Height             int          `json:"height" db:"height"`
	BitrateKbps         int64       `json:"bitrate_kbps" db:"bitrate_kbps"`
	PlaylistPath       string       `json:"playlist_path" db:"playlist_path"`
	SegmentDir         string       `json:"segment_dir" db:"segment_dir"`
	FileSize           int64        `json:"file_size" db:"file_size"`
	SegmentCount       int          `json:"segment_count" db:"segment_count"`
	SegmentDurationSec float64      `json:"segment_duration_sec" db:"segment_duration_sec"`
	Status             OutputStatus `json:"status" db:"status"`
	CompletedAt        *time.Time   `json:"completed_at,omitempty" db:"completed_at"`
}

// DefaultSegmentDurationSec is the HLS target segment duration used across
// the ladder.
const DefaultSegmentDurationSec = 10.0
