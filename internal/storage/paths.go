package storage

import "fmt"

// RawUploadPath returns the canonical path of the uploaded source blob.
func RawUploadPath(videoID, ext string) string {
	return fmt.Sprintf("uploads/raw/%s%s", videoID, ext)
}

// VariantPlaylistPath returns the canonical path of a resolution's variant
// playlist.
func VariantPlaylistPath(videoID, resolution string) string {
	return fmt.Sprintf("hls/%s/%s/playlist.m3u8", videoID, resolution)
}

// SegmentPath returns the canonical path of one numbered segment within a
// resolution directory. seq is zero-padded to three digits.
func SegmentPath(videoID, resolution string, seq int) string {
	return fmt.Sprintf("hls/%s/%s/segment_%03d.ts", videoID, resolution, seq)
}

// MasterPlaylistPath returns the canonical path of a video's master
// playlist.
func MasterPlaylistPath(videoID string) string {
	return fmt.Sprintf("hls/%s/master.m3u8", videoID)
}

// ThumbnailPath returns the canonical path of a video's thumbnail image.
func ThumbnailPath(videoID string) string {
	return fmt.Sprintf("thumbnails/%s/thumbnail.jpg", videoID)
}

// VariantDir returns the directory prefix holding a resolution's playlist
// and segments, used by rmdir-style recursive deletes.
func VariantDir(videoID, resolution string) string {
	return fmt.Sprintf("hls/%s/%s", videoID, resolution)
}

// VideoDir returns the directory prefix holding everything produced for a
// video under hls/, used for cascade deletes.
func VideoDir(videoID string) string {
	return fmt.Sprintf("hls/%s", videoID)
}

// ThumbnailDir returns the directory prefix holding a video's thumbnail.
func ThumbnailDir(videoID string) string {
	return fmt.Sprintf("thumbnails/%s", videoID)
}
