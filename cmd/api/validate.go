package main

import (
	"fmt"
	"strings"

	"github.com/arjunmehta/hlsvod/internal/apperr"
)

const (
	maxTitleLen = 255
	maxDescLen  = 2000
	maxTags     = 10
	maxTagLen   = 50
)

// allowedUploadExtensions is the set of source containers this service
// will accept and hand to ffprobe/ffmpeg.
var allowedUploadExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
	".avi":  true,
}

const maxUploadSize = 5 << 30 // 5 GiB

// validateTitle enforces the Video.title constraint (1-255 chars, trimmed).
func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", apperr.New(apperr.CodeTitleRequired, "title is required")
	}
	if len(title) > maxTitleLen {
		return "", apperr.New(apperr.CodeTitleTooLong, fmt.Sprintf("title must be at most %d characters", maxTitleLen))
	}
	return title, nil
}

// validateTags enforces the Video.tags constraint (<=10 items, each
// <=50 chars).
func validateTags(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if len(raw) > maxTags {
		return nil, apperr.New(apperr.CodeTooManyTags, fmt.Sprintf("at most %d tags are allowed", maxTags))
	}
	tags := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if len(t) > maxTagLen {
			return nil, apperr.New(apperr.CodeInvalidTag, fmt.Sprintf("tag %q exceeds %d characters", t, maxTagLen))
		}
		tags = append(tags, t)
	}
	return tags, nil
}

// splitTags parses the comma-separated `tags` form field, tolerating a
// trailing/leading comma or extra whitespace around each entry.
func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

// validateExtension rejects any upload whose container isn't one this
// service transcodes.
func validateExtension(ext string) error {
	ext = strings.ToLower(ext)
	if !allowedUploadExtensions[ext] {
		return apperr.New(apperr.CodeInvalidFileFormat, fmt.Sprintf("unsupported file extension %q", ext))
	}
	return nil
}
