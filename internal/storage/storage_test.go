package storage

import (
	"context"
	"strings"
	"testing"
)

func TestGetContentType(t *testing.T) {
	tests := []struct {
		filePath string
		wantType string
	}{
		{"video.mp4", "video/mp4"},
		{"video.mov", "video/quicktime"},
		{"video.avi", "video/x-msvideo"},
		{"video.mkv", "video/x-matroska"},
		{"video.webm", "video/webm"},
		{"playlist.m3u8", "application/vnd.apple.mpegurl"},
		{"segment.ts", "video/mp2t"},
		{"thumbnail.jpg", "image/jpeg"},
		{"unknown.xyz", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.filePath, func(t *testing.T) {
			contentType := getContentType(tt.filePath)
			if contentType != tt.wantType {
				t.Errorf("getContentType(%q) = %q, want %q", tt.filePath, contentType, tt.wantType)
			}
		})
	}
}

func TestLocalSaveGetDelete(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()

	content := "segment bytes"
	if err := l.Save(ctx, "hls/video-1/480p/segment_000.ts", strings.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("Save: %v", err)
	}

	exists, err := l.Exists(ctx, "hls/video-1/480p/segment_000.ts")
	if err != nil || !exists {
		t.Fatalf("Exists = %v, %v, want true, nil", exists, err)
	}

	rc, err := l.Get(ctx, "hls/video-1/480p/segment_000.ts")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()

	if err := l.Delete(ctx, "hls/video-1/480p/segment_000.ts"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	exists, err = l.Exists(ctx, "hls/video-1/480p/segment_000.ts")
	if err != nil || exists {
		t.Fatalf("Exists after delete = %v, %v, want false, nil", exists, err)
	}
}

func TestLocalGetMissingReturnsError(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	if _, err := l.Get(context.Background(), "hls/missing/480p/playlist.m3u8"); err == nil {
		t.Error("expected error getting a missing path")
	}
}

func TestLocalRmdirIsRecursiveAndIdempotent(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()

	if err := l.Save(ctx, "hls/video-2/720p/segment_000.ts", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := l.Save(ctx, "hls/video-2/720p/playlist.m3u8", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := l.Rmdir(ctx, "hls/video-2"); err != nil {
		t.Fatalf("Rmdir: %v", err)
	}
	if exists, _ := l.Exists(ctx, "hls/video-2/720p/segment_000.ts"); exists {
		t.Error("expected segment to be removed")
	}

	// Idempotent: removing again is not an error.
	if err := l.Rmdir(ctx, "hls/video-2"); err != nil {
		t.Errorf("second Rmdir should be a no-op, got: %v", err)
	}
}

func TestLocalResolveNeverEscapesBaseDir(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	full, err := l.resolve("../../etc/passwd")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.HasPrefix(full, l.baseDir) {
		t.Errorf("resolved path %q escaped base directory %q", full, l.baseDir)
	}
}
