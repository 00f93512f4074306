// Package storage implements a small save/get/delete/exists/mkdir/rmdir
// surface over canonical relative paths, backed by either the local
// filesystem or an S3-compatible object store.
package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/arjunmehta/hlsvod/internal/config"
	"github.com/arjunmehta/hlsvod/internal/metrics"
	"github.com/arjunmehta/hlsvod/internal/tracing"
)

// Storage is the capability set every backend implements. Paths are always
// the canonical forward-slash relative strings produced by the helpers in
// paths.go; backends never leak their own separators or absolute prefixes.
type Storage interface {
	Save(ctx context.Context, path string, r io.Reader, size int64) error
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	Mkdir(ctx context.Context, path string) error
	Rmdir(ctx context.Context, path string) error
}

// New selects a Storage variant by cfg.Driver and wraps it so every
// operation reports to internal/metrics, regardless of backend. No
// reflection; a plain switch over a known, small set of drivers.
func New(cfg config.StorageConfig) (Storage, error) {
	var backend Storage
	var err error
	switch cfg.Driver {
	case config.StorageDriverLocal:
		backend, err = NewLocal(cfg.Path)
	case config.StorageDriverS3:
		backend, err = NewObject(cfg)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return &instrumented{backend: backend}, nil
}

// instrumented wraps a Storage backend to record operation counts,
// latency, and bytes transferred without either backend needing to know
// about internal/metrics itself.
type instrumented struct {
	backend Storage
}

func (i *instrumented) observe(op string, start time.Time, err error, bytes int64) {
	status := "ok"
	if err != nil {
		status = "error"
		metrics.RecordError("storage", op)
	}
	metrics.RecordStorageOperation(op, status, time.Since(start).Seconds(), bytes)
}

func (i *instrumented) Save(ctx context.Context, path string, r io.Reader, size int64) error {
	span, ctx := tracing.StartSpan(ctx, "storage.Save")
	tracing.SetTag(span, "storage.path", path)
	start := time.Now()
	err := i.backend.Save(ctx, path, r, size)
	tracing.LogError(span, err)
	tracing.FinishSpan(span)
	i.observe("save", start, err, size)
	return err
}

func (i *instrumented) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	span, ctx := tracing.StartSpan(ctx, "storage.Get")
	tracing.SetTag(span, "storage.path", path)
	start := time.Now()
	rc, err := i.backend.Get(ctx, path)
	tracing.LogError(span, err)
	tracing.FinishSpan(span)
	i.observe("get", start, err, 0)
	return rc, err
}

func (i *instrumented) Delete(ctx context.Context, path string) error {
	span, ctx := tracing.StartSpan(ctx, "storage.Delete")
	tracing.SetTag(span, "storage.path", path)
	start := time.Now()
	err := i.backend.Delete(ctx, path)
	tracing.LogError(span, err)
	tracing.FinishSpan(span)
	i.observe("delete", start, err, 0)
	return err
}

func (i *instrumented) Exists(ctx context.Context, path string) (bool, error) {
	span, ctx := tracing.StartSpan(ctx, "storage.Exists")
	tracing.SetTag(span, "storage.path", path)
	start := time.Now()
	ok, err := i.backend.Exists(ctx, path)
	tracing.LogError(span, err)
	tracing.FinishSpan(span)
	i.observe("exists", start, err, 0)
	return ok, err
}

func (i *instrumented) Mkdir(ctx context.Context, path string) error {
	span, ctx := tracing.StartSpan(ctx, "storage.Mkdir")
	tracing.SetTag(span, "storage.path", path)
	start := time.Now()
	err := i.backend.Mkdir(ctx, path)
	tracing.LogError(span, err)
	tracing.FinishSpan(span)
	i.observe("mkdir", start, err, 0)
	return err
}

func (i *instrumented) Rmdir(ctx context.Context, path string) error {
	span, ctx := tracing.StartSpan(ctx, "storage.Rmdir")
	tracing.SetTag(span, "storage.path", path)
	start := time.Now()
	err := i.backend.Rmdir(ctx, path)
	tracing.LogError(span, err)
	tracing.FinishSpan(span)
	i.observe("rmdir", start, err, 0)
	return err
}

// getContentType returns the content type based on file extension
func getContentType(filePath string) string {
	switch filepath.Ext(filePath) {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".avi":
		return "video/x-msvideo"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
