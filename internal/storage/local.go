package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/arjunmehta/hlsvod/internal/apperr"
)

// Local implements Storage against a configured base directory on the
// local filesystem.
type Local struct {
	baseDir string
}

// NewLocal creates a Local backend rooted at baseDir, creating it if
// necessary.
func NewLocal(baseDir string) (*Local, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("storage: failed to create base directory: %w", err)
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to resolve base directory: %w", err)
	}
	return &Local{baseDir: abs}, nil
}

// resolve joins a canonical relative path onto the base directory, guarding
// against traversal outside of it. This is the one place Storage must
// defend itself against a malicious relative path; Streamer's segment-name
// regex is the only other guard upstream of it.
func (l *Local) resolve(path string) (string, error) {
	cleaned := filepath.Clean("/" + path)
	full := filepath.Join(l.baseDir, cleaned)
	if !strings.HasPrefix(full, l.baseDir+string(os.PathSeparator)) && full != l.baseDir {
		return "", fmt.Errorf("storage: path %q escapes base directory", path)
	}
	return full, nil
}

func (l *Local) Save(ctx context.Context, path string, r io.Reader, size int64) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("storage: failed to create parent directory: %w", err)
	}
	f, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("storage: failed to create %q: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("storage: failed to write %q: %w", path, err)
	}
	return nil
}

func (l *Local) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.CodeStorageUnavailable, fmt.Sprintf("storage: %q not found", path))
		}
		return nil, fmt.Errorf("storage: failed to open %q: %w", path, err)
	}
	return f, nil
}

func (l *Local) Delete(ctx context.Context, path string) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return apperr.New(apperr.CodeStorageUnavailable, fmt.Sprintf("storage: %q not found", path))
		}
		return fmt.Errorf("storage: failed to delete %q: %w", path, err)
	}
	return nil
}

func (l *Local) Exists(ctx context.Context, path string) (bool, error) {
	full, err := l.resolve(path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("storage: failed to stat %q: %w", path, err)
	}
	return true, nil
}

func (l *Local) Mkdir(ctx context.Context, path string) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0755); err != nil {
		return fmt.Errorf("storage: failed to mkdir %q: %w", path, err)
	}
	return nil
}

// Rmdir recursively removes everything under path. It is idempotent: a
// missing directory is not an error.
func (l *Local) Rmdir(ctx context.Context, path string) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(full); err != nil {
		return fmt.Errorf("storage: failed to rmdir %q: %w", path, err)
	}
	return nil
}
