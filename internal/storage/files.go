package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// FileAccessor is how adapters reach local files.
type FileAccessor interface {
	Exists(path string) (bool, error)
	Size(path string) (int64, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// OSFiles reads from the local filesystem.
type OSFiles struct{}

// Exists reports whether path names a regular file.
func (OSFiles) Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("storage: stat %s: %w", path, err)
	}

	return info.Mode().IsRegular(), nil
}

// Size returns the size of a regular file.
func (OSFiles) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("storage: stat %s: %w", path, err)
	}

	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("storage: %s is not a regular file", path)
	}

	return info.Size(), nil
}

// Open opens path for reading.
func (OSFiles) Open(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("storage: opening %s: %w", path, err)
	}

	return f, nil
}

// LimitedFiles throttles reads from an underlying accessor.
type LimitedFiles struct {
	FileAccessor
	Limiter *BandwidthLimiter
}

// Open opens path and wraps it with the bandwidth limiter.
func (l LimitedFiles) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	rc, err := l.FileAccessor.Open(ctx, path)
	if err != nil || l.Limiter == nil {
		return rc, err
	}

	return readCloser{Reader: l.Limiter.WrapReader(ctx, rc), Closer: rc}, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

// NewFiles returns OSFiles, throttled when limiter is non-nil.
func NewFiles(limiter *BandwidthLimiter) FileAccessor {
	if limiter == nil {
		return OSFiles{}
	}

	return LimitedFiles{FileAccessor: OSFiles{}, Limiter: limiter}
}
