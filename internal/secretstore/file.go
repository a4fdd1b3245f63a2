package secretstore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// FilePerms restricts secret files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the secrets directory.
const DirPerms = 0o700

// FileStore stores each key as <dir>/<key>.secret. Writes are atomic
// (temp file + fsync + rename). Never logs values.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

// NewFileStore returns a FileStore rooted at dir. The directory is created
// lazily on first write.
func NewFileStore(dir string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &FileStore{dir: dir, logger: logger}
}

// Get reads the value for key. Returns (nil, nil) if the key is absent.
func (s *FileStore) Get(key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrUnavailable, key, err)
	}

	return data, nil
}

// Put writes value for key, replacing any previous value.
func (s *FileStore) Put(key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, DirPerms); err != nil {
		return fmt.Errorf("%w: creating directory %s: %w", ErrUnavailable, s.dir, err)
	}

	// Temp file in the same directory so rename(2) stays on one filesystem.
	tmp, err := os.CreateTemp(s.dir, ".secret-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %w", ErrUnavailable, err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: setting permissions: %w", ErrUnavailable, err)
	}

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing: %w", ErrUnavailable, err)
	}

	// Flush before rename so a crash cannot leave a truncated secret behind.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: syncing: %w", ErrUnavailable, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing: %w", ErrUnavailable, err)
	}

	if err := os.Rename(tmpPath, s.path(key)); err != nil {
		return fmt.Errorf("%w: renaming: %w", ErrUnavailable, err)
	}

	success = true

	s.logger.Debug("secret stored", slog.String("key", key))

	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *FileStore) Delete(key string) error {
	if err := checkKey(key); err != nil {
		return err
	}

	err := os.Remove(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("%w: removing %s: %w", ErrUnavailable, key, err)
	}

	s.logger.Debug("secret removed", slog.String("key", key))

	return nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".secret")
}
