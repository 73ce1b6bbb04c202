package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

var (
	// ErrUnsafeName marks a filename that failed path-guard resolution.
	ErrUnsafeName = errors.New("unsafe file name")
	// ErrSizeExceeded marks an upload whose streamed bytes passed the limit.
	ErrSizeExceeded = errors.New("size limit exceeded")
	// ErrNotFound marks a missing file artifact.
	ErrNotFound = errors.New("file not found in storage")
)

// Store defines the interface for file storage backends.
// Every method resolves its name argument through the path guard before
// touching the filesystem.
type Store interface {
	EnsureDir() error
	Resolve(rawName string) (string, error)
	Save(name string, data io.Reader, limit int64) (int64, error)
	Open(name string) (io.ReadCloser, int64, error)
	Remove(name string) error
	Exists(name string) (bool, error)
}

// FileSystemStore stores files on the local filesystem under a single root.
type FileSystemStore struct {
	basePath string
	root     string // canonical absolute root, set by EnsureDir
}

// NewFileSystemStore creates a new filesystem storage backend.
// EnsureDir must be called before any other method.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// EnsureDir creates the storage directory if needed and canonicalizes the
// root path used by all subsequent safety checks.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}

	abs, err := filepath.Abs(fs.basePath)
	if err != nil {
		return fmt.Errorf("failed to resolve storage directory %s: %w", fs.basePath, err)
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return fmt.Errorf("failed to canonicalize storage directory %s: %w", abs, err)
	}
	fs.root = root
	return nil
}

// Save streams data into the store under the given resolved name, enforcing
// the byte limit while streaming. Data goes to a temp file first and is
// renamed into place only on success, so no partial artifact ever appears
// under the final name and an aborted stream leaves nothing behind.
func (fs *FileSystemStore) Save(name string, data io.Reader, limit int64) (int64, error) {
	finalPath, err := fs.safePath(name)
	if err != nil {
		return 0, err
	}

	tmpPath := filepath.Join(fs.root, ".upload-"+uuid.NewString()+".tmp")
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	n, err := io.Copy(tmp, io.LimitReader(data, limit+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to write file: %w", err)
	}
	if n > limit {
		os.Remove(tmpPath)
		return 0, ErrSizeExceeded
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to finalize file %s: %w", name, err)
	}
	return n, nil
}

// Open returns a reader over a stored file along with its size.
func (fs *FileSystemStore) Open(name string) (io.ReadCloser, int64, error) {
	path, err := fs.safePath(name)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("failed to open file %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat file %s: %w", name, err)
	}
	return f, info.Size(), nil
}

// Remove deletes the stored file. Missing files are not an error.
func (fs *FileSystemStore) Remove(name string) error {
	path, err := fs.safePath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file %s: %w", name, err)
	}
	return nil
}

// Exists reports whether an artifact is present under the given name.
func (fs *FileSystemStore) Exists(name string) (bool, error) {
	path, err := fs.safePath(name)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file %s: %w", name, err)
	}
	return true, nil
}
