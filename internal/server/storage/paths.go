package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolve sanitizes a caller-supplied filename and verifies it cannot reach
// outside the storage root. It returns the cleaned base name that all other
// Store methods accept. The guard runs before every filesystem touch, not
// just on upload.
func (fs *FileSystemStore) Resolve(rawName string) (string, error) {
	name, err := sanitizeName(rawName)
	if err != nil {
		return "", err
	}
	if _, err := fs.safePath(name); err != nil {
		return "", err
	}
	return name, nil
}

// sanitizeName reduces a raw name to a bare filename: directory components
// are stripped (both separator styles), and null bytes, empty and dot-only
// names are rejected.
func sanitizeName(rawName string) (string, error) {
	if strings.ContainsRune(rawName, 0) {
		return "", ErrUnsafeName
	}

	// Normalize Windows-style backslashes before filepath.Base, which is
	// platform-specific.
	name := strings.ReplaceAll(rawName, "\\", "/")
	name = filepath.Base(name)

	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", ErrUnsafeName
	}
	if strings.Trim(name, ".") == "" {
		return "", ErrUnsafeName
	}
	if len(name) > 255 {
		return "", ErrUnsafeName
	}
	return name, nil
}

// safePath joins a sanitized name with the canonical root and verifies the
// canonical result still lives strictly inside it, catching symlink escapes
// for entries that already exist.
func (fs *FileSystemStore) safePath(name string) (string, error) {
	if fs.root == "" {
		return "", fmt.Errorf("storage root not initialized, call EnsureDir first")
	}
	if clean, err := sanitizeName(name); err != nil || clean != name {
		return "", ErrUnsafeName
	}

	candidate := filepath.Join(fs.root, name)
	if !fs.inRoot(candidate) {
		return "", ErrUnsafeName
	}

	// An existing entry may itself be a symlink pointing elsewhere.
	resolved, err := filepath.EvalSymlinks(candidate)
	switch {
	case err == nil:
		if !fs.inRoot(resolved) {
			return "", ErrUnsafeName
		}
	case os.IsNotExist(err):
		// Not created yet (upload target); the joined path was verified.
	default:
		return "", fmt.Errorf("failed to canonicalize %s: %w", name, err)
	}

	return candidate, nil
}

func (fs *FileSystemStore) inRoot(path string) bool {
	return path != fs.root && strings.HasPrefix(path, fs.root+string(filepath.Separator))
}
