package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"stash/internal/archive"
	"stash/internal/server/auth"
	"stash/internal/server/config"
	"stash/internal/server/database"
	"stash/internal/server/storage"
)

// Sentinel errors for the file service layer.
var (
	ErrFileNotFound        = errors.New("file not found")
	ErrFileTooLarge        = errors.New("file exceeds maximum allowed size")
	ErrExtensionNotAllowed = errors.New("file extension not allowed")
	ErrDuplicateName       = errors.New("a file with this name already exists")
	ErrInvalidName         = errors.New("invalid file name")
)

// Reason codes reported per-item by bulk operations.
const (
	reasonNotFound  = "NotFound"
	reasonForbidden = "Forbidden"
	reasonInvalid   = "InvalidName"
	reasonTooLarge  = "TooLarge"
	reasonIOFailure = "IOFailure"
)

// FileRepository is the index surface the file service needs.
// *database.Repository satisfies it.
type FileRepository interface {
	CreateFile(ctx context.Context, f *database.StoredFile) error
	GetFile(ctx context.Context, name string) (*database.StoredFile, error)
	ListFiles(ctx context.Context, owner string) ([]*database.StoredFile, error)
	DeleteFile(ctx context.Context, name string) error
	IncrementViewCount(ctx context.Context, name string) error
	IncrementDownloadCount(ctx context.Context, name string) error
	SetShared(ctx context.Context, name string, shared bool) error
	GetStats(ctx context.Context) (*database.Stats, error)
}

// FileContent is an open stream over a stored file plus its index record.
// The caller owns Data and must close it.
type FileContent struct {
	Meta *database.StoredFile
	Data io.ReadCloser
	Size int64
}

// BulkDeleteResult reports per-name outcomes of a bulk delete.
type BulkDeleteResult struct {
	Deleted []string      `json:"deleted"`
	Failed  []BulkFailure `json:"failed"`
}

// BulkFailure names a file that could not be processed and why.
type BulkFailure struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// FileService owns upload, download, delete, listing and sharing policy for
// the file store. Operations on the same file are serialized by a per-file
// lock held for the duration of the filesystem effect; operations on
// different files proceed independently.
type FileService struct {
	repo       FileRepository
	store      storage.Store
	authz      *auth.Authorizer
	maxSize    int64
	allowedExt map[string]bool // empty = allow all
	locks      *keyedMutex
}

// NewFileService creates a file service with policy taken from cfg.
func NewFileService(repo FileRepository, store storage.Store, authz *auth.Authorizer, cfg *config.Config) *FileService {
	allowed := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed[ext] = true
	}
	return &FileService{
		repo:       repo,
		store:      store,
		authz:      authz,
		maxSize:    cfg.MaxFileSize,
		allowedExt: allowed,
		locks:      newKeyedMutex(),
	}
}

// Upload validates and stores an incoming file stream and registers its
// index record with zeroed counters. Existing names are rejected unless
// overwrite is set, and overwriting someone else's file requires ownership
// or the admin role.
func (s *FileService) Upload(ctx context.Context, rawName string, data io.Reader, sizeHint int64, caller auth.Identity, overwrite bool) (*database.StoredFile, error) {
	name, err := s.resolve(rawName)
	if err != nil {
		return nil, err
	}

	ext := extensionOf(name)
	if len(s.allowedExt) > 0 && !s.allowedExt[ext] {
		return nil, ErrExtensionNotAllowed
	}
	if sizeHint > s.maxSize {
		return nil, ErrFileTooLarge
	}

	unlock := s.locks.lock(name)
	defer unlock()

	existing, err := s.repo.GetFile(ctx, name)
	switch {
	case err == nil:
		if !overwrite {
			return nil, ErrDuplicateName
		}
		if err := s.authz.Authorize(caller, auth.RequiresOwnerOrAdmin, existing.Owner, false); err != nil {
			return nil, err
		}
	case errors.Is(err, database.ErrFileNotFound):
		existing = nil
	default:
		return nil, err
	}

	written, err := s.store.Save(name, data, s.maxSize)
	if err != nil {
		if errors.Is(err, storage.ErrSizeExceeded) {
			return nil, ErrFileTooLarge
		}
		return nil, fmt.Errorf("failed to store file %s: %w", name, err)
	}

	if existing != nil {
		if err := s.repo.DeleteFile(ctx, name); err != nil && !errors.Is(err, database.ErrFileNotFound) {
			s.store.Remove(name)
			return nil, err
		}
	}

	record := &database.StoredFile{
		Name:       name,
		SizeBytes:  written,
		Extension:  ext,
		Owner:      caller.Username,
		UploadedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateFile(ctx, record); err != nil {
		// Roll back the artifact so no file exists without a record.
		s.store.Remove(name)
		if errors.Is(err, database.ErrDuplicateKey) {
			return nil, ErrDuplicateName
		}
		return nil, err
	}

	slog.Info("file uploaded",
		"name", name,
		"size", written,
		"owner", caller.Username,
		"overwrite", existing != nil,
	)
	return record, nil
}

// Download opens a file for attachment delivery and counts the download.
func (s *FileService) Download(ctx context.Context, rawName string, caller auth.Identity) (*FileContent, error) {
	return s.open(ctx, rawName, caller, s.repo.IncrementDownloadCount)
}

// View opens a file for inline delivery and counts the view.
func (s *FileService) View(ctx context.Context, rawName string, caller auth.Identity) (*FileContent, error) {
	return s.open(ctx, rawName, caller, s.repo.IncrementViewCount)
}

func (s *FileService) open(ctx context.Context, rawName string, caller auth.Identity, count func(context.Context, string) error) (*FileContent, error) {
	name, err := s.resolve(rawName)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(name)
	defer unlock()

	meta, err := s.repo.GetFile(ctx, name)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	if err := s.authz.Authorize(caller, auth.RequiresReadAccess, meta.Owner, meta.Shared); err != nil {
		return nil, err
	}

	data, size, err := s.store.Open(name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}

	if err := count(ctx, name); err != nil {
		data.Close()
		return nil, err
	}

	return &FileContent{Meta: meta, Data: data, Size: size}, nil
}

// Delete removes a file and its record. Only the owner or an admin may
// delete; neither a record without a file nor a file without a record
// survives the operation.
func (s *FileService) Delete(ctx context.Context, rawName string, caller auth.Identity) error {
	name, err := s.resolve(rawName)
	if err != nil {
		return err
	}

	unlock := s.locks.lock(name)
	defer unlock()

	meta, err := s.repo.GetFile(ctx, name)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return ErrFileNotFound
		}
		return err
	}
	if err := s.authz.Authorize(caller, auth.RequiresOwnerOrAdmin, meta.Owner, false); err != nil {
		return err
	}

	if err := s.store.Remove(name); err != nil {
		return fmt.Errorf("failed to remove file %s: %w", name, err)
	}
	if err := s.repo.DeleteFile(ctx, name); err != nil && !errors.Is(err, database.ErrFileNotFound) {
		return err
	}

	slog.Info("file deleted", "name", name, "by", caller.Username)
	return nil
}

// BulkDelete processes each name independently through the same checks as
// Delete and reports per-name outcomes. One failure never aborts the batch.
func (s *FileService) BulkDelete(ctx context.Context, names []string, caller auth.Identity) *BulkDeleteResult {
	result := &BulkDeleteResult{
		Deleted: []string{},
		Failed:  []BulkFailure{},
	}
	for _, name := range names {
		if err := s.Delete(ctx, name, caller); err != nil {
			result.Failed = append(result.Failed, BulkFailure{
				Name:   name,
				Reason: failureReason(err),
			})
			continue
		}
		result.Deleted = append(result.Deleted, name)
	}

	slog.Info("bulk delete complete",
		"requested", len(names),
		"deleted", len(result.Deleted),
		"failed", len(result.Failed),
		"by", caller.Username,
	)
	return result
}

// BulkDownload streams a zip bundle of the requested files to w. Names that
// fail resolution, lookup, or authorization are reported in the bundle
// manifest rather than silently dropped. Each included file counts one
// download.
func (s *FileService) BulkDownload(ctx context.Context, names []string, caller auth.Identity, w io.Writer) error {
	var entries []archive.Entry
	var skipped []archive.Skipped
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	for _, rawName := range names {
		content, err := s.Download(ctx, rawName, caller)
		if err != nil {
			skipped = append(skipped, archive.Skipped{
				Name:   rawName,
				Reason: failureReason(err),
			})
			continue
		}
		closers = append(closers, content.Data)
		entries = append(entries, archive.Entry{
			Name:    content.Meta.Name,
			ModTime: content.Meta.UploadedAt,
			Data:    content.Data,
		})
	}

	if err := archive.WriteBundle(w, entries, skipped); err != nil {
		return fmt.Errorf("failed to write bundle: %w", err)
	}

	slog.Info("bulk download complete",
		"requested", len(names),
		"included", len(entries),
		"skipped", len(skipped),
		"by", caller.Username,
	)
	return nil
}

// List returns a materialized snapshot of file records visible to the
// caller, optionally filtered by owner. No lock is held while the caller
// consumes the result.
func (s *FileService) List(ctx context.Context, filterOwner string, caller auth.Identity) ([]*database.StoredFile, error) {
	files, err := s.repo.ListFiles(ctx, filterOwner)
	if err != nil {
		return nil, err
	}

	visible := make([]*database.StoredFile, 0, len(files))
	for _, f := range files {
		if s.authz.Authorize(caller, auth.RequiresReadAccess, f.Owner, f.Shared) == nil {
			visible = append(visible, f)
		}
	}
	return visible, nil
}

// SetShared toggles the public-sharing flag on a file. Owner or admin only.
func (s *FileService) SetShared(ctx context.Context, rawName string, shared bool, caller auth.Identity) error {
	name, err := s.resolve(rawName)
	if err != nil {
		return err
	}

	meta, err := s.repo.GetFile(ctx, name)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return ErrFileNotFound
		}
		return err
	}
	if err := s.authz.Authorize(caller, auth.RequiresOwnerOrAdmin, meta.Owner, false); err != nil {
		return err
	}

	if err := s.repo.SetShared(ctx, name, shared); err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return ErrFileNotFound
		}
		return err
	}

	slog.Info("share flag updated", "name", name, "shared", shared, "by", caller.Username)
	return nil
}

// Stats returns aggregate store statistics. Admin only.
func (s *FileService) Stats(ctx context.Context, caller auth.Identity) (*database.Stats, error) {
	if err := s.authz.Authorize(caller, auth.RequiresAdmin, "", false); err != nil {
		return nil, err
	}
	return s.repo.GetStats(ctx)
}

func (s *FileService) resolve(rawName string) (string, error) {
	name, err := s.store.Resolve(rawName)
	if err != nil {
		if errors.Is(err, storage.ErrUnsafeName) {
			return "", ErrInvalidName
		}
		return "", err
	}
	return name, nil
}

func extensionOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// failureReason maps an error to the per-item reason code used by bulk
// operation reports.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrFileNotFound):
		return reasonNotFound
	case errors.Is(err, auth.ErrForbidden):
		return reasonForbidden
	case errors.Is(err, ErrInvalidName):
		return reasonInvalid
	case errors.Is(err, ErrFileTooLarge):
		return reasonTooLarge
	default:
		return reasonIOFailure
	}
}
