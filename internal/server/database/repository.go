package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrFileNotFound = errors.New("file not found")
	ErrDuplicateKey = errors.New("duplicate key")
)

const uniqueViolation = "23505"

// Repository provides CRUD operations for users and stored files.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// --- Users ---

// CreateUser inserts a new user record.
func (r *Repository) CreateUser(ctx context.Context, user *User) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO users (username, password_hash, salt, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		user.Username,
		user.PasswordHash,
		user.Salt,
		user.Role,
		user.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by username.
func (r *Repository) GetUser(ctx context.Context, username string) (*User, error) {
	user := &User{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT username, password_hash, salt, role, created_at
		FROM users WHERE username = $1
	`, username).Scan(
		&user.Username,
		&user.PasswordHash,
		&user.Salt,
		&user.Role,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListUsers returns all users ordered by username.
func (r *Repository) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT username, password_hash, salt, role, created_at
		FROM users ORDER BY username
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user := &User{}
		if err := rows.Scan(
			&user.Username,
			&user.PasswordHash,
			&user.Salt,
			&user.Role,
			&user.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// DeleteUser removes a user record by username.
func (r *Repository) DeleteUser(ctx context.Context, username string) error {
	tag, err := r.db.Pool.Exec(ctx, "DELETE FROM users WHERE username = $1", username)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdatePassword replaces the stored hash and salt for a user.
func (r *Repository) UpdatePassword(ctx context.Context, username string, hash, salt []byte) error {
	tag, err := r.db.Pool.Exec(ctx,
		"UPDATE users SET password_hash = $1, salt = $2 WHERE username = $3",
		hash, salt, username)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CountAdmins returns the number of accounts with the admin role.
func (r *Repository) CountAdmins(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM users WHERE role = $1", RoleAdmin).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count admins: %w", err)
	}
	return n, nil
}

// CountUsers returns the total number of accounts.
func (r *Repository) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// --- Files ---

// CreateFile inserts a new file index record.
func (r *Repository) CreateFile(ctx context.Context, f *StoredFile) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO files (
			name, size_bytes, extension, owner, uploaded_at,
			view_count, download_count, shared
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		f.Name,
		f.SizeBytes,
		f.Extension,
		f.Owner,
		f.UploadedAt,
		f.ViewCount,
		f.DownloadCount,
		f.Shared,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to create file record: %w", err)
	}
	return nil
}

// GetFile retrieves a file record by name.
func (r *Repository) GetFile(ctx context.Context, name string) (*StoredFile, error) {
	f := &StoredFile{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT name, size_bytes, extension, owner, uploaded_at,
			   view_count, download_count, shared
		FROM files WHERE name = $1
	`, name).Scan(
		&f.Name,
		&f.SizeBytes,
		&f.Extension,
		&f.Owner,
		&f.UploadedAt,
		&f.ViewCount,
		&f.DownloadCount,
		&f.Shared,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

// ListFiles returns a snapshot of file records, optionally filtered by owner.
func (r *Repository) ListFiles(ctx context.Context, owner string) ([]*StoredFile, error) {
	query := `
		SELECT name, size_bytes, extension, owner, uploaded_at,
			   view_count, download_count, shared
		FROM files`
	args := []any{}
	if owner != "" {
		query += " WHERE owner = $1"
		args = append(args, owner)
	}
	query += " ORDER BY name"

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var files []*StoredFile
	for rows.Next() {
		f := &StoredFile{}
		if err := rows.Scan(
			&f.Name,
			&f.SizeBytes,
			&f.Extension,
			&f.Owner,
			&f.UploadedAt,
			&f.ViewCount,
			&f.DownloadCount,
			&f.Shared,
		); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteFile removes a file record by name.
func (r *Repository) DeleteFile(ctx context.Context, name string) error {
	tag, err := r.db.Pool.Exec(ctx, "DELETE FROM files WHERE name = $1", name)
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

// DeleteFilesByOwner removes every file record owned by the given user.
func (r *Repository) DeleteFilesByOwner(ctx context.Context, owner string) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx,
		"DELETE FROM files WHERE owner = $1 RETURNING name", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to delete files by owner: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan deleted file name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// IncrementViewCount atomically increments the view counter.
func (r *Repository) IncrementViewCount(ctx context.Context, name string) error {
	return r.increment(ctx, "view_count", name)
}

// IncrementDownloadCount atomically increments the download counter.
func (r *Repository) IncrementDownloadCount(ctx context.Context, name string) error {
	return r.increment(ctx, "download_count", name)
}

func (r *Repository) increment(ctx context.Context, column, name string) error {
	// column is one of two fixed identifiers, never caller input.
	tag, err := r.db.Pool.Exec(ctx,
		"UPDATE files SET "+column+" = "+column+" + 1 WHERE name = $1", name)
	if err != nil {
		return fmt.Errorf("failed to increment %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

// SetShared updates the public-sharing flag on a file.
func (r *Repository) SetShared(ctx context.Context, name string, shared bool) error {
	tag, err := r.db.Pool.Exec(ctx,
		"UPDATE files SET shared = $1 WHERE name = $2", shared, name)
	if err != nil {
		return fmt.Errorf("failed to update shared flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

// GetStats returns aggregate store statistics.
func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(view_count), 0),
			COALESCE(SUM(download_count), 0),
			COALESCE(SUM(size_bytes), 0)
		FROM files
	`).Scan(
		&stats.TotalFiles,
		&stats.TotalViews,
		&stats.TotalDownloads,
		&stats.StorageUsed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get file stats: %w", err)
	}

	if err := r.db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&stats.TotalUsers); err != nil {
		return nil, fmt.Errorf("failed to get user stats: %w", err)
	}
	return stats, nil
}
