package database

import "time"

// Roles assignable to a user account.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User represents a registered account.
type User struct {
	Username     string
	PasswordHash []byte
	Salt         []byte
	Role         string
	CreatedAt    time.Time
}

// StoredFile is the index record for a file in the store. Name is the
// sanitized filename and doubles as the primary key.
type StoredFile struct {
	Name          string
	SizeBytes     int64
	Extension     string
	Owner         string
	UploadedAt    time.Time
	ViewCount     int64
	DownloadCount int64
	Shared        bool
}

// Stats holds aggregate store statistics for the admin panel.
type Stats struct {
	TotalFiles     int64
	TotalViews     int64
	TotalDownloads int64
	StorageUsed    int64
	TotalUsers     int64
}
