package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stash/internal/server/database"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 parameters. Raising kdfIterations invalidates no existing hashes
// because the iteration count is fixed per deployment, not stored per user.
const (
	kdfIterations = 120_000
	saltLength    = 16
	keyLength     = 32
)

// UserStore is the persistence surface the credential store needs.
// *database.Repository satisfies it.
type UserStore interface {
	CreateUser(ctx context.Context, user *database.User) error
	GetUser(ctx context.Context, username string) (*database.User, error)
	DeleteUser(ctx context.Context, username string) error
	UpdatePassword(ctx context.Context, username string, hash, salt []byte) error
	CountAdmins(ctx context.Context) (int64, error)
	CountUsers(ctx context.Context) (int64, error)
	ListUsers(ctx context.Context) ([]*database.User, error)
}

// CredentialStore verifies and manages user credentials.
type CredentialStore struct {
	users UserStore
}

// NewCredentialStore creates a credential store backed by the given user store.
func NewCredentialStore(users UserStore) *CredentialStore {
	return &CredentialStore{users: users}
}

// Verify checks a username/password pair and returns the user's role.
// The comparison is constant-time; the password is never logged or returned.
func (cs *CredentialStore) Verify(ctx context.Context, username, password string) (string, error) {
	user, err := cs.users.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("failed to look up user: %w", err)
	}

	candidate := deriveKey(password, user.Salt)
	if subtle.ConstantTimeCompare(candidate, user.PasswordHash) != 1 {
		return "", ErrInvalidCredentials
	}
	return user.Role, nil
}

// CreateUser registers a new account with a fresh random salt.
func (cs *CredentialStore) CreateUser(ctx context.Context, username, password, role string) error {
	if username == "" || password == "" {
		return ErrInvalidCredentials
	}
	if role != database.RoleAdmin && role != database.RoleUser {
		return fmt.Errorf("unknown role %q", role)
	}

	salt, err := newSalt()
	if err != nil {
		return err
	}

	user := &database.User{
		Username:     username,
		PasswordHash: deriveKey(password, salt),
		Salt:         salt,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := cs.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, database.ErrDuplicateKey) {
			return ErrDuplicateUser
		}
		return err
	}

	slog.Info("user created", "username", username, "role", role)
	return nil
}

// CheckDeletable verifies that an account exists and may be deleted.
// Deleting the sole remaining admin fails with ErrLastAdmin so the store
// can never be left without one.
func (cs *CredentialStore) CheckDeletable(ctx context.Context, username string) error {
	user, err := cs.users.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	if user.Role == database.RoleAdmin {
		admins, err := cs.users.CountAdmins(ctx)
		if err != nil {
			return err
		}
		if admins <= 1 {
			return ErrLastAdmin
		}
	}
	return nil
}

// DeleteUser removes an account after re-checking the last-admin guard.
func (cs *CredentialStore) DeleteUser(ctx context.Context, username string) error {
	if err := cs.CheckDeletable(ctx, username); err != nil {
		return err
	}

	if err := cs.users.DeleteUser(ctx, username); err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	slog.Info("user deleted", "username", username)
	return nil
}

// ChangePassword rotates the salt and hash for a user. Callers are expected
// to revoke the user's sessions afterwards.
func (cs *CredentialStore) ChangePassword(ctx context.Context, username, newPassword string) error {
	if newPassword == "" {
		return ErrInvalidCredentials
	}

	salt, err := newSalt()
	if err != nil {
		return err
	}

	if err := cs.users.UpdatePassword(ctx, username, deriveKey(newPassword, salt), salt); err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	slog.Info("password changed", "username", username)
	return nil
}

// EnsureAdmin bootstraps a default admin account when the user table is
// empty. A no-op otherwise.
func (cs *CredentialStore) EnsureAdmin(ctx context.Context, username, password string) error {
	count, err := cs.users.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if password == "" {
		return errors.New("no users exist and no bootstrap admin password configured")
	}

	if err := cs.CreateUser(ctx, username, password, database.RoleAdmin); err != nil {
		return fmt.Errorf("failed to bootstrap admin account: %w", err)
	}
	slog.Info("bootstrap admin created", "username", username)
	return nil
}

// ListUsers returns all accounts, with credential material blanked out.
func (cs *CredentialStore) ListUsers(ctx context.Context) ([]*database.User, error) {
	users, err := cs.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		u.PasswordHash = nil
		u.Salt = nil
	}
	return users, nil
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, kdfIterations, keyLength, sha256.New)
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto/rand failure: %w", err)
	}
	return salt, nil
}
