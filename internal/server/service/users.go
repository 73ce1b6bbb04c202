package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"stash/internal/server/auth"
	"stash/internal/server/database"
	"stash/internal/server/storage"
)

// OwnedFiles is the slice of the repository the account service needs to
// clean up a deleted user's files. *database.Repository satisfies it.
type OwnedFiles interface {
	DeleteFilesByOwner(ctx context.Context, owner string) ([]string, error)
}

// AccountService composes the credential store and session manager into the
// account operations exposed to the presentation layer: login/logout, user
// administration, and password changes with session invalidation.
type AccountService struct {
	creds    *auth.CredentialStore
	sessions *auth.SessionManager
	authz    *auth.Authorizer
	files    OwnedFiles
	store    storage.Store
}

// NewAccountService creates an account service.
func NewAccountService(creds *auth.CredentialStore, sessions *auth.SessionManager, authz *auth.Authorizer, files OwnedFiles, store storage.Store) *AccountService {
	return &AccountService{
		creds:    creds,
		sessions: sessions,
		authz:    authz,
		files:    files,
		store:    store,
	}
}

// Login verifies credentials and returns a fresh session token.
func (s *AccountService) Login(ctx context.Context, username, password string) (string, error) {
	return s.sessions.Login(ctx, username, password)
}

// Logout revokes the given session token.
func (s *AccountService) Logout(token string) {
	s.sessions.Revoke(token)
}

// CreateUser registers a new account. Admin only.
func (s *AccountService) CreateUser(ctx context.Context, username, password, role string, caller auth.Identity) error {
	if err := s.authz.Authorize(caller, auth.RequiresAdmin, "", false); err != nil {
		return err
	}
	return s.creds.CreateUser(ctx, username, password, role)
}

// DeleteUser removes an account together with its stored files and live
// sessions. Admin only; the last remaining admin is never deletable.
func (s *AccountService) DeleteUser(ctx context.Context, username string, caller auth.Identity) error {
	if err := s.authz.Authorize(caller, auth.RequiresAdmin, "", false); err != nil {
		return err
	}

	// Confirm the account exists and is deletable before touching its
	// files, so a LastAdmin refusal leaves everything intact.
	if err := s.creds.CheckDeletable(ctx, username); err != nil {
		return err
	}

	names, err := s.files.DeleteFilesByOwner(ctx, username)
	if err != nil {
		return fmt.Errorf("failed to delete files of user %s: %w", username, err)
	}
	for _, name := range names {
		if err := s.store.Remove(name); err != nil {
			slog.Error("failed to remove file of deleted user",
				"name", name, "owner", username, "error", err)
		}
	}

	if err := s.creds.DeleteUser(ctx, username); err != nil {
		return err
	}
	s.sessions.RevokeAll(username)

	slog.Info("account removed", "username", username, "files_removed", len(names), "by", caller.Username)
	return nil
}

// ChangePassword rotates a user's password and revokes all of their
// sessions. Users may change their own password; changing another user's
// requires the admin role.
func (s *AccountService) ChangePassword(ctx context.Context, username, newPassword string, caller auth.Identity) error {
	if caller.Username != username {
		if err := s.authz.Authorize(caller, auth.RequiresAdmin, "", false); err != nil {
			return err
		}
	}

	if err := s.creds.ChangePassword(ctx, username, newPassword); err != nil {
		return err
	}
	s.sessions.RevokeAll(username)
	return nil
}

// Users lists all accounts. Admin only.
func (s *AccountService) Users(ctx context.Context, caller auth.Identity) ([]*database.User, error) {
	if err := s.authz.Authorize(caller, auth.RequiresAdmin, "", false); err != nil {
		return nil, err
	}
	return s.creds.ListUsers(ctx)
}

// Bootstrap creates the default admin account when the user table is empty.
func (s *AccountService) Bootstrap(ctx context.Context, username, password string) error {
	err := s.creds.EnsureAdmin(ctx, username, password)
	if err != nil && !errors.Is(err, auth.ErrDuplicateUser) {
		return err
	}
	return nil
}
