package auth

import "errors"

// Sentinel errors for authentication and authorization.
// ErrInvalidCredentials and ErrInvalidSession answer "who are you" (401);
// ErrForbidden answers "you may not do that" (403).
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidSession     = errors.New("invalid or expired session")
	ErrForbidden          = errors.New("operation not permitted")
	ErrLastAdmin          = errors.New("cannot delete the last admin account")
	ErrDuplicateUser      = errors.New("username already exists")
	ErrUserNotFound       = errors.New("user not found")
)
