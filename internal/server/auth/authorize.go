package auth

import "stash/internal/server/database"

// Rule describes who may perform an operation. Every handler declares its
// rule and goes through Authorize; role checks are never scattered inline.
type Rule int

const (
	// RequiresAuthenticated passes for any valid session.
	RequiresAuthenticated Rule = iota
	// RequiresAdmin passes only for the admin role.
	RequiresAdmin
	// RequiresOwnerOrAdmin passes for the resource owner or an admin.
	// Used for mutations (delete, share toggle, overwrite).
	RequiresOwnerOrAdmin
	// RequiresReadAccess passes for the owner, an admin, or — when public
	// sharing is enabled — any authenticated user if the file is shared.
	RequiresReadAccess
)

// Authorizer is the central authorization gate.
type Authorizer struct {
	sharingEnabled bool
}

// NewAuthorizer creates an authorizer. sharingEnabled mirrors
// Config.EnablePublicSharing and is fixed for the process lifetime.
func NewAuthorizer(sharingEnabled bool) *Authorizer {
	return &Authorizer{sharingEnabled: sharingEnabled}
}

// Authorize checks an identity against a rule. owner and shared describe the
// target resource and are ignored by rules that don't need them. A failure
// is always ErrForbidden, distinct from authentication failures.
func (a *Authorizer) Authorize(id Identity, rule Rule, owner string, shared bool) error {
	if id.Username == "" {
		return ErrInvalidSession
	}
	if id.Role == database.RoleAdmin {
		return nil
	}

	switch rule {
	case RequiresAuthenticated:
		return nil
	case RequiresAdmin:
		return ErrForbidden
	case RequiresOwnerOrAdmin:
		if id.Username == owner {
			return nil
		}
		return ErrForbidden
	case RequiresReadAccess:
		if id.Username == owner {
			return nil
		}
		if a.sharingEnabled && shared {
			return nil
		}
		return ErrForbidden
	default:
		return ErrForbidden
	}
}
