package auth

import (
	"testing"

	"stash/internal/server/database"

	"github.com/stretchr/testify/assert"
)

func TestAuthorizer(t *testing.T) {
	admin := Identity{Username: "root", Role: database.RoleAdmin}
	owner := Identity{Username: "alice", Role: database.RoleUser}
	other := Identity{Username: "bob", Role: database.RoleUser}
	anonymous := Identity{}

	tests := []struct {
		name    string
		sharing bool
		id      Identity
		rule    Rule
		owner   string
		shared  bool
		wantErr error
	}{
		{"admin passes authenticated", false, admin, RequiresAuthenticated, "", false, nil},
		{"admin passes admin-only", false, admin, RequiresAdmin, "", false, nil},
		{"admin passes owner checks on foreign files", false, admin, RequiresOwnerOrAdmin, "alice", false, nil},
		{"admin passes read on unshared foreign files", false, admin, RequiresReadAccess, "alice", false, nil},

		{"user passes authenticated", false, owner, RequiresAuthenticated, "", false, nil},
		{"user fails admin-only", false, owner, RequiresAdmin, "", false, ErrForbidden},

		{"owner passes owner check", false, owner, RequiresOwnerOrAdmin, "alice", false, nil},
		{"non-owner fails owner check", false, other, RequiresOwnerOrAdmin, "alice", false, ErrForbidden},
		{"non-owner fails owner check even when shared", true, other, RequiresOwnerOrAdmin, "alice", true, ErrForbidden},

		{"owner reads own file", false, owner, RequiresReadAccess, "alice", false, nil},
		{"non-owner fails read on unshared file", true, other, RequiresReadAccess, "alice", false, ErrForbidden},
		{"non-owner reads shared file when sharing enabled", true, other, RequiresReadAccess, "alice", true, nil},
		{"non-owner fails read on shared file when sharing disabled", false, other, RequiresReadAccess, "alice", true, ErrForbidden},

		{"empty identity fails as unauthenticated", false, anonymous, RequiresAuthenticated, "", false, ErrInvalidSession},
		{"empty identity fails read", true, anonymous, RequiresReadAccess, "alice", true, ErrInvalidSession},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAuthorizer(tt.sharing)
			err := a.Authorize(tt.id, tt.rule, tt.owner, tt.shared)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
