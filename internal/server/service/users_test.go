package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"stash/internal/server/auth"
	"stash/internal/server/database"
	"stash/internal/server/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memUserStore is a minimal in-memory auth.UserStore.
type memUserStore struct {
	mu    sync.Mutex
	users map[string]*database.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: make(map[string]*database.User)}
}

func (m *memUserStore) CreateUser(_ context.Context, user *database.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.Username]; ok {
		return database.ErrDuplicateKey
	}
	clone := *user
	m.users[user.Username] = &clone
	return nil
}

func (m *memUserStore) GetUser(_ context.Context, username string) (*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[username]
	if !ok {
		return nil, database.ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (m *memUserStore) DeleteUser(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; !ok {
		return database.ErrUserNotFound
	}
	delete(m.users, username)
	return nil
}

func (m *memUserStore) UpdatePassword(_ context.Context, username string, hash, salt []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[username]
	if !ok {
		return database.ErrUserNotFound
	}
	user.PasswordHash = hash
	user.Salt = salt
	return nil
}

func (m *memUserStore) CountAdmins(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, u := range m.users {
		if u.Role == database.RoleAdmin {
			n++
		}
	}
	return n, nil
}

func (m *memUserStore) CountUsers(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.users)), nil
}

func (m *memUserStore) ListUsers(_ context.Context) ([]*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*database.User, 0, len(m.users))
	for _, u := range m.users {
		clone := *u
		out = append(out, &clone)
	}
	return out, nil
}

type accountFixture struct {
	accounts *AccountService
	files    *FileService
	sessions *auth.SessionManager
	repo     *fakeFileRepo
	store    *storage.FileSystemStore
}

func newAccountFixture(t *testing.T) *accountFixture {
	t.Helper()
	ctx := context.Background()

	store := storage.NewFileSystemStore(t.TempDir())
	require.NoError(t, store.EnsureDir())

	creds := auth.NewCredentialStore(newMemUserStore())
	require.NoError(t, creds.CreateUser(ctx, "root", "root-pw", database.RoleAdmin))
	require.NoError(t, creds.CreateUser(ctx, "alice", "alice-pw", database.RoleUser))

	sessions := auth.NewSessionManager(creds, time.Hour)
	authz := auth.NewAuthorizer(true)
	repo := newFakeFileRepo()
	files := NewFileService(repo, store, authz, defaultTestConfig())

	return &accountFixture{
		accounts: NewAccountService(creds, sessions, authz, repo, store),
		files:    files,
		sessions: sessions,
		repo:     repo,
		store:    store,
	}
}

func TestAccountService_LoginLogout(t *testing.T) {
	ctx := context.Background()
	fx := newAccountFixture(t)

	token, err := fx.accounts.Login(ctx, "alice", "alice-pw")
	require.NoError(t, err)

	id, err := fx.sessions.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Username)

	fx.accounts.Logout(token)
	_, err = fx.sessions.Validate(token)
	assert.ErrorIs(t, err, auth.ErrInvalidSession)
}

func TestAccountService_CreateUser(t *testing.T) {
	ctx := context.Background()
	fx := newAccountFixture(t)

	t.Run("admin creates accounts", func(t *testing.T) {
		require.NoError(t, fx.accounts.CreateUser(ctx, "carol", "pw", database.RoleUser, adminID))
		_, err := fx.accounts.Login(ctx, "carol", "pw")
		assert.NoError(t, err)
	})

	t.Run("regular users may not", func(t *testing.T) {
		err := fx.accounts.CreateUser(ctx, "dave", "pw", database.RoleUser, aliceID)
		assert.ErrorIs(t, err, auth.ErrForbidden)
	})
}

func TestAccountService_DeleteUser(t *testing.T) {
	ctx := context.Background()

	t.Run("removes files, sessions, and the account", func(t *testing.T) {
		fx := newAccountFixture(t)

		_, err := fx.files.Upload(ctx, "hers.txt", strings.NewReader("data"), 4, aliceID, false)
		require.NoError(t, err)
		token, err := fx.accounts.Login(ctx, "alice", "alice-pw")
		require.NoError(t, err)

		require.NoError(t, fx.accounts.DeleteUser(ctx, "alice", adminID))

		_, err = fx.sessions.Validate(token)
		assert.ErrorIs(t, err, auth.ErrInvalidSession, "sessions must be revoked")

		_, err = fx.repo.GetFile(ctx, "hers.txt")
		assert.ErrorIs(t, err, database.ErrFileNotFound, "index record must be gone")

		exists, err := fx.store.Exists("hers.txt")
		require.NoError(t, err)
		assert.False(t, exists, "artifact must be gone")

		_, err = fx.accounts.Login(ctx, "alice", "alice-pw")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("last admin survives with files intact", func(t *testing.T) {
		fx := newAccountFixture(t)

		_, err := fx.files.Upload(ctx, "admin.txt", strings.NewReader("x"), 1, adminID, false)
		require.NoError(t, err)

		err = fx.accounts.DeleteUser(ctx, "root", adminID)
		assert.ErrorIs(t, err, auth.ErrLastAdmin)

		_, err = fx.repo.GetFile(ctx, "admin.txt")
		assert.NoError(t, err, "refusal must leave files untouched")
	})

	t.Run("admin only", func(t *testing.T) {
		fx := newAccountFixture(t)
		err := fx.accounts.DeleteUser(ctx, "root", aliceID)
		assert.ErrorIs(t, err, auth.ErrForbidden)
	})

	t.Run("unknown user", func(t *testing.T) {
		fx := newAccountFixture(t)
		err := fx.accounts.DeleteUser(ctx, "ghost", adminID)
		assert.ErrorIs(t, err, auth.ErrUserNotFound)
	})
}

func TestAccountService_ChangePassword(t *testing.T) {
	ctx := context.Background()

	t.Run("self change revokes existing sessions", func(t *testing.T) {
		fx := newAccountFixture(t)
		token, err := fx.accounts.Login(ctx, "alice", "alice-pw")
		require.NoError(t, err)

		require.NoError(t, fx.accounts.ChangePassword(ctx, "alice", "new-pw", aliceID))

		_, err = fx.sessions.Validate(token)
		assert.ErrorIs(t, err, auth.ErrInvalidSession)

		_, err = fx.accounts.Login(ctx, "alice", "alice-pw")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
		_, err = fx.accounts.Login(ctx, "alice", "new-pw")
		assert.NoError(t, err)
	})

	t.Run("admin changes anyone's password", func(t *testing.T) {
		fx := newAccountFixture(t)
		require.NoError(t, fx.accounts.ChangePassword(ctx, "alice", "reset-pw", adminID))
		_, err := fx.accounts.Login(ctx, "alice", "reset-pw")
		assert.NoError(t, err)
	})

	t.Run("users may not change other users' passwords", func(t *testing.T) {
		fx := newAccountFixture(t)
		err := fx.accounts.ChangePassword(ctx, "root", "stolen", aliceID)
		assert.ErrorIs(t, err, auth.ErrForbidden)
	})
}

func TestAccountService_Users(t *testing.T) {
	ctx := context.Background()
	fx := newAccountFixture(t)

	t.Run("admin only", func(t *testing.T) {
		_, err := fx.accounts.Users(ctx, aliceID)
		assert.ErrorIs(t, err, auth.ErrForbidden)
	})

	t.Run("lists accounts without credential material", func(t *testing.T) {
		users, err := fx.accounts.Users(ctx, adminID)
		require.NoError(t, err)
		require.Len(t, users, 2)
		for _, u := range users {
			assert.Nil(t, u.PasswordHash)
			assert.Nil(t, u.Salt)
		}
	})
}

func TestAccountService_Bootstrap(t *testing.T) {
	ctx := context.Background()

	t.Run("creates the default admin on an empty table", func(t *testing.T) {
		store := storage.NewFileSystemStore(t.TempDir())
		require.NoError(t, store.EnsureDir())
		creds := auth.NewCredentialStore(newMemUserStore())
		sessions := auth.NewSessionManager(creds, time.Hour)
		accounts := NewAccountService(creds, sessions, auth.NewAuthorizer(true), newFakeFileRepo(), store)

		require.NoError(t, accounts.Bootstrap(ctx, "admin", "changeme"))
		_, err := accounts.Login(ctx, "admin", "changeme")
		assert.NoError(t, err)

		// Idempotent.
		assert.NoError(t, accounts.Bootstrap(ctx, "admin", "changeme"))
	})

	t.Run("leaves populated tables alone", func(t *testing.T) {
		fx := newAccountFixture(t)
		require.NoError(t, fx.accounts.Bootstrap(ctx, "admin", "changeme"))
		_, err := fx.accounts.Login(ctx, "admin", "changeme")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})
}
