package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/big"
	"sync"
	"time"
)

const (
	tokenLength   = 32 // ~190 bits of entropy over the charset
	sessionShards = 32
)

// Identity is the authenticated principal a valid session resolves to.
type Identity struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type session struct {
	username  string
	role      string
	createdAt time.Time
	expiresAt time.Time
}

type sessionShard struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// SessionManager owns all live sessions. The table is sharded by token so
// that validation and revocation of unrelated sessions never contend on the
// same lock.
type SessionManager struct {
	creds  *CredentialStore
	ttl    time.Duration
	shards [sessionShards]sessionShard
	done   chan struct{}
}

// NewSessionManager creates a session manager issuing tokens with the given
// absolute TTL. There is no sliding expiration: a session expires exactly
// TTL after login regardless of activity.
func NewSessionManager(creds *CredentialStore, ttl time.Duration) *SessionManager {
	sm := &SessionManager{
		creds: creds,
		ttl:   ttl,
		done:  make(chan struct{}),
	}
	for i := range sm.shards {
		sm.shards[i].sessions = make(map[string]*session)
	}
	return sm
}

// Login verifies credentials and mints a new session token.
func (sm *SessionManager) Login(ctx context.Context, username, password string) (string, error) {
	role, err := sm.creds.Verify(ctx, username, password)
	if err != nil {
		return "", err
	}

	token, err := generateSecureToken(tokenLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}

	now := time.Now().UTC()
	s := &session{
		username:  username,
		role:      role,
		createdAt: now,
		expiresAt: now.Add(sm.ttl),
	}

	shard := sm.shard(token)
	shard.mu.Lock()
	shard.sessions[token] = s
	shard.mu.Unlock()

	slog.Info("session created", "username", username, "expires_at", s.expiresAt)
	return token, nil
}

// Validate resolves a token to its identity. Unknown, expired, and revoked
// tokens all fail with ErrInvalidSession.
func (sm *SessionManager) Validate(token string) (Identity, error) {
	shard := sm.shard(token)
	shard.mu.RLock()
	s, ok := shard.sessions[token]
	shard.mu.RUnlock()

	if !ok || time.Now().After(s.expiresAt) {
		return Identity{}, ErrInvalidSession
	}
	return Identity{Username: s.username, Role: s.role}, nil
}

// Revoke terminates a single session. Revoking an unknown token is a no-op.
func (sm *SessionManager) Revoke(token string) {
	shard := sm.shard(token)
	shard.mu.Lock()
	delete(shard.sessions, token)
	shard.mu.Unlock()
}

// RevokeAll terminates every session belonging to a user, e.g. after a
// password change.
func (sm *SessionManager) RevokeAll(username string) {
	var revoked int
	for i := range sm.shards {
		shard := &sm.shards[i]
		shard.mu.Lock()
		for token, s := range shard.sessions {
			if s.username == username {
				delete(shard.sessions, token)
				revoked++
			}
		}
		shard.mu.Unlock()
	}
	if revoked > 0 {
		slog.Info("sessions revoked", "username", username, "count", revoked)
	}
}

func (sm *SessionManager) shard(token string) *sessionShard {
	h := fnv.New32a()
	h.Write([]byte(token))
	return &sm.shards[h.Sum32()%sessionShards]
}

// sweep removes expired sessions from every shard and returns the number
// removed.
func (sm *SessionManager) sweep() int {
	now := time.Now()
	var removed int
	for i := range sm.shards {
		shard := &sm.shards[i]
		shard.mu.Lock()
		for token, s := range shard.sessions {
			if now.After(s.expiresAt) {
				delete(shard.sessions, token)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// generateSecureToken produces a cryptographically secure, URL-safe random string.
func generateSecureToken(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
