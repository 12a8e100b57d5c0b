package console

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

const sessionFileName = "session.json"

// sessionState is what gets persisted between console runs: everything
// needed to restore an authenticated identity without logging in again.
type sessionState struct {
	Token     string `json:"token"`
	TenantKey string `json:"tenant_key"`
	User      *User  `json:"user"`
}

// Session owns the authenticated identity: user, tenant key and bearer
// token. The three always change together - a successful login stores all
// of them, logout clears all of them, and a failed login mutates nothing.
// State is persisted to a JSON file in the state directory so a restart
// restores the session without re-authenticating.
type Session struct {
	client *Client
	path   string
	log    *zap.Logger

	mu            sync.RWMutex
	authenticated bool
	state         sessionState
}

// NewSession creates the session store and restores any persisted state
// from stateDir. A corrupt or unreadable state file is logged and treated
// as no session.
func NewSession(client *Client, stateDir string, log *zap.Logger) *Session {
	s := &Session{
		client: client,
		path:   filepath.Join(stateDir, sessionFileName),
		log:    log,
	}
	s.restore()
	return s
}

func (s *Session) restore() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("Failed to read session state", zap.String("path", s.path), zap.Error(err))
		}
		return
	}

	var state sessionState
	if err := json.Unmarshal(data, &state); err != nil {
		s.log.Warn("Discarding corrupt session state", zap.String("path", s.path), zap.Error(err))
		return
	}
	if state.Token == "" || state.User == nil || state.TenantKey == "" {
		// A partial record is no session at all
		return
	}

	s.mu.Lock()
	s.state = state
	s.authenticated = true
	s.mu.Unlock()
	s.client.SetToken(state.Token)

	s.log.Info("Session restored",
		zap.String("email", state.User.Email),
		zap.String("tenant_key", state.TenantKey))
}

func (s *Session) persist(state sessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	// Write-then-rename so a crash never leaves a torn state file
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Login authenticates against the external endpoint. On success the token,
// user and tenant key are stored together and persisted; on failure the
// server's rejection is returned and existing state is left untouched.
func (s *Session) Login(ctx context.Context, email, password, tenantKey string) (*LoginResult, error) {
	result, err := s.client.Login(ctx, email, password, tenantKey)
	if err != nil {
		s.log.Warn("Login failed", zap.String("email", email), zap.Error(err))
		return nil, err
	}

	state := sessionState{
		Token:     result.Token,
		TenantKey: result.TenantKey,
		User:      &result.User,
	}

	s.mu.Lock()
	s.state = state
	s.authenticated = true
	s.mu.Unlock()
	s.client.SetToken(result.Token)

	if err := s.persist(state); err != nil {
		// The live session is fine; only the restart restore is affected
		s.log.Warn("Failed to persist session state", zap.Error(err))
	}

	s.log.Info("Logged in",
		zap.String("email", result.User.Email),
		zap.String("tenant_key", result.TenantKey))
	return result, nil
}

// Logout best-effort notifies the server, then unconditionally clears all
// session state. A failed server call is logged and never blocks cleanup.
func (s *Session) Logout(ctx context.Context) {
	if err := s.client.Logout(ctx); err != nil {
		s.log.Warn("Server logout failed, clearing local session anyway", zap.Error(err))
	}

	s.mu.Lock()
	s.state = sessionState{}
	s.authenticated = false
	s.mu.Unlock()
	s.client.SetToken("")

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("Failed to remove session state file", zap.Error(err))
	}

	s.log.Info("Logged out")
}

// Authenticated reports whether a session is established.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// User returns the authenticated user, or nil.
func (s *Session) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.User == nil {
		return nil
	}
	user := *s.state.User
	return &user
}

// TenantKey returns the selected tenant's access key, or empty.
func (s *Session) TenantKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.TenantKey
}

// Token returns the bearer token, or empty.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Token
}
