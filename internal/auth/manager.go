package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/codex-core/codex/internal/codexerr"
)

// RestrictionConfig names the login restrictions a deployment may enforce.
type RestrictionConfig struct {
	ForcedLoginMethod       Mode   // "" means unrestricted
	ForcedChatGPTWorkspaceID string // "" means unrestricted
}

// Manager is the process-wide credential cache. Readers take the read lock
// (current/get-token); the only writer paths (reload, refresh, login,
// logout) take the write lock, so a reader never observes a half-updated
// snapshot — it sees either the value before or the value after a mutation,
// never a mix of old and new fields.
type Manager struct {
	mu       sync.RWMutex
	cached   Credentials
	store    *Store
	readEnv  bool
	client   *http.Client
}

func NewManager(store *Store) *Manager {
	return &Manager{
		store:   store,
		readEnv: true,
		client:  &http.Client{Timeout: refreshTimeout},
	}
}

// Load populates the initial cache from the backend. Call once at startup.
func (m *Manager) Load() error {
	creds, err := m.store.Load(m.readEnv)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.cached = creds
	m.mu.Unlock()
	return nil
}

// Current returns a copy of the cached snapshot.
func (m *Manager) Current() Credentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cached
}

// Reload re-reads the backend and reports whether the authenticated mode or
// presence changed.
func (m *Manager) Reload() (bool, error) {
	creds, err := m.store.Load(m.readEnv)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	changed := m.cached.Mode != creds.Mode || m.cached.Authenticated() != creds.Authenticated()
	m.cached = creds
	m.mu.Unlock()
	return changed, nil
}

// LoginWithAPIKey overwrites any stored tokens with an API key credential.
func (m *Manager) LoginWithAPIKey(key string) error {
	creds := Credentials{Mode: ModeAPIKey, APIKey: key}
	if err := m.store.Save(creds); err != nil {
		return err
	}
	m.mu.Lock()
	m.cached = creds
	m.mu.Unlock()
	return nil
}

// Logout deletes the backend entry and clears the cache.
func (m *Manager) Logout() error {
	if err := m.store.Delete(); err != nil {
		return err
	}
	m.mu.Lock()
	m.cached = Credentials{Mode: ModeNone}
	m.mu.Unlock()
	return nil
}

type refreshRequest struct {
	ClientID     string `json:"client_id"`
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshToken POSTs the current refresh token to the upstream OAuth
// endpoint and, on success, atomically updates the cached and persisted
// credentials. No retry is performed at this layer: a failed refresh
// surfaces directly to the caller.
func (m *Manager) RefreshToken(ctx context.Context) error {
	current := m.Current()
	if current.Mode != ModeChatGPT {
		return &codexerr.AuthError{Message: "refresh_token called without a token-based session"}
	}

	reqBody := refreshRequest{
		ClientID:     clientID,
		GrantType:    "refresh_token",
		RefreshToken: current.RefreshToken,
		Scope:        "openid profile email",
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return &codexerr.AuthError{Message: "encode refresh request", Cause: err}
	}

	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, refreshEndpoint, bytes.NewReader(payload))
	if err != nil {
		return &codexerr.AuthError{Message: "build refresh request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return &codexerr.AuthError{Message: "refresh request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &codexerr.AuthError{Message: fmt.Sprintf("refresh rejected with status %d", resp.StatusCode)}
	}

	var parsed refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return &codexerr.AuthError{Message: "decode refresh response", Cause: err}
	}

	updated := current
	if parsed.AccessToken != "" {
		updated.AccessToken = parsed.AccessToken
	}
	if parsed.RefreshToken != "" {
		updated.RefreshToken = parsed.RefreshToken
	}
	if parsed.IDToken != "" {
		updated.IDToken = parseIDToken(parsed.IDToken)
	}
	updated.LastRefresh = time.Now()

	if err := m.store.Save(updated); err != nil {
		return err
	}

	m.mu.Lock()
	m.cached = updated
	m.mu.Unlock()
	return nil
}

// GetToken returns the bearer token to present on outbound requests. For
// API-key mode it is just the key; for token mode, a stale last_refresh
// triggers an opportunistic refresh first.
func (m *Manager) GetToken(ctx context.Context) (string, error) {
	current := m.Current()
	switch current.Mode {
	case ModeAPIKey:
		return current.APIKey, nil
	case ModeChatGPT:
		if time.Since(current.LastRefresh) > refreshThreshold {
			if err := m.RefreshToken(ctx); err != nil {
				return "", err
			}
			current = m.Current()
		}
		return current.AccessToken, nil
	default:
		return "", &codexerr.AuthError{Message: "not authenticated"}
	}
}

// EnforceLoginRestrictions applies a deployment's forced-login-method and
// forced-workspace checks, logging out and returning a descriptive error on
// violation. An environment-provided API key can never satisfy a
// token-required restriction.
func (m *Manager) EnforceLoginRestrictions(ctx context.Context, cfg RestrictionConfig) error {
	current := m.Current()

	if cfg.ForcedLoginMethod != "" && current.Mode != cfg.ForcedLoginMethod {
		_ = m.Logout()
		return &codexerr.AuthError{Message: fmt.Sprintf("this workspace requires logging in via %s", cfg.ForcedLoginMethod)}
	}

	if cfg.ForcedChatGPTWorkspaceID == "" {
		return nil
	}

	if current.Mode != ModeChatGPT {
		_ = m.Logout()
		return &codexerr.AuthError{Message: fmt.Sprintf("this workspace requires logging in with ChatGPT workspace %s", cfg.ForcedChatGPTWorkspaceID)}
	}

	if current.IDToken == nil || current.IDToken.ChatGPTAccountID != cfg.ForcedChatGPTWorkspaceID {
		_ = m.Logout()
		return &codexerr.AuthError{Message: fmt.Sprintf("logged in to the wrong workspace; this project requires workspace %s", cfg.ForcedChatGPTWorkspaceID)}
	}

	return nil
}
