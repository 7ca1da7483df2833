// Package auth implements the authentication manager: a cached credential
// snapshot backed by a JSON file at <codex_home>/auth.json, with atomic
// refresh against the upstream OAuth endpoint and policy-enforced logout.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codex-core/codex/internal/codexerr"
)

// clientID is the OAuth client id used for the refresh_token grant.
const clientID = "app_EMoamEEZ73f0CkXaXp7hrann"

const refreshEndpoint = "https://auth.openai.com/oauth/token"

// refreshThreshold is how stale last_refresh must be before GetToken
// opportunistically refreshes.
const refreshThreshold = 28 * 24 * time.Hour

// refreshTimeout bounds the OAuth refresh HTTP call.
const refreshTimeout = 60 * time.Second

// Mode discriminates how a session is authenticated.
type Mode string

const (
	ModeAPIKey  Mode = "api_key"
	ModeChatGPT Mode = "chatgpt"
	ModeNone    Mode = "none"
)

// PlanType is the subscription tier parsed out of the ChatGPT id token.
type PlanType string

const (
	PlanFree       PlanType = "free"
	PlanPlus       PlanType = "plus"
	PlanPro        PlanType = "pro"
	PlanTeam       PlanType = "team"
	PlanEnterprise PlanType = "enterprise"
	PlanUnknown    PlanType = "unknown"
)

// IDTokenInfo is the subset of the ChatGPT id token claims this agent cares
// about.
type IDTokenInfo struct {
	Email             string   `json:"email,omitempty"`
	PlanType          PlanType `json:"plan_type,omitempty"`
	ChatGPTAccountID  string   `json:"chatgpt_account_id,omitempty"`
	Raw               string   `json:"-"`
}

// Credentials is a point-in-time snapshot of the authenticated identity.
type Credentials struct {
	Mode         Mode
	APIKey       string
	AccessToken  string
	RefreshToken string
	AccountID    string
	IDToken      *IDTokenInfo
	LastRefresh  time.Time
}

// Authenticated reports whether this snapshot carries usable credentials.
func (c Credentials) Authenticated() bool {
	return c.Mode == ModeAPIKey || c.Mode == ModeChatGPT
}

// fileTokens is the "tokens" object inside auth.json.
type fileTokens struct {
	IDToken      string `json:"id_token,omitempty"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	AccountID    string `json:"account_id,omitempty"`
}

// fileShape is the exact on-disk representation of auth.json.
type fileShape struct {
	OpenAIAPIKey *string     `json:"OPENAI_API_KEY"`
	Tokens       *fileTokens `json:"tokens"`
	LastRefresh  *time.Time  `json:"last_refresh"`
}

// Store is the file-backed credential backend. It is intentionally
// stateless between calls: every Load/Save round-trips through disk. The
// in-memory cache is a separate layer on top, in Manager.
type Store struct {
	path string
}

func NewStore(codexHome string) *Store {
	return &Store{path: filepath.Join(codexHome, "auth.json")}
}

func (s *Store) Path() string {
	return s.path
}

// Load reads auth.json and converts it into Credentials, applying the
// env > stored api_key > stored tokens precedence. readEnv controls whether
// OPENAI_API_KEY/CODEX_API_KEY are consulted at all (some callers disable
// this to test file-only behavior).
func (s *Store) Load(readEnv bool) (Credentials, error) {
	if readEnv {
		if key := readAPIKeyFromEnv("OPENAI_API_KEY"); key != "" {
			return Credentials{Mode: ModeAPIKey, APIKey: key}, nil
		}
		if key := readAPIKeyFromEnv("CODEX_API_KEY"); key != "" {
			return Credentials{Mode: ModeAPIKey, APIKey: key}, nil
		}
	}

	shape, err := s.readFile()
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{Mode: ModeNone}, nil
		}
		return Credentials{}, &codexerr.AuthError{Message: "failed to read auth.json", Cause: err}
	}

	if shape.OpenAIAPIKey != nil && *shape.OpenAIAPIKey != "" {
		return Credentials{Mode: ModeAPIKey, APIKey: *shape.OpenAIAPIKey}, nil
	}

	if shape.Tokens != nil {
		creds := Credentials{
			Mode:         ModeChatGPT,
			AccessToken:  shape.Tokens.AccessToken,
			RefreshToken: shape.Tokens.RefreshToken,
			AccountID:    shape.Tokens.AccountID,
		}
		if shape.Tokens.IDToken != "" {
			creds.IDToken = parseIDToken(shape.Tokens.IDToken)
		}
		if shape.LastRefresh != nil {
			creds.LastRefresh = *shape.LastRefresh
		}
		return creds, nil
	}

	return Credentials{Mode: ModeNone}, nil
}

func (s *Store) readFile() (*fileShape, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var shape fileShape
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil, fmt.Errorf("parse auth.json: %w", err)
	}
	return &shape, nil
}

// Save persists creds to auth.json, overwriting any existing content. Mode
// ModeNone removes the file instead.
func (s *Store) Save(creds Credentials) error {
	if creds.Mode == ModeNone {
		return s.Delete()
	}

	shape := fileShape{}
	if creds.Mode == ModeAPIKey {
		key := creds.APIKey
		shape.OpenAIAPIKey = &key
	} else {
		idToken := ""
		if creds.IDToken != nil {
			idToken = creds.IDToken.Raw
		}
		shape.Tokens = &fileTokens{
			IDToken:      idToken,
			AccessToken:  creds.AccessToken,
			RefreshToken: creds.RefreshToken,
			AccountID:    creds.AccountID,
		}
		if !creds.LastRefresh.IsZero() {
			lr := creds.LastRefresh
			shape.LastRefresh = &lr
		}
	}

	data, err := json.MarshalIndent(shape, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal auth.json: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return &codexerr.IOError{Cause: err}
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return &codexerr.IOError{Cause: err}
	}
	return nil
}

func (s *Store) Delete() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return &codexerr.IOError{Cause: err}
	}
	return nil
}

func readAPIKeyFromEnv(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}

// parseIDToken is a best-effort JWT payload decode; malformed tokens yield a
// zero-value IDTokenInfo rather than an error, matching the "best-effort
// protocol forgiveness" posture used elsewhere for untrusted wire data.
func parseIDToken(raw string) *IDTokenInfo {
	info := &IDTokenInfo{Raw: raw, PlanType: PlanUnknown}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return info
	}
	payload, err := decodeJWTSegment(parts[1])
	if err != nil {
		return info
	}

	var claims struct {
		Email string `json:"email"`
		Auth  struct {
			ChatGPTAccountID string `json:"chatgpt_account_id"`
			ChatGPTPlanType  string `json:"chatgpt_plan_type"`
		} `json:"https://api.openai.com/auth"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return info
	}

	info.Email = claims.Email
	info.ChatGPTAccountID = claims.Auth.ChatGPTAccountID
	switch strings.ToLower(claims.Auth.ChatGPTPlanType) {
	case "free":
		info.PlanType = PlanFree
	case "plus":
		info.PlanType = PlanPlus
	case "pro":
		info.PlanType = PlanPro
	case "team":
		info.PlanType = PlanTeam
	case "enterprise":
		info.PlanType = PlanEnterprise
	}
	return info
}
