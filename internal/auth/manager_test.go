package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return NewStore(dir)
}

func TestStoreSaveLoadAPIKey(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(Credentials{Mode: ModeAPIKey, APIKey: "sk-test"}); err != nil {
		t.Fatal(err)
	}

	creds, err := store.Load(false)
	if err != nil {
		t.Fatal(err)
	}
	if creds.Mode != ModeAPIKey || creds.APIKey != "sk-test" {
		t.Fatalf("got %+v", creds)
	}
}

func TestStoreMissingFileIsUnauthenticated(t *testing.T) {
	store := newTestStore(t)
	creds, err := store.Load(false)
	if err != nil {
		t.Fatal(err)
	}
	if creds.Authenticated() {
		t.Fatalf("expected unauthenticated, got %+v", creds)
	}
}

func TestEnvAPIKeyTakesPrecedenceOverFile(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(Credentials{Mode: ModeAPIKey, APIKey: "file-key"}); err != nil {
		t.Fatal(err)
	}

	t.Setenv("OPENAI_API_KEY", "  env-key  ")
	creds, err := store.Load(true)
	if err != nil {
		t.Fatal(err)
	}
	if creds.APIKey != "env-key" {
		t.Fatalf("expected trimmed env key to win, got %+v", creds)
	}
}

func TestEmptyEnvKeyIsTreatedAsAbsent(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(Credentials{Mode: ModeAPIKey, APIKey: "file-key"}); err != nil {
		t.Fatal(err)
	}

	t.Setenv("OPENAI_API_KEY", "   ")
	creds, err := store.Load(true)
	if err != nil {
		t.Fatal(err)
	}
	if creds.APIKey != "file-key" {
		t.Fatalf("expected blank env var to fall through to file, got %+v", creds)
	}
}

func TestManagerLogoutClearsCacheAndFile(t *testing.T) {
	store := newTestStore(t)
	mgr := NewManager(store)
	mgr.readEnv = false

	if err := mgr.LoginWithAPIKey("sk-test"); err != nil {
		t.Fatal(err)
	}
	if !mgr.Current().Authenticated() {
		t.Fatal("expected authenticated after login")
	}

	if err := mgr.Logout(); err != nil {
		t.Fatal(err)
	}
	if mgr.Current().Authenticated() {
		t.Fatal("expected unauthenticated after logout")
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Fatalf("expected auth.json to be removed, stat err = %v", err)
	}
}

func TestEnforceLoginRestrictions_ForcedMethodMismatchLogsOut(t *testing.T) {
	store := newTestStore(t)
	mgr := NewManager(store)
	mgr.readEnv = false
	if err := mgr.LoginWithAPIKey("sk-test"); err != nil {
		t.Fatal(err)
	}

	err := mgr.EnforceLoginRestrictions(context.Background(), RestrictionConfig{ForcedLoginMethod: ModeChatGPT})
	if err == nil {
		t.Fatal("expected error")
	}
	if mgr.Current().Authenticated() {
		t.Fatal("expected logout on restriction violation")
	}
}

func TestEnforceLoginRestrictions_WorkspaceMismatch(t *testing.T) {
	store := newTestStore(t)
	creds := Credentials{
		Mode:         ModeChatGPT,
		AccessToken:  "at",
		RefreshToken: "rt",
		IDToken:      &IDTokenInfo{ChatGPTAccountID: "org_other"},
	}
	if err := store.Save(creds); err != nil {
		t.Fatal(err)
	}

	mgr := NewManager(store)
	mgr.readEnv = false
	if err := mgr.Load(); err != nil {
		t.Fatal(err)
	}

	err := mgr.EnforceLoginRestrictions(context.Background(), RestrictionConfig{ForcedChatGPTWorkspaceID: "org_mine"})
	if err == nil {
		t.Fatal("expected error")
	}
	if mgr.Current().Authenticated() {
		t.Fatal("expected logout on workspace mismatch")
	}
}

func TestEnforceLoginRestrictions_APIKeyCannotSatisfyWorkspaceRestriction(t *testing.T) {
	store := newTestStore(t)
	mgr := NewManager(store)
	mgr.readEnv = false
	if err := mgr.LoginWithAPIKey("sk-test"); err != nil {
		t.Fatal(err)
	}

	err := mgr.EnforceLoginRestrictions(context.Background(), RestrictionConfig{ForcedChatGPTWorkspaceID: "org_mine"})
	if err == nil {
		t.Fatal("expected error: env/api-key auth cannot satisfy a forced ChatGPT workspace restriction")
	}
}

func TestJWTParsing(t *testing.T) {
	// header.payload.signature, payload = {"email":"a@b.com","https://api.openai.com/auth":{"chatgpt_account_id":"org_1","chatgpt_plan_type":"pro"}}
	const token = "eyJhbGciOiJub25lIn0.eyJlbWFpbCI6ImFAYi5jb20iLCJodHRwczovL2FwaS5vcGVuYWkuY29tL2F1dGgiOnsiY2hhdGdwdF9hY2NvdW50X2lkIjoib3JnXzEiLCJjaGF0Z3B0X3BsYW5fdHlwZSI6InBybyJ9fQ.sig"
	info := parseIDToken(token)
	if info.Email != "a@b.com" || info.ChatGPTAccountID != "org_1" || info.PlanType != PlanPro {
		t.Fatalf("got %+v", info)
	}
}

func TestStoreFileMode(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(Credentials{Mode: ModeAPIKey, APIKey: "sk-test"}); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Fatalf("got perm %v, want 0600", fi.Mode().Perm())
	}
}

func TestStorePathUnderCodexHome(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	if store.Path() != filepath.Join(dir, "auth.json") {
		t.Fatalf("got %s", store.Path())
	}
}
