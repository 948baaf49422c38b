package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

type memoryBlobStore struct {
	data map[string][]byte
}

func (m *memoryBlobStore) Load(_ context.Context, provider string) ([]byte, error) {
	if m.data != nil {
		if data, ok := m.data[provider]; ok {
			return data, nil
		}
	}
	return nil, ErrBlobNotFound
}

func (m *memoryBlobStore) Save(_ context.Context, provider string, data []byte) error {
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[provider] = data
	return nil
}

type tokenServer struct {
	*httptest.Server
	logins        atomic.Int32
	refreshs      atomic.Int32
	rejectRefresh bool
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		_ = json.Unmarshal(body, &req)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/users/auth/login":
			ts.logins.Add(1)
			if req["email"] != "user@example.com" || req["password"] != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = io.WriteString(w, `{"accessToken":"login-token","refreshToken":"login-refresh","accessTokenExpiresIn":3600}`)
		case "/users/auth/token":
			ts.refreshs.Add(1)
			if ts.rejectRefresh {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, `{"message":"invalid refresh token"}`)
				return
			}
			_, _ = io.WriteString(w, `{"accessToken":"refreshed-token"}`)
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) declaration(dir string) Declaration {
	return Declaration{
		Provider:  "skyport",
		LoginURL:  ts.URL + "/users/auth/login",
		TokenURL:  ts.URL + "/users/auth/token",
		StatePath: filepath.Join(dir, "state.json"),
	}
}

func TestManagerLogsInWithPassword(t *testing.T) {
	ts := newTokenServer(t)
	dir := t.TempDir()
	blob := &memoryBlobStore{}

	m, err := NewManager(ts.declaration(dir), Options{
		Credentials: Credentials{Email: "user@example.com", Password: "secret"},
		Blob:        blob,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	tok, err := m.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "login-token" || tok.TokenType != "Bearer" {
		t.Fatalf("unexpected token: %+v", tok)
	}
	if ts.logins.Load() != 1 || ts.refreshs.Load() != 0 {
		t.Fatalf("logins=%d refreshs=%d", ts.logins.Load(), ts.refreshs.Load())
	}

	if _, err := m.Token(); err != nil {
		t.Fatalf("cached Token: %v", err)
	}
	if ts.logins.Load() != 1 {
		t.Fatalf("expected cached token, got %d logins", ts.logins.Load())
	}

	state, err := LoadState(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if state.RefreshToken != "login-refresh" {
		t.Fatalf("refresh token not persisted: %+v", state)
	}
	info, err := os.Stat(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("state mode = %v", info.Mode().Perm())
	}
	if !strings.Contains(string(blob.data["skyport"]), "login-refresh") {
		t.Fatalf("blob not mirrored: %s", blob.data["skyport"])
	}
}

func TestManagerRefreshesStoredToken(t *testing.T) {
	ts := newTokenServer(t)
	dir := t.TempDir()
	decl := ts.declaration(dir)
	if err := WriteState(decl.StatePath, State{Email: "user@example.com", RefreshToken: "stored-refresh"}); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	m, err := NewManager(decl, Options{Credentials: Credentials{Email: "user@example.com"}})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	tok, err := m.TokenContext(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "refreshed-token" {
		t.Fatalf("access token = %q", tok.AccessToken)
	}
	if got := m.State().RefreshToken; got != "stored-refresh" {
		t.Fatalf("refresh token changed to %q", got)
	}

	m.Invalidate()
	if _, err := m.Token(); err != nil {
		t.Fatalf("Token after Invalidate: %v", err)
	}
	if ts.refreshs.Load() != 2 {
		t.Fatalf("expected 2 refreshes, got %d", ts.refreshs.Load())
	}
}

func TestManagerFallsBackToLogin(t *testing.T) {
	ts := newTokenServer(t)
	ts.rejectRefresh = true
	dir := t.TempDir()
	decl := ts.declaration(dir)
	if err := WriteState(decl.StatePath, State{Email: "user@example.com", RefreshToken: "stale"}); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	m, err := NewManager(decl, Options{Credentials: Credentials{Email: "user@example.com", Password: "secret"}})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	tok, err := m.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "login-token" {
		t.Fatalf("access token = %q", tok.AccessToken)
	}
	if m.State().RefreshToken != "login-refresh" {
		t.Fatalf("refresh token = %q", m.State().RefreshToken)
	}
}

func TestManagerRestoresFromBlob(t *testing.T) {
	ts := newTokenServer(t)
	dir := t.TempDir()
	blob := &memoryBlobStore{data: map[string][]byte{
		"skyport": []byte(`{"schema_version":1,"email":"user@example.com","refresh_token":"blob-refresh"}`),
	}}

	m, err := NewManager(ts.declaration(dir), Options{
		Credentials: Credentials{Email: "user@example.com"},
		Blob:        blob,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if m.State().RefreshToken != "blob-refresh" {
		t.Fatalf("state = %+v", m.State())
	}
	if _, err := LoadState(filepath.Join(dir, "state.json")); err != nil {
		t.Fatalf("blob state not written locally: %v", err)
	}
}

func TestManagerRequiresCredentials(t *testing.T) {
	ts := newTokenServer(t)
	_, err := NewManager(ts.declaration(t.TempDir()), Options{Credentials: Credentials{Email: "user@example.com"}})
	if !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}

func TestManagerRejectsLooseStateFile(t *testing.T) {
	ts := newTokenServer(t)
	dir := t.TempDir()
	decl := ts.declaration(dir)
	if err := WriteState(decl.StatePath, State{Email: "user@example.com", RefreshToken: "r"}); err != nil {
		t.Fatalf("WriteState: %v", err)
	}
	if err := os.Chmod(decl.StatePath, 0o644); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	if _, err := NewManager(decl, Options{Credentials: Credentials{Email: "user@example.com"}}); err == nil {
		t.Fatalf("expected permission error")
	}
}

func TestRefreshInterval(t *testing.T) {
	if RefreshInterval(0) != DefaultRefreshInterval {
		t.Fatalf("zero should use default")
	}
	if RefreshInterval(-1) != 0 {
		t.Fatalf("negative should disable")
	}
	if RefreshInterval(90).Seconds() != 90 {
		t.Fatalf("explicit interval ignored")
	}
}
