package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/oauth2"
)

const (
	defaultExpiresIn = time.Hour
	expiryMargin     = 30 * time.Second
)

var ErrNoCredentials = errors.New("no refresh token or password available; run gohome login")

// Options configures a Manager.
type Options struct {
	Credentials Credentials
	Blob        BlobStore
	HTTPClient  *http.Client
	Log         logr.Logger
}

// Manager caches a provider access token and keeps it fresh.
// It implements oauth2.TokenSource so it can back an oauth2.Transport.
type Manager struct {
	decl       Declaration
	creds      Credentials
	blob       BlobStore
	httpClient *http.Client
	log        logr.Logger
	now        func() time.Time

	refreshMu sync.Mutex

	mu    sync.Mutex
	state State
}

func NewManager(decl Declaration, opts Options) (*Manager, error) {
	if err := decl.Validate(); err != nil {
		return nil, err
	}
	if opts.Credentials.Email == "" {
		return nil, fmt.Errorf("email is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	log := opts.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	m := &Manager{
		decl:       decl,
		creds:      opts.Credentials,
		blob:       opts.Blob,
		httpClient: httpClient,
		log:        log.WithValues("provider", decl.Provider),
		now:        time.Now,
	}

	state, err := m.loadInitialState(context.Background())
	if err != nil {
		return nil, err
	}
	m.state = state
	return m, nil
}

// Token returns a valid access token, refreshing it when needed.
func (m *Manager) Token() (*oauth2.Token, error) {
	return m.TokenContext(context.Background())
}

func (m *Manager) TokenContext(ctx context.Context) (*oauth2.Token, error) {
	if tok, ok := m.cached(); ok {
		return tok, nil
	}

	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	if tok, ok := m.cached(); ok {
		return tok, nil
	}
	if err := m.refresh(ctx); err != nil {
		tokenValid.WithLabelValues(m.decl.Provider).Set(0)
		return nil, err
	}
	tok, _ := m.cached()
	return tok, nil
}

// Invalidate drops the cached access token so the next call refreshes.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.state.AccessToken = ""
	m.state.Expiry = time.Time{}
	m.mu.Unlock()
	tokenValid.WithLabelValues(m.decl.Provider).Set(0)
}

// State returns a copy of the current token state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start refreshes ahead of expiry until ctx is done. A zero interval disables it.
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	threshold := interval
	if threshold < expiryMargin {
		threshold = expiryMargin
	}
	m.refreshIfNeeded(ctx, threshold)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.refreshIfNeeded(ctx, threshold)
			}
		}
	}()
}

// Login exchanges the account password for a fresh token pair.
func (m *Manager) Login(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	if err := m.login(ctx); err != nil {
		refreshFailure.WithLabelValues(m.decl.Provider).Inc()
		return err
	}
	return nil
}

func (m *Manager) cached() (*oauth2.Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.AccessToken == "" || m.state.Expiry.Sub(m.now()) <= expiryMargin {
		return nil, false
	}
	return &oauth2.Token{
		AccessToken: m.state.AccessToken,
		TokenType:   "Bearer",
		Expiry:      m.state.Expiry,
	}, true
}

func (m *Manager) refreshIfNeeded(ctx context.Context, threshold time.Duration) {
	m.mu.Lock()
	need := m.state.AccessToken == "" || m.state.Expiry.Sub(m.now()) <= threshold
	m.mu.Unlock()
	if !need {
		return
	}
	if !m.refreshMu.TryLock() {
		return
	}
	defer m.refreshMu.Unlock()
	if err := m.refresh(ctx); err != nil {
		m.log.Error(err, "background token refresh failed")
	}
}

// refresh must be called with refreshMu held.
func (m *Manager) refresh(ctx context.Context) error {
	m.mu.Lock()
	refreshToken := m.state.RefreshToken
	m.mu.Unlock()

	if refreshToken != "" {
		resp, err := m.post(ctx, m.decl.TokenURL, map[string]string{
			"email":        m.creds.Email,
			"refreshToken": refreshToken,
		})
		if err == nil {
			return m.apply(ctx, resp)
		}
		refreshFailure.WithLabelValues(m.decl.Provider).Inc()
		if m.creds.Password == "" {
			return err
		}
		m.log.Info("refresh token rejected, logging in with password", "error", err.Error())
	}

	if m.creds.Password == "" {
		return ErrNoCredentials
	}
	if err := m.login(ctx); err != nil {
		refreshFailure.WithLabelValues(m.decl.Provider).Inc()
		return err
	}
	return nil
}

func (m *Manager) login(ctx context.Context) error {
	if m.creds.Password == "" {
		return ErrNoCredentials
	}
	resp, err := m.post(ctx, m.decl.LoginURL, map[string]string{
		"email":    m.creds.Email,
		"password": m.creds.Password,
	})
	if err != nil {
		return err
	}
	if resp.RefreshToken == "" {
		return fmt.Errorf("login response missing refreshToken")
	}
	return m.apply(ctx, resp)
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"accessTokenExpiresIn"`
}

func (m *Manager) post(ctx context.Context, url string, body map[string]string) (tokenResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return tokenResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return tokenResponse{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return tokenResponse{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return tokenResponse{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return tokenResponse{}, fmt.Errorf("token request failed %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out tokenResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return tokenResponse{}, fmt.Errorf("decode token response: %w", err)
	}
	if out.AccessToken == "" {
		return tokenResponse{}, fmt.Errorf("token response missing accessToken")
	}
	return out, nil
}

func (m *Manager) apply(ctx context.Context, resp tokenResponse) error {
	expiresIn := defaultExpiresIn
	if resp.ExpiresIn > 0 {
		expiresIn = time.Duration(resp.ExpiresIn) * time.Second
	}

	m.mu.Lock()
	m.state.SchemaVersion = SchemaVersion
	m.state.Email = m.creds.Email
	m.state.AccessToken = resp.AccessToken
	m.state.Expiry = m.now().Add(expiresIn)
	if resp.RefreshToken != "" {
		m.state.RefreshToken = resp.RefreshToken
	}
	state := m.state
	m.mu.Unlock()

	refreshSuccess.WithLabelValues(m.decl.Provider).Inc()
	tokenValid.WithLabelValues(m.decl.Provider).Set(1)

	result, err := PersistState(ctx, m.decl.Provider, m.decl.StatePath, state, m.blob)
	if err != nil {
		if result.StatePath == "" {
			return fmt.Errorf("persist state: %w", err)
		}
		remotePersistOK.WithLabelValues(m.decl.Provider).Set(0)
		m.log.Error(err, "mirror auth state failed")
		return nil
	}
	if result.BlobSaved {
		remotePersistOK.WithLabelValues(m.decl.Provider).Set(1)
	}
	return nil
}

func (m *Manager) loadInitialState(ctx context.Context) (State, error) {
	local, localErr := LoadState(m.decl.StatePath)
	if localErr == nil {
		if err := checkStateFile(m.decl.StatePath); err != nil {
			return State{}, err
		}
		if local.Email != m.creds.Email {
			return State{}, fmt.Errorf("state file %s belongs to %s", m.decl.StatePath, local.Email)
		}
		return local, nil
	}
	if !errors.Is(localErr, ErrStateNotFound) {
		return State{}, localErr
	}

	if m.blob != nil {
		data, err := m.blob.Load(ctx, m.decl.Provider)
		switch {
		case err == nil:
			state, err := DecodeState(data)
			if err != nil {
				return State{}, fmt.Errorf("blob state: %w", err)
			}
			if err := WriteState(m.decl.StatePath, state); err != nil {
				return State{}, err
			}
			m.log.Info("restored auth state from blob store")
			return state, nil
		case !errors.Is(err, ErrBlobNotFound):
			return State{}, fmt.Errorf("load blob: %w", err)
		}
	}

	if m.creds.Password == "" {
		return State{}, ErrNoCredentials
	}
	return State{SchemaVersion: SchemaVersion, Email: m.creds.Email}, nil
}

func checkStateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm() != 0o600 {
		return fmt.Errorf("state file %s must have 0600 permissions", path)
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if int(stat.Uid) != os.Geteuid() {
			return fmt.Errorf("state file %s must be owned by uid %d", path, os.Geteuid())
		}
	}
	return nil
}
