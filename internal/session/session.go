// Package session owns login and logout against the remote auth endpoint and
// holds the bearer token proving the current identity.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/bolasblack/coldaw-export/internal/errors"
	"github.com/bolasblack/coldaw-export/internal/logger"
)

const (
	// LoginTimeout bounds the credential exchange.
	LoginTimeout = 10 * time.Second

	loginPath  = "/api/auth/login"
	verifyPath = "/api/auth/verify"
)

// Session is the authenticated identity. The zero value is unauthenticated.
type Session struct {
	Username string
	UserID   string
	Token    string
}

// IsAuthenticated reports token presence.
func (s Session) IsAuthenticated() bool {
	return s.Token != ""
}

// Manager holds the current Session and performs auth requests.
// All access goes through mu so readers never see a partial session.
type Manager struct {
	mu      sync.RWMutex
	current Session

	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewManager creates a Manager talking to the server at baseURL.
// A nil client gets one with LoginTimeout.
func NewManager(baseURL string, client *http.Client, log *slog.Logger) *Manager {
	if client == nil {
		client = &http.Client{Timeout: LoginTimeout}
	}
	return &Manager{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
		logger:     logger.OrDefault(log).With("component", "session"),
		now:        time.Now,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
	Error  string `json:"error"`
}

// Login exchanges credentials for a token. Empty input is rejected without a
// network call. The password is not retained.
func (m *Manager) Login(ctx context.Context, username, password string) (Session, error) {
	if username == "" || password == "" {
		return Session{}, apperrors.New(apperrors.KindInvalidInput, "Username and password required", nil)
	}

	body, err := json.Marshal(loginRequest{Email: username, Password: password})
	if err != nil {
		return Session{}, apperrors.New(apperrors.KindInvalidInput, "failed to encode credentials", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+loginPath, bytes.NewReader(body))
	if err != nil {
		return Session{}, apperrors.New(apperrors.KindConnection, "Could not connect to server", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Warn("login request failed", "error", err)
		return Session{}, apperrors.New(apperrors.KindConnection, "Could not connect to server", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var parsed loginResponse
	decodeErr := json.Unmarshal(raw, &parsed)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if decodeErr != nil || parsed.Token == "" || parsed.UserID == "" {
			if decodeErr == nil && parsed.Error != "" {
				return Session{}, apperrors.WithStatus(apperrors.KindServer, resp.StatusCode, parsed.Error)
			}
			return Session{}, apperrors.WithStatus(apperrors.KindServer, resp.StatusCode, "Invalid response")
		}
	case resp.StatusCode == http.StatusUnauthorized:
		msg := "Invalid email or password"
		if decodeErr == nil && parsed.Error != "" {
			msg = parsed.Error
		}
		return Session{}, apperrors.WithStatus(apperrors.KindUnauthorized, resp.StatusCode, msg)
	default:
		return Session{}, apperrors.WithStatus(apperrors.KindServer, resp.StatusCode,
			fmt.Sprintf("Server error (Status: %d)", resp.StatusCode))
	}

	s := Session{Username: username, UserID: parsed.UserID, Token: parsed.Token}
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	m.logger.Info("logged in", "username", username, "user_id", parsed.UserID)
	return s, nil
}

// Logout clears the session unconditionally.
func (m *Manager) Logout() {
	m.mu.Lock()
	m.current = Session{}
	m.mu.Unlock()
}

// Invalidate clears the session after the server rejected its token.
// A token other than the one rejected is left alone, so a fresh login that
// raced the failing request survives.
func (m *Manager) Invalidate(rejectedToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rejectedToken != "" && m.current.Token != rejectedToken {
		return
	}
	m.current = Session{}
	m.logger.Info("session invalidated by server")
}

// IsAuthenticated reports whether a token is held.
func (m *Manager) IsAuthenticated() bool {
	return m.Current().IsAuthenticated()
}

// Current returns a copy of the session.
func (m *Manager) Current() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Restore adopts a previously persisted session. Sessions without a token, or
// whose token is a JWT that has already expired, are dropped.
func (m *Manager) Restore(s Session) bool {
	if s.Token == "" {
		return false
	}
	if exp, ok := TokenExpiry(s.Token); ok && !exp.After(m.now()) {
		m.logger.Info("restored token expired, login required", "expired_at", exp)
		return false
	}
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	return true
}

// TokenExpiry returns the exp claim of a JWT without verifying its signature.
// Opaque tokens report ok=false.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

type verifyResponse struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Error  string `json:"error"`
}

// Verify asks the server whether the current token is still valid. A 401
// invalidates the session.
func (m *Manager) Verify(ctx context.Context) error {
	s := m.Current()
	if !s.IsAuthenticated() {
		return apperrors.New(apperrors.KindUnauthorized, "Not logged in", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+verifyPath, nil)
	if err != nil {
		return apperrors.New(apperrors.KindConnection, "Could not connect to server", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.Token)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return apperrors.New(apperrors.KindConnection, "Could not connect to server", err)
	}
	defer resp.Body.Close()

	var parsed verifyResponse
	_ = json.NewDecoder(resp.Body).Decode(&parsed)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		m.Invalidate(s.Token)
		msg := "Session expired"
		if parsed.Error != "" {
			msg = parsed.Error
		}
		return apperrors.WithStatus(apperrors.KindUnauthorized, resp.StatusCode, msg)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return apperrors.WithStatus(apperrors.KindServer, resp.StatusCode,
			fmt.Sprintf("Server error (Status: %d)", resp.StatusCode))
	}

	if parsed.UserID != "" {
		m.mu.Lock()
		if m.current.Token == s.Token {
			m.current.UserID = parsed.UserID
		}
		m.mu.Unlock()
	}
	return nil
}
