// Package oauth owns the single owner session: the stored access/refresh
// token pair, its refresh, and the authorization-code exchange that
// creates it.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	appLog "teamcal/internal/log"
	"teamcal/internal/store"
)

const (
	keyAccessToken  = "oauth:access_token"
	keyRefreshToken = "oauth:refresh_token"
	keyExpiresAt    = "oauth:expires_at"
	keyUserInfo     = "oauth:user_info"
	keyStatePrefix  = "oauth:state:"

	// defaultLifetime applies when the provider omits expires_in.
	defaultLifetime = 2 * time.Hour
	stateTTL        = 10 * time.Minute
)

// ErrAuthRequired means there is no usable session; the owner has to
// authorize again.
var ErrAuthRequired = errors.New("authentication required")

// Manager reads and writes the session exclusively through its Store.
// Concurrent refreshes are not serialized; the last writer wins.
type Manager struct {
	store  store.Store
	conf   *oauth2.Config
	client *http.Client
	now    func() time.Time
}

// NewManager builds a Manager. client, if non-nil, is used for token
// endpoint calls.
func NewManager(s store.Store, conf *oauth2.Config, client *http.Client) *Manager {
	return &Manager{store: s, conf: conf, client: client, now: time.Now}
}

func (m *Manager) oauthCtx(ctx context.Context) context.Context {
	if m.client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, m.client)
}

// AccessToken returns the stored access token, refreshing once when it is
// gone. The error wraps ErrAuthRequired when no token can be produced.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	tok, err := m.store.Get(ctx, keyAccessToken)
	if err == nil && tok != "" {
		return tok, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("failed to read access token: %w", err)
	}
	fresh, err := m.Refresh(ctx)
	if err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

// Refresh exchanges the stored refresh token for a new pair. Nothing is
// written unless the token endpoint succeeds. There is no retry.
func (m *Manager) Refresh(ctx context.Context) (*oauth2.Token, error) {
	rt, err := m.store.Get(ctx, keyRefreshToken)
	if errors.Is(err, store.ErrNotFound) || (err == nil && rt == "") {
		return nil, ErrAuthRequired
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh token: %w", err)
	}

	tok, err := m.conf.TokenSource(m.oauthCtx(ctx), &oauth2.Token{RefreshToken: rt}).Token()
	if err != nil {
		appLog.Error("oauth token refresh failed", err)
		return nil, fmt.Errorf("%w: refresh failed: %v", ErrAuthRequired, err)
	}
	if err := m.persist(ctx, tok); err != nil {
		return nil, err
	}
	appLog.Info("oauth token refreshed", "expires_at", tok.Expiry.Format(time.RFC3339))
	return tok, nil
}

// IsAuthenticated reports whether a current access token exists, trying a
// single refresh when it has lapsed.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	tok, err := m.store.Get(ctx, keyAccessToken)
	if err == nil && tok != "" {
		exp, ok := m.expiresAt(ctx)
		if !ok || m.now().Before(exp) {
			return true
		}
	}
	_, err = m.Refresh(ctx)
	return err == nil
}

func (m *Manager) expiresAt(ctx context.Context) (time.Time, bool) {
	raw, err := m.store.Get(ctx, keyExpiresAt)
	if err != nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (m *Manager) persist(ctx context.Context, tok *oauth2.Token) error {
	now := m.now()
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = now.Add(defaultLifetime)
	}
	ttl := expiry.Sub(now)
	if ttl <= 0 {
		ttl = time.Second
	}

	if err := m.store.Put(ctx, keyAccessToken, tok.AccessToken, ttl); err != nil {
		return fmt.Errorf("failed to store access token: %w", err)
	}
	if tok.RefreshToken != "" {
		if err := m.store.Put(ctx, keyRefreshToken, tok.RefreshToken, 0); err != nil {
			return fmt.Errorf("failed to store refresh token: %w", err)
		}
	}
	if err := m.store.Put(ctx, keyExpiresAt, strconv.FormatInt(expiry.UnixMilli(), 10), 0); err != nil {
		return fmt.Errorf("failed to store token expiry: %w", err)
	}
	return nil
}

// AuthCodeURL is where the owner is sent to grant access.
func (m *Manager) AuthCodeURL(state string) string {
	return m.conf.AuthCodeURL(state)
}

// Exchange trades an authorization code for tokens and stores the session.
func (m *Manager) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := m.conf.Exchange(m.oauthCtx(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if err := m.persist(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// SaveUserInfo stores the provider's description of the owner.
func (m *Manager) SaveUserInfo(ctx context.Context, info any) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return m.store.Put(ctx, keyUserInfo, string(data), 0)
}

// UserInfo returns the stored owner description, or nil.
func (m *Manager) UserInfo(ctx context.Context) json.RawMessage {
	raw, err := m.store.Get(ctx, keyUserInfo)
	if err != nil || !json.Valid([]byte(raw)) {
		return nil
	}
	return json.RawMessage(raw)
}

// NewState creates and remembers a one-time CSRF nonce for the login flow.
func (m *Manager) NewState(ctx context.Context) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := hex.EncodeToString(b)
	if err := m.store.Put(ctx, keyStatePrefix+state, "1", stateTTL); err != nil {
		return "", err
	}
	return state, nil
}

// ConsumeState reports whether state was issued by NewState, and forgets it.
func (m *Manager) ConsumeState(ctx context.Context, state string) bool {
	if state == "" {
		return false
	}
	if _, err := m.store.Get(ctx, keyStatePrefix+state); err != nil {
		return false
	}
	_ = m.store.Delete(ctx, keyStatePrefix+state)
	return true
}
