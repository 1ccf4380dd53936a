// Package registry issues opaque calendar tokens and resolves them back to
// the team and filter they stand for.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"teamcal/internal/model"
	"teamcal/internal/store"
)

// MappingTTL is how long an issued mapping survives without being re-issued.
const MappingTTL = 365 * 24 * time.Hour

// ErrInvalidToken covers unknown, expired, malformed and corrupt tokens alike.
var ErrInvalidToken = errors.New("invalid calendar token")

var tokenPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// Registry maps tokens to TokenMappings through a Store.
type Registry struct {
	store  store.Store
	secret string
}

func New(s store.Store, secret string) *Registry {
	return &Registry{store: s, secret: secret}
}

// Token computes the deterministic token for a team name and filter. It is
// a pure function; Issue additionally persists the reverse mapping.
func (r *Registry) Token(teamName string, filter model.FilterType) string {
	sum := sha256.Sum256([]byte(teamName + "-" + string(filter) + "-" + r.secret))
	return hex.EncodeToString(sum[:])[:32]
}

// Issue returns the token for (teamName, filter) and (re)writes its mapping.
func (r *Registry) Issue(ctx context.Context, teamID string, filter model.FilterType, teamName string) (string, error) {
	if !filter.Valid() {
		return "", fmt.Errorf("unknown filter type %q", filter)
	}
	token := r.Token(teamName, filter)
	data, err := json.Marshal(model.TokenMapping{TeamID: teamID, FilterType: filter})
	if err != nil {
		return "", err
	}
	if err := r.store.Put(ctx, key(token), string(data), MappingTTL); err != nil {
		return "", fmt.Errorf("failed to persist token mapping: %w", err)
	}
	return token, nil
}

// Resolve looks up a token. Store failures other than absence are returned
// as-is so callers can tell an outage from a bad URL.
func (r *Registry) Resolve(ctx context.Context, token string) (model.TokenMapping, error) {
	if !ValidFormat(token) {
		return model.TokenMapping{}, ErrInvalidToken
	}
	raw, err := r.store.Get(ctx, key(token))
	if errors.Is(err, store.ErrNotFound) {
		return model.TokenMapping{}, ErrInvalidToken
	}
	if err != nil {
		return model.TokenMapping{}, err
	}
	var m model.TokenMapping
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m.TeamID == "" || !m.FilterType.Valid() {
		return model.TokenMapping{}, ErrInvalidToken
	}
	return m, nil
}

// ValidFormat reports whether s looks like a token (32 lowercase hex).
func ValidFormat(s string) bool {
	return tokenPattern.MatchString(s)
}

func key(token string) string {
	return "token:" + token
}
