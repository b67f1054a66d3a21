// README: Auth token resolution and driver identity from token claims.
package taxi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"ridesync/internal/kv"
	"ridesync/internal/types"
)

var ErrNoToken = errors.New("no auth token")

// TokenKeys are the storage keys searched for a token, in order.
var TokenKeys = []string{"authToken", "userToken", "token"}

type tokenKey struct{}

// WithToken scopes a bearer token to ctx. It wins over the cache and storage.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the token set by WithToken.
func TokenFromContext(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(tokenKey{}).(string)
	return tok, ok && tok != ""
}

// TokenSource resolves the token for outgoing calls: request context, then the
// in-memory cache, then storage.
type TokenSource struct {
	kv     kv.Store
	mu     sync.Mutex
	cached string
}

func NewTokenSource(store kv.Store) *TokenSource {
	return &TokenSource{kv: store}
}

func (t *TokenSource) Token(ctx context.Context) (string, error) {
	if tok, ok := TokenFromContext(ctx); ok {
		return tok, nil
	}
	t.mu.Lock()
	cached := t.cached
	t.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	if t.kv == nil {
		return "", ErrNoToken
	}
	for _, key := range TokenKeys {
		v, ok, err := t.kv.Get(ctx, key)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", key, err)
		}
		if v = strings.TrimSpace(v); ok && v != "" {
			t.SetToken(v)
			return v, nil
		}
	}
	return "", ErrNoToken
}

func (t *TokenSource) SetToken(tok string) {
	t.mu.Lock()
	t.cached = tok
	t.mu.Unlock()
}

// Forget drops the cached token, e.g. after logout or a user switch.
func (t *TokenSource) Forget() {
	t.SetToken("")
}

// UserIDFromToken reads the subject of a JWT without verifying it. The server verifies
// tokens; this is only used to fill in the caller's own id.
func UserIDFromToken(tok string) (types.ID, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	for _, k := range []string{"sub", "user_id", "id"} {
		switch v := claims[k].(type) {
		case string:
			if v != "" {
				return types.ID(v), nil
			}
		case float64:
			return types.ID(fmt.Sprintf("%.0f", v)), nil
		}
	}
	return "", errors.New("token has no user id claim")
}
