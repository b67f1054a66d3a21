// README: Identity store persists the locally authenticated user and token in the KV store.
package identity

import (
	"context"
	"log/slog"
	"sync"

	"ridesync/internal/kv"
	"ridesync/internal/types"
)

const (
	KeyUser      = "user"
	KeyAuthToken = "authToken"
	KeyUserToken = "userToken"
	KeyToken     = "token"
)

// Store owns the device-level login. Hooks registered with OnSessionChange run on every
// login and logout so per-actor state does not leak across sessions.
type Store struct {
	kv  kv.Store
	log *slog.Logger

	mu    sync.Mutex
	hooks []func(types.ID)
}

func NewStore(store kv.Store, log *slog.Logger) *Store {
	return &Store{kv: store, log: log.With("component", "identity")}
}

func (s *Store) OnSessionChange(fn func(types.ID)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// CurrentUser returns the request-scoped user when present, otherwise the stored one.
func (s *Store) CurrentUser(ctx context.Context) (User, error) {
	if u, ok := FromContext(ctx); ok {
		return u, nil
	}
	return s.StoredUser(ctx)
}

// StoredUser ignores any request-scoped user and reads the persisted login.
func (s *Store) StoredUser(ctx context.Context) (User, error) {
	var u User
	ok, err := kv.GetJSON(ctx, s.kv, KeyUser, &u)
	if err != nil {
		return User{}, err
	}
	if !ok || u.ID == "" {
		return User{}, ErrNotAuthenticated
	}
	return u, nil
}

// Login persists u and its token. A different previously stored user has its session
// state reset before u's is.
func (s *Store) Login(ctx context.Context, u User, token string) error {
	if u.ID == "" {
		return ErrNotAuthenticated
	}
	if prev, err := s.StoredUser(ctx); err == nil && prev.ID != u.ID {
		s.fire(prev.ID)
	}
	if err := kv.SetJSON(ctx, s.kv, KeyUser, u); err != nil {
		return err
	}
	if token != "" {
		if err := s.kv.Set(ctx, KeyAuthToken, token); err != nil {
			return err
		}
	}
	s.log.Info("user logged in", "user_id", u.ID, "role", u.Role)
	s.fire(u.ID)
	return nil
}

// Logout resets the caller's session state. Stored credentials are removed only when
// they belong to the caller.
func (s *Store) Logout(ctx context.Context) error {
	prev, prevErr := s.CurrentUser(ctx)
	stored, storedErr := s.StoredUser(ctx)
	if storedErr == nil && (prevErr != nil || stored.ID == prev.ID) {
		if err := s.kv.MultiRemove(ctx, []string{KeyUser, KeyAuthToken, KeyUserToken, KeyToken}); err != nil {
			return err
		}
	}
	if prevErr == nil {
		s.log.Info("user logged out", "user_id", prev.ID)
		s.fire(prev.ID)
	}
	return nil
}

func (s *Store) fire(id types.ID) {
	s.mu.Lock()
	hooks := append([]func(types.ID){}, s.hooks...)
	s.mu.Unlock()
	for _, h := range hooks {
		h(id)
	}
}
