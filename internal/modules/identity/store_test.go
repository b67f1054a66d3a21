package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"ridesync/internal/kv"
	"ridesync/internal/types"
)

func newTestStore() (*Store, *kv.MemoryStore) {
	mem := kv.NewMemoryStore()
	return NewStore(mem, slog.New(slog.NewTextHandler(io.Discard, nil))), mem
}

func TestCurrentUser_NotAuthenticated(t *testing.T) {
	s, _ := newTestStore()
	if _, err := s.CurrentUser(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestLoginLogout_FiresHooks(t *testing.T) {
	s, mem := newTestStore()
	ctx := context.Background()

	var fired []types.ID
	s.OnSessionChange(func(id types.ID) { fired = append(fired, id) })

	if err := s.Login(ctx, User{ID: "c1", Name: "Cust", Role: RoleCustomer}, "tok"); err != nil {
		t.Fatalf("login: %v", err)
	}
	u, err := s.CurrentUser(ctx)
	if err != nil || u.ID != "c1" {
		t.Fatalf("current user: %+v %v", u, err)
	}
	if tok, ok, _ := mem.Get(ctx, KeyAuthToken); !ok || tok != "tok" {
		t.Fatalf("expected stored token, got %q", tok)
	}

	if err := s.Login(ctx, User{ID: "d1", Role: RoleDriver}, ""); err != nil {
		t.Fatalf("second login: %v", err)
	}
	if err := s.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	want := []types.ID{"c1", "c1", "d1", "d1"}
	if len(fired) != len(want) {
		t.Fatalf("hooks fired %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("hooks fired %v, want %v", fired, want)
		}
	}
	if _, ok, _ := mem.Get(ctx, KeyAuthToken); ok {
		t.Fatal("expected token removed on logout")
	}
}

func TestLoginLogout_RequestScoped(t *testing.T) {
	s, mem := newTestStore()
	ctx := context.Background()

	var fired []types.ID
	s.OnSessionChange(func(id types.ID) { fired = append(fired, id) })
	_ = s.Login(ctx, User{ID: "c1"}, "tok-c1")
	fired = nil

	// The caller is already scoped to ctx; the stored user is still the one replaced.
	d1 := User{ID: "d1", Role: RoleDriver}
	if err := s.Login(WithUser(ctx, d1), d1, "tok-d1"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if len(fired) != 2 || fired[0] != "c1" || fired[1] != "d1" {
		t.Fatalf("hooks fired %v, want [c1 d1]", fired)
	}

	fired = nil
	if err := s.Logout(WithUser(ctx, User{ID: "c9"})); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if len(fired) != 1 || fired[0] != "c9" {
		t.Fatalf("hooks fired %v, want [c9]", fired)
	}
	if tok, ok, _ := mem.Get(ctx, KeyAuthToken); !ok || tok != "tok-d1" {
		t.Fatalf("another user's logout must keep the stored login, got %q", tok)
	}

	if err := s.Logout(WithUser(ctx, d1)); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := s.StoredUser(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected stored login removed, got %v", err)
	}
}

func TestCurrentUser_ContextOverride(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	_ = s.Login(ctx, User{ID: "stored"}, "")

	u, err := s.CurrentUser(WithUser(ctx, User{ID: "scoped", Role: RoleDriver}))
	if err != nil || u.ID != "scoped" {
		t.Fatalf("expected scoped user, got %+v %v", u, err)
	}
}

func TestParseRole(t *testing.T) {
	cases := map[string]Role{"driver": RoleDriver, "DRIVER": RoleDriver, " Driver ": RoleDriver, "customer": RoleCustomer, "": RoleCustomer, "Admin": RoleAdmin, "pilot": RoleCustomer}
	for in, want := range cases {
		if got := ParseRole(in); got != want {
			t.Errorf("ParseRole(%q) = %s, want %s", in, got, want)
		}
	}
}
