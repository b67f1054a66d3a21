// README: Concurrency tests for request acceptance (run with -race).
package registry

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridesync/internal/kv"
	"ridesync/internal/types"
)

func TestConcurrentAcceptSameRequest(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"blob":     func(*testing.T) Store { return NewBlobStore(kv.NewMemoryStore()) },
		"postgres": setupPGStore,
	}
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			env := newTestEnvWithStore(t, mk(t))
			ctx := context.Background()
			r := mustCreate(t, env.svc, "c_multi_accept")

			const attempts = 8
			var wg sync.WaitGroup
			start := make(chan struct{})
			errs := make(chan error, attempts)
			for i := 0; i < attempts; i++ {
				driverID := types.ID(fmt.Sprintf("d%d", i))
				wg.Add(1)
				go func(did types.ID) {
					defer wg.Done()
					<-start
					_, err := env.svc.AcceptRequest(ctx, r.ID, did, "Driver "+string(did))
					errs <- err
				}(driverID)
			}
			close(start)
			wg.Wait()
			close(errs)

			success := 0
			for err := range errs {
				if err == nil {
					success++
					continue
				}
				if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrInvalidState) {
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if success != 1 {
				t.Fatalf("expected exactly 1 success, got %d", success)
			}

			got, err := env.svc.GetRequestByID(ctx, r.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Status != StatusAccepted || !got.Assigned() {
				t.Fatalf("unexpected final request: %+v", got)
			}
			// Only the winner has a live session.
			active := 0
			for i := 0; i < attempts; i++ {
				if s, ok := env.sessions.Lookup(types.ID(fmt.Sprintf("d%d", i))); ok && s.Snapshot().TripData.IsActive {
					active++
					if types.ID(fmt.Sprintf("d%d", i)) != *got.DriverID {
						t.Fatalf("session started for loser d%d", i)
					}
				}
			}
			if active != 1 {
				t.Fatalf("expected 1 active driver session, got %d", active)
			}
		})
	}
}

func TestConcurrentAcceptVsCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := mustCreate(t, env.svc, "c_accept_cancel")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := env.svc.AcceptRequest(ctx, r.ID, "d1", "D1")
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := env.svc.UpdateRequestStatus(ctx, r.ID, StatusCancelled)
		errs <- err
	}()
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrInvalidState) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success < 1 {
		t.Fatalf("expected at least one success, got %d", success)
	}
	got, _ := env.svc.GetRequestByID(ctx, r.ID)
	if success == 2 && got.Status != StatusCancelled {
		t.Fatalf("expected cancelled after accept+cancel, got %s", got.Status)
	}
	if got.Status != StatusAccepted && got.Status != StatusCancelled {
		t.Fatalf("unexpected final status: %s", got.Status)
	}
}

func setupPGStore(t *testing.T) Store {
	t.Helper()

	dsn := os.Getenv("RIDESYNC_TEST_DSN")
	if dsn == "" {
		t.Skip("RIDESYNC_TEST_DSN not set; skipping DB-backed race tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigration(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE trip_requests"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return NewPGStore(db)
}

func applyMigration(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	content, err := os.ReadFile(filepath.Join(root, "migrations", "0001_init.sql"))
	if err != nil {
		return err
	}
	for _, stmt := range splitSQL(stripSQLComments(string(content))) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func stripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func splitSQL(input string) []string {
	parts := strings.Split(input, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if stmt := strings.TrimSpace(p); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
