// README: KV-backed latest, trip-scoped and history location records.
package location

import (
	"context"
	"fmt"
	"strings"

	"ridesync/internal/kv"
	"ridesync/internal/modules/identity"
	"ridesync/internal/types"
)

const HistorySize = 20

func userKey(role identity.Role, userID types.ID) string {
	return fmt.Sprintf("location:%s:%s", role, userID)
}

func tripKey(tripID types.ID, role identity.Role) string {
	return fmt.Sprintf("trip_location:%s:%s", tripID, role)
}

func historyKey(role identity.Role, userID types.ID) string {
	return fmt.Sprintf("location_history:%s:%s", role, userID)
}

type Store struct {
	kv kv.Store
}

func NewStore(store kv.Store) *Store {
	return &Store{kv: store}
}

func (s *Store) SetLatest(ctx context.Context, r Record) error {
	return kv.SetJSON(ctx, s.kv, userKey(r.Role, r.UserID), r)
}

func (s *Store) Latest(ctx context.Context, role identity.Role, userID types.ID) (*Record, error) {
	return s.read(ctx, userKey(role, userID))
}

func (s *Store) SetTrip(ctx context.Context, r Record) error {
	return kv.SetJSON(ctx, s.kv, tripKey(r.TripID, r.Role), r)
}

func (s *Store) Trip(ctx context.Context, tripID types.ID, role identity.Role) (*Record, error) {
	return s.read(ctx, tripKey(tripID, role))
}

// AppendHistory keeps the newest HistorySize records, oldest first.
func (s *Store) AppendHistory(ctx context.Context, r Record) error {
	return kv.UpdateJSON(ctx, s.kv, historyKey(r.Role, r.UserID), func(h *[]Record) error {
		all := append(*h, r)
		if over := len(all) - HistorySize; over > 0 {
			all = all[over:]
		}
		*h = all
		return nil
	})
}

func (s *Store) History(ctx context.Context, role identity.Role, userID types.ID) ([]Record, error) {
	var h []Record
	if _, err := kv.GetJSON(ctx, s.kv, historyKey(role, userID), &h); err != nil {
		return nil, err
	}
	return h, nil
}

// LatestByRole scans every latest-location key for the role.
func (s *Store) LatestByRole(ctx context.Context, role identity.Role) ([]Record, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, err
	}
	prefix := fmt.Sprintf("location:%s:", role)
	var out []Record
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		r, err := s.read(ctx, k)
		if err != nil {
			return nil, err
		}
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *Store) read(ctx context.Context, key string) (*Record, error) {
	var r Record
	ok, err := kv.GetJSON(ctx, s.kv, key, &r)
	if err != nil || !ok {
		return nil, err
	}
	return &r, nil
}
