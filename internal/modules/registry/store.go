// README: Store abstraction plus the single-blob KV implementation.
package registry

import (
	"context"

	"ridesync/internal/kv"
	"ridesync/internal/types"
)

// Store persists trip requests. UpdateStatus is a compare-and-swap on (status, version):
// it reports false when another writer got there first.
type Store interface {
	List(ctx context.Context) ([]Request, error)
	Get(ctx context.Context, id types.ID) (*Request, error)
	Insert(ctx context.Context, r *Request) error
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, driver *Party) (bool, error)
	Prune(ctx context.Context, drop func(*Request) bool) (int, error)
	Clear(ctx context.Context) error
}

const RequestsKey = "taxi_requests"

// BlobStore keeps every request in one JSON list under RequestsKey. All writes go through
// kv.Update so concurrent writers cannot lose each other's changes.
type BlobStore struct {
	kv kv.Store
}

func NewBlobStore(store kv.Store) *BlobStore {
	return &BlobStore{kv: store}
}

func (s *BlobStore) List(ctx context.Context) ([]Request, error) {
	var out []Request
	if _, err := kv.GetJSON(ctx, s.kv, RequestsKey, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BlobStore) Get(ctx context.Context, id types.ID) (*Request, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == id {
			r := all[i]
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (s *BlobStore) Insert(ctx context.Context, r *Request) error {
	return kv.UpdateJSON(ctx, s.kv, RequestsKey, func(list *[]Request) error {
		for _, existing := range *list {
			if existing.ID == r.ID {
				return ErrDuplicateID
			}
		}
		*list = append(*list, *r)
		return nil
	})
}

func (s *BlobStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, driver *Party) (bool, error) {
	swapped := false
	err := kv.UpdateJSON(ctx, s.kv, RequestsKey, func(list *[]Request) error {
		swapped = false
		for i := range *list {
			r := &(*list)[i]
			if r.ID != id {
				continue
			}
			if r.Status != from || r.Version != version {
				return kv.ErrSkipWrite
			}
			r.Status = to
			r.Version++
			if driver != nil {
				d := driver.ID
				r.DriverID = &d
				r.DriverName = driver.Name
			}
			swapped = true
			return nil
		}
		return ErrNotFound
	})
	if err != nil {
		return false, err
	}
	return swapped, nil
}

func (s *BlobStore) Prune(ctx context.Context, drop func(*Request) bool) (int, error) {
	removed := 0
	err := kv.UpdateJSON(ctx, s.kv, RequestsKey, func(list *[]Request) error {
		removed = 0
		kept := (*list)[:0]
		for i := range *list {
			if drop(&(*list)[i]) {
				removed++
				continue
			}
			kept = append(kept, (*list)[i])
		}
		if removed == 0 {
			return kv.ErrSkipWrite
		}
		*list = kept
		return nil
	})
	return removed, err
}

func (s *BlobStore) Clear(ctx context.Context) error {
	return s.kv.Remove(ctx, RequestsKey)
}
