// README: Key-value substrate shared by the registry, broadcast log and location service.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrConflict is returned by Update when the key kept changing underneath the caller.
	ErrConflict = errors.New("kv: concurrent update conflict")
	// ErrSkipWrite may be returned by an Update callback to leave the value untouched.
	ErrSkipWrite = errors.New("kv: skip write")
)

// UpdateFunc receives the current value (ok=false when the key is absent) and returns
// the value to store.
type UpdateFunc func(current string, ok bool) (string, error)

// Store is an asynchronous string key to string value store. Values are JSON documents
// encoded by the callers; the store itself has no schema.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	MultiRemove(ctx context.Context, keys []string) error
	Keys(ctx context.Context) ([]string, error)
	// Update performs an atomic read-modify-write of a single key.
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

// GetJSON decodes the value stored at key into v. It reports false when the key is absent.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it at key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, string(b))
}

// UpdateJSON is Update for JSON documents. The callback mutates a freshly decoded value;
// an absent key decodes as the zero value of T.
func UpdateJSON[T any](ctx context.Context, s Store, key string, fn func(v *T) error) error {
	return s.Update(ctx, key, func(current string, ok bool) (string, error) {
		var v T
		if ok && current != "" {
			if err := json.Unmarshal([]byte(current), &v); err != nil {
				return "", fmt.Errorf("decode %s: %w", key, err)
			}
		}
		if err := fn(&v); err != nil {
			return "", err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode %s: %w", key, err)
		}
		return string(b), nil
	})
}
