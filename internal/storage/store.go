// Package storage is the durable key-value port shared by the engine's
// components. Every aggregate value goes through Update so writers never
// blind-overwrite each other.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnavailable marks a backend that cannot serve requests at all.
var ErrUnavailable = errors.New("storage: unavailable")

// UpdateFunc receives the current value (ok=false when absent) and returns the
// value to write. Returning a nil slice removes the key.
type UpdateFunc func(current []byte, ok bool) ([]byte, error)

// Store persists small values under typed keys.
type Store interface {
	Get(ctx context.Context, key Key) ([]byte, bool, error)
	Set(ctx context.Context, key Key, value []byte) error
	Remove(ctx context.Context, key Key) error
	// SetIfAbsent writes value only when key is absent and reports whether it did.
	SetIfAbsent(ctx context.Context, key Key, value []byte) (bool, error)
	// Update performs an atomic read-modify-write of key.
	Update(ctx context.Context, key Key, fn UpdateFunc) error
}

// GetJSON decodes the value stored under key into dst.
func GetJSON(ctx context.Context, s Store, key Key, dst interface{}) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("storage: decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key Key, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}

// UpdateJSON is Update for JSON values. A missing key is decoded as the zero
// value of T.
func UpdateJSON[T any](ctx context.Context, s Store, key Key, fn func(v *T) error) error {
	return s.Update(ctx, key, func(current []byte, ok bool) ([]byte, error) {
		var v T
		if ok {
			if err := json.Unmarshal(current, &v); err != nil {
				return nil, fmt.Errorf("storage: decode %s: %w", key, err)
			}
		}
		if err := fn(&v); err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
}
