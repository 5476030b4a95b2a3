package storage

import (
	"context"
	"log"
	"sync"
)

type prefixed struct {
	inner  Store
	prefix string
}

// Prefixed namespaces every key of inner, typically per learner.
func Prefixed(inner Store, prefix string) Store {
	return &prefixed{inner: inner, prefix: prefix}
}

func (p *prefixed) key(k Key) Key { return Key(p.prefix) + k }

func (p *prefixed) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	return p.inner.Get(ctx, p.key(key))
}

func (p *prefixed) Set(ctx context.Context, key Key, value []byte) error {
	return p.inner.Set(ctx, p.key(key), value)
}

func (p *prefixed) Remove(ctx context.Context, key Key) error {
	return p.inner.Remove(ctx, p.key(key))
}

func (p *prefixed) SetIfAbsent(ctx context.Context, key Key, value []byte) (bool, error) {
	return p.inner.SetIfAbsent(ctx, p.key(key), value)
}

func (p *prefixed) Update(ctx context.Context, key Key, fn UpdateFunc) error {
	return p.inner.Update(ctx, p.key(key), fn)
}

// FallbackStore serves from a primary backend until it fails once, then
// switches to process memory for the rest of its lifetime. Values written
// before the switch are not carried over.
type FallbackStore struct {
	primary Store
	memory  *MemoryStore

	mu       sync.RWMutex
	degraded bool
}

var _ Store = (*FallbackStore)(nil)

func NewFallbackStore(primary Store) *FallbackStore {
	return &FallbackStore{primary: primary, memory: NewMemoryStore()}
}

// Degraded reports whether the store has switched to memory.
func (f *FallbackStore) Degraded() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.degraded
}

func (f *FallbackStore) active() Store {
	if f.Degraded() {
		return f.memory
	}
	return f.primary
}

func (f *FallbackStore) degrade(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.degraded {
		log.Printf("storage: backend failed, continuing in memory only: %v", err)
		f.degraded = true
	}
}

func (f *FallbackStore) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	s := f.active()
	v, ok, err := s.Get(ctx, key)
	if err != nil && s == f.primary {
		f.degrade(err)
		return f.memory.Get(ctx, key)
	}
	return v, ok, err
}

func (f *FallbackStore) Set(ctx context.Context, key Key, value []byte) error {
	s := f.active()
	err := s.Set(ctx, key, value)
	if err != nil && s == f.primary {
		f.degrade(err)
		return f.memory.Set(ctx, key, value)
	}
	return err
}

func (f *FallbackStore) Remove(ctx context.Context, key Key) error {
	s := f.active()
	err := s.Remove(ctx, key)
	if err != nil && s == f.primary {
		f.degrade(err)
		return f.memory.Remove(ctx, key)
	}
	return err
}

func (f *FallbackStore) SetIfAbsent(ctx context.Context, key Key, value []byte) (bool, error) {
	s := f.active()
	ok, err := s.SetIfAbsent(ctx, key, value)
	if err != nil && s == f.primary {
		f.degrade(err)
		return f.memory.SetIfAbsent(ctx, key, value)
	}
	return ok, err
}

func (f *FallbackStore) Update(ctx context.Context, key Key, fn UpdateFunc) error {
	s := f.active()
	var fnErr error
	err := s.Update(ctx, key, func(cur []byte, ok bool) ([]byte, error) {
		next, err := fn(cur, ok)
		fnErr = err
		return next, err
	})
	if err != nil && fnErr == nil && s == f.primary {
		f.degrade(err)
		return f.memory.Update(ctx, key, fn)
	}
	return err
}

// ForLearner is the key space of one learner. The engine and the retry
// workers must agree on it so result markers are shared.
func ForLearner(inner Store, userID string) Store {
	return Prefixed(inner, "learner:"+userID+":")
}
