package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok %v, err %v; want absent", ok, err)
	}

	if err := s.Set(ctx, "a", []byte("1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := s.Get(ctx, "a")
	if err != nil || !ok || string(v) != "1" {
		t.Fatalf("Get(a) = %q, %v, %v; want \"1\"", v, ok, err)
	}

	set, err := s.SetIfAbsent(ctx, "marker", []byte("1"))
	if err != nil || !set {
		t.Fatalf("first SetIfAbsent = %v, %v; want true", set, err)
	}
	set, err = s.SetIfAbsent(ctx, "marker", []byte("2"))
	if err != nil || set {
		t.Fatalf("second SetIfAbsent = %v, %v; want false", set, err)
	}

	type counter struct{ N int }
	for i := 0; i < 3; i++ {
		if err := UpdateJSON(ctx, s, "counter", func(c *counter) error {
			c.N += 2
			return nil
		}); err != nil {
			t.Fatalf("UpdateJSON: %v", err)
		}
	}
	var c counter
	if ok, err := GetJSON(ctx, s, "counter", &c); err != nil || !ok || c.N != 6 {
		t.Fatalf("counter = %+v (ok %v, err %v); want N=6", c, ok, err)
	}

	boom := errors.New("boom")
	if err := s.Update(ctx, "counter", func([]byte, bool) ([]byte, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("Update error = %v; want boom", err)
	}
	if ok, _ := GetJSON(ctx, s, "counter", &c); !ok || c.N != 6 {
		t.Fatalf("failed Update changed value: %+v", c)
	}

	if err := s.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Fatal("key still present after Remove")
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore(:memory:) returned error: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse REDIS_URL: %v", err)
	}
	client := redis.NewClient(opt)
	defer client.Close()

	prefix := "storetest:" + t.Name() + ":"
	exerciseStore(t, Prefixed(NewRedisStore(client, 0), prefix))

	keys, _ := client.Keys(context.Background(), prefix+"*").Result()
	if len(keys) > 0 {
		client.Del(context.Background(), keys...)
	}
}

func TestUpdateIsAtomic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			UpdateJSON(ctx, s, "n", func(n *int) error {
				*n++
				return nil
			})
		}()
	}
	wg.Wait()

	var n int
	GetJSON(ctx, s, "n", &n)
	if n != 50 {
		t.Fatalf("n = %d; want 50", n)
	}
}

func TestPrefixedIsolatesKeys(t *testing.T) {
	base := NewMemoryStore()
	ctx := context.Background()
	alice := Prefixed(base, "user:alice:")
	bob := Prefixed(base, "user:bob:")

	alice.Set(ctx, SessionKey("seq"), []byte("a"))
	if _, ok, _ := bob.Get(ctx, SessionKey("seq")); ok {
		t.Fatal("bob sees alice's session")
	}
	if _, ok, _ := base.Get(ctx, "user:alice:test_session:seq"); !ok {
		t.Fatal("prefixed key not found in base store")
	}
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, Key) ([]byte, bool, error) { return nil, false, ErrUnavailable }
func (brokenStore) Set(context.Context, Key, []byte) error         { return ErrUnavailable }
func (brokenStore) Remove(context.Context, Key) error              { return ErrUnavailable }
func (brokenStore) SetIfAbsent(context.Context, Key, []byte) (bool, error) {
	return false, ErrUnavailable
}
func (brokenStore) Update(context.Context, Key, UpdateFunc) error { return ErrUnavailable }

func TestFallbackStoreDegradesToMemory(t *testing.T) {
	f := NewFallbackStore(brokenStore{})
	if f.Degraded() {
		t.Fatal("degraded before any failure")
	}
	exerciseStore(t, f)
	if !f.Degraded() {
		t.Fatal("expected store to degrade after backend failure")
	}
}

func TestFallbackStoreKeepsCallbackErrors(t *testing.T) {
	f := NewFallbackStore(NewMemoryStore())
	boom := errors.New("boom")
	err := f.Update(context.Background(), "k", func([]byte, bool) ([]byte, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v; want boom", err)
	}
	if f.Degraded() {
		t.Fatal("callback error must not degrade the store")
	}
}
