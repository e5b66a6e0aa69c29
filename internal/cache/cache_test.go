package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache[string](3, time.Hour)

	c.Set("key1", "value1")
	c.Set("key2", "value2")
	c.Set("key3", "value3")
	c.Get("key1") // key2 becomes least recently used
	c.Set("key4", "value4")

	if _, found := c.Get("key2"); found {
		t.Error("key2 should have been evicted")
	}
	for _, k := range []string{"key1", "key3", "key4"} {
		if _, found := c.Get(k); !found {
			t.Errorf("%s should still exist", k)
		}
	}
	if c.Size() != 3 {
		t.Errorf("Size() = %d, want 3", c.Size())
	}
}

func TestLRUCacheTTLExpiration(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewLRUCache[string](100, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("key1", "value1")
	c.Set("key2", "value2")
	if _, found := c.Get("key1"); !found {
		t.Fatal("key1 should exist immediately")
	}

	now = now.Add(2 * time.Minute)
	c.Set("key3", "value3")

	if _, found := c.Get("key1"); found {
		t.Error("key1 should have expired")
	}
	if removed := c.CleanExpired(); removed != 1 {
		t.Errorf("CleanExpired() = %d, want 1 (key2)", removed)
	}
	if c.Size() != 1 {
		t.Errorf("Size() = %d, want 1", c.Size())
	}
}

func TestLRUCacheDeletePrefix(t *testing.T) {
	c := NewLRUCache[int](10, time.Hour)
	c.Set("user:1:incomes", 1)
	c.Set("user:1:dashboard:weekly", 2)
	c.Set("user:12:incomes", 3)

	if n := c.DeletePrefix("user:1:"); n != 2 {
		t.Errorf("DeletePrefix() = %d, want 2", n)
	}
	if _, ok := c.Get("user:12:incomes"); !ok {
		t.Error("user 12 must not be affected by user 1 prefix")
	}
}

func TestLRUCacheConcurrentAccess(t *testing.T) {
	c := NewLRUCache[int](1000, time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d-%d", id, j%10)
				c.Set(key, j)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
	if c.Size() != 100 {
		t.Errorf("Size() = %d, want 100", c.Size())
	}
}

func TestStoreInvalidation(t *testing.T) {
	ctx := context.Background()
	s := NewStore(100, time.Hour)
	var loads atomic.Int32
	fetch := func(context.Context) (string, error) {
		loads.Add(1)
		return "v", nil
	}

	queries := []string{"incomes", "expenses", "odometers", "dashboard:summary:weekly", "combined:page", "charging-vendors"}
	for _, q := range queries {
		if _, err := Load(ctx, s, 1, q, fetch); err != nil {
			t.Fatalf("Load(%s) error = %v", q, err)
		}
	}
	Load(ctx, s, 2, "incomes", fetch)

	s.Invalidate(1, Incomes)

	tests := []struct {
		user   int64
		query  string
		cached bool
	}{
		{1, "incomes", false},
		{1, "dashboard:summary:weekly", false},
		{1, "combined:page", false},
		{1, "expenses", true},
		{1, "odometers", true},
		{1, "charging-vendors", true},
		{2, "incomes", true},
	}
	for _, tt := range tests {
		_, ok := s.lru.Get(Key(tt.user, tt.query))
		if ok != tt.cached {
			t.Errorf("user %d %s cached = %v, want %v", tt.user, tt.query, ok, tt.cached)
		}
	}

	s.Invalidate(1, VehicleProfiles)
	for _, q := range []string{"expenses", "odometers"} {
		if _, ok := s.lru.Get(Key(1, q)); ok {
			t.Errorf("%s should depend on vehicle profiles", q)
		}
	}
	if _, ok := s.lru.Get(Key(1, "charging-vendors")); !ok {
		t.Error("charging vendors do not depend on vehicle profiles")
	}
}

func TestStoreLoadCachesAndSharesMisses(t *testing.T) {
	ctx := context.Background()
	s := NewStore(100, time.Hour)
	release := make(chan struct{})
	var loads atomic.Int32
	fetch := func(context.Context) (int, error) {
		loads.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := Load(ctx, s, 1, "incomes", fetch); err != nil || v != 42 {
				t.Errorf("Load() = %d, %v", v, err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := loads.Load(); n < 1 || n > 5 {
		t.Fatalf("unexpected load count %d", n)
	}
	before := loads.Load()
	if v, _ := Load(ctx, s, 1, "incomes", fetch); v != 42 || loads.Load() != before {
		t.Error("second Load should be served from cache")
	}
	if st := s.Stats(); st.Hits < 1 {
		t.Errorf("Stats().Hits = %d", st.Hits)
	}
}

func TestStoreLoadError(t *testing.T) {
	s := NewStore(10, time.Hour)
	boom := errors.New("boom")
	_, err := Load(context.Background(), s, 1, "incomes", func(context.Context) ([]int, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Load() error = %v, want boom", err)
	}
	if s.lru.Size() != 0 {
		t.Error("failed loads must not be cached")
	}
}

func TestStoreDropsStaleFill(t *testing.T) {
	s := NewStore(10, time.Hour)
	_, _ = Load(context.Background(), s, 1, "incomes", func(context.Context) (int, error) {
		s.Invalidate(1, Incomes) // a write lands while the read is in flight
		return 1, nil
	})
	if _, ok := s.lru.Get(Key(1, "incomes")); ok {
		t.Error("value loaded before an invalidation must not be cached")
	}
}

func TestManagerStop(t *testing.T) {
	m := NewManager()
	m.Register(NewLRUCache[int](1, time.Millisecond))
	m.StartCleanup(time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	m.Stop()
	m.Stop()

	NewManager().Stop()
}
