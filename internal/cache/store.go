package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entity names a mutable resource. Query names are the cached views
// derived from entities.
type Entity string

const (
	Incomes         Entity = "incomes"
	Expenses        Entity = "expenses"
	Odometers       Entity = "odometers"
	VehicleProfiles Entity = "vehicle-profiles"
	ChargingVendors Entity = "charging-vendors"
)

const (
	QueryDashboard = "dashboard"
	QueryCombined  = "combined"
)

// Dependents lists, per entity, the queries that must be dropped when the
// entity changes. Vehicle profiles fan out to expenses and odometers since
// both reference them, and so to every view built from those.
var Dependents = map[Entity][]string{
	Incomes:         {string(Incomes), QueryDashboard, QueryCombined},
	Expenses:        {string(Expenses), QueryDashboard, QueryCombined},
	Odometers:       {string(Odometers), QueryDashboard},
	VehicleProfiles: {string(VehicleProfiles), string(Expenses), string(Odometers), QueryDashboard, QueryCombined},
	ChargingVendors: {string(ChargingVendors)},
}

// Stats is a point-in-time view of store activity.
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Invalidations int64 `json:"invalidations"`
	Size          int   `json:"size"`
}

// Store caches query results per user. Concurrent misses for the same key
// share a single load, and results of loads that raced with an
// invalidation are not stored.
type Store struct {
	lru   *LRUCache[any]
	group singleflight.Group

	mu          sync.Mutex
	generations map[int64]uint64

	hits, misses, invalidations atomic.Int64
}

func NewStore(size int, ttl time.Duration) *Store {
	return &Store{
		lru:         NewLRUCache[any](size, ttl),
		generations: make(map[int64]uint64),
	}
}

// Key builds the cache key of a user's query, e.g. "user:7:dashboard:weekly".
func Key(userID int64, query string) string {
	return fmt.Sprintf("user:%d:%s", userID, query)
}

// Cleaner exposes the backing cache to a Manager.
func (s *Store) Cleaner() Cleaner {
	return s.lru
}

// Load returns the cached value for query or calls fetch to produce it.
// Query names are either a bare name from Dependents or that name followed
// by ":" and parameters.
func Load[T any](ctx context.Context, s *Store, userID int64, query string, fetch func(context.Context) (T, error)) (T, error) {
	key := Key(userID, query)
	if v, ok := s.lru.Get(key); ok {
		if typed, ok := v.(T); ok {
			s.hits.Add(1)
			return typed, nil
		}
	}
	s.misses.Add(1)

	gen := s.generation(userID)
	v, err, _ := s.group.Do(fmt.Sprintf("%s#%d", key, gen), func() (any, error) {
		val, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if s.generation(userID) == gen {
			s.lru.Set(key, val)
		}
		return val, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Invalidate drops every query of userID that depends on entity. Other
// users' entries are untouched.
func (s *Store) Invalidate(userID int64, entity Entity) {
	s.mu.Lock()
	s.generations[userID]++
	s.mu.Unlock()

	for _, q := range Dependents[entity] {
		key := Key(userID, q)
		s.lru.Delete(key)
		s.lru.DeletePrefix(key + ":")
	}
	s.invalidations.Add(1)
}

func (s *Store) Stats() Stats {
	return Stats{
		Hits:          s.hits.Load(),
		Misses:        s.misses.Load(),
		Invalidations: s.invalidations.Load(),
		Size:          s.lru.Size(),
	}
}

func (s *Store) generation(userID int64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[userID]
}
