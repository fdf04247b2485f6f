package reconcile

import (
	"fmt"

	gocache "github.com/patrickmn/go-cache"
)

// ListStore is the keyed UI cache the adapters mutate: each key holds an
// ordered list of entity projections for one (entity, job) scope. The
// cache is owned by the UI layer; adapters are its only writers.
type ListStore interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// MemoryStore is a ListStore over an in-process go-cache instance with no
// expiry — cache lifetime matches process lifetime, durability lives in
// the outbox store, not here.
type MemoryStore struct {
	c *gocache.Cache
}

// NewMemoryStore creates an empty cache store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: gocache.New(gocache.NoExpiration, 0)}
}

// Get implements ListStore.
func (s *MemoryStore) Get(key string) (any, bool) {
	return s.c.Get(key)
}

// Set implements ListStore.
func (s *MemoryStore) Set(key string, value any) {
	s.c.Set(key, value, gocache.NoExpiration)
}

// listKey builds the composite cache key for an entity list scoped to a job.
func listKey(entity string, jobID int64) string {
	return fmt.Sprintf("%s:job:%d", entity, jobID)
}
