package mediaindex

import (
	"context"
	"sync"

	"github.com/rendis/mediamcp/pkg/schema"
)

// Page size defaults.
const (
	DefaultPageSize = 300
	DefaultMaxPage  = 1000
)

type entry struct {
	items []schema.MediaItem
	ready chan struct{}
}

// Store holds one media index per session id. Indexes are replaced
// wholesale and never mutated after Put.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	pageSize int
	maxPage  int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPageSizes overrides the default and maximum page sizes.
func WithPageSizes(def, maxSize int) StoreOption {
	return func(s *Store) {
		if def > 0 {
			s.pageSize = def
		}
		if maxSize > 0 {
			s.maxPage = maxSize
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		entries:  make(map[string]*entry),
		pageSize: DefaultPageSize,
		maxPage:  DefaultMaxPage,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pageSize > s.maxPage {
		s.pageSize = s.maxPage
	}
	return s
}

// Reserve creates an empty, not-yet-ready entry for id. Reserving an
// existing id is a no-op.
func (s *Store) Reserve(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; ok {
		return
	}
	s.entries[id] = &entry{ready: make(chan struct{})}
}

// Put replaces the index of id and marks it ready. It returns false without
// storing anything when id has no entry, e.g. after eviction.
func (s *Store) Put(id string, items []schema.MediaItem) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.items = items
	e.markReady()
	return true
}

func (e *entry) markReady() {
	select {
	case <-e.ready:
	default:
		close(e.ready)
	}
}

// Evict drops the entry of id and reports whether it existed. Waiters on
// the evicted entry are released and see NOT_FOUND.
func (s *Store) Evict(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	delete(s.entries, id)
	e.markReady()
	return true
}

func (s *Store) get(id string) (*entry, []schema.MediaItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, nil, schema.NotFound("session index", id)
	}
	return e, e.items, nil
}

// Page returns items[offset:offset+limit]. A non-positive limit uses the
// default page size, limits above the maximum are capped, a negative offset
// is treated as zero and an offset past the end yields an empty slice.
func (s *Store) Page(id string, offset, limit int) ([]schema.MediaItem, error) {
	_, items, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.pageSize
	}
	if limit > s.maxPage {
		limit = s.maxPage
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []schema.MediaItem{}, nil
	}
	end := min(offset+limit, len(items))
	out := make([]schema.MediaItem, end-offset)
	copy(out, items[offset:end])
	return out, nil
}

// All returns a copy of the full index of id.
func (s *Store) All(id string) ([]schema.MediaItem, error) {
	_, items, err := s.get(id)
	if err != nil {
		return nil, err
	}
	out := make([]schema.MediaItem, len(items))
	copy(out, items)
	return out, nil
}

// FindByKey returns every item whose key equals key, across containers.
func (s *Store) FindByKey(id, key string) ([]schema.MediaItem, error) {
	_, items, err := s.get(id)
	if err != nil {
		return nil, err
	}
	var out []schema.MediaItem
	for _, it := range items {
		if it.Key == key {
			out = append(out, it)
		}
	}
	return out, nil
}

// Count returns the number of indexed items for id.
func (s *Store) Count(id string) (int, error) {
	_, items, err := s.get(id)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Ready reports whether the index of id has been stored at least once.
func (s *Store) Ready(id string) (bool, error) {
	e, _, err := s.get(id)
	if err != nil {
		return false, err
	}
	select {
	case <-e.ready:
		return true, nil
	default:
		return false, nil
	}
}

// Wait blocks until the index of id is ready or ctx ends. It returns
// NOT_FOUND when the entry is evicted while waiting.
func (s *Store) Wait(ctx context.Context, id string) error {
	e, _, err := s.get(id)
	if err != nil {
		return err
	}
	select {
	case <-e.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.entries[id] != e {
		return schema.NotFound("session index", id)
	}
	return nil
}

// Sessions returns the number of entries held.
func (s *Store) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
