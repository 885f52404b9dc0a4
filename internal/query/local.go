package query

import (
	"context"
	"sync"
	"time"
)

// LocalSource serves pages from a whole list fetched in one call, for
// endpoints that do not paginate server-side. The list is cached for ttl
// so paging and searching do not refetch it.
type LocalSource[T any] struct {
	load  func(ctx context.Context) ([]T, error)
	match func(item T, q Query) bool
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	items   []T
	expires time.Time
	cached  bool
	// gen changes on every Invalidate; a load started under an older
	// generation is returned to its caller but not cached.
	gen uint64
}

// NewLocalSource creates a source around load. match decides whether an
// item passes the query's search and filters; nil matches everything.
func NewLocalSource[T any](load func(ctx context.Context) ([]T, error), match func(item T, q Query) bool, ttl time.Duration) *LocalSource[T] {
	return &LocalSource[T]{
		load:  load,
		match: match,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Fetch implements Fetcher.
func (s *LocalSource[T]) Fetch(ctx context.Context, q Query) (Result[T], error) {
	all, err := s.list(ctx)
	if err != nil {
		return Result[T]{}, err
	}

	var matched []T
	for _, it := range all {
		if s.match == nil || s.match(it, q) {
			matched = append(matched, it)
		}
	}

	size := q.PageSize
	if size <= 0 {
		size = len(matched)
	}
	res := Result[T]{Total: len(matched), Pages: PageCount(len(matched), size)}
	page := q.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * size
	if start >= len(matched) {
		res.Items = []T{}
		return res, nil
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	res.Items = matched[start:end]
	return res, nil
}

// Invalidate drops the cached list so the next Fetch reloads it.
func (s *LocalSource[T]) Invalidate() {
	s.mu.Lock()
	s.items = nil
	s.cached = false
	s.gen++
	s.mu.Unlock()
}

func (s *LocalSource[T]) list(ctx context.Context) ([]T, error) {
	if s.ttl <= 0 {
		return s.load(ctx)
	}

	now := s.now()
	s.mu.Lock()
	if s.cached && now.Before(s.expires) {
		items := s.items
		s.mu.Unlock()
		return items, nil
	}
	gen := s.gen
	s.mu.Unlock()

	// Fetch without holding the lock.
	items, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.gen == gen {
		s.items = items
		s.expires = now.Add(s.ttl)
		s.cached = true
	}
	s.mu.Unlock()
	return items, nil
}
