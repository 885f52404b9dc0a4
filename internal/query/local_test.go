package query

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func letters() []string {
	return []string{"alpha.com", "beta.org", "gamma.com", "delta.net", "epsilon.com"}
}

func matchSearch(item string, q Query) bool {
	return q.Search == "" || strings.Contains(item, strings.ToLower(q.Search))
}

func TestLocalSource_Paginates(t *testing.T) {
	src := NewLocalSource(func(ctx context.Context) ([]string, error) { return letters(), nil }, matchSearch, 0)

	res, err := src.Fetch(context.Background(), Query{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("Fetch error = %v", err)
	}
	if res.Total != 5 || res.Pages != 3 {
		t.Errorf("Total/Pages = %d/%d, want 5/3", res.Total, res.Pages)
	}
	if len(res.Items) != 2 || res.Items[0] != "gamma.com" {
		t.Errorf("Items = %v", res.Items)
	}

	res, _ = src.Fetch(context.Background(), Query{Page: 3, PageSize: 2})
	if len(res.Items) != 1 || res.Items[0] != "epsilon.com" {
		t.Errorf("last page Items = %v", res.Items)
	}

	res, _ = src.Fetch(context.Background(), Query{Page: 9, PageSize: 2})
	if res.Items == nil || len(res.Items) != 0 {
		t.Errorf("past-the-end Items = %v, want empty", res.Items)
	}
}

func TestLocalSource_Filters(t *testing.T) {
	src := NewLocalSource(func(ctx context.Context) ([]string, error) { return letters(), nil }, matchSearch, 0)

	res, err := src.Fetch(context.Background(), Query{Page: 1, PageSize: 10, Search: ".COM"})
	if err != nil {
		t.Fatalf("Fetch error = %v", err)
	}
	if res.Total != 3 {
		t.Errorf("Total = %d, want 3", res.Total)
	}
}

func TestLocalSource_CachesForTTL(t *testing.T) {
	var loads int
	src := NewLocalSource(func(ctx context.Context) ([]string, error) {
		loads++
		return letters(), nil
	}, nil, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return now }

	ctx := context.Background()
	src.Fetch(ctx, Query{Page: 1, PageSize: 2})
	src.Fetch(ctx, Query{Page: 2, PageSize: 2})
	if loads != 1 {
		t.Errorf("loads = %d, want 1 within TTL", loads)
	}

	now = now.Add(2 * time.Minute)
	src.Fetch(ctx, Query{Page: 1, PageSize: 2})
	if loads != 2 {
		t.Errorf("loads = %d, want 2 after expiry", loads)
	}

	src.Invalidate()
	src.Fetch(ctx, Query{Page: 1, PageSize: 2})
	if loads != 3 {
		t.Errorf("loads = %d, want 3 after Invalidate", loads)
	}
}

func TestLocalSource_LoadErrorNotCached(t *testing.T) {
	fail := true
	src := NewLocalSource(func(ctx context.Context) ([]string, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return letters(), nil
	}, nil, time.Minute)

	if _, err := src.Fetch(context.Background(), Query{Page: 1, PageSize: 2}); err == nil {
		t.Fatal("expected error")
	}
	fail = false
	res, err := src.Fetch(context.Background(), Query{Page: 1, PageSize: 2})
	if err != nil || res.Total != 5 {
		t.Errorf("Fetch after recovery = %+v, %v", res, err)
	}
}

func TestLocalSource_InvalidateDuringLoad(t *testing.T) {
	var src *LocalSource[string]
	var loads int
	src = NewLocalSource(func(ctx context.Context) ([]string, error) {
		loads++
		if loads == 1 {
			// The list changes owner while the first load is in flight.
			src.Invalidate()
			return []string{"previous-user.com"}, nil
		}
		return letters(), nil
	}, nil, time.Minute)

	ctx := context.Background()
	res, err := src.Fetch(ctx, Query{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 {
		t.Errorf("first Fetch Total = %d, want the in-flight result", res.Total)
	}

	res, _ = src.Fetch(ctx, Query{Page: 1, PageSize: 10})
	if loads != 2 {
		t.Errorf("loads = %d, want a reload after invalidation", loads)
	}
	if res.Total != 5 {
		t.Errorf("second Fetch Total = %d, want 5", res.Total)
	}
}
