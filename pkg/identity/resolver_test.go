package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nainya/entityversion/internal/metrics"
	"github.com/nainya/entityversion/pkg/query"
	"github.com/nainya/entityversion/pkg/storage"
)

// countingSearcher answers user searches from a fixed username table.
type countingSearcher struct {
	users map[string]string
	calls int
	err   error
}

func (s *countingSearcher) Search(ctx context.Context, definition string, criteria *query.Criteria, wc storage.WriteContext) ([]string, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if definition != "user" || len(criteria.Filters) != 1 || criteria.Filters[0].Field != "user.username" {
		return nil, errors.New("unexpected search")
	}
	if id, ok := s.users[criteria.Filters[0].Value.(string)]; ok {
		return []string{id}, nil
	}
	return nil, nil
}

func newResolver(t *testing.T, s *countingSearcher) *Resolver {
	t.Helper()

	cache, err := NewCache(16)
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	return NewResolver(s, cache)
}

func TestResolveCachesUsername(t *testing.T) {
	s := &countingSearcher{users: map[string]string{"alice": "u1"}}
	r := newResolver(t, s)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := r.Resolve(ctx, &storage.Principal{Username: "alice"})
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if id == nil || *id != "u1" {
			t.Fatalf("Expected u1, got %v", id)
		}
	}
	if s.calls != 1 {
		t.Errorf("Expected 1 search, got %d", s.calls)
	}
}

func TestResolveCachesUnknownUsername(t *testing.T) {
	s := &countingSearcher{users: map[string]string{}}
	r := newResolver(t, s)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		id, err := r.Resolve(ctx, &storage.Principal{Username: "ghost"})
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if id != nil {
			t.Fatalf("Expected nil id, got %q", *id)
		}
	}
	if s.calls != 1 {
		t.Errorf("Expected negative entry to prevent a second search, got %d searches", s.calls)
	}
}

func TestResolveWithoutLookup(t *testing.T) {
	s := &countingSearcher{}
	r := newResolver(t, s)
	ctx := context.Background()

	id, err := r.Resolve(ctx, nil)
	if err != nil || id != nil {
		t.Errorf("Expected nil for anonymous context, got %v, %v", id, err)
	}

	id, err = r.Resolve(ctx, &storage.Principal{UserID: "u9", Username: "bob"})
	if err != nil || id == nil || *id != "u9" {
		t.Errorf("Expected explicit user id u9, got %v, %v", id, err)
	}

	id, err = r.Resolve(ctx, &storage.Principal{})
	if err != nil || id != nil {
		t.Errorf("Expected nil for empty principal, got %v, %v", id, err)
	}

	if s.calls != 0 {
		t.Errorf("Expected no searches, got %d", s.calls)
	}
}

func TestResolveSearchError(t *testing.T) {
	boom := errors.New("boom")
	s := &countingSearcher{err: boom}
	r := newResolver(t, s)

	if _, err := r.Resolve(context.Background(), &storage.Principal{Username: "alice"}); !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}
	if r.cache.Len() != 0 {
		t.Error("Failed lookups must not be cached")
	}
}

func TestCacheIsBounded(t *testing.T) {
	cache, err := NewCache(2)
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	cache.Add("a", "1")
	cache.Add("b", "2")
	cache.Add("c", "")

	if cache.Len() != 2 {
		t.Errorf("Expected 2 entries, got %d", cache.Len())
	}
	if _, _, ok := cache.Get("a"); ok {
		t.Error("Expected oldest entry to be evicted")
	}
	if _, found, ok := cache.Get("c"); !ok || found {
		t.Errorf("Expected negative entry for c, got found=%v ok=%v", found, ok)
	}
}

func TestResolverMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	cache, _ := NewCache(0)
	r := NewResolver(&countingSearcher{users: map[string]string{"alice": "u1"}}, cache, WithMetrics(m))

	for i := 0; i < 2; i++ {
		if _, err := r.Resolve(context.Background(), &storage.Principal{Username: "alice"}); err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
	}
	if got := testutil.ToFloat64(m.UserLookupsTotal.WithLabelValues("search")); got != 1 {
		t.Errorf("Expected 1 search, got %v", got)
	}
	if got := testutil.ToFloat64(m.UserLookupsTotal.WithLabelValues("hit")); got != 1 {
		t.Errorf("Expected 1 hit, got %v", got)
	}
}
