package memory

import (
	"context"
	"testing"
	"time"

	"github.com/kandev/orcad/pkg/session"
)

// fakeRuntimeStore is an in-process RuntimeStore test double.
type fakeRuntimeStore struct {
	items map[string]session.MemoryItem
}

func newFakeRuntimeStore() *fakeRuntimeStore {
	return &fakeRuntimeStore{items: make(map[string]session.MemoryItem)}
}

func (f *fakeRuntimeStore) Migrate(context.Context) error { return nil }

func (f *fakeRuntimeStore) Put(_ context.Context, item session.MemoryItem) error {
	f.items[item.ID] = item
	return nil
}

func (f *fakeRuntimeStore) Get(_ context.Context, _ string, id string) (session.MemoryItem, error) {
	item, ok := f.items[id]
	if !ok {
		return session.MemoryItem{}, ErrNotFound
	}
	return item, nil
}

func (f *fakeRuntimeStore) Search(_ context.Context, _ string, _ string, k int) ([]session.MemoryItem, error) {
	out := make([]session.MemoryItem, 0, len(f.items))
	for _, item := range f.items {
		out = append(out, item)
	}
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func TestStore_CachePutGetRoundTrip(t *testing.T) {
	cache := NewCache(time.Minute, time.Hour)
	defer cache.Close()
	store := NewStore(cache, newFakeRuntimeStore(), NewVectorStore(), DefaultRankWeights())

	ctx := context.Background()
	item := session.MemoryItem{ID: "a", Content: "hello"}
	if err := store.Put(ctx, ScopeCache, item, nil); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := store.Get(ctx, ScopeCache, "session-1", "a")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Content != "hello" {
		t.Errorf("expected content 'hello', got %q", got.Content)
	}
}

func TestStore_PinnedItemOutranksUnpinnedOfSameAge(t *testing.T) {
	cache := NewCache(time.Hour, time.Hour)
	defer cache.Close()
	store := NewStore(cache, newFakeRuntimeStore(), NewVectorStore(), DefaultRankWeights())

	now := time.Now()
	store.now = func() time.Time { return now }

	ctx := context.Background()
	_ = store.Put(ctx, ScopeCache, session.MemoryItem{ID: "pinned", Pinned: true, CreatedAt: now}, nil)
	_ = store.Put(ctx, ScopeCache, session.MemoryItem{ID: "plain", CreatedAt: now}, nil)

	results, err := store.Search(ctx, ScopeCache, "session-1", "", 2)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Item.ID != "pinned" {
		t.Errorf("expected pinned item ranked first, got %q", results[0].Item.ID)
	}
}

func TestStore_UnknownScopeReturnsError(t *testing.T) {
	cache := NewCache(time.Hour, time.Hour)
	defer cache.Close()
	store := NewStore(cache, newFakeRuntimeStore(), NewVectorStore(), DefaultRankWeights())

	ctx := context.Background()
	if err := store.Put(ctx, Scope("bogus"), session.MemoryItem{ID: "x"}, nil); err != ErrUnknownScope {
		t.Errorf("expected ErrUnknownScope, got %v", err)
	}
}

func TestRecencyScore_DecaysOverHalfLife(t *testing.T) {
	halfLife := time.Hour
	fresh := recencyScore(0, halfLife)
	atHalfLife := recencyScore(halfLife, halfLife)

	if fresh != 1.0 {
		t.Errorf("expected score 1.0 at age 0, got %v", fresh)
	}
	if atHalfLife < 0.49 || atHalfLife > 0.51 {
		t.Errorf("expected score ~0.5 at one half-life, got %v", atHalfLife)
	}
}
