// Package memory implements the three-tier MemoryStore: a short-TTL cache
// tier for recently observed tool output and prompts, a session-scoped
// runtime tier for distilled facts persisted alongside checkpoints, and a
// cross-session vector tier for long-term recall by similarity. A unified
// Store combines the three behind put/get/search and ranks search results
// by recency, pins, and similarity.
package memory

import (
	"context"
	"math"
	"time"

	"github.com/kandev/orcad/pkg/session"
)

// Scope names the tier a memory operation targets.
type Scope string

const (
	ScopeCache   Scope = "cache"
	ScopeRuntime Scope = "runtime"
	ScopeVector  Scope = "vector"
)

// Scored pairs a memory item with its ranking score.
type Scored struct {
	Item  session.MemoryItem
	Score float64
}

// RankWeights configures how recency, pins, and similarity combine into a
// single relevance score. Loaded from the catalog package; the precedence
// between the three signals is deliberately left as configuration rather
// than a hardcoded default.
type RankWeights struct {
	RecencyWeight    float64
	PinBonus         float64
	SimilarityWeight float64
	// RecencyHalfLife controls the exponential decay applied to an item's
	// age before the recency weight is applied.
	RecencyHalfLife time.Duration
}

// DefaultRankWeights is the base that catalog.RankWeights starts from; any
// weight the memory configuration sets to a non-zero value replaces it.
// config.Load's own defaults (0.4/0.3/0.6) are non-zero, so a loaded
// configuration replaces all three weights.
func DefaultRankWeights() RankWeights {
	return RankWeights{
		RecencyWeight:    1.0,
		PinBonus:         2.0,
		SimilarityWeight: 1.0,
		RecencyHalfLife:  30 * time.Minute,
	}
}

func recencyScore(age time.Duration, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return 1.0
	}
	return math.Exp(-math.Ln2 * age.Seconds() / halfLife.Seconds())
}

func rank(items []session.MemoryItem, similarity map[string]float64, now time.Time, w RankWeights) []Scored {
	out := make([]Scored, 0, len(items))
	for _, it := range items {
		score := w.RecencyWeight * recencyScore(now.Sub(it.CreatedAt), w.RecencyHalfLife)
		if it.Pinned {
			score += w.PinBonus
		}
		if sim, ok := similarity[it.ID]; ok {
			score += w.SimilarityWeight * sim
		} else if it.Score != 0 {
			score += w.SimilarityWeight * it.Score
		}
		out = append(out, Scored{Item: it, Score: score})
	}
	return out
}

// Store is the unified put/get/search facade over the three tiers.
type Store struct {
	cache   *Cache
	runtime RuntimeStore
	vector  *VectorStore
	weights RankWeights
	now     func() time.Time
}

// NewStore composes the three tiers into a single ranked facade.
func NewStore(cache *Cache, runtime RuntimeStore, vector *VectorStore, weights RankWeights) *Store {
	return &Store{cache: cache, runtime: runtime, vector: vector, weights: weights, now: time.Now}
}

// Put writes an item into the named tier. The vector tier requires a
// non-nil embedding; the cache and runtime tiers ignore it.
func (s *Store) Put(ctx context.Context, scope Scope, item session.MemoryItem, embedding []float32) error {
	switch scope {
	case ScopeCache:
		s.cache.Put(item.ID, item)
		return nil
	case ScopeRuntime:
		return s.runtime.Put(ctx, item)
	case ScopeVector:
		return s.vector.Put(ctx, item, embedding)
	default:
		return ErrUnknownScope
	}
}

// Get reads a single item by key from the named tier.
func (s *Store) Get(ctx context.Context, scope Scope, sessionID, key string) (session.MemoryItem, error) {
	switch scope {
	case ScopeCache:
		item, ok := s.cache.Get(key)
		if !ok {
			return session.MemoryItem{}, ErrNotFound
		}
		return item, nil
	case ScopeRuntime:
		return s.runtime.Get(ctx, sessionID, key)
	case ScopeVector:
		return s.vector.Get(ctx, key)
	default:
		return session.MemoryItem{}, ErrUnknownScope
	}
}

// Search returns the top-k items in the named tier relevant to query,
// ranked by recency, pins, and (for the vector tier) similarity.
func (s *Store) Search(ctx context.Context, scope Scope, sessionID, query string, k int) ([]Scored, error) {
	switch scope {
	case ScopeCache:
		items := s.cache.Snapshot()
		return topK(rank(items, nil, s.now(), s.weights), k), nil
	case ScopeRuntime:
		items, err := s.runtime.Search(ctx, sessionID, query, k*4+k)
		if err != nil {
			return nil, err
		}
		return topK(rank(items, nil, s.now(), s.weights), k), nil
	case ScopeVector:
		hits, err := s.vector.Search(ctx, query, k*4+k)
		if err != nil {
			return nil, err
		}
		items := make([]session.MemoryItem, 0, len(hits))
		similarity := make(map[string]float64, len(hits))
		for _, h := range hits {
			items = append(items, h.Item)
			similarity[h.Item.ID] = h.Score
		}
		return topK(rank(items, similarity, s.now(), s.weights), k), nil
	default:
		return nil, ErrUnknownScope
	}
}

// SearchAll queries every tier for query and merges the results into a
// single ranked top-k, so a caller that wants relevant memory regardless of
// which tier it lives in doesn't have to fan out itself.
func (s *Store) SearchAll(ctx context.Context, sessionID, query string, k int) ([]Scored, error) {
	var merged []Scored
	for _, scope := range []Scope{ScopeCache, ScopeRuntime, ScopeVector} {
		hits, err := s.Search(ctx, scope, sessionID, query, k)
		if err != nil {
			return nil, err
		}
		merged = append(merged, hits...)
	}
	return topK(merged, k), nil
}

func topK(scored []Scored, k int) []Scored {
	// Selection over a small result set; search already bounds candidate
	// count, so insertion sort is simpler than pulling in a heap for this.
	for i := 1; i < len(scored); i++ {
		for j := i; j > 0 && scored[j].Score > scored[j-1].Score; j-- {
			scored[j], scored[j-1] = scored[j-1], scored[j]
		}
	}
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored
}
