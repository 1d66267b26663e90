package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/kandev/orcad/pkg/session"
)

// VectorStore is the cross-session, long-term tier: content-addressed by
// embedding, searched by cosine similarity.
//
// Nothing in the reference stack pulls in a dedicated vector database, so
// this is a brute-force in-process index rather than an adapted
// third-party client — see DESIGN.md for why that's the right call here
// rather than a gap.
type VectorStore struct {
	mu    sync.RWMutex
	items map[string]vectorEntry
}

type vectorEntry struct {
	item      session.MemoryItem
	embedding []float32
}

// NewVectorStore creates an empty vector index.
func NewVectorStore() *VectorStore {
	return &VectorStore{items: make(map[string]vectorEntry)}
}

// Put stores an item alongside its embedding, overwriting any prior entry
// with the same ID.
func (v *VectorStore) Put(_ context.Context, item session.MemoryItem, embedding []float32) error {
	if len(embedding) == 0 {
		return ErrMissingEmbedding
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.items[item.ID] = vectorEntry{item: item, embedding: embedding}
	return nil
}

// Get returns a stored item by ID.
func (v *VectorStore) Get(_ context.Context, id string) (session.MemoryItem, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	entry, ok := v.items[id]
	if !ok {
		return session.MemoryItem{}, ErrNotFound
	}
	return entry.item, nil
}

// vectorHit is a scored vector search result.
type vectorHit struct {
	Item  session.MemoryItem
	Score float64
}

// Search does a brute-force cosine-similarity scan. query is treated as a
// text fallback when no embedding is available at the caller: it's hashed
// into a pseudo-embedding so callers that haven't wired a real embedding
// model yet still get a deterministic, if crude, ranking.
func (v *VectorStore) Search(_ context.Context, query string, k int) ([]vectorHit, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if len(v.items) == 0 {
		return nil, nil
	}

	queryVec := textEmbedding(query, embeddingDimOf(v.items))
	hits := make([]vectorHit, 0, len(v.items))
	for _, entry := range v.items {
		hits = append(hits, vectorHit{Item: entry.item, Score: cosineSimilarity(queryVec, entry.embedding)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// SearchByEmbedding ranks stored items against a caller-supplied query
// embedding, bypassing the text fallback.
func (v *VectorStore) SearchByEmbedding(_ context.Context, queryEmbedding []float32, k int) []vectorHit {
	v.mu.RLock()
	defer v.mu.RUnlock()

	hits := make([]vectorHit, 0, len(v.items))
	for _, entry := range v.items {
		hits = append(hits, vectorHit{Item: entry.item, Score: cosineSimilarity(queryEmbedding, entry.embedding)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func embeddingDimOf(items map[string]vectorEntry) int {
	for _, entry := range items {
		return len(entry.embedding)
	}
	return 0
}

// textEmbedding derives a crude deterministic vector from text so Search
// has something to compare against before a real embedding model is wired
// in. It is not a substitute for one.
func textEmbedding(text string, dim int) []float32 {
	if dim <= 0 {
		dim = 32
	}
	vec := make([]float32, dim)
	for i, r := range strings.ToLower(text) {
		vec[i%dim] += float32(r%97) / 97.0
	}
	return vec
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
