package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/vinay10110/FinCompilance/internal/crawler"
)

// VectorStore implements crawler.VectorStore. A namespace becomes visible only once all of
// its chunks have been written under the store lock.
type VectorStore struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]crawler.StoredChunk
	dimensions int
}

// NewVectorStore constructs a store; dimensions > 0 enforces vector length.
func NewVectorStore(dimensions int) *VectorStore {
	return &VectorStore{
		namespaces: make(map[string]map[string]crawler.StoredChunk),
		dimensions: dimensions,
	}
}

// NamespaceExists reports whether namespace has been created.
func (s *VectorStore) NamespaceExists(_ context.Context, namespace string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.namespaces[namespace]
	return ok, nil
}

// UpsertChunks overwrites chunks by ID and creates namespace in one step.
func (s *VectorStore) UpsertChunks(_ context.Context, namespace string, chunks []crawler.StoredChunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("upsert %s: no chunks", namespace)
	}
	staged := make(map[string]crawler.StoredChunk, len(chunks))
	for _, chunk := range chunks {
		if s.dimensions > 0 && len(chunk.Vector) != s.dimensions {
			return fmt.Errorf("upsert %s: chunk %s has %d dimensions, want %d", namespace, chunk.ID, len(chunk.Vector), s.dimensions)
		}
		chunk.Vector = append([]float32(nil), chunk.Vector...)
		staged[chunk.ID] = chunk
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.namespaces[namespace]
	if !ok {
		s.namespaces[namespace] = staged
		return nil
	}
	for id, chunk := range staged {
		existing[id] = chunk
	}
	return nil
}

// Search ranks the namespace's chunks by cosine similarity to vector.
func (s *VectorStore) Search(_ context.Context, namespace string, vector []float32, topK int) ([]crawler.ChunkMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunks, ok := s.namespaces[namespace]
	if !ok {
		return nil, fmt.Errorf("search %s: %w", namespace, crawler.ErrNotFound)
	}
	matches := make([]crawler.ChunkMatch, 0, len(chunks))
	for _, chunk := range chunks {
		matches = append(matches, crawler.ChunkMatch{StoredChunk: chunk, Score: cosine(vector, chunk.Vector)})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Chunks returns a copy of the namespace's chunks keyed by ID.
func (s *VectorStore) Chunks(namespace string) map[string]crawler.StoredChunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]crawler.StoredChunk, len(s.namespaces[namespace]))
	for id, chunk := range s.namespaces[namespace] {
		out[id] = chunk
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
