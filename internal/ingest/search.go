package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vinay10110/FinCompilance/internal/crawler"
	"github.com/vinay10110/FinCompilance/internal/identity"
)

const (
	defaultTopK = 5
	maxTopK     = 50
)

// ErrEmptyQuery is returned by Search for blank queries.
var ErrEmptyQuery = errors.New("query is empty")

// Search embeds query and returns the closest chunks of an ingested document.
func (p *Pipeline) Search(ctx context.Context, identifier, query string, topK int) ([]crawler.ChunkMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = defaultTopK
	}
	topK = min(topK, maxTopK)

	key := identity.NamespaceKey(identifier)
	exists, err := p.vectors.NamespaceExists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("check namespace: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("namespace %s: %w", key, crawler.ErrNotFound)
	}
	vectors, err := p.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vectors))
	}
	matches, err := p.vectors.Search(ctx, key, vectors[0], topK)
	if err != nil {
		return nil, fmt.Errorf("search namespace: %w", err)
	}
	return matches, nil
}
