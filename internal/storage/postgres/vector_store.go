package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/vinay10110/FinCompilance/internal/crawler"
)

// VectorStore implements crawler.VectorStore on the chunks and chunk_namespaces tables.
// The namespace row is written in the same transaction as its chunks.
type VectorStore struct {
	db DB
}

// NewVectorStore wraps an open pool.
func NewVectorStore(db DB) (*VectorStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &VectorStore{db: db}, nil
}

// NamespaceExists reports whether a completed ingestion wrote namespace.
func (s *VectorStore) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chunk_namespaces WHERE namespace = $1)`, namespace,
	).Scan(&exists)
	if err != nil {
		return false, &crawler.PersistenceError{Op: "check namespace", Err: err}
	}
	return exists, nil
}

// UpsertChunks overwrites chunks by id and records the namespace, all or nothing.
func (s *VectorStore) UpsertChunks(ctx context.Context, namespace string, chunks []crawler.StoredChunk) (err error) {
	if len(chunks) == 0 {
		return fmt.Errorf("upsert %s: no chunks", namespace)
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return &crawler.PersistenceError{Op: "begin upsert", Err: err}
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, rbErr)
			}
		}
	}()

	const chunkQuery = `
INSERT INTO chunks (id, namespace, identifier, content, embedding)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET
	namespace = EXCLUDED.namespace,
	identifier = EXCLUDED.identifier,
	content = EXCLUDED.content,
	embedding = EXCLUDED.embedding`
	for _, chunk := range chunks {
		if _, err = tx.Exec(ctx, chunkQuery,
			chunk.ID,
			namespace,
			chunk.Identifier,
			chunk.Text,
			pgvector.NewVector(chunk.Vector),
		); err != nil {
			return &crawler.PersistenceError{Op: "upsert chunk " + chunk.ID, Err: err}
		}
	}

	const namespaceQuery = `
INSERT INTO chunk_namespaces (namespace, identifier, chunk_count)
VALUES ($1,$2,$3)
ON CONFLICT (namespace) DO UPDATE SET chunk_count = EXCLUDED.chunk_count`
	if _, err = tx.Exec(ctx, namespaceQuery, namespace, chunks[0].Identifier, len(chunks)); err != nil {
		return &crawler.PersistenceError{Op: "record namespace", Err: err}
	}
	if err = tx.Commit(ctx); err != nil {
		return &crawler.PersistenceError{Op: "commit upsert", Err: err}
	}
	return nil
}

// Search returns the topK chunks of namespace nearest to vector by cosine distance.
func (s *VectorStore) Search(ctx context.Context, namespace string, vector []float32, topK int) ([]crawler.ChunkMatch, error) {
	const query = `
SELECT id, identifier, content, 1 - (embedding <=> $2) AS score
FROM chunks
WHERE namespace = $1
ORDER BY embedding <=> $2
LIMIT $3`

	rows, err := s.db.Query(ctx, query, namespace, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, &crawler.PersistenceError{Op: "search chunks", Err: err}
	}
	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (crawler.ChunkMatch, error) {
		var m crawler.ChunkMatch
		err := row.Scan(&m.ID, &m.Identifier, &m.Text, &m.Score)
		return m, err
	})
	if err != nil {
		return nil, &crawler.PersistenceError{Op: "scan chunks", Err: err}
	}
	return matches, nil
}
