package crawler

import (
	"context"
	"io"
	"time"
)

// DocumentStore persists discovered documents with insert-if-absent semantics.
type DocumentStore interface {
	ExistingCanonicalLinks(ctx context.Context, class DocumentClass) (KnownLinkSet, error)
	InsertIfAbsent(ctx context.Context, record DocumentRecord) (bool, error)
	GetByIdentifier(ctx context.Context, class DocumentClass, identifier string) (DocumentRecord, error)
}

// VectorStore holds one namespace of embedded chunks per document.
type VectorStore interface {
	NamespaceExists(ctx context.Context, namespace string) (bool, error)
	// UpsertChunks writes every chunk and creates the namespace atomically.
	UpsertChunks(ctx context.Context, namespace string, chunks []StoredChunk) error
	Search(ctx context.Context, namespace string, vector []float32, topK int) ([]ChunkMatch, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notifier announces newly discovered records. Failures never affect the caller's outcome.
type Notifier interface {
	Notify(ctx context.Context, class DocumentClass, records []DocumentRecord) error
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor turns a binary document into text pages and tables.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (Extraction, error)
}

// Embedder maps chunk texts to dense vectors, one per input, in order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Ingester runs the ingestion pipeline for one document.
type Ingester interface {
	Ingest(ctx context.Context, documentLink, identifier string) (string, error)
}

// CycleRunner runs one crawl cycle for a document class.
type CycleRunner interface {
	RunCycle(ctx context.Context, class DocumentClass) (CycleResult, error)
}

// Queue provides enqueue/dequeue semantics for ingestion requests.
type Queue interface {
	Enqueue(ctx context.Context, item IngestRequest) error
	Dequeue(ctx context.Context) (IngestRequest, error)
}

// Limiter throttles outbound requests per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
