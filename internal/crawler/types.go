// Package crawler defines core types shared across subsystems.
package crawler

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DocumentClass separates the two listings published by the regulator.
type DocumentClass string

// Document classes tracked by the crawl cycle.
const (
	ClassPressRelease DocumentClass = "press_release"
	ClassCircular     DocumentClass = "circular"
)

// Classes returns every supported document class in crawl order.
func Classes() []DocumentClass {
	return []DocumentClass{ClassCircular, ClassPressRelease}
}

// ParseDocumentClass accepts the canonical names plus a few operator-friendly aliases.
func ParseDocumentClass(raw string) (DocumentClass, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "press_release", "press-release", "press", "press_releases":
		return ClassPressRelease, nil
	case "circular", "circulars", "master_circular":
		return ClassCircular, nil
	default:
		return "", fmt.Errorf("unknown document class %q", raw)
	}
}

// DocumentRecord is one discovered regulatory document.
type DocumentRecord struct {
	Class         DocumentClass `json:"class"`
	Identifier    string        `json:"identifier"`
	CanonicalLink string        `json:"canonical_link"`
	Category      string        `json:"category,omitempty"`
	Title         string        `json:"title"`
	DocumentLink  string        `json:"document_link,omitempty"`
	DatePublished time.Time     `json:"date_published"`
	DateScraped   time.Time     `json:"date_scraped"`
}

// RawEntry is a listing row before normalization and dedup.
type RawEntry struct {
	Title      string
	DetailHref string
	DocHref    string
	Category   string
	DateText   string
}

// CategoryLink is a sidebar navigation entry on the circular listing.
type CategoryLink struct {
	Name string
	URL  string
}

// KnownLinkSet is the cycle-scoped snapshot of canonical links already persisted.
type KnownLinkSet map[string]struct{}

// NewKnownLinkSet builds a set from the provided canonical links.
func NewKnownLinkSet(links ...string) KnownLinkSet {
	set := make(KnownLinkSet, len(links))
	for _, link := range links {
		set.Add(link)
	}
	return set
}

// Contains reports whether the canonical link is already known.
func (s KnownLinkSet) Contains(link string) bool {
	_, ok := s[link]
	return ok
}

// Add records a canonical link; empty links are ignored.
func (s KnownLinkSet) Add(link string) {
	if link == "" {
		return
	}
	s[link] = struct{}{}
}

// FetchKind selects listing (HTML) or binary (PDF) handling in the fetcher.
type FetchKind int

// Fetch kinds.
const (
	FetchListing FetchKind = iota
	FetchBinary
)

func (k FetchKind) String() string {
	if k == FetchBinary {
		return "binary"
	}
	return "listing"
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Kind    FetchKind
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Attempts   int
}

// Table is a row/column grid extracted from a document.
type Table [][]string

// Extraction is the plain text and tabular content of one binary document.
type Extraction struct {
	Pages  []string
	Tables []Table
}

// StoredChunk is one embedded chunk as written to the vector store.
type StoredChunk struct {
	ID         string    `json:"id"`
	Vector     []float32 `json:"-"`
	Text       string    `json:"text"`
	Identifier string    `json:"identifier"`
}

// ChunkMatch is a similarity search hit.
type ChunkMatch struct {
	StoredChunk
	Score float64 `json:"score"`
}

// IngestRequest asks the worker pool to ingest one document.
type IngestRequest struct {
	Class        DocumentClass `json:"class,omitempty"`
	Identifier   string        `json:"identifier"`
	DocumentLink string        `json:"document_link"`
	Submitted    time.Time     `json:"submitted_at"`
}

// CycleResult is what one crawl cycle produced.
type CycleResult struct {
	RunID      string           `json:"run_id"`
	Class      DocumentClass    `json:"class"`
	Records    []DocumentRecord `json:"records"`
	Skips      SkipCounts       `json:"skips"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}
