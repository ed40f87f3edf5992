package crawler

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the pipeline.
var (
	ErrUnexpectedContentType = errors.New("unexpected content type")
	ErrCycleAborted          = errors.New("crawl cycle aborted")
	ErrNotFound              = errors.New("not found")
	ErrNoContent             = errors.New("no extractable content")
	ErrQueueClosed           = errors.New("queue closed")
	ErrMissingIdentifier     = errors.New("document identifier is required")
	ErrBodyTooLarge          = errors.New("response body exceeds size limit")
)

// FetchErrorKind classifies fetch failures for the retry loop.
type FetchErrorKind string

// Fetch error kinds.
const (
	FetchTransient FetchErrorKind = "transient"
	FetchPermanent FetchErrorKind = "permanent"
)

// FetchError is returned by fetchers for every failed request.
type FetchError struct {
	URL        string
	Kind       FetchErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s (%s, status %d): %v", e.URL, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsTransientFetch reports whether err is a fetch failure worth retrying.
func IsTransientFetch(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == FetchTransient
}

// IngestionStage names the pipeline step an ingestion failed in.
type IngestionStage string

// Ingestion stages that can fail.
const (
	StageDownload   IngestionStage = "download"
	StageExtraction IngestionStage = "extraction"
	StageEmbedding  IngestionStage = "embedding"
	StageStorage    IngestionStage = "storage"
)

// IngestionError is a terminal failure scoped to one document.
type IngestionError struct {
	Stage      IngestionStage
	Identifier string
	Err        error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest %s: %s: %v", e.Identifier, e.Stage, e.Err)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

// IngestionStageOf extracts the failing stage, or "" when err is not an IngestionError.
func IngestionStageOf(err error) IngestionStage {
	var ie *IngestionError
	if errors.As(err, &ie) {
		return ie.Stage
	}
	return ""
}

// PersistenceError wraps unexpected failures from a store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// SkipReason explains why a listing unit produced no record.
type SkipReason string

// Skip reasons counted per cycle.
const (
	SkipNone           SkipReason = ""
	SkipNoCells        SkipReason = "no_cells"
	SkipNoTitle        SkipReason = "no_title"
	SkipNoDocumentLink SkipReason = "no_document_link"
	SkipMalformedRow   SkipReason = "malformed_row"
	SkipHeader         SkipReason = "header_row"
	SkipDuplicate      SkipReason = "duplicate"
	SkipEmptyLink      SkipReason = "empty_link"
	SkipCategoryFailed SkipReason = "category_failed"
	SkipPersistFailed  SkipReason = "persist_failed"
)

// SkipCounts aggregates skip reasons for observability.
type SkipCounts map[SkipReason]int

// Inc counts one skip; SkipNone is ignored.
func (c SkipCounts) Inc(reason SkipReason) {
	if reason == SkipNone {
		return
	}
	c[reason]++
}

// Merge adds other into c.
func (c SkipCounts) Merge(other SkipCounts) {
	for reason, n := range other {
		c[reason] += n
	}
}

// Total returns the number of skipped units.
func (c SkipCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}
