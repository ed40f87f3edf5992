package memory

import (
	"context"
	"sync"

	"github.com/vinay10110/FinCompilance/internal/crawler"
)

type documentKey struct {
	class crawler.DocumentClass
	link  string
}

// DocumentStore implements crawler.DocumentStore with insert-if-absent on (class, canonical link).
type DocumentStore struct {
	mu           sync.RWMutex
	records      map[documentKey]crawler.DocumentRecord
	byIdentifier map[string]documentKey
	order        []documentKey
}

// NewDocumentStore constructs an empty DocumentStore.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		records:      make(map[documentKey]crawler.DocumentRecord),
		byIdentifier: make(map[string]documentKey),
	}
}

// ExistingCanonicalLinks snapshots the canonical links stored for class.
func (s *DocumentStore) ExistingCanonicalLinks(_ context.Context, class crawler.DocumentClass) (crawler.KnownLinkSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := crawler.NewKnownLinkSet()
	for key := range s.records {
		if key.class == class {
			set.Add(key.link)
		}
	}
	return set, nil
}

// InsertIfAbsent stores record unless its canonical link is already present for the class.
func (s *DocumentStore) InsertIfAbsent(_ context.Context, record crawler.DocumentRecord) (bool, error) {
	key := documentKey{class: record.Class, link: record.CanonicalLink}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; ok {
		return false, nil
	}
	s.records[key] = record
	s.byIdentifier[identifierKey(record.Class, record.Identifier)] = key
	s.order = append(s.order, key)
	return true, nil
}

// GetByIdentifier returns the record with identifier, or crawler.ErrNotFound.
func (s *DocumentStore) GetByIdentifier(_ context.Context, class crawler.DocumentClass, identifier string) (crawler.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byIdentifier[identifierKey(class, identifier)]
	if !ok {
		return crawler.DocumentRecord{}, crawler.ErrNotFound
	}
	return s.records[key], nil
}

// List returns every stored record of class in insertion order.
func (s *DocumentStore) List(class crawler.DocumentClass) []crawler.DocumentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.DocumentRecord
	for _, key := range s.order {
		if key.class == class {
			out = append(out, s.records[key])
		}
	}
	return out
}

func identifierKey(class crawler.DocumentClass, identifier string) string {
	return string(class) + "/" + identifier
}
