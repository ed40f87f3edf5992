package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vinay10110/FinCompilance/internal/crawler"
)

// DocumentStore implements crawler.DocumentStore on the documents table.
type DocumentStore struct {
	db DB
}

// NewDocumentStore wraps an open pool.
func NewDocumentStore(db DB) (*DocumentStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &DocumentStore{db: db}, nil
}

// Close releases the underlying pool.
func (s *DocumentStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// ExistingCanonicalLinks loads every canonical link stored for class.
func (s *DocumentStore) ExistingCanonicalLinks(ctx context.Context, class crawler.DocumentClass) (crawler.KnownLinkSet, error) {
	rows, err := s.db.Query(ctx, `SELECT canonical_link FROM documents WHERE class = $1`, string(class))
	if err != nil {
		return nil, &crawler.PersistenceError{Op: "load canonical links", Err: err}
	}
	links, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, &crawler.PersistenceError{Op: "scan canonical links", Err: err}
	}
	return crawler.NewKnownLinkSet(links...), nil
}

// InsertIfAbsent inserts record and reports whether a row was created.
func (s *DocumentStore) InsertIfAbsent(ctx context.Context, record crawler.DocumentRecord) (bool, error) {
	const query = `
INSERT INTO documents (
	class,
	canonical_link,
	identifier,
	category,
	title,
	document_link,
	date_published,
	date_scraped
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT DO NOTHING`

	tag, err := s.db.Exec(ctx, query,
		string(record.Class),
		record.CanonicalLink,
		record.Identifier,
		record.Category,
		record.Title,
		record.DocumentLink,
		record.DatePublished,
		record.DateScraped,
	)
	if err != nil {
		return false, &crawler.PersistenceError{Op: "insert document", Err: err}
	}
	return tag.RowsAffected() == 1, nil
}

// GetByIdentifier loads one document or returns crawler.ErrNotFound.
func (s *DocumentStore) GetByIdentifier(ctx context.Context, class crawler.DocumentClass, identifier string) (crawler.DocumentRecord, error) {
	const query = `
SELECT class, canonical_link, identifier, category, title, document_link, date_published, date_scraped
FROM documents
WHERE class = $1 AND identifier = $2`

	var (
		record crawler.DocumentRecord
		cls    string
	)
	err := s.db.QueryRow(ctx, query, string(class), identifier).Scan(
		&cls,
		&record.CanonicalLink,
		&record.Identifier,
		&record.Category,
		&record.Title,
		&record.DocumentLink,
		&record.DatePublished,
		&record.DateScraped,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.DocumentRecord{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.DocumentRecord{}, &crawler.PersistenceError{Op: "get document", Err: err}
	}
	record.Class = crawler.DocumentClass(cls)
	return record, nil
}
