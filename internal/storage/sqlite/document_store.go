// Package sqlite stores discovered documents in a local SQLite file for single-binary runs.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/vinay10110/FinCompilance/internal/crawler"
)

const dateLayout = "2006-01-02"

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	class          TEXT NOT NULL,
	canonical_link TEXT NOT NULL,
	identifier     TEXT NOT NULL,
	category       TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL,
	document_link  TEXT NOT NULL DEFAULT '',
	date_published TEXT NOT NULL,
	date_scraped   TEXT NOT NULL,
	PRIMARY KEY (class, canonical_link)
);
CREATE UNIQUE INDEX IF NOT EXISTS documents_class_identifier_idx ON documents (class, identifier);
`

// DocumentStore implements crawler.DocumentStore on SQLite.
type DocumentStore struct {
	db   *sql.DB
	path string
}

// Open creates (or opens) the database at path in WAL mode and applies the schema.
func Open(path string) (*DocumentStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &DocumentStore{db: db, path: path}, nil
}

// Close closes the database.
func (s *DocumentStore) Close() error {
	return s.db.Close()
}

// Ping checks the database handle.
func (s *DocumentStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *DocumentStore) Path() string {
	return s.path
}

// ExistingCanonicalLinks loads every canonical link stored for class.
func (s *DocumentStore) ExistingCanonicalLinks(ctx context.Context, class crawler.DocumentClass) (crawler.KnownLinkSet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT canonical_link FROM documents WHERE class = ?`, string(class))
	if err != nil {
		return nil, &crawler.PersistenceError{Op: "load canonical links", Err: err}
	}
	defer rows.Close()

	known := crawler.NewKnownLinkSet()
	for rows.Next() {
		var link string
		if err := rows.Scan(&link); err != nil {
			return nil, &crawler.PersistenceError{Op: "scan canonical links", Err: err}
		}
		known.Add(link)
	}
	if err := rows.Err(); err != nil {
		return nil, &crawler.PersistenceError{Op: "scan canonical links", Err: err}
	}
	return known, nil
}

// InsertIfAbsent inserts record unless (class, canonical_link) or (class, identifier) exists.
func (s *DocumentStore) InsertIfAbsent(ctx context.Context, record crawler.DocumentRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO documents (
	class, canonical_link, identifier, category, title, document_link, date_published, date_scraped
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(record.Class),
		record.CanonicalLink,
		record.Identifier,
		record.Category,
		record.Title,
		record.DocumentLink,
		record.DatePublished.UTC().Format(dateLayout),
		record.DateScraped.UTC().Format(dateLayout),
	)
	if err != nil {
		return false, &crawler.PersistenceError{Op: "insert document", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &crawler.PersistenceError{Op: "insert document", Err: err}
	}
	return n == 1, nil
}

// GetByIdentifier loads one document or returns crawler.ErrNotFound.
func (s *DocumentStore) GetByIdentifier(ctx context.Context, class crawler.DocumentClass, identifier string) (crawler.DocumentRecord, error) {
	var (
		record             crawler.DocumentRecord
		cls                string
		published, scraped string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT class, canonical_link, identifier, category, title, document_link, date_published, date_scraped
FROM documents WHERE class = ? AND identifier = ?`, string(class), identifier).Scan(
		&cls,
		&record.CanonicalLink,
		&record.Identifier,
		&record.Category,
		&record.Title,
		&record.DocumentLink,
		&published,
		&scraped,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.DocumentRecord{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.DocumentRecord{}, &crawler.PersistenceError{Op: "get document", Err: err}
	}
	record.Class = crawler.DocumentClass(cls)
	if record.DatePublished, err = time.Parse(dateLayout, published); err != nil {
		return crawler.DocumentRecord{}, &crawler.PersistenceError{Op: "parse date_published", Err: err}
	}
	if record.DateScraped, err = time.Parse(dateLayout, scraped); err != nil {
		return crawler.DocumentRecord{}, &crawler.PersistenceError{Op: "parse date_scraped", Err: err}
	}
	return record, nil
}
