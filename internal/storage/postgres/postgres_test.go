package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/vinay10110/FinCompilance/internal/crawler"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestDocumentStoreInsertIfAbsent(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewDocumentStore(mock)
	require.NoError(t, err)

	day := time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC)
	rec := crawler.DocumentRecord{
		Class:         crawler.ClassCircular,
		CanonicalLink: "https://rbidocs.rbi.org.in/rdocs/notification/pdfs/a.pdf",
		Identifier:    "abc",
		Category:      "Banking Regulation",
		Title:         "Master Direction on KYC",
		DocumentLink:  "https://rbidocs.rbi.org.in/rdocs/notification/pdfs/a.pdf",
		DatePublished: day,
		DateScraped:   day,
	}
	args := []any{"circular", rec.CanonicalLink, "abc", rec.Category, rec.Title, rec.DocumentLink, day, day}

	mock.ExpectExec("INSERT INTO documents").WithArgs(args...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO documents").WithArgs(args...).WillReturnResult(pgxmock.NewResult("INSERT", 0))

	created, err := store.InsertIfAbsent(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, created)

	created, err = store.InsertIfAbsent(context.Background(), rec)
	require.NoError(t, err)
	require.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStoreInsertWrapsErrors(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewDocumentStore(mock)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO documents").WillReturnError(errors.New("connection reset"))
	_, err = store.InsertIfAbsent(context.Background(), crawler.DocumentRecord{Class: crawler.ClassPressRelease})
	var perr *crawler.PersistenceError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "insert document", perr.Op)
}

func TestDocumentStoreExistingCanonicalLinks(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewDocumentStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT canonical_link FROM documents").
		WithArgs("press_release").
		WillReturnRows(mock.NewRows([]string{"canonical_link"}).
			AddRow("https://rbi.org.in/scripts/a.aspx").
			AddRow("https://rbi.org.in/scripts/b.aspx"))

	known, err := store.ExistingCanonicalLinks(context.Background(), crawler.ClassPressRelease)
	require.NoError(t, err)
	require.Len(t, known, 2)
	require.True(t, known.Contains("https://rbi.org.in/scripts/b.aspx"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStoreGetByIdentifier(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewDocumentStore(mock)
	require.NoError(t, err)

	day := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	columns := []string{"class", "canonical_link", "identifier", "category", "title", "document_link", "date_published", "date_scraped"}
	mock.ExpectQuery("SELECT class, canonical_link").
		WithArgs("circular", "abc").
		WillReturnRows(mock.NewRows(columns).AddRow("circular", "https://x/a.pdf", "abc", "FEMA", "Title", "https://x/a.pdf", day, day))
	mock.ExpectQuery("SELECT class, canonical_link").
		WithArgs("circular", "missing").
		WillReturnError(pgx.ErrNoRows)

	got, err := store.GetByIdentifier(context.Background(), crawler.ClassCircular, "abc")
	require.NoError(t, err)
	require.Equal(t, crawler.ClassCircular, got.Class)
	require.Equal(t, "FEMA", got.Category)
	require.Equal(t, day, got.DatePublished)

	_, err = store.GetByIdentifier(context.Background(), crawler.ClassCircular, "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVectorStoreUpsertChunksCommitsNamespaceWithChunks(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewVectorStore(mock)
	require.NoError(t, err)

	chunks := []crawler.StoredChunk{
		{ID: "abc_chunk_0", Vector: []float32{0.1, 0.2}, Text: "first", Identifier: "abc"},
		{ID: "abc_chunk_1", Vector: []float32{0.3, 0.4}, Text: "second", Identifier: "abc"},
	}
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chunks").
		WithArgs("abc_chunk_0", "chunks_abc", "abc", "first", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO chunks").
		WithArgs("abc_chunk_1", "chunks_abc", "abc", "second", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO chunk_namespaces").
		WithArgs("chunks_abc", "abc", 2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.UpsertChunks(context.Background(), "chunks_abc", chunks))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVectorStoreUpsertChunksRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewVectorStore(mock)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chunks").WillReturnError(errors.New("dimension mismatch"))
	mock.ExpectRollback()

	err = store.UpsertChunks(context.Background(), "chunks_abc", []crawler.StoredChunk{
		{ID: "abc_chunk_0", Vector: []float32{1}, Text: "t", Identifier: "abc"},
	})
	require.ErrorContains(t, err, "dimension mismatch")
	require.NoError(t, mock.ExpectationsWereMet())

	require.Error(t, store.UpsertChunks(context.Background(), "chunks_abc", nil))
}

func TestVectorStoreNamespaceExistsAndSearch(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewVectorStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("chunks_abc").
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT id, identifier, content").
		WithArgs("chunks_abc", pgxmock.AnyArg(), 2).
		WillReturnRows(mock.NewRows([]string{"id", "identifier", "content", "score"}).
			AddRow("abc_chunk_3", "abc", "repo rate", 0.92).
			AddRow("abc_chunk_1", "abc", "crr", 0.81))

	exists, err := store.NamespaceExists(context.Background(), "chunks_abc")
	require.NoError(t, err)
	require.True(t, exists)

	matches, err := store.Search(context.Background(), "chunks_abc", []float32{0.5, 0.5}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "abc_chunk_3", matches[0].ID)
	require.InDelta(t, 0.92, matches[0].Score, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}
