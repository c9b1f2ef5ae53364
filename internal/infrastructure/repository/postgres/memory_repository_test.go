package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ndmitriev/recollect/internal/core/domain"
)

func newRepoWithMock(t *testing.T) (*MemoryRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &MemoryRepository{db: db}, mock, func() { _ = db.Close() }
}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, owner_id, kind").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrMemoryNotFound) {
		t.Fatalf("expected ErrMemoryNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStatusReturnsDomainNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE memories").
		WithArgs("missing", string(domain.StatusEnriching), "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "missing", domain.StatusEnriching, "")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrMemoryNotFound) {
		t.Fatalf("expected ErrMemoryNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSoftDeleteScopedToOwner(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec(`UPDATE memories\s+SET deleted_at = \$3, updated_at = \$3\s+WHERE id = \$1 AND owner_id = \$2 AND deleted_at IS NULL`).
		WithArgs("m1", "owner-b", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	// owner-b cannot delete owner-a's memory: zero rows affected maps to
	// not found.
	err := repo.SoftDelete(context.Background(), "owner-b", "m1")
	if !domain.IsKind(err, domain.ErrMemoryNotFound) {
		t.Fatalf("expected ErrMemoryNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func lexicalRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "owner_id", "kind", "processed_text", "raw_text", "caption", "created_at"}).
		AddRow("m1", "owner-a", "text", "i love pizza", "I love pizza!", "", time.Now())
}

func TestSearchLexicalJoinsOwnerWithAndNotOr(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, owner_id, kind, processed_text").
		WithArgs("owner-a", "%pizza%", 10).
		WillReturnRows(lexicalRows())

	out, err := repo.SearchLexical(context.Background(), "pizza", "owner-a", 10)
	if err != nil {
		t.Fatalf("SearchLexical() error = %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(out))
	}
	if out[0].Signal != domain.SignalLexical {
		t.Fatalf("expected lexical signal, got %s", out[0].Signal)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// The owner predicate must be ANDed with the whole term group. This guards
// the exact query text so an OR regression cannot slip in silently.
func TestSearchLexicalQueryShape(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery(`WHERE owner_id = \$1 AND deleted_at IS NULL AND \(`).
		WithArgs("owner-a", "%pizza%", "%party%", 5).
		WillReturnRows(lexicalRows())

	if _, err := repo.SearchLexical(context.Background(), "pizza party", "owner-a", 5); err != nil {
		t.Fatalf("SearchLexical() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("owner predicate not ANDed with term group: %v", err)
	}
}

func TestSearchLexicalEmptyQueryReturnsNothing(t *testing.T) {
	repo, _, done := newRepoWithMock(t)
	defer done()

	out, err := repo.SearchLexical(context.Background(), "  a ", "owner-a", 10)
	if err != nil {
		t.Fatalf("SearchLexical() error = %v", err)
	}
	if out != nil {
		t.Fatalf("expected no candidates for a query with no usable terms")
	}
}

func TestLexicalScoreRange(t *testing.T) {
	terms := queryTerms("pizza party tonight")

	full := lexicalScore("pizza party tonight at home", terms)
	partial := lexicalScore("pizza at home", terms)
	none := lexicalScore("completely unrelated", terms)

	if full <= partial || partial <= none {
		t.Fatalf("expected full > partial > none, got %v, %v, %v", full, partial, none)
	}
	if full > 1 || none != 0 {
		t.Fatalf("scores out of range: full=%v none=%v", full, none)
	}
}

func TestQueryTermsDedupesAndDropsShortTokens(t *testing.T) {
	terms := queryTerms("Pizza pizza a 'party'")
	if len(terms) != 2 {
		t.Fatalf("expected 2 terms, got %v", terms)
	}
	if terms[0] != "pizza" || terms[1] != "party" {
		t.Fatalf("unexpected terms %v", terms)
	}
}
