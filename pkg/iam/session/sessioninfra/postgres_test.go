package sessioninfra

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam/session"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newMock(t *testing.T) (*PostgresSessionRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresSessionRepository(sqlx.NewDb(db, "postgres")), mock
}

func TestCreateRotating_LocksParentExpiresChildrenAndInserts(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	parent := "6f1c1d1e-8d4f-4c7e-9a55-0a3c2a6a1b11"
	child := session.SessionToken{
		ID:            "0b0e7d4c-55b1-4e0c-8d8f-2f7a3f3d0c22",
		Username:      "u@example.com",
		Type:          session.TypeAccess,
		Key:           []byte("secret"),
		IssuedAt:      now,
		Expiration:    now.Add(time.Minute),
		ParentTokenID: &parent,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM session_tokens WHERE id = $1 FOR UPDATE`)).
		WithArgs(parent).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(parent))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE session_tokens SET expiration = $2 WHERE parent_token_id = $1 AND expiration > $2`)).
		WithArgs(parent, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO session_tokens`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.CreateRotating(context.Background(), parent, now, child); err != nil {
		t.Fatalf("CreateRotating: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateRotating_MissingParentRollsBack(t *testing.T) {
	repo, mock := newMock(t)
	parent := "6f1c1d1e-8d4f-4c7e-9a55-0a3c2a6a1b11"

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM session_tokens`).
		WithArgs(parent).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := repo.CreateRotating(context.Background(), parent, time.Now(), session.SessionToken{})
	if !errx.IsCode(err, session.CodeSessionNotFound) {
		t.Fatalf("err = %v, want session not found", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteExpired(t *testing.T) {
	repo, mock := newMock(t)
	before := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM session_tokens WHERE expiration < $1`)).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.DeleteExpired(context.Background(), before)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 4 {
		t.Fatalf("deleted = %d, want 4", n)
	}
}

func TestDeleteByUsernameAndType_CountsChildren(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM session_tokens WHERE parent_token_id IN`).
		WithArgs("u@example.com", "REFRESH").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM session_tokens WHERE lower(username) = lower($1) AND type = $2`)).
		WithArgs("u@example.com", "REFRESH").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := repo.DeleteByUsernameAndType(context.Background(), "u@example.com", session.TypeRefresh)
	if err != nil {
		t.Fatalf("DeleteByUsernameAndType: %v", err)
	}
	if n != 3 {
		t.Fatalf("deleted = %d, want 3", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteByUsernameAndType_RowCountErrorRollsBack(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM session_tokens WHERE parent_token_id IN`).
		WillReturnResult(sqlmock.NewErrorResult(errors.New("no row count")))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM session_tokens WHERE lower(username) = lower($1) AND type = $2`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	_, err := repo.DeleteByUsernameAndType(context.Background(), "u@example.com", session.TypeRefresh)
	var xe *errx.Error
	if !errors.As(err, &xe) || xe.Type != errx.TypeInternal {
		t.Fatalf("err = %v, want internal errx error", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
