package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var refreshTokenCols = []string{"id", "principal_id", "token_hash", "expires_at", "revoked", "created_at", "last_used_at"}

func TestPGTouchActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	store := NewPGStore(db)
	now := time.Now().UTC()

	mock.ExpectQuery("update refresh_tokens set last_used_at").
		WithArgs("tok-1", now).
		WillReturnRows(sqlmock.NewRows(refreshTokenCols).
			AddRow("tok-1", "prin-1", "hash", now.Add(time.Hour), false, now.Add(-time.Hour), now))

	rec, err := store.RefreshTokens(context.Background()).TouchActive(context.Background(), "tok-1", now)
	if err != nil {
		t.Fatalf("TouchActive: %v", err)
	}
	if rec.ID != "tok-1" || rec.PrincipalID != "prin-1" {
		t.Fatalf("unexpected row: %+v", rec)
	}
	if rec.LastUsedAt == nil {
		t.Fatalf("expected last_used_at to be set")
	}

	// Revoked or expired rows match nothing; the conditional update returns no
	// row and the caller sees ErrNotFound.
	mock.ExpectQuery("update refresh_tokens set last_used_at").
		WithArgs("tok-dead", now).
		WillReturnRows(sqlmock.NewRows(refreshTokenCols))

	if _, err := store.RefreshTokens(context.Background()).TouchActive(context.Background(), "tok-dead", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("dead token: want ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGSuspendCascade(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	store := NewPGStore(db)

	mock.ExpectBegin()
	mock.ExpectExec("update tenants set status").
		WithArgs("ten-1", TenantSuspended).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update refresh_tokens set revoked=true").
		WithArgs("ten-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	revoked, err := store.Tenants(context.Background()).SuspendCascade(context.Background(), "ten-1", TenantSuspended)
	if err != nil {
		t.Fatalf("SuspendCascade: %v", err)
	}
	if revoked != 3 {
		t.Fatalf("expected 3 revoked tokens, got %d", revoked)
	}

	// Unknown tenant rolls the transaction back.
	mock.ExpectBegin()
	mock.ExpectExec("update tenants set status").
		WithArgs("ten-missing", TenantSuspended).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if _, err := store.Tenants(context.Background()).SuspendCascade(context.Background(), "ten-missing", TenantSuspended); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing tenant: want ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGChangePasswordCascade(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	store := NewPGStore(db)

	mock.ExpectBegin()
	mock.ExpectExec("update principals set password_hash").
		WithArgs("prin-1", "new-hash").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update refresh_tokens set revoked=true").
		WithArgs("prin-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	if err := store.Principals(context.Background()).ChangePasswordCascade(context.Background(), "prin-1", "new-hash"); err != nil {
		t.Fatalf("ChangePasswordCascade: %v", err)
	}

	// A failed token revocation must take the password update down with it:
	// committing the new hash while old sessions stay live would leave the
	// account half-rotated.
	mock.ExpectBegin()
	mock.ExpectExec("update principals set password_hash").
		WithArgs("prin-1", "new-hash").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update refresh_tokens set revoked=true").
		WithArgs("prin-1").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	if err := store.Principals(context.Background()).ChangePasswordCascade(context.Background(), "prin-1", "new-hash"); err == nil {
		t.Fatalf("expected error when token revocation fails")
	}

	// Unknown principal rolls back before touching tokens.
	mock.ExpectBegin()
	mock.ExpectExec("update principals set password_hash").
		WithArgs("prin-missing", "new-hash").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if err := store.Principals(context.Background()).ChangePasswordCascade(context.Background(), "prin-missing", "new-hash"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing principal: want ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGFindByEmailNullColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	store := NewPGStore(db)
	now := time.Now().UTC()
	cols := []string{"id", "email", "display_name", "password_hash", "role", "status",
		"tenant_kind", "tenant_id", "last_login_at", "created_at", "updated_at"}

	mock.ExpectQuery("select .+ from principals where email").
		WithArgs("owner@example.edu").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("prin-1", "owner@example.edu", "Owner", "hash", "owner", "active",
				"none", nil, nil, now, now))

	p, err := store.Principals(context.Background()).FindByEmail(context.Background(), "owner@example.edu")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if p.Binding.TenantID != "" || !p.Binding.PlatformScope() {
		t.Fatalf("expected platform scope binding, got %+v", p.Binding)
	}
	if p.LastLoginAt != nil {
		t.Fatalf("expected nil last login, got %v", p.LastLoginAt)
	}

	mock.ExpectQuery("select .+ from principals where email").
		WithArgs("nobody@example.edu").
		WillReturnRows(sqlmock.NewRows(cols))

	if _, err := store.Principals(context.Background()).FindByEmail(context.Background(), "nobody@example.edu"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing principal: want ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
