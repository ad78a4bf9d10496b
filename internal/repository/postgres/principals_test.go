package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/arklim/inventory-auth/internal/core/domain"
	"github.com/arklim/inventory-auth/internal/repository"
)

func TestPrincipalRepository_GetByIdentifier(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewPrincipalRepository(mock)
	createdAt := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"id", "username", "email", "secret_hash", "status", "role", "created_at", "last_authenticated_at"}).
		AddRow("principal-1", "clerk", "clerk@example.com", "$argon2id$...", "suspended", "clerk", createdAt, nil)

	mock.ExpectQuery(`SELECT .* FROM auth\.principals WHERE lower\(email\) = lower\(\$1\) LIMIT 1`).
		WithArgs("Clerk@Example.com").
		WillReturnRows(rows)

	principal, err := repo.GetByIdentifier(context.Background(), " Clerk@Example.com ")
	if err != nil {
		t.Fatalf("GetByIdentifier returned error: %v", err)
	}
	if principal.Status != domain.PrincipalStatusSuspended {
		t.Fatalf("expected suspended status, got %s", principal.Status)
	}
	if principal.IsActive() {
		t.Fatalf("suspended principal must not be active")
	}
	if principal.LastAuthenticatedAt != nil {
		t.Fatalf("expected nil last authenticated timestamp")
	}
}

func TestPrincipalRepository_GetByIdentifier_UsernameOnly(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewPrincipalRepository(mock)
	rows := pgxmock.NewRows([]string{"id", "username", "email", "secret_hash", "status", "role", "created_at", "last_authenticated_at"}).
		AddRow("principal-2", "auditor", "auditor@example.com", "$argon2id$...", "active", "auditor", time.Now().UTC(), nil)

	// a username lookup must never match another principal's email
	mock.ExpectQuery(`SELECT .* FROM auth\.principals WHERE username = \$1 LIMIT 1`).
		WithArgs("auditor").
		WillReturnRows(rows)

	principal, err := repo.GetByIdentifier(context.Background(), "auditor")
	if err != nil {
		t.Fatalf("GetByIdentifier returned error: %v", err)
	}
	if principal.ID != "principal-2" {
		t.Fatalf("expected principal-2, got %s", principal.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPrincipalRepository_GetByIdentifier_Empty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewPrincipalRepository(mock)
	if _, err := repo.GetByIdentifier(context.Background(), "   "); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected database calls: %v", err)
	}
}

func TestPrincipalRepository_TouchLastAuthenticated(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewPrincipalRepository(mock)
	at := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE auth\.principals SET last_authenticated_at = \$1 WHERE id = \$2`).
		WithArgs(at, "principal-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE auth\.principals`).
		WithArgs(at, "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := repo.TouchLastAuthenticated(context.Background(), "principal-1", at); err != nil {
		t.Fatalf("TouchLastAuthenticated returned error: %v", err)
	}
	if err := repo.TouchLastAuthenticated(context.Background(), "ghost", at); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown principal, got %v", err)
	}
}

func TestPrincipalRepository_Upsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewPrincipalRepository(mock)
	createdAt := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	principal := domain.Principal{
		ID:         "principal-1",
		Username:   "admin",
		Email:      " Admin@Example.com",
		SecretHash: "hash",
		Status:     domain.PrincipalStatusActive,
		Role:       "admin",
		CreatedAt:  createdAt,
	}

	mock.ExpectExec(`INSERT INTO auth\.principals .* ON CONFLICT \(username\) DO UPDATE`).
		WithArgs("principal-1", "admin", "admin@example.com", "hash", "active", "admin", createdAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.Upsert(context.Background(), principal); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
