package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/inventory-auth/internal/core/domain"
	"github.com/arklim/inventory-auth/internal/core/port"
	"github.com/arklim/inventory-auth/internal/repository"
)

const principalsTable = "auth.principals"

var principalColumns = []string{
	"id",
	"username",
	"email",
	"secret_hash",
	"status",
	"role",
	"created_at",
	"last_authenticated_at",
}

// PrincipalRepository implements port.PrincipalRepository using PostgreSQL.
type PrincipalRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

var _ port.PrincipalRepository = (*PrincipalRepository)(nil)

// NewPrincipalRepository wires a PostgreSQL-backed principal repository.
func NewPrincipalRepository(exec pgExecutor) *PrincipalRepository {
	return &PrincipalRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// GetByID retrieves a principal by identifier.
func (r *PrincipalRepository) GetByID(ctx context.Context, id string) (*domain.Principal, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

// GetByIdentifier resolves a principal by email (case-insensitive) when the
// identifier contains "@", and by username otherwise. Usernames never contain "@".
func (r *PrincipalRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.Principal, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, repository.ErrNotFound
	}
	if strings.Contains(identifier, "@") {
		return r.getOne(ctx, squirrel.Expr("lower(email) = lower(?)", identifier))
	}
	return r.getOne(ctx, squirrel.Eq{"username": identifier})
}

func (r *PrincipalRepository) getOne(ctx context.Context, pred squirrel.Sqlizer) (*domain.Principal, error) {
	stmt, args, err := r.builder.
		Select(principalColumns...).
		From(principalsTable).
		Where(pred).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select principal sql: %w", err)
	}

	var (
		principal         domain.Principal
		status            string
		lastAuthenticated sql.NullTime
	)
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&principal.ID,
		&principal.Username,
		&principal.Email,
		&principal.SecretHash,
		&status,
		&principal.Role,
		&principal.CreatedAt,
		&lastAuthenticated,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan principal: %w", err)
	}

	principal.Status = domain.ParsePrincipalStatus(status)
	if lastAuthenticated.Valid {
		at := lastAuthenticated.Time.UTC()
		principal.LastAuthenticatedAt = &at
	}
	return &principal, nil
}

// TouchLastAuthenticated stamps the time of the latest successful authentication.
func (r *PrincipalRepository) TouchLastAuthenticated(ctx context.Context, id string, at time.Time) error {
	stmt, args, err := r.builder.Update(principalsTable).
		Set("last_authenticated_at", at.UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build touch principal sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("touch principal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Upsert inserts a principal or updates the mutable columns of an existing one keyed by username.
func (r *PrincipalRepository) Upsert(ctx context.Context, principal domain.Principal) error {
	createdAt := principal.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	stmt, args, err := r.builder.Insert(principalsTable).
		Columns("id", "username", "email", "secret_hash", "status", "role", "created_at").
		Values(
			principal.ID,
			principal.Username,
			strings.ToLower(strings.TrimSpace(principal.Email)),
			principal.SecretHash,
			string(principal.Status),
			principal.Role,
			createdAt.UTC(),
		).
		Suffix(`ON CONFLICT (username) DO UPDATE
            SET email = EXCLUDED.email,
                secret_hash = EXCLUDED.secret_hash,
                status = EXCLUDED.status,
                role = EXCLUDED.role`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert principal sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("upsert principal: %w", err)
	}
	return nil
}
