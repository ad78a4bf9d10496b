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

const (
	credentialsTable           = "auth.refresh_credentials"
	credentialSecretConstraint = "refresh_credentials_secret_hash_key"
)

var credentialColumns = []string{
	"id",
	"owner_id",
	"secret_hash",
	"issued_at",
	"expires_at",
	"created_from_address",
	"created_user_agent",
	"revoked_at",
	"revoked_from_address",
	"replaced_by",
}

// CredentialRepository implements port.CredentialRepository backed by PostgreSQL.
type CredentialRepository struct {
	db      pgBeginner
	builder squirrel.StatementBuilderType
}

var _ port.CredentialRepository = (*CredentialRepository)(nil)

// NewCredentialRepository constructs a repository over a pool, transaction or pgxmock pool.
func NewCredentialRepository(db pgBeginner) *CredentialRepository {
	return &CredentialRepository{
		db:      db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithTx returns a repository instance that executes statements within the supplied transaction.
func (r *CredentialRepository) WithTx(tx pgx.Tx) *CredentialRepository {
	if tx == nil {
		return r
	}
	return &CredentialRepository{
		db:      tx,
		builder: r.builder,
	}
}

// Create persists a freshly issued refresh credential.
func (r *CredentialRepository) Create(ctx context.Context, credential domain.RefreshCredential) error {
	return r.insert(ctx, r.db, credential)
}

func (r *CredentialRepository) insert(ctx context.Context, exec pgExecutor, credential domain.RefreshCredential) error {
	stmt, args, err := r.builder.Insert(credentialsTable).
		Columns("id", "owner_id", "secret_hash", "issued_at", "expires_at", "created_from_address", "created_user_agent").
		Values(
			credential.ID,
			credential.OwnerID,
			credential.SecretHash,
			credential.IssuedAt.UTC(),
			credential.ExpiresAt.UTC(),
			optionalString(&credential.CreatedFromAddress),
			optionalString(&credential.CreatedUserAgent),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert credential sql: %w", err)
	}

	if _, err := exec.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err, credentialSecretConstraint) {
			return repository.ErrDuplicateSecret
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// FindBySecret looks up a credential by the SHA-256 hash of its opaque secret.
func (r *CredentialRepository) FindBySecret(ctx context.Context, secretHash string) (*domain.RefreshCredential, error) {
	stmt, args, err := r.builder.
		Select(credentialColumns...).
		From(credentialsTable).
		Where(squirrel.Eq{"secret_hash": secretHash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select credential sql: %w", err)
	}

	credential, err := scanCredential(r.db.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	return credential, nil
}

// Revoke marks the credential revoked if it is still active.
func (r *CredentialRepository) Revoke(ctx context.Context, id string, at time.Time, address string, replacedBy *string) (bool, error) {
	return r.revoke(ctx, r.db, id, at, address, replacedBy)
}

func (r *CredentialRepository) revoke(ctx context.Context, exec pgExecutor, id string, at time.Time, address string, replacedBy *string) (bool, error) {
	stmt, args, err := r.builder.Update(credentialsTable).
		Set("revoked_at", at.UTC()).
		Set("revoked_from_address", optionalString(&address)).
		Set("replaced_by", optionalString(replacedBy)).
		Where(squirrel.Eq{"id": id}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build revoke credential sql: %w", err)
	}

	tag, err := exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("revoke credential: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := exec.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM auth.refresh_credentials WHERE id = $1)", id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check credential existence: %w", err)
	}
	if !exists {
		return false, repository.ErrNotFound
	}
	return false, nil
}

// Rotate atomically inserts successor and revokes oldID, linking the two through replaced_by.
// Concurrent rotations of the same credential serialise on the row lock; the loser gets ErrAlreadyRevoked.
func (r *CredentialRepository) Rotate(ctx context.Context, oldID string, successor domain.RefreshCredential, at time.Time, address string) error {
	return withTx(ctx, r.db, func(tx pgx.Tx) error {
		stmt, args, err := r.builder.
			Select("revoked_at").
			From(credentialsTable).
			Where(squirrel.Eq{"id": oldID}).
			Suffix("FOR UPDATE").
			ToSql()
		if err != nil {
			return fmt.Errorf("build lock credential sql: %w", err)
		}

		var revokedAt sql.NullTime
		if err := tx.QueryRow(ctx, stmt, args...).Scan(&revokedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return repository.ErrNotFound
			}
			return fmt.Errorf("lock credential: %w", err)
		}
		if revokedAt.Valid {
			return repository.ErrAlreadyRevoked
		}

		if err := r.insert(ctx, tx, successor); err != nil {
			return err
		}

		successorID := successor.ID
		revoked, err := r.revoke(ctx, tx, oldID, at, address, &successorID)
		if err != nil {
			return err
		}
		if !revoked {
			return repository.ErrAlreadyRevoked
		}
		return nil
	})
}

// RevokeAllForOwner revokes every active credential belonging to ownerID and returns how many were affected.
func (r *CredentialRepository) RevokeAllForOwner(ctx context.Context, ownerID string, at time.Time, address string) (int, error) {
	stmt, args, err := r.builder.Update(credentialsTable).
		Set("revoked_at", at.UTC()).
		Set("revoked_from_address", optionalString(&address)).
		Where(squirrel.Eq{"owner_id": ownerID}).
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke owner credentials sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke owner credentials: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListActiveByOwner returns the unrevoked, unexpired credentials of ownerID, newest first.
func (r *CredentialRepository) ListActiveByOwner(ctx context.Context, ownerID string, at time.Time) ([]domain.RefreshCredential, error) {
	stmt, args, err := r.builder.
		Select(credentialColumns...).
		From(credentialsTable).
		Where(squirrel.Eq{"owner_id": ownerID}).
		Where("revoked_at IS NULL").
		Where(squirrel.Gt{"expires_at": at.UTC()}).
		OrderBy("issued_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list credentials sql: %w", err)
	}

	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	credentials := make([]domain.RefreshCredential, 0)
	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		credentials = append(credentials, *credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}

	return credentials, nil
}

func scanCredential(row pgx.Row) (*domain.RefreshCredential, error) {
	var (
		credential  domain.RefreshCredential
		createdFrom sql.NullString
		userAgent   sql.NullString
		revokedAt   sql.NullTime
		revokedFrom sql.NullString
		replacedBy  sql.NullString
	)

	if err := row.Scan(
		&credential.ID,
		&credential.OwnerID,
		&credential.SecretHash,
		&credential.IssuedAt,
		&credential.ExpiresAt,
		&createdFrom,
		&userAgent,
		&revokedAt,
		&revokedFrom,
		&replacedBy,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	credential.CreatedFromAddress = strings.TrimSpace(createdFrom.String)
	credential.CreatedUserAgent = strings.TrimSpace(userAgent.String)
	if revokedAt.Valid {
		credential.Revocation = &domain.Revocation{
			At:          revokedAt.Time.UTC(),
			FromAddress: strings.TrimSpace(revokedFrom.String),
			ReplacedBy:  strings.TrimSpace(replacedBy.String),
		}
	}

	return &credential, nil
}

func optionalString(value *string) any {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return trimmed
}
