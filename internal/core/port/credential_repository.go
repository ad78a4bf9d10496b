package port

import (
	"context"
	"time"

	"github.com/arklim/inventory-auth/internal/core/domain"
)

// CredentialRepository persists refresh credentials and their revocation chain.
type CredentialRepository interface {
	Create(ctx context.Context, credential domain.RefreshCredential) error
	FindBySecret(ctx context.Context, secretHash string) (*domain.RefreshCredential, error)
	// Revoke applies the revocation at most once; it reports false when the row was already revoked.
	Revoke(ctx context.Context, id string, at time.Time, address string, replacedBy *string) (bool, error)
	// Rotate inserts successor and revokes oldID in a single transaction.
	Rotate(ctx context.Context, oldID string, successor domain.RefreshCredential, at time.Time, address string) error
	RevokeAllForOwner(ctx context.Context, ownerID string, at time.Time, address string) (int, error)
	ListActiveByOwner(ctx context.Context, ownerID string, at time.Time) ([]domain.RefreshCredential, error)
}
