package port

import (
	"context"
	"time"

	"github.com/arklim/inventory-auth/internal/core/domain"
)

// PrincipalRepository exposes the identity lookups required by the issuer.
type PrincipalRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Principal, error)
	GetByIdentifier(ctx context.Context, identifier string) (*domain.Principal, error)
	TouchLastAuthenticated(ctx context.Context, id string, at time.Time) error
	Upsert(ctx context.Context, principal domain.Principal) error
}
