package port

import (
	"context"

	"github.com/arklim/inventory-auth/internal/core/domain"
)

// EventPublisher publishes credential lifecycle events to the message bus.
type EventPublisher interface {
	PublishCredentialIssued(ctx context.Context, event domain.CredentialIssuedEvent) error
	PublishCredentialRotated(ctx context.Context, event domain.CredentialRotatedEvent) error
	PublishCredentialRevoked(ctx context.Context, event domain.CredentialRevokedEvent) error
	PublishCredentialReuseDetected(ctx context.Context, event domain.CredentialReuseDetectedEvent) error
}
