package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/inventory-auth/internal/core/domain"
	"github.com/arklim/inventory-auth/internal/core/port"
	"github.com/arklim/inventory-auth/internal/infra/logger"
)

// StubPublisher logs events instead of sending them to Kafka. Used when no brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, ownerID string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now()
	}

	p.logger.Info("stub event published",
		append([]zap.Field{
			zap.String("event_type", eventType),
			zap.String("owner_id", ownerID),
			zap.Time("timestamp", at.UTC()),
		}, fields...)...,
	)
}

// PublishCredentialIssued logs auth.credential.issued events.
func (p *StubPublisher) PublishCredentialIssued(_ context.Context, event domain.CredentialIssuedEvent) error {
	p.logEvent(EventCredentialIssued, event.OwnerID, event.IssuedAt,
		zap.String("credential_id", event.CredentialID),
		zap.String("address", logger.MaskIP(event.Address)),
		zap.Time("expires_at", event.ExpiresAt),
	)
	return nil
}

// PublishCredentialRotated logs auth.credential.rotated events.
func (p *StubPublisher) PublishCredentialRotated(_ context.Context, event domain.CredentialRotatedEvent) error {
	p.logEvent(EventCredentialRotated, event.OwnerID, event.RotatedAt,
		zap.String("credential_id", event.CredentialID),
		zap.String("successor_id", event.SuccessorID),
		zap.String("address", logger.MaskIP(event.Address)),
	)
	return nil
}

// PublishCredentialRevoked logs auth.credential.revoked events.
func (p *StubPublisher) PublishCredentialRevoked(_ context.Context, event domain.CredentialRevokedEvent) error {
	p.logEvent(EventCredentialRevoked, event.OwnerID, event.RevokedAt,
		zap.String("credential_id", event.CredentialID),
		zap.String("reason", event.Reason),
	)
	return nil
}

// PublishCredentialReuseDetected logs auth.credential.reuse_detected events.
func (p *StubPublisher) PublishCredentialReuseDetected(_ context.Context, event domain.CredentialReuseDetectedEvent) error {
	p.logEvent(EventCredentialReuseDetected, event.OwnerID, event.DetectedAt,
		zap.String("credential_id", event.CredentialID),
		zap.String("address", logger.MaskIP(event.Address)),
		zap.Int("credentials_revoked", event.CredentialsRevoked),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
