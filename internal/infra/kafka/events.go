package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/inventory-auth/internal/core/domain"
	"github.com/arklim/inventory-auth/internal/core/port"
	"github.com/arklim/inventory-auth/internal/infra/config"
)

const schemaVersion = "1.0"

// Event types published on the bus; the producer prepends the configured topic prefix.
const (
	EventCredentialIssued        = "auth.credential.issued"
	EventCredentialRotated       = "auth.credential.rotated"
	EventCredentialRevoked       = "auth.credential.revoked"
	EventCredentialReuseDetected = "auth.credential.reuse_detected"
)

type sender interface {
	Send(ctx context.Context, topic, key string, value []byte) error
}

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer sender
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type eventEnvelope struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	OwnerID   string            `json:"owner_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Payload   any               `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, ownerID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now()
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}

	metadata := map[string]string{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	bytes, err := json.Marshal(eventEnvelope{
		EventID:   eventID,
		EventType: eventType,
		OwnerID:   ownerID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	// Keyed by owner so a principal's lifecycle events stay ordered within one partition.
	if err := p.producer.Send(ctx, eventType, ownerID, bytes); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

// PublishCredentialIssued publishes auth.credential.issued events.
func (p *EventPublisher) PublishCredentialIssued(ctx context.Context, event domain.CredentialIssuedEvent) error {
	payload := struct {
		CredentialID string    `json:"credential_id"`
		OwnerID      string    `json:"owner_id"`
		Address      string    `json:"address,omitempty"`
		IssuedAt     time.Time `json:"issued_at"`
		ExpiresAt    time.Time `json:"expires_at"`
	}{
		CredentialID: event.CredentialID,
		OwnerID:      event.OwnerID,
		Address:      event.Address,
		IssuedAt:     event.IssuedAt.UTC(),
		ExpiresAt:    event.ExpiresAt.UTC(),
	}
	return p.publish(ctx, event.EventID, EventCredentialIssued, event.OwnerID, event.IssuedAt, payload)
}

// PublishCredentialRotated publishes auth.credential.rotated events.
func (p *EventPublisher) PublishCredentialRotated(ctx context.Context, event domain.CredentialRotatedEvent) error {
	payload := struct {
		CredentialID   string    `json:"credential_id"`
		SuccessorID    string    `json:"successor_id"`
		OwnerID        string    `json:"owner_id"`
		Address        string    `json:"address,omitempty"`
		RotatedAt      time.Time `json:"rotated_at"`
		SuccessorUntil time.Time `json:"successor_expires_at"`
	}{
		CredentialID:   event.CredentialID,
		SuccessorID:    event.SuccessorID,
		OwnerID:        event.OwnerID,
		Address:        event.Address,
		RotatedAt:      event.RotatedAt.UTC(),
		SuccessorUntil: event.SuccessorUntil.UTC(),
	}
	return p.publish(ctx, event.EventID, EventCredentialRotated, event.OwnerID, event.RotatedAt, payload)
}

// PublishCredentialRevoked publishes auth.credential.revoked events.
func (p *EventPublisher) PublishCredentialRevoked(ctx context.Context, event domain.CredentialRevokedEvent) error {
	payload := struct {
		CredentialID string    `json:"credential_id"`
		OwnerID      string    `json:"owner_id"`
		Address      string    `json:"address,omitempty"`
		Reason       string    `json:"reason"`
		RevokedAt    time.Time `json:"revoked_at"`
	}{
		CredentialID: event.CredentialID,
		OwnerID:      event.OwnerID,
		Address:      event.Address,
		Reason:       event.Reason,
		RevokedAt:    event.RevokedAt.UTC(),
	}
	return p.publish(ctx, event.EventID, EventCredentialRevoked, event.OwnerID, event.RevokedAt, payload)
}

// PublishCredentialReuseDetected publishes auth.credential.reuse_detected events.
func (p *EventPublisher) PublishCredentialReuseDetected(ctx context.Context, event domain.CredentialReuseDetectedEvent) error {
	payload := struct {
		CredentialID       string    `json:"credential_id"`
		OwnerID            string    `json:"owner_id"`
		Address            string    `json:"address,omitempty"`
		DetectedAt         time.Time `json:"detected_at"`
		CredentialsRevoked int       `json:"credentials_revoked"`
	}{
		CredentialID:       event.CredentialID,
		OwnerID:            event.OwnerID,
		Address:            event.Address,
		DetectedAt:         event.DetectedAt.UTC(),
		CredentialsRevoked: event.CredentialsRevoked,
	}
	return p.publish(ctx, event.EventID, EventCredentialReuseDetected, event.OwnerID, event.DetectedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
