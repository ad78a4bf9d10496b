package domain

import "time"

// Revocation reasons attached to lifecycle events.
const (
	RevokeReasonLogout        = "logout"
	RevokeReasonRotation      = "rotation"
	RevokeReasonReuseDetected = "reuse_detected"
	RevokeReasonOwnerInactive = "owner_inactive"
)

// CredentialIssuedEvent represents the payload for auth.credential.issued messages.
type CredentialIssuedEvent struct {
	EventID      string
	CredentialID string
	OwnerID      string
	Address      string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// CredentialRotatedEvent represents the payload for auth.credential.rotated messages.
type CredentialRotatedEvent struct {
	EventID        string
	CredentialID   string
	SuccessorID    string
	OwnerID        string
	Address        string
	RotatedAt      time.Time
	SuccessorUntil time.Time
}

// CredentialRevokedEvent represents the payload for auth.credential.revoked messages.
type CredentialRevokedEvent struct {
	EventID      string
	CredentialID string
	OwnerID      string
	Address      string
	Reason       string
	RevokedAt    time.Time
}

// CredentialReuseDetectedEvent represents the payload for auth.credential.reuse_detected messages.
type CredentialReuseDetectedEvent struct {
	EventID            string
	CredentialID       string
	OwnerID            string
	Address            string
	DetectedAt         time.Time
	CredentialsRevoked int
}
