package domain

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidUsername is returned for usernames that could be mistaken for an email.
var ErrInvalidUsername = errors.New("username must be non-empty and must not contain '@'")

// PrincipalStatus enumerates possible account states.
type PrincipalStatus string

const (
	PrincipalStatusActive    PrincipalStatus = "active"
	PrincipalStatusInactive  PrincipalStatus = "inactive"
	PrincipalStatusSuspended PrincipalStatus = "suspended"
)

// ParsePrincipalStatus normalises persisted status values, treating unknown input as inactive.
func ParsePrincipalStatus(value string) PrincipalStatus {
	switch PrincipalStatus(value) {
	case PrincipalStatusActive, PrincipalStatusSuspended:
		return PrincipalStatus(value)
	default:
		return PrincipalStatusInactive
	}
}

// Principal mirrors the persisted representation in the principals table.
// The session lifecycle only reads ID, Email, Status and Role.
type Principal struct {
	ID                  string
	Username            string
	Email               string
	SecretHash          string
	Status              PrincipalStatus
	Role                string
	CreatedAt           time.Time
	LastAuthenticatedAt *time.Time
}

// IsActive reports whether the principal may obtain credentials.
func (p Principal) IsActive() bool {
	return p.Status == PrincipalStatusActive
}

// ValidateUsername keeps usernames disjoint from emails so an identifier resolves to one principal.
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)
	if username == "" || strings.Contains(username, "@") {
		return ErrInvalidUsername
	}
	return nil
}
