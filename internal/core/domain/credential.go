package domain

import "time"

// Revocation records the terminal transition of a refresh credential.
// ReplacedBy is non-empty only when the revocation was caused by rotation.
type Revocation struct {
	At          time.Time
	FromAddress string
	ReplacedBy  string
}

// Rotated reports whether the revocation superseded the credential with a successor.
func (r Revocation) Rotated() bool {
	return r.ReplacedBy != ""
}

// RefreshCredential represents a long-lived, single-use refresh credential.
// The opaque secret is never stored; SecretHash holds its SHA-256 digest.
type RefreshCredential struct {
	ID                 string
	OwnerID            string
	SecretHash         string
	IssuedAt           time.Time
	ExpiresAt          time.Time
	CreatedFromAddress string
	// CreatedUserAgent is the client's User-Agent at login, carried across rotations.
	CreatedUserAgent string
	Revocation       *Revocation
}

// IsExpired reports whether the credential has elapsed its validity window.
func (c RefreshCredential) IsExpired(at time.Time) bool {
	return !c.ExpiresAt.After(at)
}

// IsRevoked reports whether the credential has been revoked by logout or rotation.
func (c RefreshCredential) IsRevoked() bool {
	return c.Revocation != nil
}

// IsActive returns true when the credential can still be exchanged.
func (c RefreshCredential) IsActive(at time.Time) bool {
	return !c.IsRevoked() && !c.IsExpired(at)
}

// WasRotated reports whether the credential was consumed by a refresh.
func (c RefreshCredential) WasRotated() bool {
	return c.Revocation != nil && c.Revocation.Rotated()
}

// Revoke marks the credential as revoked. replacedBy is empty for explicit logout.
// Returns true if the credential transitioned; revocation happens at most once.
func (c *RefreshCredential) Revoke(at time.Time, address, replacedBy string) bool {
	if c.Revocation != nil {
		return false
	}
	c.Revocation = &Revocation{
		At:          at,
		FromAddress: address,
		ReplacedBy:  replacedBy,
	}
	return true
}
