package security

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"
)

var (
	// ErrTokenExpired is returned when an otherwise valid access token is past its exp claim.
	ErrTokenExpired = errors.New("jwt: token expired")
	// ErrTokenInvalid covers malformed tokens, bad signatures, unknown kids and claim mismatches.
	ErrTokenInvalid = errors.New("jwt: token invalid")
	// ErrKeyIDMissing indicates no kid is associated with the supplied token or key.
	ErrKeyIDMissing = errors.New("jwt: missing key identifier")
)

// AccessClaims is the payload of an access credential.
type AccessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// PrincipalID returns the subject the credential was issued for.
func (c *AccessClaims) PrincipalID() string {
	return c.Subject
}

// HasRole reports whether the claims carry the supplied role (case-insensitive).
func (c *AccessClaims) HasRole(role string) bool {
	return strings.EqualFold(strings.TrimSpace(c.Role), strings.TrimSpace(role))
}

// AccessClaimsOptions configures creation of access credential claims.
type AccessClaimsOptions struct {
	PrincipalID string
	Email       string
	Role        string
	IssuedAt    time.Time
	TTL         time.Duration
	JTI         string
}

// TokenManager signs and verifies RS256 access credentials.
type TokenManager struct {
	keys     KeyProvider
	issuer   string
	audience string
	leeway   time.Duration
}

// NewTokenManager constructs a TokenManager bound to an issuer and audience.
func NewTokenManager(keys KeyProvider, issuer, audience string) *TokenManager {
	return &TokenManager{
		keys:     keys,
		issuer:   strings.TrimSpace(issuer),
		audience: strings.TrimSpace(audience),
	}
}

// WithLeeway returns a copy of the manager tolerating the given clock skew on exp/iat.
func (m *TokenManager) WithLeeway(leeway time.Duration) *TokenManager {
	clone := *m
	clone.leeway = leeway
	return &clone
}

// NewClaims builds claims stamped with the manager's issuer and audience.
func (m *TokenManager) NewClaims(opts AccessClaimsOptions) (*AccessClaims, error) {
	principalID := strings.TrimSpace(opts.PrincipalID)
	if principalID == "" {
		return nil, fmt.Errorf("jwt: principal id is required")
	}
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("jwt: ttl must be positive")
	}

	issuedAt := opts.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}
	issuedAt = issuedAt.UTC()

	jti := strings.TrimSpace(opts.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}

	claims := &AccessClaims{
		Email: strings.TrimSpace(opts.Email),
		Role:  strings.TrimSpace(opts.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(opts.TTL)),
			ID:        jti,
		},
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}
	return claims, nil
}

// Sign serialises claims with the active signing key, stamping its kid in the header.
func (m *TokenManager) Sign(claims *AccessClaims) (string, error) {
	if claims == nil {
		return "", fmt.Errorf("jwt: access claims required")
	}

	kid, key, err := m.keys.SigningKey()
	if err != nil {
		return "", fmt.Errorf("jwt: get signing key: %w", err)
	}
	if strings.TrimSpace(kid) == "" {
		return "", ErrKeyIDMissing
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies signature, issuer, audience and expiry relative to now.
func (m *TokenManager) Parse(token string, now time.Time) (*AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	if m.leeway > 0 {
		parserOptions = append(parserOptions, jwt.WithLeeway(m.leeway))
	}
	if m.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		parserOptions = append(parserOptions, jwt.WithAudience(m.audience))
	}

	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		kid = strings.TrimSpace(kid)
		if kid == "" {
			return nil, ErrKeyIDMissing
		}
		return m.keys.VerificationKey(kid)
	}, parserOptions...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if parsed == nil || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// JWKS produces the JSON Web Key Set of every verification key, ordered by kid.
func (m *TokenManager) JWKS() ([]byte, error) {
	keys := m.keys.VerificationKeys()
	kids := make([]string, 0, len(keys))
	for kid := range keys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)

	set := make([]map[string]string, 0, len(kids))
	for _, kid := range kids {
		key := keys[kid]
		if key == nil {
			continue
		}
		set = append(set, map[string]string{
			"kty": "RSA",
			"use": "sig",
			"alg": "RS256",
			"kid": kid,
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		})
	}

	return json.Marshal(map[string]any{"keys": set})
}
