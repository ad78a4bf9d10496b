package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	uuid "github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/inventory-auth/internal/core/domain"
	"github.com/arklim/inventory-auth/internal/core/port"
	"github.com/arklim/inventory-auth/internal/infra/config"
	"github.com/arklim/inventory-auth/internal/infra/logger"
	"github.com/arklim/inventory-auth/internal/infra/security"
	"github.com/arklim/inventory-auth/internal/infra/telemetry"
	"github.com/arklim/inventory-auth/internal/repository"
)

var (
	// ErrInvalidCredentials is returned for unknown identifiers and wrong secrets alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountNotActive indicates the principal is inactive or suspended.
	ErrAccountNotActive = errors.New("account is not active")
	// ErrInvalidRefreshCredential covers unknown, expired, revoked and replayed refresh secrets.
	ErrInvalidRefreshCredential = errors.New("invalid refresh credential")
	// ErrInvalidAccessToken indicates the provided access token is malformed or signature validation failed.
	ErrInvalidAccessToken = errors.New("invalid access token")
	// ErrExpiredAccessToken indicates the provided access token has expired.
	ErrExpiredAccessToken = errors.New("access token expired")
)

const (
	// TokenTypeBearer is the token_type reported alongside issued pairs.
	TokenTypeBearer = "Bearer"

	maxSecretAttempts = 3
	dummySecret       = "inventory-auth:timing-equaliser"
)

// Outcome labels reported to IssuerMetrics.
const (
	OutcomeSuccess   = "success"
	OutcomeInvalid   = "invalid"
	OutcomeNotActive = "not_active"
	OutcomeError     = "error"
)

// IssuerMetrics receives issuer outcome observations.
type IssuerMetrics interface {
	ObserveOutcome(operation, outcome string)
	ObserveReuse(revoked int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveOutcome(string, string) {}
func (nopMetrics) ObserveReuse(int)              {}

// IssuerConfig captures lifetimes and hardening switches for credential issuance.
type IssuerConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SecretBytes   int
	RevokeOnReuse bool
}

// IssuerConfigFrom extracts issuer settings from the application configuration.
func IssuerConfigFrom(cfg *config.AppConfig) IssuerConfig {
	return IssuerConfig{
		AccessTTL:     cfg.JWT.AccessTokenTTL,
		RefreshTTL:    cfg.JWT.RefreshTokenTTL,
		SecretBytes:   cfg.Security.SecretBytes,
		RevokeOnReuse: cfg.Security.RevokeOnReuse,
	}
}

func (c IssuerConfig) withDefaults() IssuerConfig {
	if c.AccessTTL <= 0 {
		c.AccessTTL = 15 * time.Minute
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 7 * 24 * time.Hour
	}
	if c.SecretBytes < security.MinSecretBytes {
		c.SecretBytes = security.MinSecretBytes
	}
	return c
}

// LoginInput carries the identifier/secret pair and caller metadata for Authenticate.
type LoginInput struct {
	Identifier string
	Secret     string
	Address    string
	UserAgent  string
}

// TokenPair is the result of a successful Authenticate or Refresh.
type TokenPair struct {
	PrincipalID      string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	TokenType        string
}

// ExpiresIn reports the access token lifetime remaining at now, rounded down to whole seconds.
func (p TokenPair) ExpiresIn(now time.Time) int64 {
	remaining := p.AccessExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return int64(remaining / time.Second)
}

// CredentialIssuer authenticates principals and issues, rotates and revokes refresh credentials.
type CredentialIssuer struct {
	principals  port.PrincipalRepository
	credentials port.CredentialRepository
	hasher      port.SecretHasher
	tokens      *security.TokenManager
	events      port.EventPublisher
	metrics     IssuerMetrics
	logger      *zap.Logger
	tracer      trace.Tracer
	cfg         IssuerConfig
	now         func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// IssuerOption customises a CredentialIssuer.
type IssuerOption func(*CredentialIssuer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) IssuerOption {
	return func(s *CredentialIssuer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used for security-relevant warnings.
func WithLogger(log *zap.Logger) IssuerOption {
	return func(s *CredentialIssuer) {
		if log != nil {
			s.logger = log
		}
	}
}

// WithEvents publishes lifecycle events through publisher.
func WithEvents(publisher port.EventPublisher) IssuerOption {
	return func(s *CredentialIssuer) {
		s.events = publisher
	}
}

// WithMetrics records outcomes through metrics.
func WithMetrics(metrics IssuerMetrics) IssuerOption {
	return func(s *CredentialIssuer) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithTracer overrides the tracer used for issuer spans.
func WithTracer(tracer trace.Tracer) IssuerOption {
	return func(s *CredentialIssuer) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// NewCredentialIssuer wires the issuer with its collaborators.
func NewCredentialIssuer(
	principals port.PrincipalRepository,
	credentials port.CredentialRepository,
	hasher port.SecretHasher,
	tokens *security.TokenManager,
	cfg IssuerConfig,
	opts ...IssuerOption,
) *CredentialIssuer {
	s := &CredentialIssuer{
		principals:  principals,
		credentials: credentials,
		hasher:      hasher,
		tokens:      tokens,
		metrics:     nopMetrics{},
		logger:      zap.NewNop(),
		tracer:      otel.Tracer(telemetry.TracerName),
		cfg:         cfg.withDefaults(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authenticate verifies the principal's secret and issues a fresh credential pair.
func (s *CredentialIssuer) Authenticate(ctx context.Context, input LoginInput) (*TokenPair, error) {
	ctx, span := s.tracer.Start(ctx, "issuer.Authenticate")
	defer span.End()

	pair, err := s.authenticate(ctx, input)
	s.finish(span, "login", err)
	return pair, err
}

func (s *CredentialIssuer) authenticate(ctx context.Context, input LoginInput) (*TokenPair, error) {
	identifier := strings.TrimSpace(input.Identifier)
	if identifier == "" || input.Secret == "" {
		return nil, ErrInvalidCredentials
	}

	principal, err := s.principals.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.equaliseTiming(input.Secret)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup principal: %w", err)
	}

	ok, err := s.hasher.Verify(input.Secret, principal.SecretHash)
	if err != nil {
		return nil, fmt.Errorf("verify secret: %w", err)
	}
	if !ok {
		logger.WithContext(ctx).Info("login rejected",
			zap.String("identifier", logger.MaskIdentifier(identifier)),
			zap.String("address", logger.MaskIP(input.Address)),
		)
		return nil, ErrInvalidCredentials
	}

	if !principal.IsActive() {
		return nil, ErrAccountNotActive
	}

	now := s.now().UTC()
	pair, credential, err := s.mint(ctx, principal, now, input.Address, clampUserAgent(input.UserAgent), func(successor domain.RefreshCredential) error {
		return s.credentials.Create(ctx, successor)
	})
	if err != nil {
		return nil, err
	}

	if err := s.principals.TouchLastAuthenticated(ctx, principal.ID, now); err != nil {
		s.logger.Warn("failed to stamp last authentication",
			zap.String("principal_id", principal.ID),
			zap.Error(err),
		)
	}

	s.publish(ctx, "issued", func(events port.EventPublisher) error {
		return events.PublishCredentialIssued(ctx, domain.CredentialIssuedEvent{
			EventID:      uuid.NewString(),
			CredentialID: credential.ID,
			OwnerID:      principal.ID,
			Address:      input.Address,
			IssuedAt:     credential.IssuedAt,
			ExpiresAt:    credential.ExpiresAt,
		})
	})

	return pair, nil
}

// Refresh exchanges a refresh secret for a new credential pair, rotating the presented credential.
// A secret is good for exactly one successful call.
func (s *CredentialIssuer) Refresh(ctx context.Context, secret, address string) (*TokenPair, error) {
	ctx, span := s.tracer.Start(ctx, "issuer.Refresh")
	defer span.End()

	pair, err := s.refresh(ctx, secret, address)
	s.finish(span, "refresh", err)
	return pair, err
}

func (s *CredentialIssuer) refresh(ctx context.Context, secret, address string) (*TokenPair, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrInvalidRefreshCredential
	}

	current, err := s.credentials.FindBySecret(ctx, security.HashToken(secret))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidRefreshCredential
		}
		return nil, fmt.Errorf("lookup refresh credential: %w", err)
	}

	now := s.now().UTC()
	if current.WasRotated() {
		s.handleReuse(ctx, current, address, now)
		return nil, ErrInvalidRefreshCredential
	}
	if !current.IsActive(now) {
		return nil, ErrInvalidRefreshCredential
	}

	principal, err := s.principals.GetByID(ctx, current.OwnerID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.revokeForInactiveOwner(ctx, current, address, now)
		return nil, ErrInvalidRefreshCredential
	case err != nil:
		return nil, fmt.Errorf("lookup principal: %w", err)
	case !principal.IsActive():
		s.revokeForInactiveOwner(ctx, current, address, now)
		return nil, ErrInvalidRefreshCredential
	}

	pair, successor, err := s.mint(ctx, principal, now, address, current.CreatedUserAgent, func(successor domain.RefreshCredential) error {
		return s.credentials.Rotate(ctx, current.ID, successor, now, address)
	})
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyRevoked) || errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidRefreshCredential
		}
		return nil, err
	}

	s.publish(ctx, "rotated", func(events port.EventPublisher) error {
		return events.PublishCredentialRotated(ctx, domain.CredentialRotatedEvent{
			EventID:        uuid.NewString(),
			CredentialID:   current.ID,
			SuccessorID:    successor.ID,
			OwnerID:        principal.ID,
			Address:        address,
			RotatedAt:      now,
			SuccessorUntil: successor.ExpiresAt,
		})
	})

	return pair, nil
}

// Logout revokes the credential behind secret. Unknown and already revoked secrets are not errors.
func (s *CredentialIssuer) Logout(ctx context.Context, secret, address string) error {
	ctx, span := s.tracer.Start(ctx, "issuer.Logout")
	defer span.End()

	err := s.logout(ctx, secret, address)
	s.finish(span, "logout", err)
	return err
}

func (s *CredentialIssuer) logout(ctx context.Context, secret, address string) error {
	if strings.TrimSpace(secret) == "" {
		return nil
	}

	credential, err := s.credentials.FindBySecret(ctx, security.HashToken(secret))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup refresh credential: %w", err)
	}
	if credential.IsRevoked() {
		return nil
	}

	now := s.now().UTC()
	revoked, err := s.credentials.Revoke(ctx, credential.ID, now, address, nil)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("revoke refresh credential: %w", err)
	}
	if !revoked {
		return nil
	}

	s.publish(ctx, "revoked", func(events port.EventPublisher) error {
		return events.PublishCredentialRevoked(ctx, domain.CredentialRevokedEvent{
			EventID:      uuid.NewString(),
			CredentialID: credential.ID,
			OwnerID:      credential.OwnerID,
			Address:      address,
			Reason:       domain.RevokeReasonLogout,
			RevokedAt:    now,
		})
	})
	return nil
}

// ParseAccessToken validates signature, audience and expiry of an access credential. It never touches storage.
func (s *CredentialIssuer) ParseAccessToken(ctx context.Context, token string) (*security.AccessClaims, error) {
	_, span := s.tracer.Start(ctx, "issuer.ParseAccessToken")
	defer span.End()

	claims, err := s.tokens.Parse(token, s.now())
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return nil, ErrExpiredAccessToken
		}
		return nil, ErrInvalidAccessToken
	}
	return claims, nil
}

// ActiveCredentials lists the principal's unrevoked, unexpired refresh credentials.
func (s *CredentialIssuer) ActiveCredentials(ctx context.Context, principalID string) ([]domain.RefreshCredential, error) {
	credentials, err := s.credentials.ListActiveByOwner(ctx, principalID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list active credentials: %w", err)
	}
	return credentials, nil
}

// mint signs an access token and persists a new refresh credential through store,
// regenerating the secret when it collides with an existing one.
func (s *CredentialIssuer) mint(ctx context.Context, principal *domain.Principal, now time.Time, address, userAgent string, store func(domain.RefreshCredential) error) (*TokenPair, domain.RefreshCredential, error) {
	claims, err := s.tokens.NewClaims(security.AccessClaimsOptions{
		PrincipalID: principal.ID,
		Email:       principal.Email,
		Role:        principal.Role,
		IssuedAt:    now,
		TTL:         s.cfg.AccessTTL,
	})
	if err != nil {
		return nil, domain.RefreshCredential{}, fmt.Errorf("build access claims: %w", err)
	}

	accessToken, err := s.tokens.Sign(claims)
	if err != nil {
		return nil, domain.RefreshCredential{}, fmt.Errorf("sign access token: %w", err)
	}

	for attempt := 1; ; attempt++ {
		secret, err := security.GenerateSecureToken(s.cfg.SecretBytes)
		if err != nil {
			return nil, domain.RefreshCredential{}, fmt.Errorf("generate refresh secret: %w", err)
		}

		credential := domain.RefreshCredential{
			ID:                 uuid.NewString(),
			OwnerID:            principal.ID,
			SecretHash:         security.HashToken(secret),
			IssuedAt:           now,
			ExpiresAt:          now.Add(s.cfg.RefreshTTL),
			CreatedFromAddress: address,
			CreatedUserAgent:   userAgent,
		}

		err = store(credential)
		if errors.Is(err, repository.ErrDuplicateSecret) && attempt < maxSecretAttempts {
			s.logger.Warn("refresh secret collision, regenerating", zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, domain.RefreshCredential{}, fmt.Errorf("store refresh credential: %w", err)
		}

		return &TokenPair{
			PrincipalID:      principal.ID,
			AccessToken:      accessToken,
			AccessExpiresAt:  claims.ExpiresAt.Time,
			RefreshToken:     secret,
			RefreshExpiresAt: credential.ExpiresAt,
			TokenType:        TokenTypeBearer,
		}, credential, nil
	}
}

func (s *CredentialIssuer) handleReuse(ctx context.Context, credential *domain.RefreshCredential, address string, now time.Time) {
	revoked := 0
	if s.cfg.RevokeOnReuse {
		n, err := s.credentials.RevokeAllForOwner(ctx, credential.OwnerID, now, address)
		if err != nil {
			s.logger.Error("failed to revoke credentials after reuse",
				zap.String("owner_id", credential.OwnerID),
				zap.Error(err),
			)
		}
		revoked = n
	}

	s.metrics.ObserveReuse(revoked)
	s.logger.Warn("rotated refresh credential presented again",
		zap.String("credential_id", credential.ID),
		zap.String("owner_id", credential.OwnerID),
		zap.String("address", logger.MaskIP(address)),
		zap.Int("credentials_revoked", revoked),
	)

	s.publish(ctx, "reuse_detected", func(events port.EventPublisher) error {
		return events.PublishCredentialReuseDetected(ctx, domain.CredentialReuseDetectedEvent{
			EventID:            uuid.NewString(),
			CredentialID:       credential.ID,
			OwnerID:            credential.OwnerID,
			Address:            address,
			DetectedAt:         now,
			CredentialsRevoked: revoked,
		})
	})
}

func (s *CredentialIssuer) revokeForInactiveOwner(ctx context.Context, credential *domain.RefreshCredential, address string, now time.Time) {
	revoked, err := s.credentials.Revoke(ctx, credential.ID, now, address, nil)
	if err != nil {
		s.logger.Error("failed to revoke credential of inactive owner",
			zap.String("credential_id", credential.ID),
			zap.Error(err),
		)
		return
	}
	if !revoked {
		return
	}

	s.publish(ctx, "revoked", func(events port.EventPublisher) error {
		return events.PublishCredentialRevoked(ctx, domain.CredentialRevokedEvent{
			EventID:      uuid.NewString(),
			CredentialID: credential.ID,
			OwnerID:      credential.OwnerID,
			Address:      address,
			Reason:       domain.RevokeReasonOwnerInactive,
			RevokedAt:    now,
		})
	})
}

// equaliseTiming spends roughly one hash verification so unknown identifiers are not distinguishable by latency.
func (s *CredentialIssuer) equaliseTiming(secret string) {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(dummySecret)
		if err != nil {
			s.logger.Warn("failed to prepare dummy hash", zap.Error(err))
			return
		}
		s.dummyHash = hash
	})
	if s.dummyHash != "" {
		_, _ = s.hasher.Verify(secret, s.dummyHash)
	}
}

// publish delivers an event; failures are logged and never fail the calling operation.
func (s *CredentialIssuer) publish(ctx context.Context, kind string, send func(port.EventPublisher) error) {
	if s.events == nil {
		return
	}
	if err := send(s.events); err != nil {
		logger.WithContext(ctx).Warn("failed to publish credential event",
			zap.String("event", kind),
			zap.Error(err),
		)
	}
}

func (s *CredentialIssuer) finish(span trace.Span, operation string, err error) {
	outcome := outcomeFor(err)
	s.metrics.ObserveOutcome(operation, outcome)
	span.SetAttributes(attribute.String("issuer.outcome", outcome))
	if outcome == OutcomeError {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidRefreshCredential):
		return OutcomeInvalid
	case errors.Is(err, ErrAccountNotActive):
		return OutcomeNotActive
	default:
		return OutcomeError
	}
}

const maxUserAgentLength = 256

func clampUserAgent(ua string) string {
	ua = strings.TrimSpace(ua)
	if len(ua) > maxUserAgentLength {
		return ua[:maxUserAgentLength]
	}
	return ua
}
