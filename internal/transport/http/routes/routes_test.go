package routes_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/inventory-auth/internal/core/domain"
	"github.com/arklim/inventory-auth/internal/infra/config"
	"github.com/arklim/inventory-auth/internal/infra/security"
	"github.com/arklim/inventory-auth/internal/transport/http/handlers"
	"github.com/arklim/inventory-auth/internal/transport/http/middleware"
	httproutes "github.com/arklim/inventory-auth/internal/transport/http/routes"
	"github.com/arklim/inventory-auth/internal/usecase"
)

// stubIssuer signs real access tokens so RequireAuth runs unmodified, and keeps refresh secrets single-use.
type stubIssuer struct {
	tokens *security.TokenManager

	mu        sync.Mutex
	secrets   map[string]string
	next      int
	lastLogin usecase.LoginInput
}

func (s *stubIssuer) lastLoginInput() usecase.LoginInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLogin
}

func newStubIssuer(t *testing.T) *stubIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &stubIssuer{
		tokens:  security.NewTokenManager(security.NewStaticKeyProvider("k1", key), "inventory-auth", "inventory-admin"),
		secrets: make(map[string]string),
	}
}

func (s *stubIssuer) issue(principalID, role string) (*usecase.TokenPair, error) {
	now := time.Now()
	claims, err := s.tokens.NewClaims(security.AccessClaimsOptions{PrincipalID: principalID, Role: role, IssuedAt: now, TTL: time.Minute})
	if err != nil {
		return nil, err
	}
	token, err := s.tokens.Sign(claims)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	secret := principalID + "-secret-" + strings.Repeat("x", s.next)
	s.secrets[secret] = principalID + "|" + role
	return &usecase.TokenPair{
		PrincipalID:      principalID,
		AccessToken:      token,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshToken:     secret,
		RefreshExpiresAt: now.Add(time.Hour),
		TokenType:        usecase.TokenTypeBearer,
	}, nil
}

func (s *stubIssuer) Authenticate(_ context.Context, input usecase.LoginInput) (*usecase.TokenPair, error) {
	s.mu.Lock()
	s.lastLogin = input
	s.mu.Unlock()

	switch {
	case input.Identifier == "admin" && input.Secret == "pw":
		return s.issue("p-admin", "admin")
	case input.Identifier == "clerk" && input.Secret == "pw":
		return s.issue("p-clerk", "clerk")
	case input.Identifier == "former":
		return nil, usecase.ErrAccountNotActive
	default:
		return nil, usecase.ErrInvalidCredentials
	}
}

func (s *stubIssuer) Refresh(_ context.Context, secret, _ string) (*usecase.TokenPair, error) {
	s.mu.Lock()
	owner, ok := s.secrets[secret]
	delete(s.secrets, secret)
	s.mu.Unlock()
	if !ok {
		return nil, usecase.ErrInvalidRefreshCredential
	}
	principalID, role, _ := strings.Cut(owner, "|")
	return s.issue(principalID, role)
}

func (s *stubIssuer) Logout(_ context.Context, secret, _ string) error {
	if secret == "explode" {
		return errors.New("store unavailable")
	}
	s.mu.Lock()
	delete(s.secrets, secret)
	s.mu.Unlock()
	return nil
}

func (s *stubIssuer) ParseAccessToken(_ context.Context, token string) (*security.AccessClaims, error) {
	claims, err := s.tokens.Parse(token, time.Now())
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return nil, usecase.ErrExpiredAccessToken
		}
		return nil, usecase.ErrInvalidAccessToken
	}
	return claims, nil
}

func (s *stubIssuer) ActiveCredentials(_ context.Context, principalID string) ([]domain.RefreshCredential, error) {
	return []domain.RefreshCredential{{ID: principalID + "-cred", OwnerID: principalID, CreatedFromAddress: "198.51.100.7"}}, nil
}

type failingCheck struct{}

func (failingCheck) Name() string                      { return "redis" }
func (failingCheck) HealthCheck(context.Context) error { return errors.New("connection refused") }

func newTestRouter(t *testing.T, readiness ...handlers.ReadinessCheck) (*gin.Engine, *stubIssuer) {
	t.Helper()
	return newTestRouterWithConfig(t, &config.AppConfig{App: config.AppSettings{Env: "test"}}, readiness...)
}

func newTestRouterWithConfig(t *testing.T, cfg *config.AppConfig, readiness ...handlers.ReadinessCheck) (*gin.Engine, *stubIssuer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := prometheus.NewRegistry()
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		t.Fatalf("http metrics: %v", err)
	}

	issuer := newStubIssuer(t)
	r := httproutes.Register(httproutes.Dependencies{
		Config:      cfg,
		Logger:      zaptest.NewLogger(t),
		Issuer:      issuer,
		KeySet:      issuer.tokens,
		HTTPMetrics: httpMetrics,
		Gatherer:    registry,
		Readiness:   readiness,
	})
	return r, issuer
}

func postJSON(r http.Handler, path string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func getWithToken(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeTokens(t *testing.T, w *httptest.ResponseRecorder) handlers.TokenResponse {
	t.Helper()
	var resp handlers.TokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode token response: %v (%s)", err, w.Body.String())
	}
	return resp
}

func TestHealthEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)
	if w := getWithToken(r, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", w.Code)
	}
	if w := getWithToken(r, "/readyz", ""); w.Code != http.StatusOK {
		t.Fatalf("expected readyz 200 without checks, got %d", w.Code)
	}

	degraded, _ := newTestRouter(t, failingCheck{})
	w := getWithToken(degraded, "/readyz", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected readyz 503, got %d", w.Code)
	}
	var resp handlers.ReadinessResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode readiness: %v", err)
	}
	if resp.Checks["redis"] != "unavailable" {
		t.Fatalf("expected redis to be reported unavailable, got %+v", resp.Checks)
	}
}

func TestLoginRefreshLogoutFlow(t *testing.T) {
	r, _ := newTestRouter(t)

	w := postJSON(r, "/api/v1/auth/login", map[string]string{"identifier": "clerk", "secret": "pw"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected login 200, got %d (%s)", w.Code, w.Body.String())
	}
	first := decodeTokens(t, w)
	if first.TokenType != "Bearer" || first.ExpiresIn <= 0 {
		t.Fatalf("unexpected token response %+v", first)
	}

	if w := getWithToken(r, "/api/v1/inventory/summary", first.AccessToken); w.Code != http.StatusOK {
		t.Fatalf("expected protected resource 200, got %d", w.Code)
	}

	w = postJSON(r, "/api/v1/auth/refresh", map[string]string{"refresh_token": first.RefreshToken})
	if w.Code != http.StatusOK {
		t.Fatalf("expected refresh 200, got %d", w.Code)
	}
	second := decodeTokens(t, w)
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("expected a new refresh token")
	}

	if w := postJSON(r, "/api/v1/auth/refresh", map[string]string{"refresh_token": first.RefreshToken}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected replayed refresh 401, got %d", w.Code)
	}

	for _, secret := range []string{second.RefreshToken, second.RefreshToken, "unknown", "explode"} {
		if w := postJSON(r, "/api/v1/auth/logout", map[string]string{"refresh_token": secret}); w.Code != http.StatusOK {
			t.Fatalf("expected logout 200 for %q, got %d", secret, w.Code)
		}
	}
}

func TestLoginErrorMapping(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{name: "malformed", body: map[string]string{"identifier": "clerk"}, want: http.StatusBadRequest},
		{name: "wrong secret", body: map[string]string{"identifier": "clerk", "secret": "nope"}, want: http.StatusUnauthorized},
		{name: "suspended", body: map[string]string{"identifier": "former", "secret": "pw"}, want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := postJSON(r, "/api/v1/auth/login", tt.body); w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}

	if w := postJSON(r, "/api/v1/auth/logout", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected malformed logout 400, got %d", w.Code)
	}
}

func TestProtectedRoutes(t *testing.T) {
	r, issuer := newTestRouter(t)

	clerk, err := issuer.issue("p-clerk", "clerk")
	if err != nil {
		t.Fatalf("issue clerk: %v", err)
	}
	admin, err := issuer.issue("p-admin", "admin")
	if err != nil {
		t.Fatalf("issue admin: %v", err)
	}

	if w := getWithToken(r, "/api/v1/me", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := getWithToken(r, "/api/v1/admin/audit", clerk.AccessToken); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", w.Code)
	}

	w := getWithToken(r, "/api/v1/admin/audit?principal_id=p-clerk", admin.AccessToken)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", w.Code)
	}
	var audit handlers.AuditResponse
	if err := json.Unmarshal(w.Body.Bytes(), &audit); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if audit.PrincipalID != "p-clerk" || len(audit.Sessions) != 1 {
		t.Fatalf("unexpected audit response %+v", audit)
	}
	if audit.Sessions[0].CreatedFrom == "198.51.100.7" {
		t.Fatalf("expected session address to be masked")
	}

	w = getWithToken(r, "/api/v1/me", clerk.AccessToken)
	if w.Code != http.StatusOK {
		t.Fatalf("expected /me 200, got %d", w.Code)
	}
	var me handlers.MeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.PrincipalID != "p-clerk" || me.Role != "clerk" {
		t.Fatalf("unexpected me response %+v", me)
	}
}

func TestJWKSAndMetrics(t *testing.T) {
	r, _ := newTestRouter(t)

	w := getWithToken(r, "/.well-known/jwks.json", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected jwks 200, got %d", w.Code)
	}
	var set struct {
		Keys []map[string]string `json:"keys"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &set); err != nil {
		t.Fatalf("decode jwks: %v", err)
	}
	if len(set.Keys) != 1 || set.Keys[0]["kid"] != "k1" {
		t.Fatalf("unexpected jwks %+v", set)
	}

	w = getWithToken(r, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "inventory_auth_http_requests_total") {
		t.Fatalf("expected http request counter in metrics output")
	}
}

func loginFrom(r http.Handler, remoteAddr, forwardedFor string) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(map[string]string{"identifier": "clerk", "secret": "pw"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "inventoryctl/1.0")
	req.Header.Set("X-Forwarded-For", forwardedFor)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestForwardedForIgnoredFromUntrustedPeer(t *testing.T) {
	r, issuer := newTestRouter(t)

	if w := loginFrom(r, "192.0.2.10:41000", "203.0.113.50"); w.Code != http.StatusOK {
		t.Fatalf("expected login 200, got %d", w.Code)
	}
	input := issuer.lastLoginInput()
	if input.Address != "192.0.2.10" {
		t.Fatalf("expected peer address, got %q", input.Address)
	}
	if input.UserAgent != "inventoryctl/1.0" {
		t.Fatalf("expected user agent to reach the issuer, got %q", input.UserAgent)
	}
}

func TestForwardedForHonouredFromTrustedProxy(t *testing.T) {
	cfg := &config.AppConfig{App: config.AppSettings{Env: "test", TrustedProxies: []string{"192.0.2.0/24"}}}
	r, issuer := newTestRouterWithConfig(t, cfg)

	if w := loginFrom(r, "192.0.2.10:41000", "203.0.113.50"); w.Code != http.StatusOK {
		t.Fatalf("expected login 200, got %d", w.Code)
	}
	if got := issuer.lastLoginInput().Address; got != "203.0.113.50" {
		t.Fatalf("expected forwarded client address, got %q", got)
	}

	if w := loginFrom(r, "198.51.100.20:41000", "203.0.113.50"); w.Code != http.StatusOK {
		t.Fatalf("expected login 200, got %d", w.Code)
	}
	if got := issuer.lastLoginInput().Address; got != "198.51.100.20" {
		t.Fatalf("expected peer address outside the trusted range, got %q", got)
	}
}
