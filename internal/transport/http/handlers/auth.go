package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/inventory-auth/internal/core/domain"
	"github.com/arklim/inventory-auth/internal/infra/security"
	"github.com/arklim/inventory-auth/internal/usecase"
)

// CredentialIssuer is the subset of the issuer the HTTP layer drives.
type CredentialIssuer interface {
	Authenticate(ctx context.Context, input usecase.LoginInput) (*usecase.TokenPair, error)
	Refresh(ctx context.Context, secret, address string) (*usecase.TokenPair, error)
	Logout(ctx context.Context, secret, address string) error
	ParseAccessToken(ctx context.Context, token string) (*security.AccessClaims, error)
	ActiveCredentials(ctx context.Context, principalID string) ([]domain.RefreshCredential, error)
}

var (
	loginErrorCases = []ErrorCase{
		{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid credentials"},
		{Err: usecase.ErrAccountNotActive, Status: http.StatusForbidden, Message: "account not active"},
	}
	refreshErrorCases = []ErrorCase{
		{Err: usecase.ErrInvalidRefreshCredential, Status: http.StatusUnauthorized, Message: "invalid refresh credential"},
	}
)

// AuthHandler exposes login, refresh and logout.
type AuthHandler struct {
	issuer CredentialIssuer
	now    func() time.Time
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(issuer CredentialIssuer) *AuthHandler {
	return &AuthHandler{issuer: issuer, now: time.Now}
}

// RegisterRoutes binds authentication routes. loginGuard and refreshGuard run ahead of their handlers
// and are typically rate limiters; nil guards are skipped.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, loginGuard, refreshGuard gin.HandlerFunc) {
	r.POST("/login", chain(loginGuard, h.login)...)
	r.POST("/refresh", chain(refreshGuard, h.refresh)...)
	r.POST("/logout", h.logout)
}

func chain(guard, handler gin.HandlerFunc) []gin.HandlerFunc {
	if guard == nil {
		return []gin.HandlerFunc{handler}
	}
	return []gin.HandlerFunc{guard, handler}
}

func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "identifier and secret are required"))
		return
	}

	pair, err := h.issuer.Authenticate(c.Request.Context(), usecase.LoginInput{
		Identifier: req.Identifier,
		Secret:     req.Secret,
		Address:    c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		RespondWithMappedError(c, err, loginErrorCases, http.StatusInternalServerError, "authentication failed")
		return
	}

	c.JSON(http.StatusOK, h.tokenResponse(pair))
}

func (h *AuthHandler) refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "refresh_token is required"))
		return
	}

	pair, err := h.issuer.Refresh(c.Request.Context(), req.RefreshToken, c.ClientIP())
	if err != nil {
		RespondWithMappedError(c, err, refreshErrorCases, http.StatusInternalServerError, "failed to refresh credentials")
		return
	}

	c.JSON(http.StatusOK, h.tokenResponse(pair))
}

// logout answers 200 for every well-formed request, including unknown or already revoked secrets.
func (h *AuthHandler) logout(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "refresh_token is required"))
		return
	}

	if err := h.issuer.Logout(c.Request.Context(), req.RefreshToken, c.ClientIP()); err != nil {
		_ = c.Error(err)
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "logged out"})
}

func (h *AuthHandler) tokenResponse(pair *usecase.TokenPair) TokenResponse {
	return TokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        pair.TokenType,
		ExpiresIn:        pair.ExpiresIn(h.now()),
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}
