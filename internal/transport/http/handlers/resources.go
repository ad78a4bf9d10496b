package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/inventory-auth/internal/core/domain"
	"github.com/arklim/inventory-auth/internal/infra/logger"
	"github.com/arklim/inventory-auth/internal/transport/http/middleware"
)

// ResourceHandler serves the authenticated endpoints of the admin dashboard.
type ResourceHandler struct {
	issuer CredentialIssuer
	now    func() time.Time
}

// NewResourceHandler constructs ResourceHandler.
func NewResourceHandler(issuer CredentialIssuer) *ResourceHandler {
	return &ResourceHandler{issuer: issuer, now: time.Now}
}

// Me returns the caller's claims and active sessions.
func (h *ResourceHandler) Me(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	credentials, err := h.issuer.ActiveCredentials(c.Request.Context(), claims.PrincipalID())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to list sessions"))
		return
	}

	resp := MeResponse{
		PrincipalID: claims.PrincipalID(),
		Email:       claims.Email,
		Role:        claims.Role,
		Sessions:    summarizeCredentials(credentials),
	}
	if claims.ExpiresAt != nil {
		resp.AccessExpiresAt = claims.ExpiresAt.Time
	}
	c.JSON(http.StatusOK, resp)
}

// InventorySummary is a placeholder protected resource used by dashboard clients.
func (h *ResourceHandler) InventorySummary(c *gin.Context) {
	principalID, _ := middleware.GetAuthenticatedPrincipalID(c)
	c.JSON(http.StatusOK, InventorySummaryResponse{
		RequestedBy: principalID,
		GeneratedAt: h.now().UTC(),
		Status:      "ok",
	})
}

// Audit lists the active sessions of the principal named by the principal_id query parameter.
func (h *ResourceHandler) Audit(c *gin.Context) {
	principalID := strings.TrimSpace(c.Query("principal_id"))
	if principalID == "" {
		principalID, _ = middleware.GetAuthenticatedPrincipalID(c)
	}

	credentials, err := h.issuer.ActiveCredentials(c.Request.Context(), principalID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to list sessions"))
		return
	}

	c.JSON(http.StatusOK, AuditResponse{
		PrincipalID: principalID,
		Sessions:    summarizeCredentials(credentials),
	})
}

func summarizeCredentials(credentials []domain.RefreshCredential) []CredentialSummary {
	summaries := make([]CredentialSummary, 0, len(credentials))
	for _, credential := range credentials {
		summaries = append(summaries, CredentialSummary{
			ID:          credential.ID,
			IssuedAt:    credential.IssuedAt,
			ExpiresAt:   credential.ExpiresAt,
			CreatedFrom: logger.MaskIP(credential.CreatedFromAddress),
			UserAgent:   credential.CreatedUserAgent,
		})
	}
	return summaries
}
