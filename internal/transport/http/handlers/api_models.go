package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/inventory-auth/internal/transport/http/middleware"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: middleware.GetTraceID(c),
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// LoginRequest defines the payload for the login endpoint.
type LoginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Secret     string `json:"secret" binding:"required"`
}

// RefreshRequest carries the opaque refresh secret for refresh and logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// TokenResponse is returned by login and refresh.
type TokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// CredentialSummary describes an active refresh credential without its secret.
type CredentialSummary struct {
	ID          string    `json:"id"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedFrom string    `json:"created_from,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
}

// MeResponse describes the authenticated caller.
type MeResponse struct {
	PrincipalID     string              `json:"principal_id"`
	Email           string              `json:"email,omitempty"`
	Role            string              `json:"role"`
	AccessExpiresAt time.Time           `json:"access_expires_at"`
	Sessions        []CredentialSummary `json:"sessions"`
}

// InventorySummaryResponse is the sample protected resource.
type InventorySummaryResponse struct {
	RequestedBy string    `json:"requested_by"`
	GeneratedAt time.Time `json:"generated_at"`
	Status      string    `json:"status"`
}

// AuditResponse lists the active sessions of a principal for administrators.
type AuditResponse struct {
	PrincipalID string              `json:"principal_id"`
	Sessions    []CredentialSummary `json:"sessions"`
}

// HealthResponse describes liveness information.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse reports dependency availability.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
