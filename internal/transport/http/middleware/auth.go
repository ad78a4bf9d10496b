package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/inventory-auth/internal/infra/security"
	"github.com/arklim/inventory-auth/internal/usecase"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// AccessTokenParser validates bearer access credentials.
type AccessTokenParser interface {
	ParseAccessToken(ctx context.Context, token string) (*security.AccessClaims, error)
}

// RequireAuth validates the Authorization header and stores the verified claims.
// Every failure answers 401 so clients know a refresh may recover the call.
func RequireAuth(parser AccessTokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, message := bearerToken(c.GetHeader("Authorization"))
		if message != "" {
			c.Header("WWW-Authenticate", `Bearer realm="inventory"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, message))
			return
		}

		claims, err := parser.ParseAccessToken(c.Request.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, usecase.ErrExpiredAccessToken):
				c.Header("WWW-Authenticate", `Bearer error="invalid_token", error_description="expired"`)
				c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "access token expired"))
			case errors.Is(err, usecase.ErrInvalidAccessToken):
				c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
				c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "invalid access token"))
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError, newErrorResponse(c, "authentication failed"))
			}
			return
		}

		c.Set(PrincipalIDKey, claims.PrincipalID())
		c.Set(ClaimsKey, claims)
		GetRequestContext(c).PrincipalID = claims.PrincipalID()

		c.Next()
	}
}

func bearerToken(header string) (string, string) {
	if header == "" {
		return "", "missing authorization header"
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found {
		return "", "invalid authorization format: expected 'Bearer <token>'"
	}
	if !strings.EqualFold(scheme, "Bearer") {
		return "", "invalid authorization format: must start with 'Bearer'"
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", "missing access token"
	}
	return token, ""
}

// RequireRole rejects authenticated callers whose role claim matches none of roles with 403.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "authentication required"))
			return
		}

		for _, role := range roles {
			if claims.HasRole(role) {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, newErrorResponse(c, "insufficient permissions"))
	}
}
