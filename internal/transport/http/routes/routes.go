package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/inventory-auth/internal/infra/config"
	"github.com/arklim/inventory-auth/internal/transport/http/handlers"
	"github.com/arklim/inventory-auth/internal/transport/http/middleware"
)

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	Issuer      handlers.CredentialIssuer
	KeySet      handlers.KeySetSource
	RateLimiter *middleware.RateLimiter
	HTTPMetrics *middleware.HTTPMetrics
	// Gatherer backs /metrics; nil serves the default registry.
	Gatherer  prometheus.Gatherer
	Readiness []handlers.ReadinessCheck
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if err := r.SetTrustedProxies(deps.Config.App.TrustedProxies); err != nil {
		deps.Logger.Error("invalid trusted proxies, forwarded headers ignored", zap.Error(err))
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(deps.HTTPMetrics.Handler())
	if len(deps.Config.App.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(deps.Config.App.AllowedOrigins))
	}

	healthHandler := handlers.NewHealthHandler(deps.Readiness...)
	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Ready)
	r.GET("/metrics", metricsHandler(deps.Gatherer))
	r.GET("/.well-known/jwks.json", handlers.NewJWKSHandler(deps.KeySet).Keys)

	if deps.Issuer == nil {
		return r
	}

	api := r.Group("/api/v1")
	{
		authHandler := handlers.NewAuthHandler(deps.Issuer)
		authHandler.RegisterRoutes(api.Group("/auth"),
			rateLimitGuard(deps, "login", deps.Config.RateLimit.LoginMaxAttempts),
			rateLimitGuard(deps, "refresh", deps.Config.RateLimit.RefreshMaxAttempts),
		)

		resources := handlers.NewResourceHandler(deps.Issuer)
		protected := api.Group("", middleware.RequireAuth(deps.Issuer))
		protected.GET("/me", resources.Me)
		protected.GET("/inventory/summary", resources.InventorySummary)
		protected.GET("/admin/audit", middleware.RequireRole("admin"), resources.Audit)
	}

	return r
}

func metricsHandler(gatherer prometheus.Gatherer) gin.HandlerFunc {
	if gatherer == nil {
		return gin.WrapH(promhttp.Handler())
	}
	return gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

func rateLimitGuard(deps Dependencies, name string, limit int) gin.HandlerFunc {
	if deps.RateLimiter == nil || limit <= 0 {
		return nil
	}
	return deps.RateLimiter.RateLimit(middleware.RateLimitRule{
		Name:       name,
		Limit:      limit,
		Window:     deps.Config.RateLimit.WindowDuration,
		Identifier: middleware.ClientIPIdentifier(),
	})
}
