package api

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/realfolio/realfolio/internal/api/handlers"
	"github.com/realfolio/realfolio/internal/api/middleware"
	"github.com/realfolio/realfolio/internal/auth"
	"github.com/realfolio/realfolio/internal/config"
	"github.com/realfolio/realfolio/internal/metrics"
	"github.com/realfolio/realfolio/internal/queue"
	"github.com/realfolio/realfolio/internal/rbac"
	"github.com/realfolio/realfolio/internal/service"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"
)

// NewRouter creates and configures the Gin router. q may be nil, in which
// case invitations are created without e-mail notices. oidcAuth is nil
// unless auth.type is oidc.
func NewRouter(cfg *config.Config, db *gorm.DB, q queue.Queue, oidcAuth *auth.OIDCAuthenticator) *gin.Engine {
	// Set Gin mode
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Only listed proxies may supply X-Forwarded-For; an empty list trusts none
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		slog.Error("Invalid trusted proxy list, trusting none", "error", err)
		_ = router.SetTrustedProxies(nil)
	}

	// Middleware
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware(cfg.Server.CORSOrigins))
	if cfg.Metrics.Enabled {
		metrics.Init()
		router.Use(middleware.Metrics())
		router.GET(cfg.Metrics.Path, gin.WrapH(metrics.Handler()))
	}

	// Initialize authenticator
	basicAuth := auth.NewBasicAuthenticator(db, cfg.Auth.JWTSecret)
	basicAuth.SetTokenDuration(cfg.Auth.TokenTTL)
	if cfg.Auth.TrustProxy {
		basicAuth.TrustProxy(cfg.Auth.ProxyAdminGroups)
	}

	// Services
	resolver := service.NewAccessResolver(db)
	ledger := service.NewMembershipLedger(db)
	invitations := service.NewInvitationService(db, q, cfg.Invitation.TTL)
	portfolios := service.NewPortfolioService(db, resolver)

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(db)
	portfolioHandler := handlers.NewPortfolioHandler(portfolios)
	memberHandler := handlers.NewMemberHandler(ledger, resolver)
	invitationHandler := handlers.NewInvitationHandler(invitations)
	auditHandler := handlers.NewAuditHandler(db)
	adminHandler := handlers.NewAdminHandler(db, ledger)

	// Redemption and inspection take a secret; throttle guessing
	tokenRoute := func(c *gin.Context) { c.Next() }
	if cfg.RateLimit.Enabled {
		tokenRoute = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst).Middleware()
	}

	// Swagger documentation
	router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Public routes
	public := router.Group("/api/v1")
	{
		public.GET("/health", handlers.HealthCheck)
		public.GET("/ready", healthHandler.Ready)
		public.GET("/info", healthHandler.GetInfo)
		public.GET("/version", handlers.GetVersion)
		public.POST("/auth/login", handlers.Login(basicAuth))
		public.GET("/auth/session", handlers.Session(basicAuth))
		if oidcAuth != nil {
			public.GET("/auth/oidc/login", handlers.OIDCLogin(oidcAuth))
			public.GET("/auth/oidc/callback", handlers.OIDCCallback(oidcAuth))
		}
		public.POST("/invitations/inspect", tokenRoute, invitationHandler.InspectInvitation)
	}

	managers := middleware.RequirePortfolioRole(ledger, rbac.CanManageMembers)

	// Protected routes (require authentication)
	protected := router.Group("/api/v1")
	protected.Use(basicAuth.Middleware())
	{
		protected.GET("/auth/me", handlers.GetCurrentUser)

		// Portfolio endpoints
		protected.GET("/portfolios", portfolioHandler.ListPortfolios)
		protected.POST("/portfolios", portfolioHandler.CreatePortfolio)
		protected.GET("/portfolios/:id", portfolioHandler.GetPortfolio)
		protected.DELETE("/portfolios/:id", portfolioHandler.DeletePortfolio)

		// Property endpoints
		protected.GET("/portfolios/:id/properties", portfolioHandler.ListProperties)
		protected.POST("/portfolios/:id/properties", portfolioHandler.CreateProperty)
		protected.GET("/portfolios/:id/properties/:propertyId", portfolioHandler.GetProperty)
		protected.DELETE("/portfolios/:id/properties/:propertyId", portfolioHandler.DeleteProperty)
		protected.GET("/portfolios/:id/properties/:propertyId/permissions", memberHandler.GetPermissions)

		// Membership endpoints
		protected.GET("/portfolios/:id/access", memberHandler.GetAccess)
		protected.GET("/portfolios/:id/members", memberHandler.ListMembers)
		protected.PUT("/portfolios/:id/members/:userId/role", memberHandler.ChangeRole)
		protected.PUT("/portfolios/:id/members/:userId/access", memberHandler.SetPropertyAccess)
		protected.DELETE("/portfolios/:id/members/:userId", memberHandler.RemoveMember)

		// Invitation endpoints
		protected.GET("/portfolios/:id/invitations", managers, invitationHandler.ListInvitations)
		protected.POST("/portfolios/:id/invitations", invitationHandler.CreateInvitation)
		protected.DELETE("/portfolios/:id/invitations/:invitationId", invitationHandler.RevokeInvitationByID)
		protected.POST("/invitations/accept", tokenRoute, invitationHandler.AcceptInvitation)
		protected.POST("/invitations/revoke", invitationHandler.RevokeInvitation)

		// Audit endpoints
		protected.GET("/portfolios/:id/audit", managers, auditHandler.ListPortfolioAudit)

		// Admin endpoints
		admin := protected.Group("/admin")
		admin.Use(middleware.RequireAdmin())
		{
			admin.GET("/audit", auditHandler.ListAudit)
			admin.GET("/status", adminHandler.GetMaintenanceStatus)
			admin.POST("/repair/owners", adminHandler.RepairOwners)
		}
	}

	slog.Info("API router initialized", "mode", cfg.Server.Mode, "auth", cfg.Auth.Type)
	return router
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		slog.Info("HTTP request",
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"ip", c.ClientIP(),
		)
	}
}

// corsMiddleware adds CORS headers for the configured origins. "*" answers
// any origin with a wildcard and never allows credentials; listed origins are
// echoed back with credentials allowed.
func corsMiddleware(origins []string) gin.HandlerFunc {
	allowAll := slices.Contains(origins, "*")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		h := c.Writer.Header()
		switch {
		case origin == "":
		case slices.Contains(origins, origin):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			h.Set("Access-Control-Allow-Credentials", "true")
		case allowAll:
			h.Set("Access-Control-Allow-Origin", "*")
		}
		if h.Get("Access-Control-Allow-Origin") != "" {
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
