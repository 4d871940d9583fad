package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/keyward/internal/ratelimit"
	"github.com/layer-3/keyward/service"
	"github.com/rs/zerolog/log"
)

// Services are the application services the router exposes
type Services struct {
	Auth      *service.AuthService
	Grants    *service.GrantService
	Resources *service.ResourceService
	Keys      *service.KeyService
}

// RouterOptions holds optional router infrastructure
type RouterOptions struct {
	Limiter *ratelimit.Limiter // nil disables rate limiting
	Metrics *Metrics           // nil disables /metrics
	Health  map[string]HealthCheck
	Now     func() time.Time

	// TrustedProxies lists the proxy addresses or CIDRs whose forwarding
	// headers are believed. Empty means the peer address is the client.
	TrustedProxies []string
}

// SetupRouter sets up the Gin router
func SetupRouter(svc Services, opts RouterOptions) *gin.Engine {
	router := gin.New()
	if err := router.SetTrustedProxies(opts.TrustedProxies); err != nil {
		log.Error().Err(err).Strs("trusted_proxies", opts.TrustedProxies).Msg("Invalid trusted proxies, ignoring forwarding headers")
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(gin.Recovery(), RequestLogger())

	if opts.Metrics != nil {
		router.Use(opts.Metrics.Middleware())
		router.GET("/metrics", opts.Metrics.Handler())
	}

	// Create handlers
	authHandlers := NewAuthHandlers(svc.Auth)
	accessHandlers := NewAccessHandlers(svc.Grants, svc.Keys)
	resourceHandlers := NewResourceHandlers(svc.Resources)

	limited := RateLimit(opts.Limiter, opts.Now)
	authenticated := AuthMiddleware(svc.Auth)

	api := router.Group("/api")
	api.GET("/health", Health(opts.Health))

	// Auth routes
	auth := api.Group("/auth")
	{
		auth.POST("/challenge", limited, authHandlers.Challenge)
		auth.POST("/verify", limited, authHandlers.Verify)
		auth.POST("/logout", authenticated, authHandlers.Logout)
		auth.GET("/me", authenticated, authHandlers.Me)
	}

	resources := api.Group("/resources", authenticated)
	{
		resources.POST("", resourceHandlers.Register)
		resources.GET("", resourceHandlers.ListMine)
		resources.GET("/:id", resourceHandlers.Get)
	}

	access := api.Group("/access-control", authenticated)
	{
		access.GET("/grants", accessHandlers.ListGrants)
		access.POST("/grants", accessHandlers.UpsertGrant)
		access.POST("/grants/revoke", accessHandlers.RevokeGrant)
		access.POST("/key/challenge", limited, accessHandlers.KeyChallenge)
		access.POST("/key/claim", limited, accessHandlers.ClaimKey)
	}

	return router
}
