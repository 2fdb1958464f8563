package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/platform-authz/internal/infra/config"
	"github.com/arklim/platform-authz/internal/transport/http/handlers"
	"github.com/arklim/platform-authz/internal/transport/http/middleware"
)

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	Gate        middleware.Admitter
	Revocations middleware.TokenRevocations
	Resolver    middleware.RouteResolver
	Validator   handlers.PermissionValidator
	HTTPMetrics *middleware.HTTPMetrics
	// Gatherer backs /metrics. Nil falls back to the default registry.
	Gatherer        prometheus.Gatherer
	ReadinessChecks map[string]handlers.ReadinessCheck
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config != nil && deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	if deps.HTTPMetrics != nil {
		r.Use(deps.HTTPMetrics.Handler())
	}

	healthOptions := make([]handlers.HealthOption, 0, len(deps.ReadinessChecks))
	for name, check := range deps.ReadinessChecks {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck(name, check))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	} else {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	api.Use(middleware.Identity(deps.Revocations))
	if deps.Gate != nil {
		useNativeStatus := deps.Config != nil && deps.Config.App.UseNativeStatus
		api.Use(middleware.Maintenance(deps.Gate, useNativeStatus))
	}
	if deps.Resolver != nil && deps.Validator != nil {
		api.Use(middleware.RouteGuard(deps.Resolver, deps.Validator))
	}

	v1 := api.Group("/v1")
	{
		if deps.Validator != nil {
			permissionHandler := handlers.NewPermissionHandler(deps.Validator)
			permissionHandler.RegisterRoutes(v1.Group("/permissions"))
		}
	}

	return r
}
