// Package server assembles the HTTP surface: confirmation intake,
// cycle status, operator login and admin endpoints, health, and
// Prometheus metrics.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmynk/closeout/internal/auth"
	"github.com/mmynk/closeout/internal/config"
	"github.com/mmynk/closeout/internal/metrics"
	"github.com/mmynk/closeout/internal/middleware"
	"github.com/mmynk/closeout/internal/service"
)

// Server holds every handler dependency.
type Server struct {
	cfg      *config.Config
	service  *service.SettlementService
	authn    *auth.PasswordAuthenticator
	jwt      *auth.JWTManager
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
}

// New creates a Server. metrics and gatherer may be nil; the /metrics
// route and request metrics are then disabled.
func New(cfg *config.Config, svc *service.SettlementService, authn *auth.PasswordAuthenticator, jwtManager *auth.JWTManager, m *metrics.Metrics, gatherer prometheus.Gatherer) *Server {
	gin.SetMode(gin.ReleaseMode)
	return &Server{
		cfg:      cfg,
		service:  svc,
		authn:    authn,
		jwt:      jwtManager,
		metrics:  m,
		gatherer: gatherer,
	}
}

// Router builds the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	if s.metrics != nil {
		router.Use(middleware.Metrics(s.metrics))
	}

	router.GET("/health", s.handleHealth)
	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/v1")
	{
		settlements := v1.Group("/settlements")
		settlements.POST("/:cycleID/confirmations", middleware.RequireAPIKey(s.cfg.APIKey), s.handleSubmitConfirmation)
		settlements.GET("/:cycleID", s.handleStatus)

		v1.POST("/auth/login", s.handleLogin)

		admin := v1.Group("/admin")
		admin.Use(middleware.RequireOperator(s.jwt))
		admin.POST("/settlements/:cycleID/close", s.handleRetryClosure)
		admin.GET("/settlements/:cycleID/notifications", s.handleListNotifications)
	}

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "OK",
		"timestamp": time.Now().UTC(),
	})
}
