package web

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nightcap-social/nightcap"
)

// Config carries the HTTP-surface tunables. Engine behavior is configured on
// the engine itself.
type Config struct {
	CookieDomain  string
	SecureCookies bool
	// HoneypotField is the hidden form field bots fill and humans never see.
	HoneypotField string
	// MetricsPath defaults to /metrics.
	MetricsPath string
}

func (c *Config) applyDefaults() {
	if c.HoneypotField == "" {
		c.HoneypotField = "website"
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
}

// Server owns the gin router and all handler state.
type Server struct {
	engine   *nightcap.Engine
	cfg      Config
	logger   *slog.Logger
	metrics  *httpMetrics
	registry *prometheus.Registry
}

func NewServer(engine *nightcap.Engine, cfg Config, logger *slog.Logger, registry *prometheus.Registry) *Server {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:   engine,
		cfg:      cfg,
		logger:   logger,
		metrics:  newHTTPMetrics(registry),
		registry: registry,
	}
}

// Router assembles the route table. Guard ordering is load-bearing: honeypot
// first, CSRF second, session resolution last, so a rejected request never
// reaches domain logic.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(recovery(s.logger))
	router.Use(requestLogger(s.logger, s.metrics))
	router.Use(s.honeypotGuard())
	router.Use(s.csrfGuard())

	router.GET("/healthz", s.handleHealth)
	if s.registry != nil {
		router.GET(s.cfg.MetricsPath, gin.WrapH(metricsHandler(s.registry)))
	}
	router.GET("/csrf", s.handleCSRFToken)

	router.POST("/login", s.handleLogin)
	router.POST("/logout", s.requireSession(), s.handleLogout)
	router.POST("/logout/all", s.requireSession(), s.handleLogoutAll)
	router.GET("/settings", s.requireSession(), s.handleSettings)

	router.POST("/verify/request", s.handleVerifyRequest)
	router.POST("/verify", s.handleVerifySubmit)
	router.GET("/verify", s.handleVerifyLink)
	router.POST("/password/reset", s.handlePasswordReset)
	router.POST("/email/change", s.requireSession(), s.handleEmailChange)

	router.POST("/2fa/enable", s.requireSession(), s.handleTwoFactorEnable)
	router.POST("/2fa/verify", s.handleTwoFactorVerify)
	router.POST("/2fa/disable", s.requireSession(), s.handleTwoFactorDisable)
	router.POST("/2fa/cancel", s.requireSession(), s.handleTwoFactorCancel)

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

func (s *Server) handleCSRFToken(c *gin.Context) {
	token := s.ensureCSRFCookie(c)
	c.JSON(200, gin.H{"csrf_token": token})
}
