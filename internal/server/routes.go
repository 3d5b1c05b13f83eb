package server

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	apperrors "github.com/pscheid92/stresspulse/internal/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	authRatePerSecond   = 1
	authBurst           = 5
	submitRatePerSecond = 1
	submitBurst         = 3
	maxRequestBody      = "16K"
)

func (s *Server) registerRoutes() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(correlationMiddleware)
	s.echo.Use(s.requestLoggerMiddleware())
	s.echo.Use(apperrors.Middleware())
	s.echo.Use(middleware.BodyLimit(maxRequestBody))
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         63072000, // 2 years; only sent over HTTPS
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))

	s.registerHealthRoutes()
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	authLimiter := newRateLimiter(authRatePerSecond, authBurst)
	auth := s.echo.Group("/api/auth")
	auth.POST("/login", s.handleLogin, authLimiter)
	auth.POST("/logout", s.handleLogout, authLimiter)
	auth.GET("/me", s.handleMe, s.requireAuth)

	submitLimiter := newRateLimiter(submitRatePerSecond, submitBurst)
	stress := s.echo.Group("/api/stress", s.requireAuth)
	stress.POST("", s.handleSubmitRegular, submitLimiter)
	stress.POST("/superstress", s.handleSubmitSuperstress, submitLimiter)
	stress.GET("/cooldown", s.handleCooldown)
	stress.GET("/me", s.handleUserStats)

	s.echo.GET("/api/summary", s.handleSummary)

	s.echo.GET("/ws", s.handleIdentifiedWebSocket)
	s.echo.GET("/ws/public", s.handleAnonymousWebSocket)
}
