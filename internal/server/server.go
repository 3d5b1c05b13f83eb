package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/stresspulse/internal/app"
	"github.com/pscheid92/stresspulse/internal/broadcast"
	"github.com/pscheid92/stresspulse/internal/domain"
	"github.com/pscheid92/stresspulse/internal/platform/config"
)

type appService interface {
	Login(ctx context.Context, username string) (*domain.User, string, error)
	Logout(ctx context.Context, token string) error
	Authenticate(ctx context.Context, token string) (*domain.User, error)
	SubmitRegular(ctx context.Context, userID uuid.UUID, level int) (app.SubmitResult, error)
	SubmitSuperstress(ctx context.Context, userID uuid.UUID) (app.SubmitResult, error)
	CooldownStatus(ctx context.Context, kind domain.ReadingKind, userID uuid.UUID) (domain.CooldownDecision, error)
	Summary(ctx context.Context) (domain.Summary, error)
	LiveSummary(ctx context.Context) (domain.Summary, error)
	UserStats(ctx context.Context, userID uuid.UUID) (domain.UserStats, error)
}

// liveRegistry is the part of the connection registry the socket handlers use.
type liveRegistry interface {
	RegisterIdentified(userID uuid.UUID, conn broadcast.Transport, welcome broadcast.Welcome) error
	RegisterAnonymous(conn broadcast.Transport, welcome broadcast.Welcome) error
	Unregister(conn broadcast.Transport) bool
	Send(conn broadcast.Transport, msg broadcast.Outbound) (broadcast.Delivery, error)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	app      appService
	registry liveRegistry

	sessionStore *sessions.CookieStore
	upgrader     websocket.Upgrader
	limits       *ConnectionLimits
	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, app appService, registry liveRegistry, healthChecks []HealthCheck, clock clockwork.Clock) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		clock:        clock,
		app:          app,
		registry:     registry,
		sessionStore: setupSessionStore(cfg),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     NewCheckOrigin(cfg.AppURL, !cfg.IsProduction()),
		},
		limits: NewConnectionLimits(LimitsConfig{
			GlobalMax: int64(cfg.MaxWebSocketConnections),
			PerIPMax:  maxConnectionsPerIP,
			PerSecond: upgradesPerSecond,
			Burst:     upgradeBurst,
			Clock:     clock,
		}),
		healthChecks: healthChecks,
		startTime:    clock.Now(),
	}

	srv.registerRoutes()
	return srv
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Session keys
const (
	sessionName     = "stresspulse-session"
	sessionKeyToken = "token"
)

func setupSessionStore(cfg *config.Config) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	}
	return store
}
