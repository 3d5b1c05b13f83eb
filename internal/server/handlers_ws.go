package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/stresspulse/internal/broadcast"
	"github.com/pscheid92/stresspulse/internal/domain"
	apperrors "github.com/pscheid92/stresspulse/internal/errors"
	"github.com/pscheid92/stresspulse/internal/metrics"
)

const (
	maxConnectionsPerIP = 50
	upgradesPerSecond   = 5
	upgradeBurst        = 10

	maxInboundMessageSize = 4096
	closeWriteTimeout     = time.Second

	channelIdentified = "identified"
	channelAnonymous  = "anonymous"
)

func (s *Server) handleIdentifiedWebSocket(c echo.Context) error {
	// Authentication happens before the upgrade, but an unauthenticated
	// client still gets an upgraded socket so it can read why it was refused.
	user, authErr := s.authenticate(c, true)
	if authErr != nil && !errors.Is(authErr, domain.ErrSessionNotFound) {
		slog.WarnContext(c.Request().Context(), "WebSocket authentication failed", "error", authErr)
	}

	conn, release, err := s.upgrade(c, channelIdentified)
	if err != nil || conn == nil {
		return err
	}
	defer release()

	if authErr != nil {
		metrics.WebSocketConnectionsTotal.WithLabelValues(channelIdentified, "unauthenticated").Inc()
		rejectConnection(conn, "identity required")
		return nil
	}

	welcome := broadcast.Welcome{Greeting: broadcast.Connected{Message: "connected as " + user.Username, UserID: &user.ID}}
	if err := s.registry.RegisterIdentified(user.ID, conn, welcome); err != nil {
		slog.Warn("Rejecting identified connection", "user_id", user.ID.String(), "error", err)
		metrics.WebSocketConnectionsTotal.WithLabelValues(channelIdentified, "rejected").Inc()
		rejectConnection(conn, registrationFailure(err))
		return nil
	}

	metrics.WebSocketConnectionsTotal.WithLabelValues(channelIdentified, "accepted").Inc()
	s.serve(conn)
	return nil
}

func (s *Server) handleAnonymousWebSocket(c echo.Context) error {
	conn, release, err := s.upgrade(c, channelAnonymous)
	if err != nil || conn == nil {
		return err
	}
	defer release()

	welcome := broadcast.Welcome{
		Greeting: broadcast.Connected{Message: "connected"},
		Summary:  s.summarySnapshot(c.Request().Context()),
	}
	if err := s.registry.RegisterAnonymous(conn, welcome); err != nil {
		slog.Warn("Rejecting anonymous connection", "error", err)
		metrics.WebSocketConnectionsTotal.WithLabelValues(channelAnonymous, "rejected").Inc()
		rejectConnection(conn, registrationFailure(err))
		return nil
	}

	metrics.WebSocketConnectionsTotal.WithLabelValues(channelAnonymous, "accepted").Inc()
	s.serve(conn)
	return nil
}

// upgrade enforces the connection limits and performs the handshake. A nil
// conn with nil error means the response has already been written.
func (s *Server) upgrade(c echo.Context, channel string) (*websocket.Conn, func(), error) {
	ip := c.RealIP()
	if ok, reason := s.limits.Acquire(ip); !ok {
		slog.Warn("WebSocket connection limited", "channel", channel, "reason", string(reason), "ip", ip)
		metrics.WebSocketConnectionsTotal.WithLabelValues(channel, string(reason)).Inc()
		return nil, nil, apperrors.UnavailableError("too many connections", nil).WithField("reason", string(reason))
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.limits.Release(ip)
		// The upgrader has already replied with an HTTP error.
		slog.Debug("WebSocket upgrade failed", "channel", channel, "error", err)
		metrics.WebSocketConnectionsTotal.WithLabelValues(channel, "upgrade_failed").Inc()
		return nil, nil, nil
	}
	return conn, func() { s.limits.Release(ip) }, nil
}

// summarySnapshot gives a new anonymous subscriber the current state so it
// does not have to wait for the next submission. Nil means none could be built.
func (s *Server) summarySnapshot(ctx context.Context) *broadcast.SummaryUpdate {
	summary, err := s.app.LiveSummary(ctx)
	if err != nil {
		slog.Warn("Failed to load summary snapshot", "error", err)
		return nil
	}
	return &broadcast.SummaryUpdate{Data: summary}
}

// serve reads client frames until the connection closes. Cleanup goes through
// the registry, which closes the transport.
func (s *Server) serve(conn *websocket.Conn) {
	started := s.clock.Now()
	metrics.WebSocketConnectionsCurrent.Inc()
	defer func() {
		s.registry.Unregister(conn)
		metrics.WebSocketConnectionsCurrent.Dec()
		metrics.WebSocketConnectionDuration.Observe(s.clock.Since(started).Seconds())
	}()

	conn.SetReadLimit(maxInboundMessageSize)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("WebSocket closed unexpectedly", "error", err)
			}
			return
		}
		s.handleInbound(conn, data)
	}
}

func (s *Server) handleInbound(conn *websocket.Conn, data []byte) {
	msg, err := broadcast.DecodeInbound(data)
	if err != nil {
		slog.Debug("Ignoring malformed client message", "error", err)
		return
	}

	switch m := msg.(type) {
	case broadcast.InboundPing:
		if _, err := s.registry.Send(conn, broadcast.Pong{Time: s.clock.Now().UTC()}); err != nil {
			slog.Debug("Failed to queue pong", "error", err)
		}
	case broadcast.InboundUnknown:
		slog.Debug("Ignoring unknown client message", "type", m.Type)
	}
}

func registrationFailure(err error) string {
	if errors.Is(err, domain.ErrTooManyHandles) {
		return "too many connections"
	}
	return "service unavailable"
}

// rejectConnection writes a single error frame to a connection that never
// made it into the registry, then closes it.
func rejectConnection(conn *websocket.Conn, message string) {
	defer conn.Close()

	deadline := time.Now().Add(closeWriteTimeout)
	if frame, err := broadcast.Encode(broadcast.Error{Message: message}); err == nil {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.WriteMessage(websocket.TextMessage, frame)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), deadline)
}

