package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/stresspulse/internal/domain"
	apperrors "github.com/pscheid92/stresspulse/internal/errors"
)

const contextKeyUser = "user"

type loginRequest struct {
	Username string `json:"username"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	user, token, err := s.app.Login(c.Request().Context(), req.Username)
	if err != nil {
		return err
	}

	session, _ := s.sessionStore.Get(c.Request(), sessionName)
	session.Values[sessionKeyToken] = token
	if err := session.Save(c.Request(), c.Response()); err != nil {
		return apperrors.InternalError("failed to save session", err)
	}

	slog.InfoContext(c.Request().Context(), "User logged in", "user_id", user.ID.String())
	if err := c.JSON(http.StatusOK, loginResponse{Token: token, User: user}); err != nil {
		return fmt.Errorf("failed to write login response: %w", err)
	}
	return nil
}

func (s *Server) handleLogout(c echo.Context) error {
	if token := s.requestToken(c, false); token != "" {
		if err := s.app.Logout(c.Request().Context(), token); err != nil {
			return apperrors.InternalError("failed to delete session", err)
		}
	}

	session, _ := s.sessionStore.Get(c.Request(), sessionName)
	session.Options.MaxAge = -1
	if err := session.Save(c.Request(), c.Response()); err != nil {
		return apperrors.InternalError("failed to clear session", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleMe(c echo.Context) error {
	if err := c.JSON(http.StatusOK, currentUser(c)); err != nil {
		return fmt.Errorf("failed to write user response: %w", err)
	}
	return nil
}

// requestToken looks for a session token in the Authorization header, then
// the session cookie, then (for WebSocket upgrades only) the token query
// parameter, since browsers cannot set headers on a WebSocket handshake.
func (s *Server) requestToken(c echo.Context, allowQuery bool) string {
	if header := c.Request().Header.Get(echo.HeaderAuthorization); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}

	if session, err := s.sessionStore.Get(c.Request(), sessionName); err == nil {
		if token, ok := session.Values[sessionKeyToken].(string); ok && token != "" {
			return token
		}
	}

	if allowQuery {
		return c.QueryParam("token")
	}
	return ""
}

// authenticate resolves the request's token to a user.
func (s *Server) authenticate(c echo.Context, allowQuery bool) (*domain.User, error) {
	token := s.requestToken(c, allowQuery)
	if token == "" {
		return nil, domain.ErrSessionNotFound
	}

	user, err := s.app.Authenticate(c.Request().Context(), token)
	if errors.Is(err, domain.ErrUserNotFound) {
		// The session outlived its user (wiped database).
		return nil, domain.ErrSessionNotFound
	}
	return user, err
}

func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := s.authenticate(c, false)
		if errors.Is(err, domain.ErrSessionNotFound) {
			return apperrors.UnauthorizedError("not authenticated")
		}
		if err != nil {
			return err
		}

		c.Set("userID", user.ID)
		c.Set(contextKeyUser, user)
		return next(c)
	}
}

func currentUser(c echo.Context) *domain.User {
	user, _ := c.Get(contextKeyUser).(*domain.User)
	return user
}
