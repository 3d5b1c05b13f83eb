package server

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/stresspulse/internal/app"
	"github.com/pscheid92/stresspulse/internal/domain"
	apperrors "github.com/pscheid92/stresspulse/internal/errors"
)

type submitRequest struct {
	Level *int `json:"level"`
}

func (s *Server) handleSubmitRegular(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.Level == nil {
		return apperrors.ValidationError("level is required").WithField("field", "level")
	}

	result, err := s.app.SubmitRegular(c.Request().Context(), currentUser(c).ID, *req.Level)
	if err != nil {
		return err
	}
	return writeSubmitResult(c, result)
}

func (s *Server) handleSubmitSuperstress(c echo.Context) error {
	result, err := s.app.SubmitSuperstress(c.Request().Context(), currentUser(c).ID)
	if err != nil {
		return err
	}
	return writeSubmitResult(c, result)
}

// writeSubmitResult maps a cooldown rejection to 429 with the decision as
// body; it is an expected outcome, not an error.
func writeSubmitResult(c echo.Context, result app.SubmitResult) error {
	status, body := http.StatusCreated, any(result.Reading)
	if !result.Accepted() {
		status, body = http.StatusTooManyRequests, result.Decision
	}
	if err := c.JSON(status, body); err != nil {
		return fmt.Errorf("failed to write submit response: %w", err)
	}
	return nil
}

func (s *Server) handleCooldown(c echo.Context) error {
	kind, err := domain.ParseReadingKind(c.QueryParam("kind"))
	if err != nil {
		return apperrors.ValidationError("kind must be regular or superstress").WithField("kind", c.QueryParam("kind"))
	}

	decision, err := s.app.CooldownStatus(c.Request().Context(), kind, currentUser(c).ID)
	if err != nil {
		return apperrors.InternalError("failed to check cooldown", err)
	}
	if err := c.JSON(http.StatusOK, decision); err != nil {
		return fmt.Errorf("failed to write cooldown response: %w", err)
	}
	return nil
}

func (s *Server) handleUserStats(c echo.Context) error {
	stats, err := s.app.UserStats(c.Request().Context(), currentUser(c).ID)
	if err != nil {
		return apperrors.InternalError("failed to load stats", err)
	}
	if err := c.JSON(http.StatusOK, stats); err != nil {
		return fmt.Errorf("failed to write stats response: %w", err)
	}
	return nil
}

func (s *Server) handleSummary(c echo.Context) error {
	summary, err := s.app.Summary(c.Request().Context())
	if err != nil {
		return apperrors.InternalError("failed to load summary", err)
	}
	if err := c.JSON(http.StatusOK, summary); err != nil {
		return fmt.Errorf("failed to write summary response: %w", err)
	}
	return nil
}
