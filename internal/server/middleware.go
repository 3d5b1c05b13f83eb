package server

import (
	"log/slog"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	apperrors "github.com/pscheid92/stresspulse/internal/errors"
	"github.com/pscheid92/stresspulse/internal/metrics"
	"github.com/pscheid92/stresspulse/internal/platform/logging"
	"golang.org/x/time/rate"
)

const correlationHeader = "X-Correlation-ID"

// correlationMiddleware tags the request context so every log line of the
// request carries the same id. A client-supplied id is reused.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(correlationHeader)
		if id == "" || len(id) > 64 {
			id = logging.NewCorrelationID()
		}
		c.Response().Header().Set(correlationHeader, id)
		ctx := logging.WithCorrelationID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func (s *Server) requestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogError:     true,
		LogRoutePath: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			route := v.RoutePath
			if route == "" {
				route = "unmatched"
			}
			metrics.HTTPRequestsTotal.WithLabelValues(v.Method, route, strconv.Itoa(v.Status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(v.Method, route).Observe(v.Latency.Seconds())

			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}

func newRateLimiter(ratePerSecond float64, burst int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterCleanupInterval,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			metrics.RateLimitedTotal.WithLabelValues(c.Path()).Inc()
			return apperrors.RateLimitedError("rate limit exceeded")
		},
	})
}
