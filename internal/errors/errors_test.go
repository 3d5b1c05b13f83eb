package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/pscheid92/stresspulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	err := ValidationError("invalid input")

	assert.Equal(t, TypeValidation, err.Type)
	assert.Equal(t, "invalid input", err.Message)
	assert.Nil(t, err.Cause)
	assert.NotNil(t, err.Context)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())
	assert.Equal(t, "validation: invalid input", err.Error())
}

func TestInternalError(t *testing.T) {
	cause := fmt.Errorf("database connection failed")
	err := InternalError("failed to save reading", cause)

	assert.Equal(t, TypeInternal, err.Type)
	assert.Equal(t, cause, err.Cause)
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
	assert.Contains(t, err.Error(), "database connection failed")
}

func TestInternalErrorWithoutCause(t *testing.T) {
	err := InternalError("something went wrong", nil)
	assert.NotContains(t, err.Error(), "<nil>")
}

func TestWithFieldChaining(t *testing.T) {
	err := ValidationError("invalid level").
		WithField("field", "stressLevel").
		WithField("max", 100)

	assert.Len(t, err.Context, 2)
	assert.Equal(t, "stressLevel", err.Context["field"])
	assert.Equal(t, 100, err.Context["max"])
}

func TestWithFieldNilMap(t *testing.T) {
	err := (&Error{Type: TypeValidation, Message: "test"}).WithField("key", "value")
	assert.Equal(t, "value", err.Context["key"])
}

func TestToResponse(t *testing.T) {
	resp := AsStructuredError(domain.ErrUserNotFound).ToResponse()

	assert.Equal(t, "user not found", resp.Error)
	assert.Equal(t, TypeNotFound, resp.Type)
	assert.Empty(t, resp.Context)
}

func TestUnwrapAndErrorsIs(t *testing.T) {
	rootCause := fmt.Errorf("root")
	wrapped := InternalError("wrapped", rootCause)

	assert.Equal(t, rootCause, errors.Unwrap(wrapped))
	assert.True(t, errors.Is(wrapped, rootCause))
	assert.Nil(t, errors.Unwrap(ValidationError("test")))
}

func TestAsStructuredError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, AsStructuredError(nil))
	})

	t.Run("structured passes through", func(t *testing.T) {
		original := ValidationError("original")
		assert.Same(t, original, AsStructuredError(original))
	})

	t.Run("wrapped structured is found", func(t *testing.T) {
		wrapped := fmt.Errorf("wrapped: %w", RateLimitedError("slow down"))
		result := AsStructuredError(wrapped)
		require.NotNil(t, result)
		assert.Equal(t, TypeRateLimited, result.Type)
	})

	t.Run("unknown error is internal", func(t *testing.T) {
		original := fmt.Errorf("standard error")
		result := AsStructuredError(original)
		assert.Equal(t, TypeInternal, result.Type)
		assert.Equal(t, "internal server error", result.Message)
		assert.Equal(t, original, result.Cause)
	})
}

func TestAsStructuredErrorDomainMapping(t *testing.T) {
	tests := []struct {
		err        error
		wantType   ErrorType
		wantStatus int
	}{
		{domain.ErrInvalidLevel, TypeValidation, http.StatusBadRequest},
		{domain.ErrInvalidUsername, TypeValidation, http.StatusBadRequest},
		{domain.ErrSessionNotFound, TypeUnauthorized, http.StatusUnauthorized},
		{domain.ErrUserNotFound, TypeNotFound, http.StatusNotFound},
		{domain.ErrTooManyHandles, TypeRateLimited, http.StatusTooManyRequests},
		{domain.ErrRegistryStopped, TypeUnavailable, http.StatusServiceUnavailable},
		{domain.ErrRegistryTimedOut, TypeUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			result := AsStructuredError(fmt.Errorf("context: %w", tt.err))
			assert.Equal(t, tt.wantType, result.Type)
			assert.Equal(t, tt.wantStatus, result.HTTPStatus())
			assert.ErrorIs(t, result, tt.err)
		})
	}
}

func TestHTTPStatusAllTypes(t *testing.T) {
	tests := []struct {
		errorType  ErrorType
		wantStatus int
	}{
		{TypeValidation, http.StatusBadRequest},
		{TypeUnauthorized, http.StatusUnauthorized},
		{TypeNotFound, http.StatusNotFound},
		{TypeRateLimited, http.StatusTooManyRequests},
		{TypeInternal, http.StatusInternalServerError},
		{TypeUnavailable, http.StatusServiceUnavailable},
		{ErrorType("unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.errorType), func(t *testing.T) {
			err := &Error{Type: tt.errorType}
			assert.Equal(t, tt.wantStatus, err.HTTPStatus())
		})
	}
}
