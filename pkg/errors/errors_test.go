package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	assert.Equal(t, "RATE_LIMIT_EXCEEDED: rate limit exceeded", NewRateLimitError().Error())

	cause := errors.New("redis: connection refused")
	wrapped := WrapError(cause, ErrCodeServiceUnavailable, "store unavailable", http.StatusServiceUnavailable)
	assert.Equal(t, "SERVICE_UNAVAILABLE: store unavailable: redis: connection refused", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)

	same := WrapError(cause, ErrCodeInternal, cause.Error(), http.StatusInternalServerError)
	assert.Equal(t, "INTERNAL_ERROR: redis: connection refused", same.Error())
}

func TestAppError_WithDetail(t *testing.T) {
	err := NewServiceUnavailableError("too many concurrent requests").
		WithDetail("max_concurrent", 8).
		WithDetail("retry", true)

	assert.Equal(t, http.StatusServiceUnavailable, err.HTTPStatus)
	assert.Equal(t, map[string]interface{}{"max_concurrent": 8, "retry": true}, err.Details)
}

func TestGetAppError(t *testing.T) {
	appErr := NewInternalError("boom")
	assert.Same(t, appErr, GetAppError(appErr))
	assert.Same(t, appErr, GetAppError(fmt.Errorf("handler: %w", appErr)))
	assert.Nil(t, GetAppError(errors.New("plain")))
	assert.Nil(t, GetAppError(nil))
}

func TestCode(t *testing.T) {
	require.Equal(t, ErrCodeRateLimit, Code(NewRateLimitError()))
	assert.Equal(t, ErrCodeInternal, Code(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), Code(nil))
}
