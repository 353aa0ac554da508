package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"livesignal/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDomain(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   ErrorCode
		status int
	}{
		{"not found", domain.ErrSessionNotFound, ErrCodeSessionNotFound, http.StatusNotFound},
		{"ended", domain.ErrSessionEnded, ErrCodeSessionEnded, http.StatusGone},
		{"duplicate", domain.ErrDuplicateBroadcaster, ErrCodeDuplicateBroadcaster, http.StatusConflict},
		{"role conflict", domain.ErrRoleConflict, ErrCodeRoleConflict, http.StatusConflict},
		{"full", domain.ErrSessionFull, ErrCodeSessionFull, http.StatusConflict},
		{"invalid wrapped", fmt.Errorf("%w: bad kind", domain.ErrInvalid), ErrCodeInvalidInput, http.StatusBadRequest},
		{"not owner", domain.ErrNotOwner, ErrCodeForbidden, http.StatusForbidden},
		{"unauthenticated", domain.ErrUnauthenticated, ErrCodeUnauthorized, http.StatusUnauthorized},
		{"unknown", errors.New("boom"), ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := FromDomain(tt.err)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, tt.status, appErr.HTTPStatus)
			assert.ErrorIs(t, appErr, tt.err)
		})
	}
}

func TestFromDomain_PassesAppErrorThrough(t *testing.T) {
	rateErr := NewRateLimitError()
	assert.Same(t, rateErr, FromDomain(fmt.Errorf("read: %w", rateErr)))
	assert.Equal(t, ErrCodeRateLimit, Code(rateErr))
	assert.Nil(t, FromDomain(nil))
}
