package errors

import (
	"errors"
	"net/http"

	"livesignal/internal/core/domain"
)

var domainErrors = []struct {
	err    error
	code   ErrorCode
	status int
}{
	{domain.ErrSessionNotFound, ErrCodeSessionNotFound, http.StatusNotFound},
	{domain.ErrSessionEnded, ErrCodeSessionEnded, http.StatusGone},
	{domain.ErrDuplicateBroadcaster, ErrCodeDuplicateBroadcaster, http.StatusConflict},
	{domain.ErrRoleConflict, ErrCodeRoleConflict, http.StatusConflict},
	{domain.ErrSessionFull, ErrCodeSessionFull, http.StatusConflict},
	{domain.ErrOutOfOrderDrop, ErrCodeOutOfOrderDrop, http.StatusConflict},
	{domain.ErrSlowConsumer, ErrCodeSlowConsumer, http.StatusServiceUnavailable},
	{domain.ErrInvalid, ErrCodeInvalidInput, http.StatusBadRequest},
	{domain.ErrNotOwner, ErrCodeForbidden, http.StatusForbidden},
	{domain.ErrUnauthenticated, ErrCodeUnauthorized, http.StatusUnauthorized},
	{domain.ErrConnectionNotFound, ErrCodeNotFound, http.StatusNotFound},
	{domain.ErrConnectionClosed, ErrCodeNotFound, http.StatusGone},
}

// FromDomain maps a domain error to an AppError. Errors outside the taxonomy
// become internal errors; AppErrors pass through unchanged.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}
	for _, de := range domainErrors {
		if errors.Is(err, de.err) {
			return WrapError(err, de.code, err.Error(), de.status)
		}
	}
	return WrapError(err, ErrCodeInternal, "internal error", http.StatusInternalServerError)
}

// Code returns the wire error code for err.
func Code(err error) ErrorCode {
	if appErr := FromDomain(err); appErr != nil {
		return appErr.Code
	}
	return ""
}
