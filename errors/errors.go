package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")

	// Credential verification
	ErrMissingCredential  = fmt.Errorf("missing credential")
	ErrInvalidSignature   = fmt.Errorf("invalid credential signature")
	ErrExpiredCredential  = fmt.Errorf("credential expired")
	ErrUserNotFound       = fmt.Errorf("user not found")
	ErrInvalidCredentials = fmt.Errorf("invalid email or password")
	ErrTokenGeneration    = fmt.Errorf("token generation failed")

	// Accounts
	ErrInvalidRequest    = fmt.Errorf("invalid request")
	ErrInvalidPassword   = fmt.Errorf("password does not meet complexity requirements")
	ErrUserAlreadyExists = fmt.Errorf("user already exists")

	// Realtime
	ErrConnectionClosed  = fmt.Errorf("connection closed")
	ErrSendBufferFull    = fmt.Errorf("connection send buffer full")
	ErrUnknownConnection = fmt.Errorf("unknown connection")
	ErrHubStopped        = fmt.Errorf("hub stopped")
	ErrHubAlreadyStarted = fmt.Errorf("hub already started")
	ErrUnknownEventType  = fmt.Errorf("unknown event type")
)

// IsAuthError reports whether err is one of the credential verification failures.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingCredential) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrExpiredCredential) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrInvalidCredentials)
}

// HTTPStatus maps a domain error onto the status code returned by the HTTP layer.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsAuthError(err):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUserAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidPassword), errors.Is(err, ErrUnknownEventType):
		return http.StatusBadRequest
	case errors.Is(err, ErrHubStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Public returns the status and the message a client may see for err.
// Internal failures keep their details out of the response body.
func Public(err error) (int, string) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		return status, "internal error"
	}
	return status, err.Error()
}
