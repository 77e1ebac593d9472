package cloud

import (
	"fmt"

	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/pkg/errors"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrQuotaExceeded    = errors.New("insufficient storage quota")
	ErrNotAuthenticated = errors.New("not authenticated")
)

// ServiceError is returned when a backend rejects an operation.
type ServiceError struct {
	Service string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil && e.Err != ErrNotFound && e.Err != ErrQuotaExceeded {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Service == "" {
		return msg
	}
	return e.Service + ": " + msg
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// AuthenticationError means credentials are missing, invalid or expired.
// It is always recoverable by authenticating again.
type AuthenticationError struct {
	ServiceError
}

func (e *AuthenticationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNotAuthenticated
}

func NewServiceError(service, message string, err error) *ServiceError {
	return &ServiceError{Service: service, Message: message, Err: err}
}

func NewAuthError(service, message string) *AuthenticationError {
	return &AuthenticationError{ServiceError{Service: service, Message: message}}
}

func NotFoundError(service, what string) *ServiceError {
	return &ServiceError{Service: service, Message: what + " not found", Err: ErrNotFound}
}

func QuotaError(service, message string) *ServiceError {
	if message == "" {
		message = "insufficient storage quota"
	}
	return &ServiceError{Service: service, Message: message, Err: ErrQuotaExceeded}
}

func IsAuthError(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}

// IsServiceError reports whether err is a ServiceError or one of its subtypes.
func IsServiceError(err error) bool {
	if IsAuthError(err) {
		return true
	}
	var svcErr *ServiceError
	return errors.As(err, &svcErr)
}

// Classify maps err onto the user-facing error categories.
func Classify(err error) models.ErrorKind {
	switch {
	case err == nil:
		return models.NoErrorKind
	case IsAuthError(err):
		return models.AuthenticationErrorKind
	case IsServiceError(err):
		return models.ServiceErrorKind
	default:
		return models.UnexpectedErrorKind
	}
}

// ServiceName returns the backend that produced err, if known.
func ServiceName(err error) string {
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		return authErr.Service
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Service
	}
	return ""
}
