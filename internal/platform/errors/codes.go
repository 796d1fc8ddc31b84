// Package errors provides structured error handling shared by the realtime
// transport, ingestion and storage layers.
package errors

import "net/http"

// Code is a machine-readable error code. Codes are sent verbatim to clients.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Connection errors
	CodeAuthentication   Code = "AUTHENTICATION_FAILED"
	CodeDuplicateSession Code = "DUPLICATE_SESSION"
	CodeRateLimited      Code = "RATE_LIMITED"

	// Update and alert errors
	CodeAuthorization     Code = "AUTHORIZATION_DENIED"
	CodeStaleUpdate       Code = "STALE_UPDATE"
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeNotFound          Code = "NOT_FOUND"

	// Collaborator errors
	CodePersistence Code = "PERSISTENCE_FAILED"
	CodeDelivery    Code = "DELIVERY_FAILED"
	CodeUnavailable Code = "UNAVAILABLE"
)

// Retryable reports whether a request failing with this code may succeed
// when resubmitted unchanged.
func (c Code) Retryable() bool {
	switch c {
	case CodePersistence, CodeUnavailable, CodeRateLimited:
		return true
	default:
		return false
	}
}

// HTTPStatus maps domain codes to HTTP status codes for the read API.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeAuthentication:
		return http.StatusUnauthorized
	case CodeAuthorization:
		return http.StatusForbidden
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeStaleUpdate, CodeInvalidTransition, CodeDuplicateSession:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodePersistence, CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
