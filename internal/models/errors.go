// Package models defines the shared error taxonomy for the funnel engine.
package models

import "errors"

// Sentinel errors shared across modules. Collaborator and provider errors are
// wrapped around these so callers can apply a uniform continue/stop policy
// with errors.Is.
var (
	// ErrConversationNotFound indicates the conversation row is missing.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrFunnelNotFound indicates the funnel or its graph is missing.
	ErrFunnelNotFound = errors.New("funnel not found")
	// ErrBlockNotFound indicates the conversation points at a missing block.
	ErrBlockNotFound = errors.New("block not found")
	// ErrUnauthorized indicates the provider or collaborator denied access.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited indicates a local or upstream rate limit was hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrNetwork indicates a transient I/O failure talking to a provider.
	ErrNetwork = errors.New("network error")
	// ErrInvalidInput indicates malformed input beyond the matcher's handling.
	ErrInvalidInput = errors.New("invalid input")
	// ErrServiceStopped indicates an operation on a stopped service.
	ErrServiceStopped = errors.New("service stopped")
)

// ErrorKind is the coarse error classification used by the polling loop to
// decide between stop, skip, and continue.
type ErrorKind string

const (
	ErrorKindNotFound     ErrorKind = "not_found"
	ErrorKindUnauthorized ErrorKind = "unauthorized"
	ErrorKindRateLimited  ErrorKind = "rate_limited"
	ErrorKindNetwork      ErrorKind = "network"
	ErrorKindInvalid      ErrorKind = "invalid"
	ErrorKindUnknown      ErrorKind = "unknown"
)

// ClassifyError maps an error to its ErrorKind. Unrecognized errors map to
// ErrorKindUnknown; nil maps to an empty kind.
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConversationNotFound),
		errors.Is(err, ErrFunnelNotFound),
		errors.Is(err, ErrBlockNotFound):
		return ErrorKindNotFound
	case errors.Is(err, ErrUnauthorized):
		return ErrorKindUnauthorized
	case errors.Is(err, ErrRateLimited):
		return ErrorKindRateLimited
	case errors.Is(err, ErrNetwork):
		return ErrorKindNetwork
	case errors.Is(err, ErrInvalidInput):
		return ErrorKindInvalid
	default:
		return ErrorKindUnknown
	}
}
