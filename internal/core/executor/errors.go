package executor

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind names the fatal error classes surfaced by a page request.
type Kind string

const (
	KindTransport Kind = "TransportError"
	KindServer    Kind = "ServerError"
	KindProtocol  Kind = "ProtocolError"
)

// TransportError is a network level failure: dial, TLS, timeout, reset.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// ServerError is a non-success answer, including OGC exception reports
// delivered with status 200 (how GeoServer rejects a bad filter).
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server: status %d", e.Status)
	}
	return fmt.Sprintf("server: status %d: %s", e.Status, e.Body)
}

// ProtocolError means the body was not the expected feature collection.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string { return "protocol: " + e.Err.Error() }
func (e *ProtocolError) Unwrap() error { return e.Err }

// KindOf classifies err, returning "" for errors outside the taxonomy.
func KindOf(err error) Kind {
	var te *TransportError
	var se *ServerError
	var pe *ProtocolError
	switch {
	case errors.As(err, &te):
		return KindTransport
	case errors.As(err, &se):
		return KindServer
	case errors.As(err, &pe):
		return KindProtocol
	default:
		return ""
	}
}

// Retryable reports whether another attempt could plausibly succeed.
func Retryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var se *ServerError
	if errors.As(err, &se) {
		return se.Status >= 500 || se.Status == http.StatusTooManyRequests
	}
	return false
}
