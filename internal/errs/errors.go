// Package errs provides the relay error taxonomy.
//
// Every error the hub raises carries a Kind (one of the seven categories
// the router and client recognize), a machine-readable Code, a human
// Message, and optional Details for debugging. Handlers never panic on a
// bad frame or a missing peer; they construct one of these and let the
// caller decide how to present it.
package errs

import (
	"fmt"
)

// Kind names one of the error categories the hub distinguishes.
type Kind string

const (
	KindAuthentication  Kind = "authentication"
	KindConnection      Kind = "connection"
	KindTimeout         Kind = "timeout"
	KindHandlerNotFound Kind = "handler_not_found"
	KindClientNotFound  Kind = "client_not_found"
	KindProtocol        Kind = "protocol"
	KindNetwork         Kind = "network"
)

// Error codes. Format: UPPER_SNAKE_CASE, stable across releases so clients
// can match on Code instead of parsing Message.
const (
	CodeAuthRequired       = "AUTH_REQUIRED"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeNotConnected       = "NOT_CONNECTED"
	CodeTargetNotFound     = "TARGET_NOT_FOUND"
	CodeTargetUnavailable  = "TARGET_UNAVAILABLE"
	CodeRequestTimeout     = "REQUEST_TIMEOUT"
	CodeHandlerNotFound    = "HANDLER_NOT_FOUND"
	CodeProtocolError      = "PROTOCOL_ERROR"
	CodeNetworkError       = "NETWORK_ERROR"
)

// HubError is the single error type the hub's public API returns.
//
// Example:
//
//	err := errs.Timeout("request", "add", "10s")
//	var he *errs.HubError
//	if errors.As(err, &he) && he.Kind == errs.KindTimeout { ... }
type HubError struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *HubError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newErr(kind Kind, code, message string) *HubError {
	return &HubError{Kind: kind, Code: code, Message: message}
}

func newErrWithDetails(kind Kind, code, message, details string) *HubError {
	return &HubError{Kind: kind, Code: code, Message: message, Details: details}
}

// Authentication is raised when credentials are missing or do not match.
func Authentication(message string) *HubError {
	return newErr(KindAuthentication, CodeInvalidCredentials, message)
}

// AuthRequired is raised when a pre-auth session sends anything but `auth`.
func AuthRequired() *HubError {
	return newErr(KindAuthentication, CodeAuthRequired, "authentication required")
}

// Connection is raised when the local transport is not open.
func Connection(message string) *HubError {
	return newErr(KindConnection, CodeNotConnected, message)
}

// TargetNotFound is raised by the router when a client_request's
// targetClient has no registered session at all (spec.md §7's
// ClientNotFoundError: "peer-RPC target not registered"), distinct from
// TargetUnavailable below.
func TargetNotFound(target string) *HubError {
	return newErrWithDetails(KindClientNotFound, CodeTargetNotFound, "Target client not found", target)
}

// TargetUnavailable is raised by the router when the target session exists
// but its transport is not open, observed between lookup and write
// (spec.md §7's ConnectionError: "target peer unavailable").
func TargetUnavailable(target string) *HubError {
	return newErrWithDetails(KindConnection, CodeTargetUnavailable, "Target client not available", target)
}

// Timeout is raised when a pending request's deadline elapses before a
// matching response arrives.
func Timeout(kind, functionName, after string) *HubError {
	return newErrWithDetails(KindTimeout, CodeRequestTimeout,
		fmt.Sprintf("%s %q timed out", kind, functionName), "after "+after)
}

// HandlerNotFound is raised when a request names a function the server
// handler table does not have.
func HandlerNotFound(functionName string) *HubError {
	return newErrWithDetails(KindHandlerNotFound, CodeHandlerNotFound,
		"Handler not found", functionName)
}

// Protocol is raised when a frame is malformed or its `type` is unknown.
func Protocol(message string) *HubError {
	return newErr(KindProtocol, CodeProtocolError, message)
}

// Network wraps an underlying transport failure.
func Network(err error) *HubError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return newErrWithDetails(KindNetwork, CodeNetworkError, "network failure", details)
}
