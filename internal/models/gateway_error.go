package models

import (
	"fmt"
	"net/http"
)

// ErrorCode is a string type for consistent error codes.
type ErrorCode string

// Predefined error codes for protocol and command failures.
const (
	// Device protocol
	ErrorCodeProtocolError         ErrorCode = "protocol_error"
	ErrorCodeUnsupportedCapability ErrorCode = "unsupported_capability"
	ErrorCodeSessionAlreadyActive  ErrorCode = "session_already_active"
	ErrorCodeNoActiveSession       ErrorCode = "no_active_session"
	ErrorCodeDeviceNotConnected    ErrorCode = "device_not_connected"

	// Generic
	ErrorCodeInternalServerError ErrorCode = "internal_server_error"
	ErrorCodeBadRequest          ErrorCode = "bad_request"
	ErrorCodeNotFound            ErrorCode = "not_found"
	ErrorCodeUnauthorized        ErrorCode = "unauthorized"
	ErrorCodeMissingParameter    ErrorCode = "missing_parameter"
)

// GatewayError is the typed error shared by the device protocol and the admin
// API. Over WebSocket it is wrapped in an error frame; over HTTP it is encoded
// as the response body with StatusCode as the HTTP status.
type GatewayError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    any       `json:"details,omitempty"`
	StatusCode int       `json:"-"`
}

// Error makes GatewayError implement the error interface.
func (e GatewayError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewGatewayError is a constructor for GatewayError.
func NewGatewayError(code ErrorCode, message string, details any, statusCode int) GatewayError {
	return GatewayError{
		Code:       code,
		Message:    message,
		Details:    details,
		StatusCode: statusCode,
	}
}

// ErrProtocol reports a malformed or undecodable message.
func ErrProtocol(message string) GatewayError {
	return NewGatewayError(ErrorCodeProtocolError, message, nil, http.StatusBadRequest)
}

// ErrUnsupportedCapability reports a config_update targeting a capability the
// device did not declare or declared non-configurable.
func ErrUnsupportedCapability(capabilityID string) GatewayError {
	return NewGatewayError(ErrorCodeUnsupportedCapability,
		fmt.Sprintf("capability %q is not configurable on this device", capabilityID),
		map[string]string{"capabilityId": capabilityID}, http.StatusBadRequest)
}

// ErrSessionAlreadyActive reports a session_start while a session is running.
func ErrSessionAlreadyActive(sessionID string) GatewayError {
	return NewGatewayError(ErrorCodeSessionAlreadyActive,
		fmt.Sprintf("session %q is already active", sessionID),
		map[string]string{"sessionId": sessionID}, http.StatusConflict)
}

// ErrNoActiveSession reports a session_stop without a running session.
func ErrNoActiveSession(deviceID string) GatewayError {
	return NewGatewayError(ErrorCodeNoActiveSession,
		fmt.Sprintf("device %q has no active session", deviceID),
		map[string]string{"deviceId": deviceID}, http.StatusConflict)
}

// ErrDeviceNotConnected reports a command targeting a device absent from the
// registry. Commands are not queued across disconnects.
func ErrDeviceNotConnected(deviceID string) GatewayError {
	return NewGatewayError(ErrorCodeDeviceNotConnected,
		fmt.Sprintf("device %q is not connected", deviceID),
		map[string]string{"deviceId": deviceID}, http.StatusNotFound)
}
