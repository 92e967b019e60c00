package gateway

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/mandelmonkey/latency-test/internal/handshake"
)

// MessageType identifies a WebSocket message on the wire.
type MessageType string

const (
	// Client → server
	MessageTypeStart   MessageType = "start"
	MessageTypeReport  MessageType = "report"
	MessageTypeLatency MessageType = "latency"
	MessageTypeClosest MessageType = "closest"

	// Server → client
	MessageTypeStarted  MessageType = "started"
	MessageTypeProgress MessageType = "progress"
	MessageTypeComplete MessageType = "complete"
	MessageTypeError    MessageType = "error"
)

// Error codes shared by the HTTP and WebSocket bindings.
const (
	ErrorCodeInvalidRequest  = "invalid_request"
	ErrorCodeSessionNotFound = "session_not_found"
	ErrorCodeInternal        = "internal"
)

// ClientMessage is a request frame from a measuring client.
type ClientMessage struct {
	Type   MessageType `json:"type"`
	UserID string      `json:"user_id,omitempty"`
	Token  string      `json:"token,omitempty"`
}

// ServerMessage is a response frame. Data carries the type-specific
// payload; Code/Message are set only on error frames.
type ServerMessage struct {
	Type    MessageType     `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
}

// errorMessage builds an error frame.
func errorMessage(code, message string) ServerMessage {
	return ServerMessage{
		Type:    MessageTypeError,
		Code:    code,
		Message: message,
	}
}

// engineErrorMessage maps app-layer errors onto the WebSocket binding,
// mirroring the HTTP status mapping.
func engineErrorMessage(err error) ServerMessage {
	switch {
	case errors.Is(err, handshake.ErrInvalidRequest):
		return errorMessage(ErrorCodeInvalidRequest, err.Error())
	case errors.Is(err, handshake.ErrSessionNotFound):
		return errorMessage(ErrorCodeSessionNotFound, "unknown or expired token, restart the handshake")
	default:
		log.Error().Err(err).Msg("request failed")
		return errorMessage(ErrorCodeInternal, "internal error")
	}
}
