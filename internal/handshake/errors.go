package handshake

import "errors"

// ErrInvalidRequest is returned when a required field is missing. The
// caller must fix the request; retrying as-is will not help.
var ErrInvalidRequest = errors.New("invalid request")

// ErrSessionNotFound is returned when a token is unknown, expired or
// already completed. The caller restarts the protocol at StartSession.
var ErrSessionNotFound = errors.New("session not found")
