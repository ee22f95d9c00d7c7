package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Standard errors returned by the core.
var (
	// ErrCoreClosed indicates the core has shut down, either via Close or
	// because the engine's inbound stream ended. Pending continuations are
	// failed with this error during shutdown.
	ErrCoreClosed = errors.New("rpc core closed")
)

// Error is an application-level error payload carried in an engine response.
// The core delivers it to the request's continuation without interpreting it;
// Data retains whatever structure the engine sent.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("engine error %d: %s (data: %s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// errorFromPayload converts a raw error payload into an *Error. Engines are
// not required to use the {code, message} shape; anything else is preserved
// verbatim in Message.
func errorFromPayload(raw json.RawMessage) *Error {
	var e Error
	if err := json.Unmarshal(raw, &e); err != nil || e.Message == "" {
		return &Error{Message: string(raw)}
	}
	return &e
}
