package services

import (
	"errors"
	"fmt"
)

// ErrConnectionLost matches every *ConnectionLostError via errors.Is
var ErrConnectionLost = errors.New("push channel connection lost")

// ErrListenerDropped means the push feed dropped a listener that could not
// keep up. Reconnect starts a fresh one.
var ErrListenerDropped = errors.New("push listener dropped")

// TransportError means a command never reached the server or its reply never
// arrived: dial failures, timeouts, non-2xx statuses, unreadable bodies.
type TransportError struct {
	Method     string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("rpc %s: transport: http status %d", e.Method, e.StatusCode)
	}
	return fmt.Sprintf("rpc %s: transport: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError means a reply arrived but was malformed or reported a
// server-side failure.
type ProtocolError struct {
	Method  string
	Code    int
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("rpc %s: %s (code %d)", e.Method, e.Message, e.Code)
	}
	return fmt.Sprintf("rpc %s: %s", e.Method, e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ConnectionLostError reports that the push channel dropped
type ConnectionLostError struct {
	// Graceful is true when the server closed the channel on purpose
	Graceful bool
	Err      error
}

func (e *ConnectionLostError) Error() string {
	if e.Err == nil {
		return ErrConnectionLost.Error()
	}
	return fmt.Sprintf("%s: %v", ErrConnectionLost, e.Err)
}

func (e *ConnectionLostError) Unwrap() error {
	return e.Err
}

func (e *ConnectionLostError) Is(target error) bool {
	return target == ErrConnectionLost
}

// IsTransportError reports whether err wraps a *TransportError
func IsTransportError(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

// IsProtocolError reports whether err wraps a *ProtocolError
func IsProtocolError(err error) bool {
	var protocolErr *ProtocolError
	return errors.As(err, &protocolErr)
}
