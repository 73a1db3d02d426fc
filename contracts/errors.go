package contracts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrBridgeStopped rejects every command still pending when the bridge stops,
	// and any send attempted while the bridge is not listening
	ErrBridgeStopped = errors.New("bridge stopped")

	// ErrDuplicateCommandID is returned when a command id is registered twice
	ErrDuplicateCommandID = errors.New("duplicate command id")
)

// Error kinds reported to remote controllers
const (
	KindNotConnected = "not_connected"
	KindTimeout      = "timeout"
	KindPeer         = "peer"
	KindStopped      = "stopped"
	KindValidation   = "validation"
	KindMalformed    = "malformed"
	KindTransport    = "transport"
	KindCancelled    = "cancelled"
	KindInternal     = "internal"
)

// NotConnectedError is returned when no peer is attached at send time
type NotConnectedError struct {
	Type  string // Command type that could not be sent
	Cause error  // Transport error when the write itself failed
}

func (e *NotConnectedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("plugin not connected: %s not sent: %v", e.Type, e.Cause)
	}
	return fmt.Sprintf("plugin not connected: %s not sent", e.Type)
}

func (e *NotConnectedError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports that the caller may retry once a peer reconnects
func (e *NotConnectedError) IsRetryable() bool {
	return true
}

// TimeoutError is returned when the peer does not answer within the window
type TimeoutError struct {
	Type    string
	ID      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %s (%s) timed out after %dms", e.Type, e.ID, e.Timeout.Milliseconds())
}

// IsRetryable reports false: the peer may have executed the command
func (e *TimeoutError) IsRetryable() bool {
	return false
}

// PeerError carries a failure reported by the peer verbatim
type PeerError struct {
	Type    string
	ID      string
	Message string
}

func (e *PeerError) Error() string {
	return e.Message
}

// IsRetryable reports false: the peer rejected the command
func (e *PeerError) IsRetryable() bool {
	return false
}

// MalformedFrameError describes an inbound frame that could not be used.
// It is only ever logged.
type MalformedFrameError struct {
	Reason string
	Raw    string
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed frame: %s", e.Reason)
}

// TransportFatalError is returned when the listener cannot bind its address
type TransportFatalError struct {
	Addr string
	Err  error
}

func (e *TransportFatalError) Error() string {
	return fmt.Sprintf("transport fatal: cannot listen on %s: %v", e.Addr, e.Err)
}

func (e *TransportFatalError) Unwrap() error {
	return e.Err
}

// ValidationError is returned when command params do not match the type's schema
type ValidationError struct {
	Type    string
	Details []string
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("invalid params for %s", e.Type)
	}
	return fmt.Sprintf("invalid params for %s: %s", e.Type, strings.Join(e.Details, "; "))
}

// IsNotConnected reports whether err is a NotConnectedError
func IsNotConnected(err error) bool {
	var target *NotConnectedError
	return errors.As(err, &target)
}

// IsTimeout reports whether err is a TimeoutError
func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}

// IsPeerError reports whether err is a PeerError
func IsPeerError(err error) bool {
	var target *PeerError
	return errors.As(err, &target)
}

// ErrorKind classifies an error for remote controllers
func ErrorKind(err error) string {
	var (
		notConnected *NotConnectedError
		timeout      *TimeoutError
		peer         *PeerError
		validation   *ValidationError
		malformed    *MalformedFrameError
		transport    *TransportFatalError
	)

	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBridgeStopped):
		return KindStopped
	case errors.As(err, &notConnected):
		return KindNotConnected
	case errors.As(err, &timeout):
		return KindTimeout
	case errors.As(err, &peer):
		return KindPeer
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &malformed):
		return KindMalformed
	case errors.As(err, &transport):
		return KindTransport
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}
