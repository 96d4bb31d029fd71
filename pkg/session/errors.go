package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for the session package.
var (
	// ErrMuteUnsupported indicates the transport should own a microphone track but never published one.
	ErrMuteUnsupported = errors.New("session: mute unsupported: no microphone track published")

	// ErrNotConnected indicates the operation needs a connected session.
	ErrNotConnected = errors.New("session: not connected")

	// ErrClosed indicates the session was torn down with Close.
	ErrClosed = errors.New("session: closed")

	// ErrNoTransport indicates no factory is registered for the selected kind.
	ErrNoTransport = errors.New("session: no transport for kind")
)

// ProvisioningError reports that a managed room could not be created.
// It is fatal to Connect.
type ProvisioningError struct {
	// Room is the requested room name.
	Room string

	// Reason is the message returned by the provisioning service, if any.
	Reason string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ProvisioningError) Error() string {
	switch {
	case e.Reason != "" && e.Cause != nil:
		return fmt.Sprintf("session: provisioning %s failed: %s: %v", e.Room, e.Reason, e.Cause)
	case e.Reason != "":
		return fmt.Sprintf("session: provisioning %s failed: %s", e.Room, e.Reason)
	case e.Cause != nil:
		return fmt.Sprintf("session: provisioning %s failed: %v", e.Room, e.Cause)
	}
	return fmt.Sprintf("session: provisioning %s failed", e.Room)
}

// Unwrap returns the underlying cause.
func (e *ProvisioningError) Unwrap() error {
	return e.Cause
}

// CaptureError reports that the microphone could not be acquired or published.
// The session stays connected without a published track.
type CaptureError struct {
	Cause error
}

// Error implements the error interface.
func (e *CaptureError) Error() string {
	return fmt.Sprintf("session: microphone unavailable: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *CaptureError) Unwrap() error {
	return e.Cause
}

// Recognition error codes with permission semantics.
const (
	CodeNotAllowed        = "not-allowed"
	CodeServiceNotAllowed = "service-not-allowed"
	CodeAudioCapture      = "audio-capture"
	CodeNetwork           = "network"
	CodeNoSpeech          = "no-speech"
	CodeAborted           = "aborted"
)

// RecognitionError reports a speech recognition failure.
type RecognitionError struct {
	// Code classifies the failure, e.g. "not-allowed" or "network".
	Code string

	Cause error
}

// Error implements the error interface.
func (e *RecognitionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("session: recognition error [%s]: %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("session: recognition error [%s]", e.Code)
}

// Unwrap returns the underlying cause.
func (e *RecognitionError) Unwrap() error {
	return e.Cause
}

// Blocking reports whether the code disables automatic restarts.
func (e *RecognitionError) Blocking() bool {
	switch e.Code {
	case CodeNotAllowed, CodeServiceNotAllowed, CodeAudioCapture:
		return true
	}
	return false
}

// TransportClosedError reports that the transport went away underneath the session.
type TransportClosedError struct {
	Cause error
}

// Error implements the error interface.
func (e *TransportClosedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("session: transport closed: %v", e.Cause)
	}
	return "session: transport closed"
}

// Unwrap returns the underlying cause.
func (e *TransportClosedError) Unwrap() error {
	return e.Cause
}

// ConnectError reports a join or dial failure, or a missing capability.
// It is fatal to Connect.
type ConnectError struct {
	Reason string
	Cause  error
}

// Error implements the error interface.
func (e *ConnectError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("session: connect failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("session: connect failed: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConnectError) Unwrap() error {
	return e.Cause
}

// IsFatal returns true if the error ends a connect attempt.
func IsFatal(err error) bool {
	var pe *ProvisioningError
	var ce *ConnectError
	return errors.As(err, &pe) || errors.As(err, &ce)
}

// IsBlockingRecognition returns true if the error disables recognition restarts.
func IsBlockingRecognition(err error) bool {
	var re *RecognitionError
	return errors.As(err, &re) && re.Blocking()
}
