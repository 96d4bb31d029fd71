// Package speech provides owned handles over speech recognition and synthesis engines.
//
// A Recognizer wraps a continuous recognition Engine with an explicit
// started flag that stays set until the engine reports its run ended, so an
// engine is never started twice. A Synthesizer queues utterances for a Voice
// and reports when speech starts and stops.
package speech

import (
	"context"
	"errors"
	"fmt"
)

// Result is a recognition hypothesis.
type Result struct {
	Text  string
	Final bool
}

// Handler receives engine events. Callbacks may run on any goroutine.
type Handler struct {
	OnResult func(Result)
	OnError  func(error)
	// OnEnd is called exactly once per successful Start, after the run stops
	// for any reason, including Stop.
	OnEnd func()
}

// Engine is a continuous speech recognizer.
type Engine interface {
	// Start begins one recognition run. It returns once the run is underway.
	Start(ctx context.Context, h Handler) error

	// Stop asks the current run to end. OnEnd follows asynchronously.
	Stop() error
}

// Voice speaks text and returns when playback completes or ctx is cancelled.
type Voice interface {
	Speak(ctx context.Context, text string) error
}

// ErrorCode classifies recognition failures.
type ErrorCode string

const (
	CodeNotAllowed        ErrorCode = "not-allowed"
	CodeServiceNotAllowed ErrorCode = "service-not-allowed"
	CodeAudioCapture      ErrorCode = "audio-capture"
	CodeNetwork           ErrorCode = "network"
	CodeNoSpeech          ErrorCode = "no-speech"
	CodeAborted           ErrorCode = "aborted"
)

// Blocking reports whether the code means recognition cannot work until the
// user intervenes, so automatic restarts must stop.
func (c ErrorCode) Blocking() bool {
	switch c {
	case CodeNotAllowed, CodeServiceNotAllowed, CodeAudioCapture:
		return true
	}
	return false
}

// Sentinel errors for the speech package.
var (
	// ErrBlocked is returned by Start and Resume after a blocking error.
	ErrBlocked = errors.New("speech: recognition blocked")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("speech: closed")
)

// Error is an engine failure with a code.
type Error struct {
	Code ErrorCode
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("speech [%s]: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("speech [%s]", e.Code)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error.
func NewError(code ErrorCode, err error) *Error {
	return &Error{Code: code, Err: err}
}

// CodeOf returns the code of err, or "" when err is not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
