package speech

import (
	"context"
	"errors"
	"sync"
)

// ErrEngineRunning is returned by MockEngine.Start when a run is already active.
var ErrEngineRunning = errors.New("speech: engine already started")

// MockEngine is an Engine for tests. Like a real continuous recognizer it
// refuses a second Start while a run is active.
type MockEngine struct {
	mu      sync.Mutex
	handler *Handler
	running bool

	// StartErr is returned by the next Start calls when set.
	StartErr error

	// ManualEnd stops Stop from ending the run; call SimulateEnd instead.
	ManualEnd bool

	// Captured calls for assertions
	StartCalls int
	StopCalls  int
}

// NewMockEngine creates a mock engine.
func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

// Start implements Engine.
func (m *MockEngine) Start(ctx context.Context, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartCalls++
	if m.StartErr != nil {
		return m.StartErr
	}
	if m.running {
		return ErrEngineRunning
	}
	m.running = true
	m.handler = &h
	return nil
}

// Stop implements Engine.
func (m *MockEngine) Stop() error {
	m.mu.Lock()
	m.StopCalls++
	manual := m.ManualEnd
	m.mu.Unlock()
	if !manual {
		m.SimulateEnd()
	}
	return nil
}

// Running reports whether a run is active.
func (m *MockEngine) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Starts returns the number of Start calls.
func (m *MockEngine) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StartCalls
}

// Test helpers

// SimulateResult delivers a hypothesis to the active run.
func (m *MockEngine) SimulateResult(text string, final bool) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil && h.OnResult != nil {
		h.OnResult(Result{Text: text, Final: final})
	}
}

// SimulateError delivers an error to the active run.
func (m *MockEngine) SimulateError(code ErrorCode) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil && h.OnError != nil {
		h.OnError(NewError(code, nil))
	}
}

// SimulateEnd ends the active run.
func (m *MockEngine) SimulateEnd() {
	m.mu.Lock()
	h := m.handler
	wasRunning := m.running
	m.running = false
	m.handler = nil
	m.mu.Unlock()
	if wasRunning && h != nil && h.OnEnd != nil {
		h.OnEnd()
	}
}

// MockVoice is a Voice for tests. Speak blocks until Release is called or
// the context is cancelled when Hold is set.
type MockVoice struct {
	mu      sync.Mutex
	spoken  []string
	release chan struct{}

	// Hold makes Speak wait for Release.
	Hold bool
	// Err is returned by Speak when set.
	Err error
}

// NewMockVoice creates a mock voice.
func NewMockVoice() *MockVoice {
	return &MockVoice{release: make(chan struct{}, 16)}
}

// Speak implements Voice.
func (v *MockVoice) Speak(ctx context.Context, text string) error {
	v.mu.Lock()
	v.spoken = append(v.spoken, text)
	hold := v.Hold
	err := v.Err
	v.mu.Unlock()

	if hold {
		select {
		case <-v.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Release lets one held Speak return.
func (v *MockVoice) Release() {
	v.release <- struct{}{}
}

// Spoken returns the texts passed to Speak.
func (v *MockVoice) Spoken() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.spoken...)
}

// Verify interfaces at compile time.
var (
	_ Engine = (*MockEngine)(nil)
	_ Voice  = (*MockVoice)(nil)
)
