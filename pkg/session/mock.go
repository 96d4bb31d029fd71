package session

import (
	"context"
	"sync"
)

// MockTransport is a Transport for tests. By default Connect reports
// connected and succeeds; set the *Func fields to change behavior.
type MockTransport struct {
	mu sync.Mutex

	kind Kind
	host Host

	// Configurable behavior
	ConnectFunc    func(ctx context.Context, host Host) error
	SendFunc       func(ctx context.Context, text string) error
	DisconnectFunc func() error

	// Primitive is returned by AudioPrimitive when set.
	Primitive *MockPrimitive
	// PrimitiveErr is returned by AudioPrimitive when set.
	PrimitiveErr error
	// Rec is returned by Recognition when set.
	Rec *MockRecognition

	// Captured calls for assertions
	ConnectCalls    int
	DisconnectCalls int
	Sent            []string
}

// NewMockTransport creates a mock transport of the given kind.
func NewMockTransport(kind Kind) *MockTransport {
	return &MockTransport{kind: kind}
}

// Kind implements Transport.
func (m *MockTransport) Kind() Kind {
	return m.kind
}

// Connect implements Transport.
func (m *MockTransport) Connect(ctx context.Context, host Host) error {
	m.mu.Lock()
	m.host = host
	m.ConnectCalls++
	fn := m.ConnectFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, host)
	}
	host.Connected()
	return nil
}

// Disconnect implements Transport.
func (m *MockTransport) Disconnect() error {
	m.mu.Lock()
	m.DisconnectCalls++
	fn := m.DisconnectFunc
	m.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return nil
}

// SendUtterance implements Transport.
func (m *MockTransport) SendUtterance(ctx context.Context, text string) error {
	m.mu.Lock()
	fn := m.SendFunc
	m.Sent = append(m.Sent, text)
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, text)
	}
	return nil
}

// AudioPrimitive implements Mutable.
func (m *MockTransport) AudioPrimitive() (AudioPrimitive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PrimitiveErr != nil {
		return nil, m.PrimitiveErr
	}
	if m.Primitive == nil {
		return nil, nil
	}
	return m.Primitive, nil
}

// Recognition implements Mutable.
func (m *MockTransport) Recognition() RecognitionControl {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Rec == nil {
		return nil
	}
	return m.Rec
}

// Disconnects returns the number of Disconnect calls.
func (m *MockTransport) Disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DisconnectCalls
}

// Host returns the host passed to the last Connect.
func (m *MockTransport) Host() Host {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.host
}

// Test helpers

// SimulateRemoteSpeaking reports a remote speaking change.
func (m *MockTransport) SimulateRemoteSpeaking(speaking bool) {
	if h := m.Host(); h != nil {
		h.RemoteSpeaking(speaking)
	}
}

// SimulateTranscript reports a transcript entry.
func (m *MockTransport) SimulateTranscript(speaker Speaker, text string) {
	if h := m.Host(); h != nil {
		h.Transcript(speaker, text)
	}
}

// SimulateDisconnect reports that the transport went away.
func (m *MockTransport) SimulateDisconnect(err error) {
	if h := m.Host(); h != nil {
		h.Disconnected(err)
	}
}

// SimulateWarning reports a non-fatal problem.
func (m *MockTransport) SimulateWarning(err error) {
	if h := m.Host(); h != nil {
		h.Warning(err)
	}
}

// SimulateError sets the error banner.
func (m *MockTransport) SimulateError(err error) {
	if h := m.Host(); h != nil {
		h.Error(err)
	}
}

// SimulatePublished reports a microphone publish change.
func (m *MockTransport) SimulatePublished(published bool) {
	if h := m.Host(); h != nil {
		h.MicrophonePublished(published)
	}
}

// MockPrimitive is an AudioPrimitive for tests.
type MockPrimitive struct {
	mu    sync.Mutex
	muted bool

	// Err is returned by SetMuted when set.
	Err   error
	Calls []bool
}

// SetMuted implements AudioPrimitive.
func (p *MockPrimitive) SetMuted(muted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, muted)
	if p.Err != nil {
		return p.Err
	}
	p.muted = muted
	return nil
}

// Muted reports the current mute state.
func (p *MockPrimitive) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// MockRecognition is a RecognitionControl for tests.
type MockRecognition struct {
	mu      sync.Mutex
	running bool

	PauseErr  error
	ResumeErr error
}

// NewMockRecognition creates a running recognition control.
func NewMockRecognition() *MockRecognition {
	return &MockRecognition{running: true}
}

// Pause implements RecognitionControl.
func (r *MockRecognition) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.PauseErr != nil {
		return r.PauseErr
	}
	r.running = false
	return nil
}

// Resume implements RecognitionControl.
func (r *MockRecognition) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ResumeErr != nil {
		return r.ResumeErr
	}
	r.running = true
	return nil
}

// Running reports whether recognition is running.
func (r *MockRecognition) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Verify interfaces at compile time.
var (
	_ Transport          = (*MockTransport)(nil)
	_ AudioPrimitive     = (*MockPrimitive)(nil)
	_ RecognitionControl = (*MockRecognition)(nil)
)
