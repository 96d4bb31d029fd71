package stt

import (
	"context"
	"sync"
)

// MockTranscriber returns scripted text for each utterance.
type MockTranscriber struct {
	mu      sync.Mutex
	texts   []string
	calls   int
	lengths []int

	// Err, when set, is returned instead of text.
	Err error
}

// NewMockTranscriber returns texts in order, then empty strings.
func NewMockTranscriber(texts ...string) *MockTranscriber {
	return &MockTranscriber{texts: texts}
}

// Transcribe pops the next scripted text.
func (m *MockTranscriber) Transcribe(ctx context.Context, samples []int16, sampleRate int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lengths = append(m.lengths, len(samples))
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.texts) == 0 {
		return "", nil
	}
	text := m.texts[0]
	m.texts = m.texts[1:]
	return text, nil
}

// Calls returns the number of Transcribe calls.
func (m *MockTranscriber) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Lengths returns the sample count of each transcribed utterance.
func (m *MockTranscriber) Lengths() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.lengths...)
}

var _ Transcriber = (*MockTranscriber)(nil)
