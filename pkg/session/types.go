package session

import "time"

// Status is the observable state of a voice session.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusActive       Status = "active" // remote party speaking
	StatusError        Status = "error"
)

// Live reports whether the status belongs to an established session.
func (s Status) Live() bool {
	return s == StatusConnected || s == StatusActive
}

// busy reports whether Start must be ignored.
func (s Status) busy() bool {
	return s == StatusConnecting || s.Live()
}

// Kind selects the transport variant.
type Kind string

const (
	// KindAuto is a selector preference only; sessions always run managed or local.
	KindAuto    Kind = "auto"
	KindManaged Kind = "managed"
	KindLocal   Kind = "local"
)

// ParseKind maps a preference string to a Kind. Unknown values yield KindAuto.
func ParseKind(s string) Kind {
	switch Kind(s) {
	case KindManaged, KindLocal:
		return Kind(s)
	}
	return KindAuto
}

// Speaker labels a transcript entry.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
	SpeakerSystem    Speaker = "system"
)

// TranscriptEntry is one line of the session transcript.
type TranscriptEntry struct {
	ID      uint64    `json:"id"`
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	Time    time.Time `json:"time"`
}

// MicrophoneState tracks the local microphone.
// Muted implies recognition is stopped and any published track is muted.
type MicrophoneState struct {
	Published bool `json:"published"`
	Muted     bool `json:"muted"`
}

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	Status       Status            `json:"status"`
	Kind         Kind              `json:"kind,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Warnings     []string          `json:"warnings,omitempty"`
	Microphone   MicrophoneState   `json:"microphone"`
	Transcript   []TranscriptEntry `json:"transcript"`
	Epoch        uint64            `json:"epoch"`
}

// ShouldRestartRecognition is the restart policy applied when a recognition run ends.
func ShouldRestartRecognition(status Status, muted bool) bool {
	return status.Live() && !muted
}
