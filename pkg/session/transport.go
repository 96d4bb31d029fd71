package session

import (
	"context"
	"log/slog"
)

// Transport is one live voice connection. A session owns exactly one at a time
// and releases it exactly once through Disconnect.
type Transport interface {
	Mutable

	// Kind reports which variant this transport implements.
	Kind() Kind

	// Connect establishes the connection and reports events to host.
	// ctx bounds the connect phase only. Fatal failures are returned as
	// *ProvisioningError or *ConnectError.
	Connect(ctx context.Context, host Host) error

	// Disconnect releases every resource acquired by Connect. It is called at
	// most once and must not wait on goroutines that deliver Host events.
	Disconnect() error

	// SendUtterance forwards typed user text to the remote assistant.
	SendUtterance(ctx context.Context, text string) error
}

// Mutable is what the mute coordinator needs from a transport.
type Mutable interface {
	// AudioPrimitive returns the published microphone track.
	// It returns (nil, nil) when the transport has no such primitive and
	// (nil, ErrMuteUnsupported) when it should have one but never published it.
	AudioPrimitive() (AudioPrimitive, error)

	// Recognition returns the recognition control, or nil when recognition is not used.
	Recognition() RecognitionControl
}

// AudioPrimitive is a mutable outbound audio track.
type AudioPrimitive interface {
	SetMuted(muted bool) error
}

// RecognitionControl pauses and resumes speech recognition.
type RecognitionControl interface {
	Pause() error
	Resume() error
}

// Host receives transport events. Each host is bound to the session epoch it
// was created for; events arriving after that epoch ended are dropped.
type Host interface {
	// Connected reports that the transport is usable.
	Connected()

	// Disconnected reports that the transport went away. err may be nil.
	Disconnected(err error)

	// RemoteSpeaking toggles the active status.
	RemoteSpeaking(speaking bool)

	// Transcript appends an entry.
	Transcript(speaker Speaker, text string)

	// Warning reports a non-fatal problem as a system entry and a warning.
	Warning(err error)

	// Error sets the error banner without ending the session.
	Error(err error)

	// MicrophonePublished records whether a microphone track is published.
	MicrophonePublished(published bool)

	// Live reports whether the epoch is current, the session is connected and
	// the microphone is unmuted. Used as the recognition restart policy.
	Live() bool

	// Online reports whether the epoch is current and the session is
	// connected, whatever the microphone state.
	Online() bool

	// Logger returns a logger tagged with the session epoch.
	Logger() *slog.Logger
}

// Factory builds a fresh transport for one session.
type Factory func() (Transport, error)

// Selector picks the transport kind at session start.
type Selector struct {
	// Preferred is auto, managed or local.
	Preferred Kind

	// Probe reports whether managed rooms are available. Used only for auto.
	Probe func(ctx context.Context) (bool, error)
}

// Select returns managed or local. Auto chooses managed only when the probe
// succeeds and reports voice enabled.
func (s Selector) Select(ctx context.Context) Kind {
	switch s.Preferred {
	case KindManaged, KindLocal:
		return s.Preferred
	}
	if s.Probe == nil {
		return KindLocal
	}
	enabled, err := s.Probe(ctx)
	if err != nil || !enabled {
		return KindLocal
	}
	return KindManaged
}
