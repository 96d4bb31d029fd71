package room

import (
	"context"

	"github.com/teslashibe/go-sitevoice/pkg/audioio"
)

// Joiner connects to a provisioned room.
type Joiner interface {
	// Join connects with grant and delivers room events to ev until the
	// returned Conn is closed.
	Join(ctx context.Context, grant Grant, ev Events) (Conn, error)
}

// Events are room callbacks. They may run on any goroutine.
type Events struct {
	// Disconnected reports that the room connection was lost.
	Disconnected func(err error)

	// RemoteAudio delivers a newly subscribed remote audio track.
	RemoteAudio func(track RemoteAudio)

	// Data delivers a user data packet.
	Data func(payload []byte)
}

// Conn is a joined room.
type Conn interface {
	// PublishMicrophone publishes a PCM16 microphone track.
	PublishMicrophone(sampleRate, channels int) (LocalTrack, error)

	// SendData sends a reliable user data packet to the room.
	SendData(payload []byte) error

	// Close leaves the room.
	Close() error
}

// LocalTrack is a published microphone track.
type LocalTrack interface {
	// WriteSample sends PCM16 samples. Muted tracks drop samples.
	WriteSample(samples []int16) error

	// SetMuted mutes or unmutes the publication.
	SetMuted(muted bool) error

	// Unpublish removes the track from the room and releases it.
	Unpublish() error
}

// RemoteAudio is a subscribed remote audio track decoded to PCM16.
type RemoteAudio interface {
	ID() string

	// Read blocks for the next decoded chunk. It returns io.EOF when the
	// track ends.
	Read() (audioio.AudioChunk, error)
}
