package room

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	lkmedia "github.com/livekit/server-sdk-go/v2/pkg/media"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-sitevoice/pkg/audioio"
)

// ErrRoomClosed is reported when the room server ends the connection.
var ErrRoomClosed = errors.New("room: disconnected by server")

const (
	opusRate     = 48000
	opusMaxFrame = 5760 // 120ms at 48kHz
	micTrackName = "microphone"
)

// LiveKitJoiner joins LiveKit rooms.
type LiveKitJoiner struct {
	logger *slog.Logger
}

// NewLiveKitJoiner creates a joiner.
func NewLiveKitJoiner(logger *slog.Logger) *LiveKitJoiner {
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveKitJoiner{logger: logger.With("component", "room.livekit")}
}

// Join connects to the room. The LiveKit SDK has no context-aware connect, so
// a join that outlives ctx is disconnected as soon as it completes.
func (j *LiveKitJoiner) Join(ctx context.Context, grant Grant, ev Events) (Conn, error) {
	c := &lkConn{logger: j.logger.With("room", grant.Room)}

	cb := &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio || ev.RemoteAudio == nil {
					return
				}
				ra, err := newOpusTrack(track)
				if err != nil {
					c.logger.Warn("cannot decode remote audio", "track", track.ID(), "error", err)
					return
				}
				c.logger.Info("remote audio subscribed", "track", track.ID(), "participant", rp.Identity())
				ev.RemoteAudio(ra)
			},
			OnDataPacket: func(data lksdk.DataPacket, params lksdk.DataReceiveParams) {
				payload := data.ToProto().GetUser().GetPayload()
				if len(payload) == 0 || ev.Data == nil {
					return
				}
				ev.Data(payload)
			},
		},
		OnDisconnected: func() {
			if c.closing.Load() || ev.Disconnected == nil {
				return
			}
			// The SDK calls back on its own goroutine while holding room state;
			// the handler may call Close, so it runs separately.
			go ev.Disconnected(ErrRoomClosed)
		},
	}

	type joined struct {
		room *lksdk.Room
		err  error
	}
	done := make(chan joined, 1)
	go func() {
		r, err := lksdk.ConnectToRoomWithToken(grant.URL, grant.Token, cb, lksdk.WithAutoSubscribe(true))
		done <- joined{r, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		c.room = res.room
		c.logger.Info("joined room", "url", grant.URL)
		return c, nil
	case <-ctx.Done():
		go func() {
			if res := <-done; res.room != nil {
				c.closing.Store(true)
				res.room.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

type lkConn struct {
	room    *lksdk.Room
	logger  *slog.Logger
	closing atomic.Bool
}

func (c *lkConn) PublishMicrophone(sampleRate, channels int) (LocalTrack, error) {
	track, err := lkmedia.NewPCMLocalTrack(sampleRate, channels, nil)
	if err != nil {
		return nil, fmt.Errorf("create microphone track: %w", err)
	}
	pub, err := c.room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   micTrackName,
		Source: livekit.TrackSource_MICROPHONE,
	})
	if err != nil {
		track.Close()
		return nil, fmt.Errorf("publish microphone track: %w", err)
	}
	c.logger.Info("microphone published", "sid", pub.SID(), "sample_rate", sampleRate)
	return &lkTrack{room: c.room, track: track, pub: pub}, nil
}

func (c *lkConn) SendData(payload []byte) error {
	return c.room.LocalParticipant.PublishDataPacket(
		lksdk.UserData(payload),
		lksdk.WithDataPublishReliable(true),
	)
}

func (c *lkConn) Close() error {
	if c.closing.Swap(true) {
		return nil
	}
	c.room.Disconnect()
	return nil
}

type lkTrack struct {
	room  *lksdk.Room
	track *lkmedia.PCMLocalTrack
	pub   *lksdk.LocalTrackPublication
	muted atomic.Bool
	once  sync.Once
}

func (t *lkTrack) WriteSample(samples []int16) error {
	if t.muted.Load() {
		return nil
	}
	return t.track.WriteSample(samples)
}

func (t *lkTrack) SetMuted(muted bool) error {
	t.pub.SetMuted(muted)
	t.muted.Store(muted)
	return nil
}

func (t *lkTrack) Unpublish() error {
	var err error
	t.once.Do(func() {
		err = t.room.LocalParticipant.UnpublishTrack(t.pub.SID())
		t.track.Close()
	})
	return err
}

// opusTrack decodes a remote Opus track to mono PCM16.
type opusTrack struct {
	track *webrtc.TrackRemote
	dec   *opus.Decoder
	buf   []int16
}

func newOpusTrack(track *webrtc.TrackRemote) (*opusTrack, error) {
	if mime := track.Codec().MimeType; !strings.EqualFold(mime, webrtc.MimeTypeOpus) {
		return nil, fmt.Errorf("unsupported codec %q", mime)
	}
	dec, err := opus.NewDecoder(opusRate, 1)
	if err != nil {
		return nil, err
	}
	return &opusTrack{track: track, dec: dec, buf: make([]int16, opusMaxFrame)}, nil
}

func (o *opusTrack) ID() string {
	return o.track.ID()
}

func (o *opusTrack) Read() (audioio.AudioChunk, error) {
	for {
		pkt, _, err := o.track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return audioio.AudioChunk{}, io.EOF
			}
			return audioio.AudioChunk{}, err
		}
		payload := rtpPayload(pkt)
		if payload == nil {
			continue
		}
		n, err := o.dec.Decode(payload, o.buf)
		if err != nil {
			continue
		}
		samples := make([]int16, n)
		copy(samples, o.buf[:n])
		return audioio.AudioChunk{Samples: samples, SampleRate: opusRate, Channels: 1}, nil
	}
}

// rtpPayload returns the packet payload, or nil for padding-only packets.
func rtpPayload(pkt *rtp.Packet) []byte {
	if pkt == nil || len(pkt.Payload) == 0 {
		return nil
	}
	return pkt.Payload
}

var (
	_ Joiner      = (*LiveKitJoiner)(nil)
	_ Conn        = (*lkConn)(nil)
	_ LocalTrack  = (*lkTrack)(nil)
	_ RemoteAudio = (*opusTrack)(nil)
)
