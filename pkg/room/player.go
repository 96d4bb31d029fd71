package room

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-sitevoice/pkg/audioio"
)

// Player owns the audio output for remote tracks. Attaching a track
// replaces the previous one.
type Player struct {
	sink   audioio.Sink
	logger *slog.Logger

	mu      sync.Mutex
	gen     uint64
	cancel  context.CancelFunc
	current string
	started bool
}

// NewPlayer creates a player over sink. The sink is started on first Attach.
func NewPlayer(sink audioio.Sink, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{sink: sink, logger: logger.With("component", "room.player")}
}

// Attach plays track, detaching whatever was playing.
func (p *Player) Attach(track RemoteAudio) error {
	p.mu.Lock()
	if !p.started {
		if err := p.sink.Start(context.Background()); err != nil {
			p.mu.Unlock()
			return err
		}
		p.started = true
	}
	if p.cancel != nil {
		p.cancel()
		p.sink.Clear()
	}
	p.gen++
	gen := p.gen
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.current = track.ID()
	p.mu.Unlock()

	p.logger.Debug("attached remote audio", "track", track.ID())
	go p.pump(ctx, gen, track)
	return nil
}

// Current returns the attached track ID, or "".
func (p *Player) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Player) pump(ctx context.Context, gen uint64, track RemoteAudio) {
	for {
		chunk, err := track.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				p.logger.Debug("remote audio ended", "track", track.ID(), "error", err)
			}
			p.mu.Lock()
			if p.gen == gen {
				p.current = ""
			}
			p.mu.Unlock()
			return
		}
		if ctx.Err() != nil {
			return
		}
		if err := p.sink.Write(ctx, chunk); err != nil && ctx.Err() == nil {
			p.logger.Debug("playback write failed", "error", err)
		}
	}
}

// Detach stops playback of the current track.
func (p *Player) Detach() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.gen++
	p.current = ""
	started := p.started
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if started {
		p.sink.Clear()
	}
}
