package audioio

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// Fanout shares one capture Source between several consumers. The underlying
// source runs while at least one tap is started.
type Fanout struct {
	src    Source
	logger *slog.Logger

	// life serializes source start and stop.
	life sync.Mutex

	mu      sync.Mutex
	taps    map[*Tap]struct{}
	active  int
	cancel  context.CancelFunc
	pumping sync.WaitGroup
}

// NewFanout wraps src.
func NewFanout(src Source, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		src:    src,
		logger: logger.With("component", "audioio.fanout"),
		taps:   make(map[*Tap]struct{}),
	}
}

// Tap returns a new consumer Source.
func (f *Fanout) Tap() *Tap {
	t := &Tap{f: f}
	f.mu.Lock()
	f.taps[t] = struct{}{}
	f.mu.Unlock()
	return t
}

func (f *Fanout) startTap(ctx context.Context, t *Tap) error {
	f.life.Lock()
	defer f.life.Unlock()
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.active == 0 {
		if err := f.src.Start(ctx); err != nil {
			return err
		}
		pctx, cancel := context.WithCancel(context.Background())
		f.cancel = cancel
		f.pumping.Add(1)
		go f.pump(pctx)
	}
	f.active++
	return nil
}

func (f *Fanout) stopTap() error {
	f.life.Lock()
	defer f.life.Unlock()
	f.mu.Lock()
	f.active--
	if f.active > 0 {
		f.mu.Unlock()
		return nil
	}
	cancel := f.cancel
	f.cancel = nil
	f.mu.Unlock()

	err := f.src.Stop()
	if cancel != nil {
		cancel()
	}
	f.pumping.Wait()
	return err
}

func (f *Fanout) pump(ctx context.Context) {
	defer f.pumping.Done()
	for {
		chunk, err := f.src.Read(ctx)
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				f.logger.Warn("capture read failed", "error", err)
			}
			return
		}
		f.mu.Lock()
		for t := range f.taps {
			t.deliver(chunk)
		}
		f.mu.Unlock()
	}
}

// Tap is one consumer of a Fanout.
type Tap struct {
	f *Fanout

	mu      sync.Mutex
	ch      chan AudioChunk
	stopCh  chan struct{}
	running bool
	closed  bool
}

// Start begins receiving chunks, starting the shared source if needed.
func (t *Tap) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return io.ErrClosedPipe
	}
	if t.running {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if err := t.f.startTap(ctx, t); err != nil {
		return err
	}

	t.mu.Lock()
	t.ch = make(chan AudioChunk, 64)
	t.stopCh = make(chan struct{})
	t.running = true
	t.mu.Unlock()
	return nil
}

func (t *Tap) deliver(chunk AudioChunk) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	select {
	case t.ch <- chunk:
	default:
	}
}

// Stop stops receiving chunks.
func (t *Tap) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	close(t.stopCh)
	t.mu.Unlock()
	return t.f.stopTap()
}

// Read returns the next chunk for this tap.
func (t *Tap) Read(ctx context.Context) (AudioChunk, error) {
	t.mu.Lock()
	ch, stop, running := t.ch, t.stopCh, t.running
	t.mu.Unlock()
	if !running {
		return AudioChunk{}, io.EOF
	}
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case <-stop:
		return AudioChunk{}, io.EOF
	case chunk := <-ch:
		return chunk, nil
	}
}

// Config returns the shared source configuration.
func (t *Tap) Config() Config {
	return t.f.src.Config()
}

// Name returns the shared source name.
func (t *Tap) Name() string {
	return t.f.src.Name()
}

// Close stops the tap and detaches it from the fanout.
func (t *Tap) Close() error {
	err := t.Stop()
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.f.mu.Lock()
	delete(t.f.taps, t)
	t.f.mu.Unlock()
	return err
}

var _ Source = (*Tap)(nil)
