// SiteVoice - voice conversations about a crawled website.
// Talks to the voice backend through a managed LiveKit room or, when rooms
// are unavailable, through the local relay with on-device speech.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/teslashibe/go-sitevoice/internal/config"
	"github.com/teslashibe/go-sitevoice/internal/log"
	"github.com/teslashibe/go-sitevoice/pkg/audioio"
	"github.com/teslashibe/go-sitevoice/pkg/relay"
	"github.com/teslashibe/go-sitevoice/pkg/room"
	"github.com/teslashibe/go-sitevoice/pkg/session"
	"github.com/teslashibe/go-sitevoice/pkg/speech"
	"github.com/teslashibe/go-sitevoice/pkg/stt"
	"github.com/teslashibe/go-sitevoice/pkg/tts"
	"github.com/teslashibe/go-sitevoice/pkg/web"
)

func main() {
	if err := config.LoadEnv(os.Getenv("SITEVOICE_ENV_FILE")); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	cfg, roomRecognition := parseFlags()
	log.Init(cfg.LogLevel)
	logger := log.L()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	app, err := newApp(cfg, roomRecognition, logger)
	if err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	defer app.shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app.run(ctx)
}

// parseFlags overlays command line flags on the environment configuration.
func parseFlags() (config.Client, bool) {
	cfg := config.LoadClient()

	pflag.StringVar(&cfg.APIBase, "api", cfg.APIBase, "voice backend base URL")
	pflag.StringVarP(&cfg.Transport, "transport", "t", cfg.Transport, "transport: auto, managed or local")
	pflag.StringVar(&cfg.DashboardAddr, "dashboard", cfg.DashboardAddr, "dashboard listen address, e.g. :8181 (empty disables)")
	pflag.StringVar(&cfg.Voice, "voice", cfg.Voice, "synthesis voice")
	pflag.StringVar(&cfg.AudioBackend, "audio", cfg.AudioBackend, "audio backend: portaudio or mock")
	pflag.StringVar(&cfg.RoomPrefix, "room-prefix", cfg.RoomPrefix, "prefix for generated room names")
	pflag.DurationVar(&cfg.SpeakingWindow, "speaking-window", cfg.SpeakingWindow, "how long a remote track counts as speaking")
	pflag.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "session start timeout")
	pflag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	roomRecognition := pflag.Bool("room-recognition", false, "also transcribe locally in managed rooms and send text messages")
	pflag.Parse()
	return cfg, *roomRecognition
}

type app struct {
	logger *slog.Logger

	mic     audioio.Source
	sink    audioio.Sink
	speaker *tts.Speaker

	session   *session.Session
	dashboard *web.Server
	dashAddr  string
}

func newApp(cfg config.Client, roomRecognition bool, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger, dashAddr: cfg.DashboardAddr}

	acfg := audioio.DefaultConfig()
	acfg.Backend = audioio.Backend(cfg.AudioBackend)
	mic, err := audioio.NewSource(acfg, logger)
	if err != nil {
		return nil, fmt.Errorf("microphone: %w", err)
	}
	sink, err := audioio.NewSink(acfg.WithRate(24000), logger)
	if err != nil {
		mic.Close()
		return nil, fmt.Errorf("speaker: %w", err)
	}
	a.mic, a.sink = mic, sink

	// The room publishes the microphone while the recognizer listens to it.
	fan := audioio.NewFanout(mic, logger)
	roomTap := fan.Tap()

	var engine speech.Engine
	var voice speech.Voice
	if cfg.OpenAIKey != "" {
		e, err := stt.New(
			stt.WithSource(fan.Tap()),
			stt.WithTranscriber(stt.NewOpenAITranscriber(cfg.OpenAIKey)),
			stt.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("speech recognition: %w", err)
		}
		engine = e

		provider, err := tts.NewOpenAI(tts.WithAPIKey(cfg.OpenAIKey), tts.WithVoice(cfg.Voice), tts.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("speech synthesis: %w", err)
		}
		a.speaker = tts.NewSpeaker(provider, sink, logger)
		voice = a.speaker
	} else {
		logger.Warn("OPENAI_API_KEY not set, local speech is unavailable")
	}

	prov := room.NewHTTPProvisioner(cfg.APIBase, nil)
	joiner := room.NewLiveKitJoiner(logger)

	managed := func() (session.Transport, error) {
		opts := []room.Option{
			room.WithProvisioner(prov),
			room.WithJoiner(joiner),
			room.WithSource(roomTap),
			room.WithSink(sink),
			room.WithRoomPrefix(cfg.RoomPrefix),
			room.WithSpeakingWindow(cfg.SpeakingWindow),
			room.WithLogger(logger),
		}
		if roomRecognition && engine != nil {
			opts = append(opts, room.WithEngine(engine))
		}
		return room.New(opts...)
	}
	local := func() (session.Transport, error) {
		opts := []relay.Option{relay.WithURL(cfg.RelayURL()), relay.WithLogger(logger)}
		if engine != nil {
			opts = append(opts, relay.WithEngine(engine))
		}
		if voice != nil {
			opts = append(opts, relay.WithVoice(voice))
		}
		return relay.New(opts...)
	}

	a.session = session.New(
		session.WithTransport(session.KindManaged, managed),
		session.WithTransport(session.KindLocal, local),
		session.WithPreference(session.ParseKind(cfg.Transport)),
		session.WithProbe(prov.VoiceEnabled),
		session.WithConnectTimeout(cfg.ConnectTimeout),
		session.WithLogger(logger),
	)

	if cfg.DashboardAddr != "" {
		a.dashboard = web.NewServer(a.session, logger)
	}
	return a, nil
}

func (a *app) run(ctx context.Context) {
	stop := a.session.OnChange(newPrinter(os.Stdout).print)
	defer stop()

	if a.dashboard != nil {
		go func() {
			if err := a.dashboard.Listen(a.dashAddr); err != nil {
				a.logger.Error("dashboard stopped", "error", err)
			}
		}()
	}

	fmt.Println(helpText)
	lines := readLines(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := a.handle(ctx, line); quit {
				return
			}
		}
	}
}

func (a *app) shutdown() {
	a.session.Close()
	if a.dashboard != nil {
		if err := a.dashboard.Shutdown(); err != nil {
			a.logger.Warn("dashboard shutdown", "error", err)
		}
	}
	if a.speaker != nil {
		a.speaker.Close()
	} else {
		a.sink.Close()
	}
	a.mic.Close()
	a.logger.Info("shutdown complete")
}
