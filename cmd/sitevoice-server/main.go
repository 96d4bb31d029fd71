// SiteVoice server - the voice backend. Provisions LiveKit rooms for managed
// sessions and answers relay questions for local sessions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/teslashibe/go-sitevoice/internal/config"
	"github.com/teslashibe/go-sitevoice/internal/log"
	"github.com/teslashibe/go-sitevoice/pkg/backend"
)

func main() {
	if err := config.LoadEnv(os.Getenv("SITEVOICE_ENV_FILE")); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	cfg := config.LoadServer()

	pflag.StringVarP(&cfg.Port, "port", "p", cfg.Port, "listen port")
	pflag.StringVar(&cfg.ChatBackendURL, "chat-backend", cfg.ChatBackendURL, "crawling backend base URL answering /chat")
	pflag.StringVar(&cfg.OpenAIModel, "model", cfg.OpenAIModel, "OpenAI chat model used without a chat backend")
	pflag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	pflag.Parse()

	log.Init(cfg.LogLevel)
	logger := log.L()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	opts := []backend.Option{backend.WithLogger(logger)}
	if cfg.VoiceEnabled() {
		opts = append(opts, backend.WithRooms(
			backend.NewLiveKitRooms(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, cfg.TokenTTL)))
	} else {
		logger.Warn("LiveKit is not configured, managed rooms are disabled")
	}
	switch {
	case cfg.ChatBackendURL != "":
		opts = append(opts, backend.WithAssistant(backend.NewChatBackend(cfg.ChatBackendURL, nil)))
	case cfg.OpenAIKey != "":
		opts = append(opts, backend.WithAssistant(backend.NewOpenAIAssistant(cfg.OpenAIKey, cfg.OpenAIModel)))
	default:
		logger.Warn("no assistant configured, relay questions will be answered with errors")
	}

	srv := backend.NewServer(opts...)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- srv.Listen(":" + cfg.Port) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		if err := srv.Shutdown(); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	case err := <-errc:
		if err != nil {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}
}
