// Package config provides process configuration for go-sitevoice commands.
//
// Values come from the environment, optionally seeded from a .env file.
// Flags parsed by the commands override what is loaded here.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults shared by the client and the server.
const (
	DefaultAPIBase       = "http://localhost:8000"
	DefaultDashboardAddr = ":8181"
	DefaultServerPort    = "8000"
	DefaultTransport     = "auto"
	DefaultRoomPrefix    = "sitevoice"
	DefaultLogLevel      = "info"
)

// ErrMissingLiveKit is returned when only part of the LiveKit credentials are set.
var ErrMissingLiveKit = errors.New("config: LIVEKIT_URL, LIVEKIT_API_KEY and LIVEKIT_API_SECRET must be set together")

// LoadEnv loads a .env file into the process environment.
// A missing file is not an error.
func LoadEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// Client is the configuration of the interactive voice client.
type Client struct {
	// APIBase is the voice backend base URL (provisioning, status, relay).
	APIBase string
	// Transport is the preference: auto, managed or local.
	Transport string
	// DashboardAddr is the listen address of the local dashboard. Empty disables it.
	DashboardAddr string
	// OpenAIKey enables local speech recognition and synthesis.
	OpenAIKey string
	// Voice is the synthesis voice.
	Voice string
	// RoomPrefix prefixes generated room names.
	RoomPrefix string
	// SpeakingWindow approximates how long a remote track counts as speaking.
	SpeakingWindow time.Duration
	// ConnectTimeout bounds Start.
	ConnectTimeout time.Duration
	// AudioBackend selects the audio I/O backend (portaudio or mock).
	AudioBackend string
	LogLevel     string
}

// LoadClient reads the client configuration from the environment.
func LoadClient() Client {
	return Client{
		APIBase:        Env("SITEVOICE_API", DefaultAPIBase),
		Transport:      Env("SITEVOICE_TRANSPORT", DefaultTransport),
		DashboardAddr:  Env("SITEVOICE_DASHBOARD", ""),
		OpenAIKey:      Env("OPENAI_API_KEY", ""),
		Voice:          Env("SITEVOICE_VOICE", "shimmer"),
		RoomPrefix:     Env("SITEVOICE_ROOM_PREFIX", DefaultRoomPrefix),
		SpeakingWindow: Duration("SITEVOICE_SPEAKING_WINDOW", 3*time.Second),
		ConnectTimeout: Duration("SITEVOICE_CONNECT_TIMEOUT", 30*time.Second),
		AudioBackend:   Env("SITEVOICE_AUDIO", "portaudio"),
		LogLevel:       Env("LOG_LEVEL", DefaultLogLevel),
	}
}

// Validate checks the client configuration.
func (c Client) Validate() error {
	switch c.Transport {
	case "auto", "managed", "local":
	default:
		return fmt.Errorf("config: unknown transport %q", c.Transport)
	}
	if c.APIBase == "" {
		return errors.New("config: API base URL is required")
	}
	return nil
}

// RelayURL derives the relay websocket URL from the API base.
func (c Client) RelayURL() string {
	base := strings.TrimRight(c.APIBase, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/voice"
}

// Server is the configuration of the voice backend.
type Server struct {
	Port             string
	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string
	// ChatBackendURL is the crawling backend answering /chat.
	ChatBackendURL string
	// OpenAIKey answers relay messages with OpenAI chat when no chat backend is set.
	OpenAIKey   string
	OpenAIModel string
	TokenTTL    time.Duration
	LogLevel    string
}

// LoadServer reads the server configuration from the environment.
func LoadServer() Server {
	return Server{
		Port:             Env("PORT", DefaultServerPort),
		LiveKitURL:       Env("LIVEKIT_URL", ""),
		LiveKitAPIKey:    Env("LIVEKIT_API_KEY", ""),
		LiveKitAPISecret: Env("LIVEKIT_API_SECRET", ""),
		ChatBackendURL:   Env("CHAT_BACKEND_URL", ""),
		OpenAIKey:        Env("OPENAI_API_KEY", ""),
		OpenAIModel:      Env("OPENAI_MODEL", "gpt-4o-mini"),
		TokenTTL:         Duration("LIVEKIT_TOKEN_TTL", time.Hour),
		LogLevel:         Env("LOG_LEVEL", DefaultLogLevel),
	}
}

// VoiceEnabled reports whether managed rooms can be provisioned.
func (s Server) VoiceEnabled() bool {
	return s.LiveKitURL != "" && s.LiveKitAPIKey != "" && s.LiveKitAPISecret != ""
}

// Validate checks the server configuration.
func (s Server) Validate() error {
	set := 0
	for _, v := range []string{s.LiveKitURL, s.LiveKitAPIKey, s.LiveKitAPISecret} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return ErrMissingLiveKit
	}
	if _, err := strconv.Atoi(s.Port); err != nil {
		return fmt.Errorf("config: invalid port %q", s.Port)
	}
	return nil
}

// Env returns the environment value for key or def when unset.
func Env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Duration parses a Go duration from the environment, falling back to def.
func Duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
