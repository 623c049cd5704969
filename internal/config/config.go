// Package config loads the relay's runtime configuration from environment
// variables. Everything has a sane default so a bare `meet-signaling-relay`
// starts a working dev server.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarListenAddr      = "MEET_SIGNALING_LISTEN_ADDR"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "MEET_SIGNALING_LOG_FORMAT"
	envVarLogLevel        = "MEET_SIGNALING_LOG_LEVEL"
	envVarShutdownTimeout = "MEET_SIGNALING_SHUTDOWN_TIMEOUT"

	// WebSocket transport knobs.
	envVarWSIdleTimeout        = "MEET_SIGNALING_WS_IDLE_TIMEOUT"
	envVarWSPingInterval       = "MEET_SIGNALING_WS_PING_INTERVAL"
	envVarMaxMessageBytes      = "MEET_SIGNALING_MAX_MESSAGE_BYTES"
	envVarMaxMessagesPerSecond = "MEET_SIGNALING_MAX_MESSAGES_PER_SECOND"
	envVarSendQueueSize        = "MEET_SIGNALING_SEND_QUEUE_SIZE"
)

const (
	// DefaultListenAddr keeps the PORT=3000 convention existing clients expect.
	DefaultListenAddr = ":3000"

	DefaultShutdownTimeout = 10 * time.Second

	DefaultWSIdleTimeout        = 60 * time.Second
	DefaultWSPingInterval       = 20 * time.Second
	DefaultMaxMessageBytes      = 64 * 1024
	DefaultMaxMessagesPerSecond = 50
	DefaultSendQueueSize        = 256
)

type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// WSIdleTimeout closes connections whose client stops answering pings.
	WSIdleTimeout  time.Duration
	WSPingInterval time.Duration

	// Inbound signaling hardening.
	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	// SendQueueSize is the per-connection outbound buffer; sends are dropped
	// when it is full rather than blocking the router.
	SendQueueSize int

	// ICEServers is served to clients at /webrtc/ice for their
	// RTCPeerConnection config. May be empty.
	ICEServers []webrtc.ICEServer
}

// Load reads configuration from the process environment.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

// load is the testable core of Load; lookup abstracts os.LookupEnv.
func load(lookup func(string) (string, bool)) (Config, error) {
	cfg := Config{
		ListenAddr:     envOrDefault(lookup, envVarListenAddr, DefaultListenAddr),
		AllowedOrigins: splitCommaSeparated(envOrDefault(lookup, envVarAllowedOrigins, "")),
	}

	format, err := parseLogFormat(envOrDefault(lookup, envVarLogFormat, string(LogFormatJSON)))
	if err != nil {
		return Config{}, err
	}
	cfg.LogFormat = format

	level, err := parseLogLevel(envOrDefault(lookup, envVarLogLevel, "info"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	cfg.ShutdownTimeout, err = envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WSIdleTimeout, err = envDurationOrDefault(lookup, envVarWSIdleTimeout, DefaultWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WSPingInterval, err = envDurationOrDefault(lookup, envVarWSPingInterval, DefaultWSPingInterval)
	if err != nil {
		return Config{}, err
	}

	maxBytes, err := envIntOrDefault(lookup, envVarMaxMessageBytes, DefaultMaxMessageBytes)
	if err != nil {
		return Config{}, err
	}
	if maxBytes <= 0 {
		return Config{}, fmt.Errorf("%s must be positive, got %d", envVarMaxMessageBytes, maxBytes)
	}
	cfg.MaxMessageBytes = int64(maxBytes)

	cfg.MaxMessagesPerSecond, err = envIntOrDefault(lookup, envVarMaxMessagesPerSecond, DefaultMaxMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	if cfg.MaxMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s must be positive, got %d", envVarMaxMessagesPerSecond, cfg.MaxMessagesPerSecond)
	}

	cfg.SendQueueSize, err = envIntOrDefault(lookup, envVarSendQueueSize, DefaultSendQueueSize)
	if err != nil {
		return Config{}, err
	}
	if cfg.SendQueueSize <= 0 {
		return Config{}, fmt.Errorf("%s must be positive, got %d", envVarSendQueueSize, cfg.SendQueueSize)
	}

	cfg.ICEServers, err = parseICEServersFromValues(
		envOrDefault(lookup, envICEServersJSON, ""),
		envOrDefault(lookup, envStunURLs, ""),
		envOrDefault(lookup, envTurnURLs, ""),
		envOrDefault(lookup, envTurnUsername, ""),
		envOrDefault(lookup, envTurnCredential, ""),
	)
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// NewLogger builds the process logger from the configured format and level.
func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "json":
		return LogFormatJSON, nil
	case "text":
		return LogFormatText, nil
	default:
		return "", fmt.Errorf("invalid %s %q (want json or text)", envVarLogFormat, raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid %s %q (want debug, info, warn or error)", envVarLogLevel, raw)
	}
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return d, nil
}

func splitCommaSeparated(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
