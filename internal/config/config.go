package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"

	"github.com/RaviKiran093/multilingual-video-call/internal/origin"
)

const (
	envVarListenAddr      = "CALL_RELAY_LISTEN_ADDR"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarMode            = "CALL_RELAY_MODE"
	envVarLogFormat       = "CALL_RELAY_LOG_FORMAT"
	envVarLogLevel        = "CALL_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "CALL_RELAY_SHUTDOWN_TIMEOUT"

	// Signaling websocket hardening.
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"

	// Translation / transcription collaborators.
	envVarTranslateAPIURL   = "TRANSLATE_API_URL"
	envVarTranslateTimeout  = "TRANSLATE_TIMEOUT"
	envVarDefaultTargetLang = "DEFAULT_TARGET_LANG"
	envVarWhisperBin        = "WHISPER_BIN"
	envVarWhisperModel      = "WHISPER_MODEL"

	// ICE servers for endpoint-side PeerConnections, comma separated STUN/TURN
	// URLs (credentials are out of scope; TURN URLs are passed through as-is).
	envVarICEServerURLs = "ICE_SERVER_URLS"
)

const (
	DefaultListenAddr      = "127.0.0.1:4000"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50

	DefaultTranslateAPIURL  = "https://libretranslate.com/translate"
	DefaultTranslateTimeout = 10 * time.Second
	DefaultTargetLang       = "en"
	DefaultWhisperBin       = "whisper"
	DefaultWhisperModel     = "base"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

const DefaultMode = ModeDev

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int

	TranslateAPIURL   string
	TranslateTimeout  time.Duration
	DefaultTargetLang string
	WhisperBin        string
	WhisperModel      string

	ICEServerURLs []string
}

// ICEServers returns the configured ICE servers in pion form.
func (c Config) ICEServers() []webrtc.ICEServer {
	if len(c.ICEServerURLs) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: c.ICEServerURLs}}
}

// LoadDotEnv loads a .env file when present. Missing files are fine; .env is
// a dev convenience, production deployments configure the environment.
func LoadDotEnv() {
	_ = godotenv.Load()
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

// load is split out from Load so tests can inject the environment.
func load(lookup func(string) (string, bool), args []string) (Config, error) {
	modeDefault := envOrDefault(lookup, envVarMode, string(DefaultMode))

	fs := flag.NewFlagSet("call-relay", flag.ContinueOnError)
	listenAddr := fs.String("listen-addr", envOrDefault(lookup, envVarListenAddr, DefaultListenAddr), "host:port to listen on")
	modeFlag := fs.String("mode", modeDefault, "deployment mode: dev or prod")
	logFormatFlag := fs.String("log-format", envOrDefault(lookup, envVarLogFormat, ""), "log format: text or json (default depends on mode)")
	logLevelFlag := fs.String("log-level", envOrDefault(lookup, envVarLogLevel, ""), "log level: debug, info, warn, error (default depends on mode)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(*modeFlag)
	if err != nil {
		return Config{}, err
	}

	logFormat, err := parseLogFormat(*logFormatFlag, mode)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(*logLevelFlag, mode)
	if err != nil {
		return Config{}, err
	}

	allowedOrigins, err := parseAllowedOrigins(envOrDefault(lookup, envVarAllowedOrigins, ""))
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	wsIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	if wsPingInterval >= wsIdleTimeout {
		return Config{}, fmt.Errorf("%s (%s) must be shorter than %s (%s)",
			envVarSignalingWSPingInterval, wsPingInterval, envVarSignalingWSIdleTimeout, wsIdleTimeout)
	}

	maxMsgBytes, err := envIntOrDefault(lookup, envVarMaxSignalingMessageBytes, int(DefaultMaxSignalingMessageBytes))
	if err != nil {
		return Config{}, err
	}
	maxMsgRate, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	translateTimeout, err := envDurationOrDefault(lookup, envVarTranslateTimeout, DefaultTranslateTimeout)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:      *listenAddr,
		AllowedOrigins:  allowedOrigins,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,

		SignalingWSIdleTimeout:        wsIdleTimeout,
		SignalingWSPingInterval:       wsPingInterval,
		MaxSignalingMessageBytes:      int64(maxMsgBytes),
		MaxSignalingMessagesPerSecond: maxMsgRate,

		TranslateAPIURL:   envOrDefault(lookup, envVarTranslateAPIURL, DefaultTranslateAPIURL),
		TranslateTimeout:  translateTimeout,
		DefaultTargetLang: envOrDefault(lookup, envVarDefaultTargetLang, DefaultTargetLang),
		WhisperBin:        envOrDefault(lookup, envVarWhisperBin, DefaultWhisperBin),
		WhisperModel:      envOrDefault(lookup, envVarWhisperModel, DefaultWhisperModel),

		ICEServerURLs: splitNonEmpty(envOrDefault(lookup, envVarICEServerURLs, "")),
	}
	return cfg, nil
}

// NewLogger builds the process logger from the loaded configuration.
func NewLogger(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler
	if cfg.LogFormat == LogFormatText {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s=%q: must be positive", key, v)
	}
	return d, nil
}

func parseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeDev:
		return ModeDev, nil
	case ModeProd:
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string, mode Mode) (LogFormat, error) {
	if strings.TrimSpace(raw) == "" {
		if mode == ModeProd {
			return LogFormatJSON, nil
		}
		return LogFormatText, nil
	}
	switch LogFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case LogFormatText:
		return LogFormatText, nil
	case LogFormatJSON:
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string, mode Mode) (slog.Level, error) {
	if strings.TrimSpace(raw) == "" {
		if mode == ModeProd {
			return slog.LevelInfo, nil
		}
		return slog.LevelDebug, nil
	}
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
		return 0, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	var out []string
	for _, part := range splitNonEmpty(raw) {
		if part == "*" {
			out = append(out, part)
			continue
		}
		normalized, ok := origin.Normalize(part)
		if !ok {
			return nil, fmt.Errorf("invalid %s entry %q", envVarAllowedOrigins, part)
		}
		out = append(out, normalized)
	}
	return out, nil
}

func splitNonEmpty(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
