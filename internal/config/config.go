package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice gateway.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	ServiceName    string
	ServiceVersion string

	UpstreamWSURL       string
	UpstreamAPIKey      string
	UpstreamVoice       string
	UpstreamAudioFormat string
	UpstreamSampleRate  int
	DefaultLanguage     string

	VADThreshold         float64
	VADPrefixPaddingMS   int
	VADSilenceDurationMS int

	MemoryEngineURL string
	DNAEngineURL    string
	OrchestratorURL string

	DatabaseURL string

	SessionIdleTimeout    time.Duration
	EvictionInterval      time.Duration
	MaxConcurrentSessions int

	PublicWSBaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8090"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "voicebridge"),
		ServiceName:      "voicebridge",
		ServiceVersion:   "2.0.0",
		AllowAnyOrigin:   false,

		UpstreamWSURL:       envOrDefault("UPSTREAM_WS_URL", "wss://api.x.ai/v1/realtime"),
		UpstreamAPIKey:      envTrimmed("UPSTREAM_API_KEY"),
		UpstreamVoice:       envOrDefault("UPSTREAM_VOICE", "Sal"),
		UpstreamAudioFormat: envOrDefault("UPSTREAM_AUDIO_FORMAT", "audio/pcm"),
		UpstreamSampleRate:  24000,
		DefaultLanguage:     envOrDefault("DEFAULT_LANGUAGE", "en"),

		VADThreshold:         0.5,
		VADPrefixPaddingMS:   300,
		VADSilenceDurationMS: 200,

		MemoryEngineURL: envTrimmed("MEMORY_ENGINE_URL"),
		DNAEngineURL:    envTrimmed("DNA_ENGINE_URL"),
		OrchestratorURL: envTrimmed("ORCHESTRATOR_URL"),

		DatabaseURL: envTrimmed("DATABASE_URL"),

		SessionIdleTimeout:    time.Hour,
		EvictionInterval:      60 * time.Second,
		MaxConcurrentSessions: 100,

		ShutdownTimeout: 15 * time.Second,

		PublicWSBaseURL: envOrDefault("PUBLIC_WS_BASE_URL", "ws://localhost:8090"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTimeout, err = durationFromEnv("SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EvictionInterval, err = durationFromEnv("SESSION_EVICTION_INTERVAL", cfg.EvictionInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxConcurrentSessions, err = intFromEnv("MAX_CONCURRENT_SESSIONS", cfg.MaxConcurrentSessions)
	if err != nil {
		return Config{}, err
	}
	cfg.UpstreamSampleRate, err = intFromEnv("UPSTREAM_SAMPLE_RATE", cfg.UpstreamSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.VADThreshold, err = floatFromEnv("VAD_THRESHOLD", cfg.VADThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.VADPrefixPaddingMS, err = intFromEnv("VAD_PREFIX_PADDING_MS", cfg.VADPrefixPaddingMS)
	if err != nil {
		return Config{}, err
	}
	cfg.VADSilenceDurationMS, err = intFromEnv("VAD_SILENCE_DURATION_MS", cfg.VADSilenceDurationMS)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionIdleTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("SESSION_IDLE_TIMEOUT must be at least 5s")
	}
	if cfg.EvictionInterval <= 0 {
		return Config{}, fmt.Errorf("SESSION_EVICTION_INTERVAL must be positive")
	}
	if cfg.MaxConcurrentSessions <= 0 {
		return Config{}, fmt.Errorf("MAX_CONCURRENT_SESSIONS must be positive")
	}
	if cfg.UpstreamSampleRate <= 0 {
		return Config{}, fmt.Errorf("UPSTREAM_SAMPLE_RATE must be positive")
	}
	if cfg.VADThreshold < 0 || cfg.VADThreshold > 1 {
		return Config{}, fmt.Errorf("VAD_THRESHOLD must be within [0, 1]")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
