package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config stores runtime configuration for the application.
type Config struct {
	Gemini  GeminiConfig
	Voice   VoiceConfig
	Audio   AudioConfig
	History HistoryConfig
	Rules   RulesConfig
	App     AppConfig
}

type GeminiConfig struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// VoiceConfig holds the optional remote synthesis credential.
type VoiceConfig struct {
	APIKey     string
	APIBaseURL string
	Timeout    time.Duration
}

type AudioConfig struct {
	DeviceBridgeURL   string
	DeviceBridgeToken string
	SpeakCommand      string
	PlayerCommand     string
}

type HistoryConfig struct {
	Path          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type RulesConfig struct {
	Path           string
	IterationLimit int
}

type AppConfig struct {
	Env          string
	LogLevel     string
	Language     string
	OTelEndpoint string
}

// Load resolves configuration from environment variables and sensible defaults.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	configDir := filepath.Join(home, ".config", "pillhelper")

	cfg := Config{
		Gemini: GeminiConfig{
			APIKey:      strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
			APIBaseURL:  envOrDefault("GEMINI_API_BASE", "https://generativelanguage.googleapis.com/v1beta"),
			Model:       envOrDefault("GEMINI_MODEL", "gemini-3-flash-preview"),
			Temperature: envOrDefaultFloat("GEMINI_TEMPERATURE", 0.1),
			Timeout:     time.Duration(envOrDefaultInt("GEMINI_TIMEOUT_MS", 30000)) * time.Millisecond,
		},
		Voice: VoiceConfig{
			APIKey:     strings.TrimSpace(os.Getenv("GCP_TTS_API_KEY")),
			APIBaseURL: envOrDefault("GCP_TTS_API_BASE", "https://texttospeech.googleapis.com/v1"),
			Timeout:    time.Duration(envOrDefaultInt("GCP_TTS_TIMEOUT_MS", 15000)) * time.Millisecond,
		},
		Audio: AudioConfig{
			DeviceBridgeURL:   strings.TrimSpace(os.Getenv("PILL_DEVICE_BRIDGE_URL")),
			DeviceBridgeToken: strings.TrimSpace(os.Getenv("PILL_DEVICE_BRIDGE_TOKEN")),
			SpeakCommand:      envOrDefault("PILL_SPEAK_COMMAND", "espeak-ng"),
			PlayerCommand:     envOrDefault("PILL_PLAYER_COMMAND", "ffplay"),
		},
		History: HistoryConfig{
			Path:          envOrDefault("PILL_HISTORY_FILE", filepath.Join(configDir, "pill_history.json")),
			RedisAddr:     strings.TrimSpace(os.Getenv("PILL_HISTORY_REDIS_ADDR")),
			RedisPassword: os.Getenv("PILL_HISTORY_REDIS_PASSWORD"),
			RedisDB:       envOrDefaultInt("PILL_HISTORY_REDIS_DB", 0),
		},
		Rules: RulesConfig{
			Path:           firstNonEmpty(os.Getenv("PILL_PRONUNCIATION_RULES"), filepath.Join(configDir, "pronunciation.rules")),
			IterationLimit: envOrDefaultInt("PILL_RULE_ITERATION_LIMIT", 30),
		},
		App: AppConfig{
			Env:          envOrDefault("PILL_ENV", "production"),
			LogLevel:     envOrDefault("PILL_LOG_LEVEL", "info"),
			OTelEndpoint: firstNonEmpty(os.Getenv("PILL_OTEL_ENDPOINT"), os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
			Language:     firstNonEmpty(
				os.Getenv("PILL_LANGUAGE"),
				os.Getenv("LC_ALL"),
				os.Getenv("LC_MESSAGES"),
				os.Getenv("LANG"),
			),
		},
	}

	if cfg.Gemini.Timeout <= 0 {
		cfg.Gemini.Timeout = 30 * time.Second
	}
	if cfg.Gemini.Temperature < 0 || cfg.Gemini.Temperature > 2 {
		cfg.Gemini.Temperature = 0.1
	}
	if cfg.Voice.Timeout <= 0 {
		cfg.Voice.Timeout = 15 * time.Second
	}
	if cfg.History.RedisDB < 0 {
		cfg.History.RedisDB = 0
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
