/*
Copyright (c) 2026 VoiceGuardian Authors

Licensed under the AGPLv3 License.
This file is part of VoiceGuardian.
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Strictness levels for the moderation engine
const (
	StrictnessLenient  = "lenient"
	StrictnessStandard = "standard"
	StrictnessStrict   = "strict"
)

// Config holds all configuration for the VoiceGuardian service
type Config struct {
	Server        ServerConfig
	Transcription TranscriptionConfig
	Moderation    ModerationConfig
	Retention     RetentionConfig
	Logging       LoggingConfig
	NATS          NATSConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DBPath       string
}

// TranscriptionConfig holds transcription backend configuration
type TranscriptionConfig struct {
	RemoteURL     string // REST endpoint of the remote STT service
	Model         string // model name passed as a query parameter
	Language      string
	PreferServer  bool          // smart-mode preference: remote backend first
	PreferBrowser bool          // smart-mode preference: local model first
	LiveCap       time.Duration // wall-clock cap for a live recognition session
	RemoteRPS     float64       // rate limit for remote STT requests
	CacheTTL      time.Duration // transcription result cache TTL
	WhisperModel  string        // path to the local whisper model file
}

// ModerationConfig holds moderation engine configuration
type ModerationConfig struct {
	Strictness  string // "lenient", "standard", "strict"
	LexiconPath string // optional YAML lexicon file; empty uses the built-in lexicon
}

// RetentionConfig holds analysis retention configuration
type RetentionConfig struct {
	Days            int
	AutoCleanup     bool
	CleanupInterval time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// NATSConfig holds NATS messaging configuration
type NATSConfig struct {
	URL           string
	MaxReconnect  int
	ReconnectWait time.Duration
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("VG_HOST", "0.0.0.0"),
			Port:         getEnvInt("VG_PORT", 8080),
			ReadTimeout:  getEnvDuration("VG_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("VG_WRITE_TIMEOUT", 30*time.Second),
			DBPath:       getEnvString("VG_DB_PATH", "./data/voiceguardian.db"),
		},
		Transcription: TranscriptionConfig{
			RemoteURL:     getEnvString("STT_URL", "http://stt:8000/transcribe"),
			Model:         getEnvString("STT_MODEL", "base"),
			Language:      getEnvString("STT_LANGUAGE", "en"),
			PreferServer:  getEnvBool("STT_PREFER_SERVER", false),
			PreferBrowser: getEnvBool("STT_PREFER_BROWSER", false),
			LiveCap:       getEnvDuration("LIVE_SESSION_CAP", 30*time.Second),
			RemoteRPS:     getEnvFloat64("STT_REMOTE_RPS", 2.0),
			CacheTTL:      getEnvDuration("STT_CACHE_TTL", 10*time.Minute),
			WhisperModel:  getEnvString("WHISPER_MODEL", "./models/ggml-base.en.bin"),
		},
		Moderation: ModerationConfig{
			Strictness:  getEnvString("MODERATION_STRICTNESS", StrictnessStandard),
			LexiconPath: getEnvString("MODERATION_LEXICON", ""),
		},
		Retention: RetentionConfig{
			Days:            getEnvInt("VG_RETENTION_DAYS", 30),
			AutoCleanup:     getEnvBool("VG_AUTO_CLEANUP", true),
			CleanupInterval: getEnvDuration("VG_CLEANUP_INTERVAL", 6*time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
		},
		NATS: NATSConfig{
			URL:           getEnvString("NATS_URL", "nats://localhost:4222"),
			MaxReconnect:  getEnvInt("NATS_MAX_RECONNECT", 10),
			ReconnectWait: getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		},
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Transcription.RemoteURL == "" {
		return fmt.Errorf("STT URL must be provided")
	}

	if c.Transcription.LiveCap <= 0 {
		return fmt.Errorf("live session cap must be positive: %v", c.Transcription.LiveCap)
	}

	if c.Transcription.RemoteRPS <= 0 {
		return fmt.Errorf("remote STT rate limit must be positive: %f", c.Transcription.RemoteRPS)
	}

	switch c.Moderation.Strictness {
	case StrictnessLenient, StrictnessStandard, StrictnessStrict:
	default:
		return fmt.Errorf("invalid moderation strictness: %q", c.Moderation.Strictness)
	}

	if c.Retention.Days < 0 {
		return fmt.Errorf("retention days must not be negative: %d", c.Retention.Days)
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
