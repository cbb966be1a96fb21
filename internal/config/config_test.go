package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoad_DefaultValues(t *testing.T) {
	clearEnvVars()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}
	if cfg.Server.DBPath != "./data/voiceguardian.db" {
		t.Errorf("Server.DBPath = %q, want %q", cfg.Server.DBPath, "./data/voiceguardian.db")
	}

	if cfg.Transcription.RemoteURL != "http://stt:8000/transcribe" {
		t.Errorf("Transcription.RemoteURL = %q, want %q", cfg.Transcription.RemoteURL, "http://stt:8000/transcribe")
	}
	if cfg.Transcription.Model != "base" {
		t.Errorf("Transcription.Model = %q, want %q", cfg.Transcription.Model, "base")
	}
	if cfg.Transcription.LiveCap != 30*time.Second {
		t.Errorf("Transcription.LiveCap = %v, want %v", cfg.Transcription.LiveCap, 30*time.Second)
	}
	if cfg.Transcription.PreferServer || cfg.Transcription.PreferBrowser {
		t.Error("backend preferences should default to false")
	}

	if cfg.Moderation.Strictness != StrictnessStandard {
		t.Errorf("Moderation.Strictness = %q, want %q", cfg.Moderation.Strictness, StrictnessStandard)
	}

	if cfg.Retention.Days != 30 {
		t.Errorf("Retention.Days = %d, want %d", cfg.Retention.Days, 30)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name: "Transcription configuration",
			envVars: map[string]string{
				"STT_URL":          "http://custom-stt:9000/v1/transcribe",
				"STT_MODEL":        "large-v3",
				"STT_LANGUAGE":     "es",
				"LIVE_SESSION_CAP": "45s",
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Transcription.RemoteURL != "http://custom-stt:9000/v1/transcribe" {
					t.Errorf("RemoteURL = %q", cfg.Transcription.RemoteURL)
				}
				if cfg.Transcription.Model != "large-v3" {
					t.Errorf("Model = %q, want %q", cfg.Transcription.Model, "large-v3")
				}
				if cfg.Transcription.Language != "es" {
					t.Errorf("Language = %q, want %q", cfg.Transcription.Language, "es")
				}
				if cfg.Transcription.LiveCap != 45*time.Second {
					t.Errorf("LiveCap = %v, want %v", cfg.Transcription.LiveCap, 45*time.Second)
				}
			},
		},
		{
			name: "Backend preferences",
			envVars: map[string]string{
				"STT_PREFER_SERVER":  "true",
				"STT_PREFER_BROWSER": "true",
			},
			validate: func(t *testing.T, cfg *Config) {
				if !cfg.Transcription.PreferServer {
					t.Error("PreferServer = false, want true")
				}
				if !cfg.Transcription.PreferBrowser {
					t.Error("PreferBrowser = false, want true")
				}
			},
		},
		{
			name: "Server configuration",
			envVars: map[string]string{
				"VG_HOST":    "127.0.0.1",
				"VG_PORT":    "3000",
				"VG_DB_PATH": "/custom/path/db.sqlite",
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Server.Host != "127.0.0.1" {
					t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
				}
				if cfg.Server.Port != 3000 {
					t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 3000)
				}
				if cfg.Server.DBPath != "/custom/path/db.sqlite" {
					t.Errorf("Server.DBPath = %q, want %q", cfg.Server.DBPath, "/custom/path/db.sqlite")
				}
			},
		},
		{
			name: "Moderation strictness",
			envVars: map[string]string{
				"MODERATION_STRICTNESS": "strict",
				"MODERATION_LEXICON":    "/etc/voiceguardian/lexicon.yaml",
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Moderation.Strictness != StrictnessStrict {
					t.Errorf("Strictness = %q, want %q", cfg.Moderation.Strictness, StrictnessStrict)
				}
				if cfg.Moderation.LexiconPath != "/etc/voiceguardian/lexicon.yaml" {
					t.Errorf("LexiconPath = %q", cfg.Moderation.LexiconPath)
				}
			},
		},
		{
			name: "Retention configuration",
			envVars: map[string]string{
				"VG_RETENTION_DAYS":   "7",
				"VG_AUTO_CLEANUP":     "false",
				"VG_CLEANUP_INTERVAL": "1h",
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Retention.Days != 7 {
					t.Errorf("Retention.Days = %d, want %d", cfg.Retention.Days, 7)
				}
				if cfg.Retention.AutoCleanup {
					t.Error("Retention.AutoCleanup = true, want false")
				}
				if cfg.Retention.CleanupInterval != time.Hour {
					t.Errorf("Retention.CleanupInterval = %v, want %v", cfg.Retention.CleanupInterval, time.Hour)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars()
			for key, value := range tt.envVars {
				_ = os.Setenv(key, value)
			}
			defer clearEnvVars()

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}

			tt.validate(t, cfg)
		})
	}
}

func TestLoad_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name          string
		envVars       map[string]string
		errorContains string
	}{
		{
			name:          "Invalid server port",
			envVars:       map[string]string{"VG_PORT": "0"},
			errorContains: "invalid server port",
		},
		{
			name:          "Port above range",
			envVars:       map[string]string{"VG_PORT": "99999"},
			errorContains: "invalid server port",
		},
		{
			name:          "Unknown strictness",
			envVars:       map[string]string{"MODERATION_STRICTNESS": "paranoid"},
			errorContains: "invalid moderation strictness",
		},
		{
			name:          "Negative live cap",
			envVars:       map[string]string{"LIVE_SESSION_CAP": "-5s"},
			errorContains: "live session cap",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars()
			for key, value := range tt.envVars {
				_ = os.Setenv(key, value)
			}
			defer clearEnvVars()

			_, err := Load()
			if err == nil {
				t.Fatal("Expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.errorContains) {
				t.Errorf("Expected error to contain %q, got: %v", tt.errorContains, err)
			}
		})
	}
}

// Helper function to clear environment variables used in tests
func clearEnvVars() {
	envVars := []string{
		"VG_HOST", "VG_PORT", "VG_READ_TIMEOUT", "VG_WRITE_TIMEOUT", "VG_DB_PATH",
		"STT_URL", "STT_MODEL", "STT_LANGUAGE", "STT_PREFER_SERVER", "STT_PREFER_BROWSER",
		"STT_REMOTE_RPS", "STT_CACHE_TTL", "LIVE_SESSION_CAP", "WHISPER_MODEL",
		"MODERATION_STRICTNESS", "MODERATION_LEXICON",
		"VG_RETENTION_DAYS", "VG_AUTO_CLEANUP", "VG_CLEANUP_INTERVAL",
		"LOG_LEVEL", "LOG_FORMAT",
		"NATS_URL", "NATS_MAX_RECONNECT", "NATS_RECONNECT_WAIT",
	}

	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}
