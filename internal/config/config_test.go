package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{
			name:   "empty api key is accepted at load",
			mutate: func(c *Config) { c.Gemini.APIKey = "" },
		},
		{
			name:     "empty model",
			mutate:   func(c *Config) { c.Gemini.Model = "" },
			errorMsg: "model cannot be empty",
		},
		{
			name:     "unknown voice",
			mutate:   func(c *Config) { c.Gemini.Voice = "Robot" },
			errorMsg: "voice must be one of",
		},
		{
			name: "both instruction sources",
			mutate: func(c *Config) {
				c.Gemini.SystemInstruction = "be helpful"
				c.Gemini.SystemInstructionFile = "prompt.txt"
			},
			errorMsg: "not both",
		},
		{
			name:     "unknown capture backend",
			mutate:   func(c *Config) { c.Audio.Capture = "alsa" },
			errorMsg: "capture must be one of",
		},
		{
			name:     "unknown playback backend",
			mutate:   func(c *Config) { c.Audio.Playback = "beep" },
			errorMsg: "playback must be one of",
		},
		{
			name:     "input rate out of range",
			mutate:   func(c *Config) { c.Audio.InputSampleRate = 4000 },
			errorMsg: "input_sample_rate",
		},
		{
			name:     "frame size too small",
			mutate:   func(c *Config) { c.Audio.FrameSize = 16 },
			errorMsg: "frame_size",
		},
		{
			name:     "zero gain",
			mutate:   func(c *Config) { c.Audio.InputGain = 0 },
			errorMsg: "input_gain",
		},
		{
			name:     "negative retries",
			mutate:   func(c *Config) { c.Session.MaxRetries = -1 },
			errorMsg: "max_retries",
		},
		{
			name:     "max delay below base",
			mutate:   func(c *Config) { c.Session.MaxDelayMs = 500 },
			errorMsg: "max_delay_ms",
		},
		{
			name:     "sqlite without path",
			mutate:   func(c *Config) { c.Store.Path = "" },
			errorMsg: "path cannot be empty",
		},
		{
			name: "memory without path",
			mutate: func(c *Config) {
				c.Store.Backend = "memory"
				c.Store.Path = ""
			},
		},
		{
			name:     "unknown store backend",
			mutate:   func(c *Config) { c.Store.Backend = "redis" },
			errorMsg: "backend must be one of",
		},
		{
			name:     "invalid http port",
			mutate:   func(c *Config) { c.HTTP.Port = 70000 },
			errorMsg: "http port must be between 1 and 65535",
		},
		{
			name: "http disabled ignores port",
			mutate: func(c *Config) {
				c.HTTP.Enabled = false
				c.HTTP.Port = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)
			err := config.Validate()

			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
				return
			}
			if err == nil {
				t.Errorf("Expected error but got none")
			} else if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
		check       func(t *testing.T, c *Config)
	}{
		{
			name: "full config file",
			configYAML: `
gemini:
  model: "gemini-live-test"
  voice: "Kore"
  system_instruction: "You are a real estate acquisitions assistant."
audio:
  capture: "portaudio"
  playback: "none"
  input_sample_rate: 16000
  output_sample_rate: 24000
  frame_size: 2048
  input_gain: 2.0
  level_sensitivity: 4
session:
  max_retries: 5
  base_delay_ms: 500
  multiplier: 3
  max_delay_ms: 10000
  auto_connect: true
store:
  backend: "file"
  path: "records.json"
http:
  port: 9090
  address: "0.0.0.0"
  enabled: true
logging:
  level: "debug"
  format: "console"
  output: "stderr"
`,
			check: func(t *testing.T, c *Config) {
				if c.Gemini.Voice != "Kore" {
					t.Errorf("Expected voice Kore, got %s", c.Gemini.Voice)
				}
				if c.Audio.Capture != "portaudio" || c.Audio.FrameSize != 2048 {
					t.Errorf("Expected portaudio capture with 2048 frames, got %s/%d", c.Audio.Capture, c.Audio.FrameSize)
				}
				if c.Session.MaxRetries != 5 || !c.Session.AutoConnect {
					t.Errorf("Expected 5 retries with auto connect, got %d/%v", c.Session.MaxRetries, c.Session.AutoConnect)
				}
				if c.Store.Backend != "file" {
					t.Errorf("Expected file store, got %s", c.Store.Backend)
				}
			},
		},
		{
			name: "partial file keeps defaults",
			configYAML: `
gemini:
  voice: "Fenrir"
`,
			check: func(t *testing.T, c *Config) {
				if c.Gemini.Voice != "Fenrir" {
					t.Errorf("Expected voice Fenrir, got %s", c.Gemini.Voice)
				}
				if c.Gemini.Model != "gemini-2.0-flash-exp" {
					t.Errorf("Expected default model, got %s", c.Gemini.Model)
				}
				if c.Audio.FrameSize != 4096 {
					t.Errorf("Expected default frame size 4096, got %d", c.Audio.FrameSize)
				}
			},
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
audio:
  frame_size: invalid_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "invalid value",
			configYAML: `
store:
  backend: "mongo"
`,
			expectError: true,
			errorMsg:    "store config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			tt.check(t, config)
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	config, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Expected defaults for missing file, got: %v", err)
	}
	if config.HTTP.Port != 8088 {
		t.Errorf("Expected default port 8088, got %d", config.HTTP.Port)
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "VITE_GEMINI_API_KEY=file-key\nREI_STORE_PATH=/data/file.db\n"
	if err := os.WriteFile(envFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write env file: %v", err)
	}

	t.Run("file values fill unset variables", func(t *testing.T) {
		t.Setenv(EnvAPIKey, "")
		t.Setenv(EnvLegacyAPIKey, "")
		t.Setenv(EnvStorePath, "")

		config := Default()
		if err := config.LoadEnv(envFile); err != nil {
			t.Fatalf("LoadEnv failed: %v", err)
		}
		if config.Gemini.APIKey != "file-key" {
			t.Errorf("Expected api key from file, got %q", config.Gemini.APIKey)
		}
		if config.Store.Path != "/data/file.db" {
			t.Errorf("Expected store path from file, got %q", config.Store.Path)
		}
	})

	t.Run("process environment wins", func(t *testing.T) {
		t.Setenv(EnvAPIKey, "env-key")
		t.Setenv(EnvStorePath, "/data/env.db")

		config := Default()
		if err := config.LoadEnv(envFile); err != nil {
			t.Fatalf("LoadEnv failed: %v", err)
		}
		if config.Gemini.APIKey != "env-key" {
			t.Errorf("Expected api key from environment, got %q", config.Gemini.APIKey)
		}
		if config.Store.Path != "/data/env.db" {
			t.Errorf("Expected store path from environment, got %q", config.Store.Path)
		}
	})

	t.Run("missing env file is ignored", func(t *testing.T) {
		t.Setenv(EnvAPIKey, "")
		t.Setenv(EnvLegacyAPIKey, "")
		t.Setenv(EnvStorePath, "")

		config := Default()
		if err := config.LoadEnv(filepath.Join(dir, "missing.env")); err != nil {
			t.Fatalf("Expected no error for missing env file, got: %v", err)
		}
		if config.Gemini.APIKey != "" {
			t.Errorf("Expected empty api key, got %q", config.Gemini.APIKey)
		}
		if config.Store.Path != "rei-voice.db" {
			t.Errorf("Expected default store path, got %q", config.Store.Path)
		}
	})
}

func TestLoadSystemInstruction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte("  Qualify the seller.\n"), 0644); err != nil {
		t.Fatalf("Failed to write prompt: %v", err)
	}

	inline := GeminiConfig{SystemInstruction: "Be brief."}
	if got, err := inline.LoadSystemInstruction(); err != nil || got != "Be brief." {
		t.Errorf("Expected inline instruction, got %q (%v)", got, err)
	}

	fromFile := GeminiConfig{SystemInstructionFile: path}
	if got, err := fromFile.LoadSystemInstruction(); err != nil || got != "Qualify the seller." {
		t.Errorf("Expected trimmed file instruction, got %q (%v)", got, err)
	}

	missing := GeminiConfig{SystemInstructionFile: filepath.Join(t.TempDir(), "none.txt")}
	if _, err := missing.LoadSystemInstruction(); err == nil {
		t.Errorf("Expected error for missing instruction file")
	}
}

func TestDurationHelpers(t *testing.T) {
	session := SessionConfig{
		BaseDelayMs: 1500,
		MaxDelayMs:  30000,
	}

	if session.GetBaseDelayDuration() != 1500*time.Millisecond {
		t.Errorf("Expected 1.5 seconds, got %v", session.GetBaseDelayDuration())
	}

	if session.GetMaxDelayDuration() != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", session.GetMaxDelayDuration())
	}

	http := HTTPConfig{Address: "127.0.0.1", Port: 8088}
	if http.ListenAddress() != "127.0.0.1:8088" {
		t.Errorf("Expected 127.0.0.1:8088, got %s", http.ListenAddress())
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
		valid  bool
		level  slog.Level
	}{
		{
			name:   "valid json to stdout",
			config: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
			valid:  true,
			level:  slog.LevelInfo,
		},
		{
			name:   "valid console to stderr",
			config: LoggingConfig{Level: "debug", Format: "console", Output: "stderr"},
			valid:  true,
			level:  slog.LevelDebug,
		},
		{
			name:   "file output",
			config: LoggingConfig{Level: "warn", Format: "text", Output: "/var/log/rei.log"},
			valid:  true,
			level:  slog.LevelWarn,
		},
		{
			name:   "invalid log level",
			config: LoggingConfig{Level: "trace", Format: "json", Output: "stdout"},
			valid:  false,
		},
		{
			name:   "invalid format",
			config: LoggingConfig{Level: "info", Format: "xml", Output: "stdout"},
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
			if tt.valid && tt.config.SlogLevel() != tt.level {
				t.Errorf("Expected level %v, got %v", tt.level, tt.config.SlogLevel())
			}
		})
	}
}
