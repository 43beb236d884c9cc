package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/helppeople411-create/rei-voice-pro/internal/gemini"
)

// Environment variables that override file settings
const (
	EnvAPIKey       = "GEMINI_API_KEY"
	EnvLegacyAPIKey = "VITE_GEMINI_API_KEY"
	EnvStorePath    = "REI_STORE_PATH"
)

// Config represents the complete application configuration
type Config struct {
	Gemini  GeminiConfig  `yaml:"gemini"`
	Audio   AudioConfig   `yaml:"audio"`
	Session SessionConfig `yaml:"session"`
	Store   StoreConfig   `yaml:"store"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

// GeminiConfig contains the conversational service settings
type GeminiConfig struct {
	APIKey                string `yaml:"api_key"`
	Model                 string `yaml:"model"`
	Voice                 string `yaml:"voice"`
	SystemInstruction     string `yaml:"system_instruction"`
	SystemInstructionFile string `yaml:"system_instruction_file"`
}

// AudioConfig contains device and pipeline parameters
type AudioConfig struct {
	Capture          string  `yaml:"capture"`  // malgo, portaudio or none
	Playback         string  `yaml:"playback"` // oto or none
	InputSampleRate  int     `yaml:"input_sample_rate"`
	OutputSampleRate int     `yaml:"output_sample_rate"`
	FrameSize        int     `yaml:"frame_size"` // samples
	InputGain        float64 `yaml:"input_gain"`
	LevelSensitivity float64 `yaml:"level_sensitivity"`
	RecordPath       string  `yaml:"record_path"`
}

// SessionConfig contains the reconnect policy
type SessionConfig struct {
	MaxRetries  int     `yaml:"max_retries"`
	BaseDelayMs int     `yaml:"base_delay_ms"`
	Multiplier  float64 `yaml:"multiplier"`
	MaxDelayMs  int     `yaml:"max_delay_ms"`
	AutoConnect bool    `yaml:"auto_connect"`
}

// StoreConfig selects the record persistence backend
type StoreConfig struct {
	Backend string `yaml:"backend"` // sqlite, file or memory
	Path    string `yaml:"path"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration with every value set
func Default() *Config {
	return &Config{
		Gemini: GeminiConfig{
			Model: "gemini-2.0-flash-exp",
			Voice: "Puck",
		},
		Audio: AudioConfig{
			Capture:          "malgo",
			Playback:         "oto",
			InputSampleRate:  16000,
			OutputSampleRate: 24000,
			FrameSize:        4096,
			InputGain:        1.5,
			LevelSensitivity: 5,
		},
		Session: SessionConfig{
			MaxRetries:  3,
			BaseDelayMs: 1000,
			Multiplier:  2,
			MaxDelayMs:  30000,
		},
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    "rei-voice.db",
		},
		HTTP: HTTPConfig{
			Port:    8088,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file over the defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadEnv applies environment overrides. Values from envFile fill in
// variables the process environment does not set; a missing envFile is ignored.
func (c *Config) LoadEnv(envFile string) error {
	fileEnv := map[string]string{}
	if envFile != "" {
		values, err := godotenv.Read(envFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return fmt.Errorf("failed to read env file %s: %w", envFile, err)
		default:
			fileEnv = values
		}
	}

	lookup := func(key string) string {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v
		}
		return fileEnv[key]
	}

	if key := lookup(EnvAPIKey); key != "" {
		c.Gemini.APIKey = key
	} else if key := lookup(EnvLegacyAPIKey); key != "" {
		c.Gemini.APIKey = key
	}
	if path := lookup(EnvStorePath); path != "" {
		c.Store.Path = path
	}

	return nil
}

// Validate performs validation of every section. The API key is checked
// when connecting, not here.
func (c *Config) Validate() error {
	if err := c.Gemini.Validate(); err != nil {
		return fmt.Errorf("gemini config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates the service settings
func (g *GeminiConfig) Validate() error {
	if g.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if g.Voice != "" && !gemini.ValidVoice(g.Voice) {
		return fmt.Errorf("voice must be one of [%s], got '%s'", strings.Join(gemini.Voices, ", "), g.Voice)
	}

	if g.SystemInstruction != "" && g.SystemInstructionFile != "" {
		return fmt.Errorf("set system_instruction or system_instruction_file, not both")
	}

	return nil
}

// LoadSystemInstruction returns the inline instruction or the contents of the instruction file
func (g *GeminiConfig) LoadSystemInstruction() (string, error) {
	if g.SystemInstructionFile == "" {
		return g.SystemInstruction, nil
	}
	data, err := os.ReadFile(g.SystemInstructionFile)
	if err != nil {
		return "", fmt.Errorf("failed to read system instruction file %s: %w", g.SystemInstructionFile, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	switch a.Capture {
	case "malgo", "portaudio", "none":
	default:
		return fmt.Errorf("capture must be one of [malgo, portaudio, none], got '%s'", a.Capture)
	}

	switch a.Playback {
	case "oto", "none":
	default:
		return fmt.Errorf("playback must be one of [oto, none], got '%s'", a.Playback)
	}

	if a.InputSampleRate < 8000 || a.InputSampleRate > 48000 {
		return fmt.Errorf("input_sample_rate must be between 8000 and 48000 Hz, got %d", a.InputSampleRate)
	}

	if a.OutputSampleRate < 8000 || a.OutputSampleRate > 48000 {
		return fmt.Errorf("output_sample_rate must be between 8000 and 48000 Hz, got %d", a.OutputSampleRate)
	}

	if a.FrameSize < 256 || a.FrameSize > 16384 {
		return fmt.Errorf("frame_size must be between 256 and 16384 samples, got %d", a.FrameSize)
	}

	if a.InputGain <= 0 {
		return fmt.Errorf("input_gain must be positive, got %f", a.InputGain)
	}

	if a.LevelSensitivity <= 0 {
		return fmt.Errorf("level_sensitivity must be positive, got %f", a.LevelSensitivity)
	}

	return nil
}

// Validate validates the reconnect policy
func (s *SessionConfig) Validate() error {
	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", s.MaxRetries)
	}

	if s.BaseDelayMs < 1 {
		return fmt.Errorf("base_delay_ms must be at least 1, got %d", s.BaseDelayMs)
	}

	if s.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1, got %f", s.Multiplier)
	}

	if s.MaxDelayMs < s.BaseDelayMs {
		return fmt.Errorf("max_delay_ms (%d) must not be below base_delay_ms (%d)", s.MaxDelayMs, s.BaseDelayMs)
	}

	return nil
}

// Validate validates store configuration
func (s *StoreConfig) Validate() error {
	switch s.Backend {
	case "sqlite", "file":
		if s.Path == "" {
			return fmt.Errorf("path cannot be empty for the %s backend", s.Backend)
		}
	case "memory":
	default:
		return fmt.Errorf("backend must be one of [sqlite, file, memory], got '%s'", s.Backend)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json', 'text' or 'console', got '%s'", l.Format)
	}

	return nil
}

// SlogLevel returns the configured level
func (l *LoggingConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// GetBaseDelayDuration returns the first retry delay as a time.Duration
func (s *SessionConfig) GetBaseDelayDuration() time.Duration {
	return time.Duration(s.BaseDelayMs) * time.Millisecond
}

// GetMaxDelayDuration returns the retry delay cap as a time.Duration
func (s *SessionConfig) GetMaxDelayDuration() time.Duration {
	return time.Duration(s.MaxDelayMs) * time.Millisecond
}

// ListenAddress returns host:port for the HTTP listener
func (h *HTTPConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}
