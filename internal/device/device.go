// Package device opens microphone sources and speaker sinks for the audio pipeline.
//
// Capture backends: malgo (miniaudio), portaudio, none.
// Playback backends: oto, none.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/helppeople411-create/rei-voice-pro/internal/audio"
)

// Backend names
const (
	BackendMalgo     = "malgo"
	BackendPortAudio = "portaudio"
	BackendOto       = "oto"
	BackendNone      = "none"
)

// Config selects and configures device backends
type Config struct {
	Capture          string
	Playback         string
	InputSampleRate  int
	OutputSampleRate int
	FrameSize        int
}

// Validate validates backend names and rates
func (c Config) Validate() error {
	switch strings.ToLower(c.Capture) {
	case BackendMalgo, BackendPortAudio, BackendNone:
	default:
		return fmt.Errorf("unknown capture backend %q", c.Capture)
	}
	switch strings.ToLower(c.Playback) {
	case BackendOto, BackendNone:
	default:
		return fmt.Errorf("unknown playback backend %q", c.Playback)
	}
	if c.InputSampleRate <= 0 || c.OutputSampleRate <= 0 {
		return fmt.Errorf("sample rates must be positive")
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("frame size must be positive, got %d", c.FrameSize)
	}
	return nil
}

// Factory opens a fresh source and sink for every connection attempt
type Factory struct {
	config Config
	logger *slog.Logger
}

// NewFactory creates a device factory
func NewFactory(config Config, logger *slog.Logger) (*Factory, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{config: config, logger: logger}, nil
}

// OpenCapture opens the configured microphone
func (f *Factory) OpenCapture(ctx context.Context) (audio.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		src audio.Source
		err error
	)
	switch strings.ToLower(f.config.Capture) {
	case BackendMalgo:
		src, err = openMalgoSource(f.config.InputSampleRate)
	case BackendPortAudio:
		src, err = openPortAudioSource(f.config.InputSampleRate, f.config.FrameSize)
	default:
		src = NewSilentSource()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s capture: %w", f.config.Capture, err)
	}

	f.logger.Debug("Opened capture device",
		slog.String("backend", f.config.Capture),
		slog.Int("sample_rate", f.config.InputSampleRate))
	return src, nil
}

// OpenPlayback opens the configured speaker
func (f *Factory) OpenPlayback(ctx context.Context) (audio.Sink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		sink audio.Sink
		err  error
	)
	switch strings.ToLower(f.config.Playback) {
	case BackendOto:
		sink, err = openOtoSink(f.config.OutputSampleRate)
	default:
		sink = NewDiscardSink()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s playback: %w", f.config.Playback, err)
	}

	f.logger.Debug("Opened playback device",
		slog.String("backend", f.config.Playback),
		slog.Int("sample_rate", f.config.OutputSampleRate))
	return sink, nil
}
