package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
)

// DefaultFrameSize is the number of samples read from the microphone per frame
const DefaultFrameSize = 4096

// DefaultInputGain amplifies quiet microphones before encoding
const DefaultInputGain = 1.5

// ErrSourceEnded is returned by Run when the source stops producing frames
// while capture is still wanted
var ErrSourceEnded = errors.New("capture source ended")

// Source supplies raw microphone frames. Read blocks until a frame is
// available; Close must unblock a pending Read.
type Source interface {
	Read(buf []float32) (int, error)
	Close() error
}

// CaptureConfig holds capture pipeline settings
type CaptureConfig struct {
	FrameSize   int
	SampleRate  int
	Gain        float64
	Sensitivity float64
}

// DefaultCaptureConfig returns the standard microphone pipeline settings
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		FrameSize:   DefaultFrameSize,
		SampleRate:  DefaultInputSampleRate,
		Gain:        DefaultInputGain,
		Sensitivity: DefaultLevelSensitivity,
	}
}

// Validate validates capture settings
func (c CaptureConfig) Validate() error {
	if c.FrameSize <= 0 {
		return fmt.Errorf("frame size must be positive, got %d", c.FrameSize)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Gain <= 0 {
		return fmt.Errorf("gain must be positive, got %f", c.Gain)
	}
	if c.Sensitivity <= 0 {
		return fmt.Errorf("level sensitivity must be positive, got %f", c.Sensitivity)
	}
	return nil
}

// SendFunc forwards one encoded frame to the connection
type SendFunc func(frame []byte) error

// CaptureStats represents capture statistics for monitoring
type CaptureStats struct {
	FramesSent    uint64     `json:"frames_sent"`
	FramesDropped uint64     `json:"frames_dropped"`
	Level         MeterStats `json:"level"`
}

// Capture reads microphone frames, meters them and forwards them encoded.
// Send failures for a single frame are counted and swallowed.
type Capture struct {
	source Source
	config CaptureConfig
	send   SendFunc
	logger *slog.Logger
	meter  *Meter

	onLevel func(float64)
	onFrame func([]float32)
	onDrop  func(error)

	framesSent    atomic.Uint64
	framesDropped atomic.Uint64
}

// NewCapture creates a capture pipeline reading from source
func NewCapture(source Source, config CaptureConfig, send SendFunc, logger *slog.Logger) (*Capture, error) {
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if send == nil {
		return nil, fmt.Errorf("send function cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	meter, err := NewMeter(config.Sensitivity, DefaultActivityThreshold)
	if err != nil {
		return nil, err
	}

	return &Capture{
		source: source,
		config: config,
		send:   send,
		logger: logger,
		meter:  meter,
	}, nil
}

// OnLevel registers a callback receiving the loudness of every frame in [0, 1]
func (c *Capture) OnLevel(fn func(float64)) {
	c.onLevel = fn
}

// OnFrame registers a callback receiving every post-gain frame before encoding.
// The slice is reused after the callback returns.
func (c *Capture) OnFrame(fn func([]float32)) {
	c.onFrame = fn
}

// OnDrop registers a callback invoked when a frame could not be sent
func (c *Capture) OnDrop(fn func(error)) {
	c.onDrop = fn
}

// Run reads frames until the context is canceled or the source ends.
// It returns nil on cancellation, ErrSourceEnded on io.EOF and the read
// error otherwise.
func (c *Capture) Run(ctx context.Context) error {
	buf := make([]float32, c.config.FrameSize)

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := c.source.Read(buf)
		if n > 0 && ctx.Err() == nil {
			c.process(buf[:n])
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return ErrSourceEnded
			}
			return fmt.Errorf("failed to read capture frame: %w", err)
		}
	}
}

// Stats returns current capture statistics
func (c *Capture) Stats() CaptureStats {
	return CaptureStats{
		FramesSent:    c.framesSent.Load(),
		FramesDropped: c.framesDropped.Load(),
		Level:         c.meter.Stats(),
	}
}

func (c *Capture) process(frame []float32) {
	ApplyGain(frame, c.config.Gain)

	level := c.meter.Observe(frame)
	if c.onLevel != nil {
		c.onLevel(level)
	}
	if c.onFrame != nil {
		c.onFrame(frame)
	}

	if err := c.send(EncodePCM16(frame)); err != nil {
		dropped := c.framesDropped.Add(1)
		if dropped == 1 || dropped%100 == 0 {
			c.logger.Debug("Dropped capture frame",
				slog.Uint64("dropped_total", dropped),
				slog.String("error", err.Error()))
		}
		if c.onDrop != nil {
			c.onDrop(err)
		}
		return
	}
	c.framesSent.Add(1)
}
