package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// scriptedSource returns queued frames then io.EOF
type scriptedSource struct {
	frames [][]float32
	err    error
	closed bool
}

func (s *scriptedSource) Read(buf []float32) (int, error) {
	if len(s.frames) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		return 0, io.EOF
	}
	n := copy(buf, s.frames[0])
	s.frames = s.frames[1:]
	return n, nil
}

func (s *scriptedSource) Close() error {
	s.closed = true
	return nil
}

// blockingSource blocks in Read until closed
type blockingSource struct {
	once sync.Once
	done chan struct{}
}

func newBlockingSource() *blockingSource {
	return &blockingSource{done: make(chan struct{})}
}

func (b *blockingSource) Read(buf []float32) (int, error) {
	<-b.done
	return 0, errors.New("source closed")
}

func (b *blockingSource) Close() error {
	b.once.Do(func() { close(b.done) })
	return nil
}

func TestCaptureConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CaptureConfig)
		wantErr bool
	}{
		{"defaults", func(c *CaptureConfig) {}, false},
		{"zero frame", func(c *CaptureConfig) { c.FrameSize = 0 }, true},
		{"zero rate", func(c *CaptureConfig) { c.SampleRate = 0 }, true},
		{"negative gain", func(c *CaptureConfig) { c.Gain = -1 }, true},
		{"zero sensitivity", func(c *CaptureConfig) { c.Sensitivity = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultCaptureConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCaptureGainLevelAndEncoding(t *testing.T) {
	src := &scriptedSource{frames: [][]float32{
		constantFrame(4, 0.1),
		constantFrame(4, 0.4),
	}}

	var sent [][]byte
	send := func(frame []byte) error {
		sent = append(sent, frame)
		return nil
	}

	cfg := CaptureConfig{FrameSize: 4, SampleRate: 16000, Gain: 1.5, Sensitivity: 5}
	c, err := NewCapture(src, cfg, send, nil)
	if err != nil {
		t.Fatalf("Failed to create capture: %v", err)
	}

	var levels []float64
	c.OnLevel(func(l float64) { levels = append(levels, l) })

	if err := c.Run(context.Background()); !errors.Is(err, ErrSourceEnded) {
		t.Fatalf("Expected ErrSourceEnded at end of frames, got %v", err)
	}

	if len(sent) != 2 {
		t.Fatalf("Expected 2 frames sent, got %d", len(sent))
	}
	if len(sent[0]) != 8 {
		t.Errorf("Expected 8 bytes per 4-sample frame, got %d", len(sent[0]))
	}

	// 0.1 * 1.5 gain = 0.15; decoded value must reflect the gain.
	decoded := DecodePCM16(sent[0])
	if diff := float64(decoded[0]) - 0.15; diff > 0.001 || diff < -0.001 {
		t.Errorf("Expected gained sample ~0.15, got %f", decoded[0])
	}

	if len(levels) != 2 {
		t.Fatalf("Expected 2 level readings, got %d", len(levels))
	}
	// 0.15 RMS * 5 = 0.75
	if diff := levels[0] - 0.75; diff > 0.001 || diff < -0.001 {
		t.Errorf("Expected level ~0.75, got %f", levels[0])
	}
	// 0.6 RMS * 5 clamps to 1
	if levels[1] != 1 {
		t.Errorf("Expected clamped level 1, got %f", levels[1])
	}

	stats := c.Stats()
	if stats.FramesSent != 2 || stats.FramesDropped != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.Level.TotalFrames != 2 || stats.Level.ActiveFrames != 2 || stats.Level.PeakLevel != 1 {
		t.Errorf("Unexpected level stats: %+v", stats.Level)
	}
}

func TestCaptureSwallowsSendErrors(t *testing.T) {
	src := &scriptedSource{frames: [][]float32{
		constantFrame(4, 0.1),
		constantFrame(4, 0.1),
		constantFrame(4, 0.1),
	}}

	calls := 0
	send := func(frame []byte) error {
		calls++
		if calls == 2 {
			return errors.New("socket busy")
		}
		return nil
	}

	cfg := CaptureConfig{FrameSize: 4, SampleRate: 16000, Gain: 1, Sensitivity: 5}
	c, _ := NewCapture(src, cfg, send, nil)

	var drops int
	c.OnDrop(func(error) { drops++ })

	if err := c.Run(context.Background()); !errors.Is(err, ErrSourceEnded) {
		t.Fatalf("Expected send failure to be swallowed, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected capture to continue after a failed send, got %d sends", calls)
	}
	stats := c.Stats()
	if stats.FramesSent != 2 || stats.FramesDropped != 1 || drops != 1 {
		t.Errorf("Unexpected stats: %+v drops=%d", stats, drops)
	}
}

func TestCaptureSourceError(t *testing.T) {
	src := &scriptedSource{err: errors.New("device unplugged")}
	c, _ := NewCapture(src, DefaultCaptureConfig(), func([]byte) error { return nil }, nil)

	if err := c.Run(context.Background()); err == nil {
		t.Error("Expected source error to be returned")
	}
}

func TestCaptureStopsOnCancel(t *testing.T) {
	src := newBlockingSource()
	c, _ := NewCapture(src, DefaultCaptureConfig(), func([]byte) error { return nil }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	cancel()
	src.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil after cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel and close")
	}
}

func TestCaptureFrameTap(t *testing.T) {
	src := &scriptedSource{frames: [][]float32{constantFrame(2, 0.5)}}
	cfg := CaptureConfig{FrameSize: 2, SampleRate: 16000, Gain: 2, Sensitivity: 1}
	c, _ := NewCapture(src, cfg, func([]byte) error { return nil }, nil)

	var tapped []float32
	c.OnFrame(func(f []float32) { tapped = append(tapped, f...) })
	c.Run(context.Background())

	if len(tapped) != 2 || tapped[0] != 1 {
		t.Errorf("Expected tapped post-gain frame [1 1], got %v", tapped)
	}
}
