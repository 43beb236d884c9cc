package device

import (
	"errors"
	"sync"
	"time"
)

// errSourceClosed is returned by Read after Close
var errSourceClosed = errors.New("capture source closed")

// SilentSource never produces frames. Read blocks until Close.
type SilentSource struct {
	once sync.Once
	done chan struct{}
}

// NewSilentSource creates a source for running without a microphone
func NewSilentSource() *SilentSource {
	return &SilentSource{done: make(chan struct{})}
}

func (s *SilentSource) Read(buf []float32) (int, error) {
	<-s.done
	return 0, errSourceClosed
}

func (s *SilentSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// DiscardSink drops audio. Its clock follows wall time since it was opened.
type DiscardSink struct {
	start time.Time
}

// NewDiscardSink creates a sink for running without a speaker
func NewDiscardSink() *DiscardSink {
	return &DiscardSink{start: time.Now()}
}

func (d *DiscardSink) Now() time.Duration {
	return time.Since(d.start)
}

func (d *DiscardSink) Play(samples []float32, at time.Duration) error { return nil }

func (d *DiscardSink) Flush() {}

func (d *DiscardSink) Close() error { return nil }
