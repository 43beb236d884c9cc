package audio

import (
	"fmt"
	"sync"
	"time"
)

// Clock reports the current position of an output device's monotonic timeline
type Clock interface {
	Now() time.Duration
}

// Sink accepts decoded segments for playback at an absolute output time
type Sink interface {
	Clock
	Play(samples []float32, at time.Duration) error
	// Flush drops audio queued but not yet played
	Flush()
	Close() error
}

// Segment describes where a decoded segment was placed on the output timeline
type Segment struct {
	Start    time.Duration
	Duration time.Duration
	Samples  int
}

// SchedulerStats represents playback statistics for monitoring
type SchedulerStats struct {
	SegmentsScheduled uint64        `json:"segments_scheduled"`
	Interruptions     uint64        `json:"interruptions"`
	ScheduledAudio    time.Duration `json:"scheduled_audio"`
	Cursor            time.Duration `json:"cursor"`
}

// Scheduler queues segments for gapless sequential playback.
// It keeps a single cursor marking the next free playback time; every
// segment starts at max(cursor, now) and advances the cursor by its duration.
type Scheduler struct {
	sink       Sink
	sampleRate int

	cursor      time.Duration
	cursorIndex int // cursor in samples; cursor is derived from it

	segments       uint64
	interruptions  uint64
	scheduledAudio time.Duration

	mu sync.Mutex
}

// NewScheduler creates a playback scheduler writing to sink
func NewScheduler(sink Sink, sampleRate int) (*Scheduler, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink cannot be nil")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	return &Scheduler{
		sink:       sink,
		sampleRate: sampleRate,
	}, nil
}

// Schedule places samples on the output timeline after everything already scheduled
func (s *Scheduler) Schedule(samples []float32) (Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start, index := s.cursor, s.cursorIndex
	if now := s.sink.Now(); now > start {
		start, index = now, SamplesFor(now, s.sampleRate)
	}
	seg := Segment{
		Start:    start,
		Duration: Duration(len(samples), s.sampleRate),
		Samples:  len(samples),
	}
	if seg.Samples == 0 {
		return seg, nil
	}

	if err := s.sink.Play(samples, start); err != nil {
		return seg, fmt.Errorf("failed to play segment at %v: %w", start, err)
	}

	s.cursorIndex = index + seg.Samples
	s.cursor = Duration(s.cursorIndex, s.sampleRate)
	s.segments++
	s.scheduledAudio += seg.Duration

	return seg, nil
}

// Interrupt resets the cursor to zero so the next segment plays as soon as
// the device allows, and drops audio the sink has not yet played.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursor = 0
	s.cursorIndex = 0
	s.interruptions++
	s.sink.Flush()
}

// Cursor returns the next free playback time
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Stats returns current scheduler statistics
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SchedulerStats{
		SegmentsScheduled: s.segments,
		Interruptions:     s.interruptions,
		ScheduledAudio:    s.scheduledAudio,
		Cursor:            s.cursor,
	}
}
