package device

import (
	"sync"
	"time"

	"github.com/helppeople411-create/rei-voice-pro/internal/audio"
)

// timeline maps scheduled segments onto a continuous output stream.
// Its clock is the number of samples already pulled by the device;
// gaps between segments are filled with silence.
type timeline struct {
	sampleRate int

	consumed int64     // samples pulled so far
	queued   []float32 // audio starting at sample index consumed

	mu sync.Mutex
}

func newTimeline(sampleRate int) *timeline {
	return &timeline{sampleRate: sampleRate}
}

// Now returns the output clock
func (t *timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return audio.Duration(int(t.consumed), t.sampleRate)
}

// Schedule places samples at an absolute clock position. Positions already
// played start immediately; overlapping audio replaces what was queued.
func (t *timeline) Schedule(samples []float32, at time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := int64(audio.SamplesFor(at, t.sampleRate))
	offset := int(start - t.consumed)
	if offset < 0 {
		offset = 0
	}

	end := offset + len(samples)
	if end > len(t.queued) {
		t.queued = append(t.queued, make([]float32, end-len(t.queued))...)
	}
	copy(t.queued[offset:end], samples)
}

// Pull fills out with the next samples, padding with silence
func (t *timeline) Pull(out []float32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := copy(out, t.queued)
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	t.queued = t.queued[n:]
	if len(t.queued) == 0 {
		t.queued = nil
	}
	t.consumed += int64(len(out))
}

// Flush drops everything not yet pulled
func (t *timeline) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queued = nil
}

// Pending returns the amount of queued audio including gaps
func (t *timeline) Pending() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return audio.Duration(len(t.queued), t.sampleRate)
}
