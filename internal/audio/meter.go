package audio

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// DefaultLevelSensitivity scales raw RMS into the 0-1 volume range shown to users
const DefaultLevelSensitivity = 5.0

// DefaultActivityThreshold is the level above which a frame counts as speech
const DefaultActivityThreshold = 0.1

// RMS returns the root-mean-square amplitude of samples
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Level returns RMS scaled by sensitivity and clamped to [0, 1]
func Level(samples []float32, sensitivity float64) float64 {
	level := RMS(samples) * sensitivity
	if level > 1 {
		return 1
	}
	if level < 0 || math.IsNaN(level) {
		return 0
	}
	return level
}

// Meter tracks input loudness across frames
type Meter struct {
	sensitivity float64
	threshold   float64

	// Statistics
	totalFrames  uint64
	activeFrames uint64
	lastLevel    float64
	peakLevel    float64
	lastObserved time.Time

	mu sync.RWMutex
}

// MeterStats represents meter statistics for monitoring
type MeterStats struct {
	TotalFrames      uint64    `json:"total_frames"`
	ActiveFrames     uint64    `json:"active_frames"`
	ActivePercentage float64   `json:"active_percentage"`
	LastLevel        float64   `json:"last_level"`
	PeakLevel        float64   `json:"peak_level"`
	LastObserved     time.Time `json:"last_observed"`
}

// NewMeter creates a loudness meter
func NewMeter(sensitivity, threshold float64) (*Meter, error) {
	if sensitivity <= 0 {
		return nil, fmt.Errorf("sensitivity must be positive, got %f", sensitivity)
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	return &Meter{
		sensitivity: sensitivity,
		threshold:   threshold,
	}, nil
}

// Observe computes the level of one frame and records it
func (m *Meter) Observe(samples []float32) float64 {
	level := Level(samples, m.sensitivity)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalFrames++
	if level >= m.threshold {
		m.activeFrames++
	}
	if level > m.peakLevel {
		m.peakLevel = level
	}
	m.lastLevel = level
	m.lastObserved = time.Now()

	return level
}

// Stats returns current meter statistics
func (m *Meter) Stats() MeterStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	activePercentage := float64(0)
	if m.totalFrames > 0 {
		activePercentage = float64(m.activeFrames) / float64(m.totalFrames) * 100
	}

	return MeterStats{
		TotalFrames:      m.totalFrames,
		ActiveFrames:     m.activeFrames,
		ActivePercentage: activePercentage,
		LastLevel:        m.lastLevel,
		PeakLevel:        m.peakLevel,
		LastObserved:     m.lastObserved,
	}
}

