package audio

import (
	"fmt"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavBitDepth    = 16
	wavChannels    = 1
	wavFormatPCM   = 1
	defaultWAVMode = 0o644
)

// Recorder writes mono 16-bit PCM frames to a WAV file
type Recorder struct {
	path       string
	sampleRate int

	file    *os.File
	encoder *wav.Encoder
	buf     *goaudio.IntBuffer

	samples int
	closed  bool
	mu      sync.Mutex
}

// CreateRecorder creates or truncates the WAV file at path
func CreateRecorder(path string, sampleRate int) (*Recorder, error) {
	if path == "" {
		return nil, fmt.Errorf("recording path cannot be empty")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, defaultWAVMode)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}

	return &Recorder{
		path:       path,
		sampleRate: sampleRate,
		file:       f,
		encoder:    wav.NewEncoder(f, sampleRate, wavBitDepth, wavChannels, wavFormatPCM),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: wavChannels, SampleRate: sampleRate},
			SourceBitDepth: wavBitDepth,
		},
	}, nil
}

// Write appends float samples, clipped to 16-bit
func (r *Recorder) Write(samples []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recorder is closed")
	}
	if len(samples) == 0 {
		return nil
	}

	if cap(r.buf.Data) < len(samples) {
		r.buf.Data = make([]int, len(samples))
	}
	r.buf.Data = r.buf.Data[:len(samples)]
	for i, s := range samples {
		r.buf.Data[i] = int(floatToInt16(s))
	}

	if err := r.encoder.Write(r.buf); err != nil {
		return fmt.Errorf("failed to write WAV samples: %w", err)
	}
	r.samples += len(samples)
	return nil
}

// Duration returns the amount of audio written so far
func (r *Recorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Duration(r.samples, r.sampleRate)
}

// Path returns the file being written
func (r *Recorder) Path() string {
	return r.path
}

// Close finalizes the WAV header and closes the file
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	encErr := r.encoder.Close()
	fileErr := r.file.Close()
	if encErr != nil {
		return fmt.Errorf("failed to finalize WAV file: %w", encErr)
	}
	if fileErr != nil {
		return fmt.Errorf("failed to close recording file: %w", fileErr)
	}
	return nil
}
