package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
)

func TestRecorderWritesValidWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mic.wav")

	rec, err := CreateRecorder(path, 16000)
	if err != nil {
		t.Fatalf("CreateRecorder failed: %v", err)
	}

	// 0.1 seconds of a 440Hz tone split across two frames
	samples := make([]float32, 1600)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	if err := rec.Write(samples[:800]); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := rec.Write(samples[800:]); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if rec.Duration() != 100*time.Millisecond {
		t.Errorf("Expected duration 100ms, got %v", rec.Duration())
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open recording: %v", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatal("Recording is not a valid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("Failed to decode recording: %v", err)
	}

	if dec.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", dec.SampleRate)
	}
	if dec.NumChans != 1 {
		t.Errorf("Expected 1 channel, got %d", dec.NumChans)
	}
	if dec.BitDepth != 16 {
		t.Errorf("Expected 16-bit depth, got %d", dec.BitDepth)
	}
	if len(buf.Data) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(buf.Data))
	}
	for i := 0; i < len(samples); i += 97 {
		want := int(floatToInt16(samples[i]))
		if buf.Data[i] != want {
			t.Errorf("Sample %d: expected %d, got %d", i, want, buf.Data[i])
		}
	}
}

func TestRecorderRejectsWriteAfterClose(t *testing.T) {
	rec, err := CreateRecorder(filepath.Join(t.TempDir(), "closed.wav"), 16000)
	if err != nil {
		t.Fatalf("CreateRecorder failed: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
	if err := rec.Write([]float32{0.1}); err == nil {
		t.Error("Expected error writing to a closed recorder")
	}
}

func TestCreateRecorderValidation(t *testing.T) {
	if _, err := CreateRecorder("", 16000); err == nil {
		t.Error("Expected error for empty path")
	}
	if _, err := CreateRecorder(filepath.Join(t.TempDir(), "x.wav"), 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}
