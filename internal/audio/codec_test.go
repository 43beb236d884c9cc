package audio

import (
	"math"
	"testing"
	"time"
)

func TestEncodePCM16(t *testing.T) {
	tests := []struct {
		name   string
		sample float32
		want   int16
	}{
		{"silence", 0, 0},
		{"full positive", 1, 32767},
		{"full negative", -1, -32768},
		{"half positive", 0.5, 16383},
		{"clipped positive", 1.7, 32767},
		{"clipped negative", -3, -32768},
		{"nan", float32(math.NaN()), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := EncodePCM16([]float32{tt.sample})
			if len(data) != 2 {
				t.Fatalf("Expected 2 bytes, got %d", len(data))
			}
			got := int16(uint16(data[0]) | uint16(data[1])<<8)
			if got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestDecodePCM16(t *testing.T) {
	// -32768, 0, 16384 little-endian, plus a dangling byte
	data := []byte{0x00, 0x80, 0x00, 0x00, 0x00, 0x40, 0x7f}

	samples := DecodePCM16(data)
	if len(samples) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(samples))
	}

	want := []float32{-1, 0, 0.5}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("Sample %d: expected %f, got %f", i, want[i], samples[i])
		}
	}
}

func TestPCM16RoundTripWithinQuantization(t *testing.T) {
	in := make([]float32, 480)
	for i := range in {
		in[i] = float32(0.8 * math.Sin(2*math.Pi*440*float64(i)/24000))
	}

	out := DecodePCM16(EncodePCM16(in))
	if len(out) != len(in) {
		t.Fatalf("Expected %d samples, got %d", len(in), len(out))
	}
	for i := range in {
		if math.Abs(float64(in[i]-out[i])) > 1.0/16384 {
			t.Fatalf("Sample %d drifted: in %f out %f", i, in[i], out[i])
		}
	}
}

func TestDuration(t *testing.T) {
	if got := Duration(24000, 24000); got != time.Second {
		t.Errorf("Expected 1s, got %v", got)
	}
	if got := Duration(480, 24000); got != 20*time.Millisecond {
		t.Errorf("Expected 20ms, got %v", got)
	}
	if got := Duration(100, 0); got != 0 {
		t.Errorf("Expected 0 for invalid rate, got %v", got)
	}
	if got := SamplesFor(250*time.Millisecond, 16000); got != 4000 {
		t.Errorf("Expected 4000 samples, got %d", got)
	}
}

func TestSamplesForInvertsDuration(t *testing.T) {
	tests := []struct {
		name       string
		samples    int
		sampleRate int
	}{
		{"output rate single", 1000, 24000},
		{"output rate odd", 4097, 24000},
		{"input rate", 1023, 16000},
		{"one sample", 1, 24000},
		{"long turn", 24000*3600 + 7, 24000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Duration(tt.samples, tt.sampleRate)
			if got := SamplesFor(d, tt.sampleRate); got != tt.samples {
				t.Errorf("Expected %d samples for %v, got %d", tt.samples, d, got)
			}
		})
	}
}

func TestApplyGain(t *testing.T) {
	samples := []float32{0.1, -0.2, 0.4}
	ApplyGain(samples, 1.5)

	want := []float32{0.15, -0.3, 0.6}
	for i := range want {
		if math.Abs(float64(samples[i]-want[i])) > 1e-6 {
			t.Errorf("Sample %d: expected %f, got %f", i, want[i], samples[i])
		}
	}
}

func TestMIMEType(t *testing.T) {
	if got := MIMEType(16000); got != "audio/pcm;rate=16000" {
		t.Errorf("Unexpected MIME type %q", got)
	}
}
