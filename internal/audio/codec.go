package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Wire format constants
const (
	DefaultInputSampleRate  = 16000 // Microphone audio sent to the service
	DefaultOutputSampleRate = 24000 // Synthesized speech received from the service
	BytesPerSample          = 2     // 16-bit signed PCM
)

// MIMEType returns the media type advertised for raw PCM at the given rate
func MIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// EncodePCM16 converts float samples in [-1, 1] to 16-bit little-endian PCM.
// Out-of-range samples are clipped.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	PutPCM16(out, samples)
	return out
}

// PutPCM16 encodes samples into dst, which must hold len(samples)*BytesPerSample bytes
func PutPCM16(dst []byte, samples []float32) {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*BytesPerSample:], uint16(floatToInt16(s)))
	}
}

// DecodePCM16 converts 16-bit little-endian PCM to float samples in [-1, 1).
// A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float32 {
	n := len(data) / BytesPerSample
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
		out[i] = float32(v) / 32768.0
	}
	return out
}

// Duration returns the playback duration of n samples at sampleRate,
// rounded to the nearest nanosecond
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	rate := time.Duration(sampleRate)
	return (time.Duration(n)*time.Second + rate/2) / rate
}

// SamplesFor returns the sample index nearest to d at sampleRate.
// It inverts Duration, so SamplesFor(Duration(n, r), r) == n.
func SamplesFor(d time.Duration, sampleRate int) int {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	return int((d*time.Duration(sampleRate) + time.Second/2) / time.Second)
}

// ApplyGain multiplies samples in place
func ApplyGain(samples []float32, gain float64) {
	if gain == 1 {
		return
	}
	g := float32(gain)
	for i := range samples {
		samples[i] *= g
	}
}

func floatToInt16(s float32) int16 {
	if math.IsNaN(float64(s)) {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}
