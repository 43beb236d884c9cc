// Package audio handles PCM frame conversion, microphone capture and gapless playback scheduling.
// It converts float samples to the 16-bit little-endian wire format, meters input loudness,
// and places decoded model speech on a monotonic output timeline.
package audio
