// Package transcript assembles streamed speech fragments into turns.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Turn pairs what the user said with the model's reply
type Turn struct {
	User      string    `json:"user"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
}

// Accumulator buffers the fragments of the current turn.
// It is owned by a single goroutine and is not safe for concurrent use.
type Accumulator struct {
	user  strings.Builder
	model strings.Builder
}

// AddUser appends a user transcription fragment
func (a *Accumulator) AddUser(text string) {
	a.user.WriteString(text)
}

// AddModel appends a model transcription fragment
func (a *Accumulator) AddModel(text string) {
	a.model.WriteString(text)
}

// Pending returns the fragments buffered so far
func (a *Accumulator) Pending() (user, model string) {
	return a.user.String(), a.model.String()
}

// Complete returns the buffered turn and resets both buffers
func (a *Accumulator) Complete(at time.Time) Turn {
	t := Turn{
		User:      a.user.String(),
		Model:     a.model.String(),
		Timestamp: at,
	}
	a.Reset()
	return t
}

// Reset discards buffered fragments
func (a *Accumulator) Reset() {
	a.user.Reset()
	a.model.Reset()
}

// Log is an append-only, concurrency-safe sequence of turns
type Log struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewLog creates an empty transcript log
func NewLog() *Log {
	return &Log{turns: []Turn{}}
}

// Append adds a turn and returns its index
func (l *Log) Append(t Turn) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, t)
	return len(l.turns) - 1
}

// Turns returns a copy of all turns in arrival order
func (l *Log) Turns() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Len returns the number of turns
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}
