package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/helppeople411-create/rei-voice-pro/internal/protocol"
)

// ErrConfig marks configuration problems that must not be retried
var ErrConfig = errors.New("configuration error")

// Backoff is an exponential retry policy
type Backoff struct {
	Base       time.Duration
	Multiplier float64
	MaxRetries int
	MaxDelay   time.Duration
}

// DefaultBackoff retries three times after 1s, 2s and 4s
func DefaultBackoff() Backoff {
	return Backoff{
		Base:       time.Second,
		Multiplier: 2,
		MaxRetries: 3,
		MaxDelay:   30 * time.Second,
	}
}

// Validate validates the policy
func (b Backoff) Validate() error {
	if b.Base <= 0 {
		return fmt.Errorf("base delay must be positive, got %v", b.Base)
	}
	if b.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1, got %f", b.Multiplier)
	}
	if b.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative, got %d", b.MaxRetries)
	}
	if b.MaxDelay < b.Base {
		return fmt.Errorf("max delay %v must not be below base delay %v", b.MaxDelay, b.Base)
	}
	return nil
}

// Delay returns the wait before retry n (1-based): Base * Multiplier^(n-1), capped at MaxDelay
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(b.Base) * math.Pow(b.Multiplier, float64(n-1))
	if d > float64(b.MaxDelay) || math.IsInf(d, 0) {
		return b.MaxDelay
	}
	return time.Duration(d)
}

// Allows reports whether retry n is within the cap
func (b Backoff) Allows(n int) bool {
	return n >= 1 && n <= b.MaxRetries
}

// Error classes reported to metrics and logs
const (
	ClassConfig    = "config"
	ClassTransient = "transient"
	ClassTerminal  = "terminal"
	ClassExhausted = "exhausted"
)

// IsTransient reports whether err is worth retrying: network failures,
// service unavailability or throttling, and server-side websocket closes.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrConfig) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *protocol.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Unavailable()
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseInternalServerErr, websocket.CloseTryAgainLater,
			websocket.CloseServiceRestart, websocket.CloseAbnormalClosure:
			return true
		}
		return closeTextTransient(closeErr.Text)
	}

	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"network", "connection refused", "connection reset", "unavailable", "resource exhausted", "resource_exhausted"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func closeTextTransient(text string) bool {
	t := strings.ToLower(text)
	return strings.Contains(t, "unavailable") || strings.Contains(t, "resource_exhausted") ||
		strings.Contains(t, "resource exhausted")
}

// isCleanClose reports whether the service ended the session normally
func isCleanClose(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway
	}
	return false
}

// classify returns the metrics class for a failure
func classify(err error) string {
	var statusErr *protocol.StatusError
	switch {
	case errors.Is(err, ErrConfig):
		return ClassConfig
	case errors.As(err, &statusErr) && statusErr.Unauthorized():
		return ClassConfig
	case IsTransient(err):
		return ClassTransient
	default:
		return ClassTerminal
	}
}
