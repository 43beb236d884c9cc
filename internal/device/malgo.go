package device

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// maxBufferedSeconds bounds captured audio held while the reader lags
const maxBufferedSeconds = 2

// malgoSource captures float32 mono frames through miniaudio.
// The device callback appends to a buffer; Read waits for a full frame.
type malgoSource struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	buf    []float32
	limit  int
	closed bool
	mu     sync.Mutex
	cond   *sync.Cond

	closeOnce sync.Once
}

func openMalgoSource(sampleRate int) (*malgoSource, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init audio context: %w", err)
	}

	m := &malgoSource{
		ctx:   ctx,
		limit: sampleRate * maxBufferedSeconds,
	}
	m.cond = sync.NewCond(&m.mu)

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(sampleRate)

	device, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, frames uint32) {
			m.push(in, int(frames))
		},
	})
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("failed to init microphone: %w", err)
	}
	m.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("failed to start microphone: %w", err)
	}
	return m, nil
}

func (m *malgoSource) push(in []byte, frames int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	for i := 0; i < frames && (i+1)*4 <= len(in); i++ {
		m.buf = append(m.buf, math.Float32frombits(binary.LittleEndian.Uint32(in[i*4:])))
	}
	if over := len(m.buf) - m.limit; over > 0 {
		m.buf = m.buf[over:]
	}
	m.cond.Signal()
}

func (m *malgoSource) Read(p []float32) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.buf) < len(p) && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return 0, errSourceClosed
	}

	n := copy(p, m.buf)
	m.buf = m.buf[n:]
	return n, nil
}

func (m *malgoSource) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.cond.Broadcast()
		m.mu.Unlock()

		m.device.Stop()
		m.device.Uninit()
		m.ctx.Uninit()
		m.ctx.Free()
	})
	return nil
}
