package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/helppeople411-create/rei-voice-pro/internal/audio"
)

// oto allows one context per process, so every sink shares it.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoRate int
	otoErr  error
)

const otoBufferSize = 100 * time.Millisecond

func sharedOtoContext(sampleRate int) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   otoBufferSize,
		})
		if err != nil {
			otoErr = err
			return
		}
		<-ready
		otoCtx = ctx
		otoRate = sampleRate
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoRate != sampleRate {
		return nil, fmt.Errorf("speaker already opened at %d Hz, cannot reopen at %d Hz", otoRate, sampleRate)
	}
	return otoCtx, nil
}

// otoSink plays a timeline through an oto player. The player pulls
// continuously; silence fills gaps so the clock never stalls.
type otoSink struct {
	*timeline

	player  *oto.Player
	scratch []float32

	closeOnce sync.Once
	closeErr  error
}

func openOtoSink(sampleRate int) (*otoSink, error) {
	ctx, err := sharedOtoContext(sampleRate)
	if err != nil {
		return nil, err
	}

	s := &otoSink{timeline: newTimeline(sampleRate)}
	s.player = ctx.NewPlayer(s)
	s.player.Play()
	return s, nil
}

// Read implements io.Reader for the oto player
func (s *otoSink) Read(p []byte) (int, error) {
	n := len(p) / audio.BytesPerSample
	if cap(s.scratch) < n {
		s.scratch = make([]float32, n)
	}
	samples := s.scratch[:n]
	s.Pull(samples)

	audio.PutPCM16(p, samples)
	return n * audio.BytesPerSample, nil
}

func (s *otoSink) Play(samples []float32, at time.Duration) error {
	s.Schedule(samples, at)
	return nil
}

func (s *otoSink) Close() error {
	s.closeOnce.Do(func() {
		s.Flush()
		s.closeErr = s.player.Close()
	})
	return s.closeErr
}
