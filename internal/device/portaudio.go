package device

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// portAudioSource reads blocking frames from the default input device
type portAudioSource struct {
	stream *portaudio.Stream
	frame  []float32

	readMu    sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func openPortAudioSource(sampleRate, frameSize int) (*portAudioSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	s := &portAudioSource{
		frame:  make([]float32, frameSize),
		closed: make(chan struct{}),
	}

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), frameSize, s.frame)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}
	s.stream = stream
	return s, nil
}

func (s *portAudioSource) Read(p []float32) (int, error) {
	select {
	case <-s.closed:
		return 0, errSourceClosed
	default:
	}

	s.readMu.Lock()
	defer s.readMu.Unlock()

	if err := s.stream.Read(); err != nil {
		select {
		case <-s.closed:
			return 0, errSourceClosed
		default:
		}
		// Input overflow only means frames were lost upstream.
		if err != portaudio.InputOverflowed {
			return 0, err
		}
	}
	return copy(p, s.frame), nil
}

// Close stops the stream, which unblocks a pending Read, then releases it
func (s *portAudioSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.stream.Stop()

		s.readMu.Lock()
		s.stream.Close()
		s.readMu.Unlock()

		portaudio.Terminate()
	})
	return err
}
