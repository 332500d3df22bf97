//go:build cgo

package mic

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/edgevox/internal/audio"
	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog/log"
)

// Source reads mono int16 frames from the default input device. The stream
// blocks until a full buffer is captured, so frames arrive at the sample rate.
type Source struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	closed bool
}

// Open initializes PortAudio and starts a mono input stream delivering
// frameSamples per read.
func Open(sampleRate, frameSamples int) (*Source, error) {
	if sampleRate <= 0 || frameSamples <= 0 {
		return nil, fmt.Errorf("mic: invalid format rate=%d frame=%d", sampleRate, frameSamples)
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("mic: init: %w", err)
	}
	buf := make([]int16, frameSamples)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), len(buf), buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("mic: open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("mic: start stream: %w", err)
	}
	log.Info().Int("sample_rate", sampleRate).Int("frame_samples", frameSamples).Msg("mic.Open capture started")
	return &Source{stream: stream, buf: buf}, nil
}

func (s *Source) ReadFrame(ctx context.Context, n int) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, audio.ErrClosed
	}
	if n != len(s.buf) {
		return nil, fmt.Errorf("%w: frame length %d, stream buffer %d", audio.ErrHardware, n, len(s.buf))
	}
	if err := s.stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			return nil, fmt.Errorf("%w: %w", audio.ErrUnderrun, err)
		}
		return nil, fmt.Errorf("%w: %w", audio.ErrHardware, err)
	}
	frame := make([]int16, len(s.buf))
	copy(frame, s.buf)
	return frame, nil
}

// Close stops the stream and releases PortAudio. Safe to call twice.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.stream.Stop()
	err := s.stream.Close()
	if terr := portaudio.Terminate(); err == nil {
		err = terr
	}
	return err
}
