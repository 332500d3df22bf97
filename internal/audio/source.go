// Package audio provides the capture side of the device: sources that yield
// fixed-length frames of signed 16-bit mono samples.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danmuck/edgevox/internal/protocol"
)

var (
	// ErrUnderrun means no complete frame was available; ask again.
	ErrUnderrun = errors.New("audio: capture underrun")
	// ErrHardware is fatal to the current cycle.
	ErrHardware = errors.New("audio: capture hardware error")
	// ErrClosed means the source will never produce another frame.
	ErrClosed = errors.New("audio: source closed")
)

// Source yields frames of exactly n samples.
type Source interface {
	ReadFrame(ctx context.Context, n int) ([]int16, error)
}

// Config describes the capture format and where samples come from.
type Config struct {
	// Path is a raw S16LE PCM file or FIFO; "-" or "stdin" reads standard input.
	Path       string
	SampleRate int
	// Loop rewinds file sources at EOF instead of closing.
	Loop bool
}

func DefaultConfig() Config {
	return Config{
		Path:       "-",
		SampleRate: 16000,
	}
}

// Capture is a Source that holds an OS resource.
type Capture interface {
	Source
	io.Closer
}

// Open resolves cfg into a byte-stream Source. A failure here is the one
// error that stops the device process. Frames are paced to cfg.SampleRate
// on clock; a nil clock reads as fast as the stream allows.
func Open(cfg Config, clock Clock) (Capture, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d", cfg.SampleRate)
	}
	var r *PCMReader
	path := strings.TrimSpace(cfg.Path)
	switch path {
	case "", "-", "stdin":
		r = NewPCMReader(os.Stdin, false)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("audio: open %s: %w", path, err)
		}
		r = NewPCMReader(f, cfg.Loop)
	}
	if clock == nil {
		return r, nil
	}
	return NewPaced(r, cfg.SampleRate, clock), nil
}

// PCMReader reads little-endian signed 16-bit mono PCM from a byte stream,
// e.g. `arecord -t raw -f S16_LE -c 1 -r 16000`.
type PCMReader struct {
	r    io.Reader
	loop bool
	buf  []byte
}

func NewPCMReader(r io.Reader, loop bool) *PCMReader {
	return &PCMReader{r: r, loop: loop}
}

func (p *PCMReader) ReadFrame(ctx context.Context, n int) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: frame length %d", ErrHardware, n)
	}
	size := n * protocol.BytesPerSample
	if cap(p.buf) < size {
		p.buf = make([]byte, size)
	}
	buf := p.buf[:size]

	got, err := io.ReadFull(p.r, buf)
	switch {
	case err == nil:
		return protocol.DecodeSamples(buf)
	case errors.Is(err, io.ErrUnexpectedEOF):
		// partial frame at end of stream; drop it
		return nil, fmt.Errorf("%w: short frame %d/%d bytes", ErrUnderrun, got, size)
	case errors.Is(err, io.EOF):
		if seeker, ok := p.r.(io.Seeker); ok && p.loop {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return nil, fmt.Errorf("%w: rewind: %w", ErrHardware, err)
			}
			return nil, ErrUnderrun
		}
		return nil, ErrClosed
	default:
		return nil, fmt.Errorf("%w: %w", ErrHardware, err)
	}
}

// Close closes the underlying reader when it is closable.
func (p *PCMReader) Close() error {
	if c, ok := p.r.(io.Closer); ok && p.r != os.Stdin {
		return c.Close()
	}
	return nil
}
