package audio

import (
	"context"
	"io"
	"time"
)

// Clock is the time source pacing uses.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// FrameDuration is how long n samples last at sampleRate.
func FrameDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}

// Paced releases frames from a stream no faster than real time, the way a
// capture device would. A frame of n samples is handed out n/sampleRate
// after the previous one. A consumer that falls more than a frame behind is
// resynced rather than served a burst.
type Paced struct {
	src   Source
	rate  int
	clock Clock
	next  time.Time
}

func NewPaced(src Source, sampleRate int, clock Clock) *Paced {
	return &Paced{src: src, rate: sampleRate, clock: clock}
}

func (p *Paced) ReadFrame(ctx context.Context, n int) ([]int16, error) {
	frame, err := p.src.ReadFrame(ctx, n)
	if err != nil {
		return nil, err
	}
	d := FrameDuration(n, p.rate)
	now := p.clock.Now()
	if p.next.IsZero() || now.Sub(p.next) > d {
		p.next = now
	}
	p.next = p.next.Add(d)
	if wait := p.next.Sub(now); wait > 0 {
		if err := p.clock.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

// Close closes the wrapped source when it is closable.
func (p *Paced) Close() error {
	if c, ok := p.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
