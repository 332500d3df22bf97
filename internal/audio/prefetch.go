package audio

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

type frameResult struct {
	samples []int16
	err     error
}

// Prefetcher keeps capturing while the consumer is busy sending, so a slow
// ack wait does not turn into a capture underrun. When the queue is full the
// oldest frame is dropped.
type Prefetcher struct {
	src     Source
	n       int
	queue   chan frameResult
	dropped atomic.Uint64
}

func NewPrefetcher(src Source, frameSamples, depth int) *Prefetcher {
	if depth < 1 {
		depth = 1
	}
	return &Prefetcher{
		src:   src,
		n:     frameSamples,
		queue: make(chan frameResult, depth),
	}
}

// Run is the producer loop. It returns when ctx ends or the source closes.
func (p *Prefetcher) Run(ctx context.Context) error {
	for {
		samples, err := p.src.ReadFrame(ctx, p.n)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrUnderrun) {
			continue
		}
		if err == nil {
			p.push(frameResult{samples: samples})
			continue
		}
		// errors wait for the consumer so a failing device does not spin
		select {
		case p.queue <- frameResult{err: err}:
		case <-ctx.Done():
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return nil
		}
	}
}

func (p *Prefetcher) push(fr frameResult) {
	for {
		select {
		case p.queue <- fr:
			return
		default:
		}
		select {
		case <-p.queue:
			if n := p.dropped.Add(1); n == 1 || n%100 == 0 {
				log.Warn().Uint64("dropped", n).Msg("audio.Prefetcher.push queue full, dropping oldest frame")
			}
		default:
		}
	}
}

// ReadFrame pops the next captured frame. n must match the producer's frame
// length.
func (p *Prefetcher) ReadFrame(ctx context.Context, n int) ([]int16, error) {
	if n != p.n {
		return nil, fmt.Errorf("%w: frame length %d, prefetching %d", ErrHardware, n, p.n)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case fr := <-p.queue:
		if errors.Is(fr.err, ErrClosed) {
			// keep reporting closed to later readers
			p.push(fr)
		}
		return fr.samples, fr.err
	}
}

func (p *Prefetcher) Dropped() uint64 {
	return p.dropped.Load()
}
