//go:build !cgo

package mic

import (
	"context"

	"github.com/danmuck/edgevox/internal/audio"
)

type Source struct{}

func Open(sampleRate, frameSamples int) (*Source, error) {
	return nil, ErrUnavailable
}

func (*Source) ReadFrame(context.Context, int) ([]int16, error) {
	return nil, audio.ErrClosed
}

func (*Source) Close() error {
	return nil
}
