package audio

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/edgevox/internal/protocol"
	"github.com/danmuck/edgevox/internal/testutil/testlog"
)

func pcm(samples ...int16) []byte {
	buf := make([]byte, len(samples)*protocol.BytesPerSample)
	protocol.EncodeSamples(buf, samples)
	return buf
}

func TestPCMReaderFramesAndClose(t *testing.T) {
	testlog.Start(t)
	r := NewPCMReader(bytes.NewReader(pcm(1, -1, 300, -300)), false)
	ctx := context.Background()

	frame, err := r.ReadFrame(ctx, 2)
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if frame[0] != 1 || frame[1] != -1 {
		t.Fatalf("unexpected first frame: %v", frame)
	}
	frame, err = r.ReadFrame(ctx, 2)
	if err != nil || frame[0] != 300 || frame[1] != -300 {
		t.Fatalf("unexpected second frame: %v err=%v", frame, err)
	}
	if _, err := r.ReadFrame(ctx, 2); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestPCMReaderShortFrameIsUnderrun(t *testing.T) {
	testlog.Start(t)
	r := NewPCMReader(bytes.NewReader(pcm(1, 2, 3)), false)
	if _, err := r.ReadFrame(context.Background(), 4); !errors.Is(err, ErrUnderrun) {
		t.Fatalf("expected ErrUnderrun, got %v", err)
	}
}

func TestPCMReaderLoopRewinds(t *testing.T) {
	testlog.Start(t)
	r := NewPCMReader(bytes.NewReader(pcm(7, 8)), true)
	ctx := context.Background()
	if _, err := r.ReadFrame(ctx, 2); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if _, err := r.ReadFrame(ctx, 2); !errors.Is(err, ErrUnderrun) {
		t.Fatalf("expected rewind underrun, got %v", err)
	}
	frame, err := r.ReadFrame(ctx, 2)
	if err != nil || frame[0] != 7 {
		t.Fatalf("expected rewound frame, got %v err=%v", frame, err)
	}
}

func TestOpenFileSource(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "capture.raw")
	if err := os.WriteFile(path, pcm(5, 6, 7, 8), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	src, err := Open(Config{Path: path, SampleRate: 16000}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()
	frame, err := src.ReadFrame(context.Background(), 4)
	if err != nil || len(frame) != 4 || frame[3] != 8 {
		t.Fatalf("unexpected frame: %v err=%v", frame, err)
	}

	if _, err := Open(Config{Path: filepath.Join(t.TempDir(), "nope.raw"), SampleRate: 16000}, nil); err == nil {
		t.Fatalf("expected open error for missing file")
	}
	if _, err := Open(Config{Path: path}, nil); err == nil {
		t.Fatalf("expected error for zero sample rate")
	}
}

func TestPrefetcherDeliversFramesThenClosed(t *testing.T) {
	testlog.Start(t)
	src := NewPCMReader(bytes.NewReader(pcm(1, 2, 3, 4, 5, 6)), false)
	p := NewPrefetcher(src, 2, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	for i, want := range []int16{1, 3, 5} {
		frame, err := p.ReadFrame(ctx, 2)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if frame[0] != want {
			t.Fatalf("frame %d got=%d want=%d", i, frame[0], want)
		}
	}
	if _, err := p.ReadFrame(ctx, 2); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := p.ReadFrame(ctx, 2); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed to stick, got %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := p.ReadFrame(ctx, 3); !errors.Is(err, ErrHardware) {
		t.Fatalf("expected ErrHardware for length mismatch, got %v", err)
	}
}

func TestPrefetcherDropsOldestWhenFull(t *testing.T) {
	testlog.Start(t)
	p := NewPrefetcher(nil, 1, 2)
	p.push(frameResult{samples: []int16{1}})
	p.push(frameResult{samples: []int16{2}})
	p.push(frameResult{samples: []int16{3}})

	if p.Dropped() != 1 {
		t.Fatalf("expected one dropped frame, got %d", p.Dropped())
	}
	ctx := context.Background()
	first, _ := p.ReadFrame(ctx, 1)
	second, _ := p.ReadFrame(ctx, 1)
	if first[0] != 2 || second[0] != 3 {
		t.Fatalf("unexpected queue order: %v %v", first, second)
	}
}
