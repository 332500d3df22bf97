package engine

import (
	"context"
	"time"

	"github.com/danmuck/edgevox/internal/protocol"
	"github.com/danmuck/edgevox/internal/protocol/session"
	"github.com/danmuck/edgevox/internal/state"
)

// Conn is one open collector session.
type Conn interface {
	SendAudio(ctx context.Context, pkt protocol.AudioPacket) (protocol.AudioAck, error)
	SendHeartbeat(ctx context.Context, hb protocol.Heartbeat) (protocol.HeartbeatReply, error)
	Close() error
}

// Dialer opens a confirmed session resuming at seq.
type Dialer interface {
	Open(ctx context.Context, seq uint32) (Conn, error)
}

type DialFunc func(ctx context.Context, seq uint32) (Conn, error)

func (f DialFunc) Open(ctx context.Context, seq uint32) (Conn, error) {
	return f(ctx, seq)
}

// SessionDialer adapts a session.Dialer.
func SessionDialer(d *session.Dialer) Dialer {
	return DialFunc(func(ctx context.Context, seq uint32) (Conn, error) {
		s, err := d.Open(ctx, seq)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// Store is the durable sequence/state persistence.
type Store interface {
	Load() uint32
	Save(seq uint32, cs state.ConnectionState) error
}

// Clock is the engine's only source of time and waiting.
type Clock interface {
	Now() time.Time
	// Sleep waits d or until ctx ends, returning ctx.Err() in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
