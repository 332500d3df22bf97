package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/edgevox/internal/audio"
	"github.com/danmuck/edgevox/internal/observability"
	"github.com/danmuck/edgevox/internal/protocol"
	"github.com/danmuck/edgevox/internal/protocol/session"
	"github.com/danmuck/edgevox/internal/state"
	"github.com/danmuck/edgevox/internal/vad"
	"github.com/rs/zerolog/log"
)

var (
	ErrMissingDependency = errors.New("engine: missing dependency")
	ErrConnectExhausted  = errors.New("engine: connect attempts exhausted")
	ErrAckMismatch       = errors.New("engine: ack sequence mismatch")
	ErrAudioNotAcked     = errors.New("engine: audio packet not acknowledged")
	ErrHeartbeatFailed   = errors.New("engine: heartbeat failures exceeded")
)

// Deps are the collaborators the engine drives.
type Deps struct {
	Dialer   Dialer
	Store    Store
	Source   audio.Source
	Detector vad.Detector
	// Clock defaults to the system clock.
	Clock Clock
}

// Status is a point-in-time view of the engine.
type Status struct {
	State             state.ConnectionState
	Sequence          uint32
	HeartbeatFailures int
	LastHeartbeat     time.Time
}

type Engine struct {
	cfg      Config
	dialer   Dialer
	store    Store
	source   audio.Source
	detector vad.Detector
	clock    Clock
	rng      *rand.Rand

	conn           Conn
	connectAttempt int

	mu                sync.RWMutex
	seq               uint32
	state             state.ConnectionState
	lastHeartbeat     time.Time
	heartbeatFailures int
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Dialer == nil:
		return nil, fmt.Errorf("%w: dialer", ErrMissingDependency)
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: store", ErrMissingDependency)
	case deps.Source == nil:
		return nil, fmt.Errorf("%w: audio source", ErrMissingDependency)
	case deps.Detector == nil:
		return nil, fmt.Errorf("%w: voice detector", ErrMissingDependency)
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	return &Engine{
		cfg:      cfg,
		dialer:   deps.Dialer,
		store:    deps.Store,
		source:   deps.Source,
		detector: deps.Detector,
		clock:    deps.Clock,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		state:    state.Disconnected,
	}, nil
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Status{
		State:             e.state,
		Sequence:          e.seq,
		HeartbeatFailures: e.heartbeatFailures,
		LastHeartbeat:     e.lastHeartbeat,
	}
}

// Run loads the persisted sequence, connects (retrying forever) and then
// cycles until ctx ends. It returns nil on cancellation and audio.ErrClosed
// when the source is exhausted; transient failures never surface.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.seq = e.store.Load()
	e.mu.Unlock()
	observability.SetSequence(e.seq)
	observability.SetConnectionState(int(state.Disconnected))
	log.Info().
		Uint32("sequence", e.seq).
		Int("frame_samples", e.cfg.FrameSamples).
		Dur("heartbeat_interval", e.cfg.HeartbeatInterval).
		Msg("engine.Engine.Run starting")

	if err := e.reconnect(ctx); err != nil {
		return e.shutdown(ctx, err)
	}

	for {
		err := e.cycle(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return e.shutdown(ctx, err)
		}
		if errors.Is(err, audio.ErrClosed) {
			log.Warn().Err(err).Msg("engine.Engine.Run audio source closed")
			return e.shutdown(ctx, err)
		}

		reason := classify(err)
		observability.RecordReconnect(reason)
		log.Warn().Err(err).Str("reason", reason).Uint32("sequence", e.seq).Msg("engine.Engine.Run cycle failed, reconnecting")
		e.teardown()
		if err := e.reconnect(ctx); err != nil {
			return e.shutdown(ctx, err)
		}
	}
}

func (e *Engine) shutdown(ctx context.Context, cause error) error {
	e.teardown()
	if ctx.Err() != nil {
		log.Info().Uint32("sequence", e.seq).Msg("engine.Engine.Run shutdown")
		return nil
	}
	return cause
}

// teardown closes the session and records the loss of connection.
func (e *Engine) teardown() {
	if e.conn != nil {
		if err := e.conn.Close(); err != nil {
			log.Debug().Err(err).Msg("engine.Engine.teardown close")
		}
		e.conn = nil
	}
	e.setState(state.Disconnected)
}

// reconnect repeats bounded connect batches until one succeeds or ctx ends.
func (e *Engine) reconnect(ctx context.Context) error {
	e.setState(state.Connecting)
	for batch := 1; ; batch++ {
		conn, err := e.connectBatch(ctx)
		if err == nil {
			e.conn = conn
			e.connectAttempt = 0
			e.mu.Lock()
			e.heartbeatFailures = 0
			e.mu.Unlock()
			e.setState(state.Connected)
			log.Info().Int("batches", batch).Uint32("sequence", e.seq).Msg("engine.Engine.reconnect connected")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Int("batch", batch).Msg("engine.Engine.reconnect batch failed")
		if err := e.sleepReconnect(ctx); err != nil {
			return err
		}
	}
}

// connectBatch makes up to MaxRetries open attempts spaced by the reconnect delay.
func (e *Engine) connectBatch(ctx context.Context) (Conn, error) {
	var lastErr error
	for i := 1; i <= e.cfg.MaxRetries; i++ {
		e.connectAttempt++
		conn, err := e.dialer.Open(ctx, e.seq)
		observability.RecordConnectAttempt(err == nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", i).Int("max", e.cfg.MaxRetries).Msg("engine.Engine.connectBatch open failed")
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if i < e.cfg.MaxRetries {
			if err := e.sleepReconnect(ctx); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%w: %d attempts: %w", ErrConnectExhausted, e.cfg.MaxRetries, lastErr)
}

func (e *Engine) sleepReconnect(ctx context.Context) error {
	return e.clock.Sleep(ctx, session.NextBackoffDelay(e.cfg.Reconnect, e.connectAttempt, e.rng))
}

// cycle runs capture -> detect -> send -> heartbeat once.
func (e *Engine) cycle(ctx context.Context) error {
	frame, err := e.capture(ctx)
	if err != nil {
		return err
	}
	speech := e.detector.IsSpeech(frame)
	observability.RecordFrame(speech)
	if speech {
		if err := e.sendAudio(ctx, frame); err != nil {
			return err
		}
	}
	return e.heartbeat(ctx)
}

// capture reads one frame, retrying underruns in place.
func (e *Engine) capture(ctx context.Context) ([]int16, error) {
	for {
		frame, err := e.source.ReadFrame(ctx, e.cfg.FrameSamples)
		if err == nil {
			return frame, nil
		}
		if !errors.Is(err, audio.ErrUnderrun) {
			return nil, fmt.Errorf("capture: %w", err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Debug().Err(err).Msg("engine.Engine.capture underrun")
	}
}

// sendAudio delivers frame under the current sequence, retrying until the
// ack matches or MaxRetries attempts are spent.
func (e *Engine) sendAudio(ctx context.Context, frame []int16) error {
	pkt := protocol.AudioPacket{Sequence: e.seq, Samples: frame}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			if err := e.clock.Sleep(ctx, e.cfg.AckRetryDelay); err != nil {
				return err
			}
		}
		start := e.clock.Now()
		pkt.Timestamp = uint32(start.Unix())
		ack, err := e.conn.SendAudio(ctx, pkt)
		switch {
		case err != nil:
			lastErr = err
			observability.RecordAudioSend("error", 0)
		case !ack.Matches(pkt.Sequence):
			lastErr = fmt.Errorf("%w: got=%d want=%d", ErrAckMismatch, ack.Sequence, pkt.Sequence)
			observability.RecordAudioSend("mismatch", 0)
		default:
			observability.RecordAudioSend("acked", e.clock.Now().Sub(start))
			e.advance()
			return nil
		}
		log.Warn().Err(lastErr).Int("attempt", attempt).Uint32("sequence", pkt.Sequence).Msg("engine.Engine.sendAudio attempt failed")
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: sequence=%d attempts=%d: %w", ErrAudioNotAcked, pkt.Sequence, e.cfg.MaxRetries, lastErr)
}

// advance moves past an acknowledged packet. The counter wraps to 0 after
// 2^32-1 like any uint32.
func (e *Engine) advance() {
	e.mu.Lock()
	e.seq++
	seq := e.seq
	e.mu.Unlock()
	observability.SetSequence(seq)
	e.persist()
}

// heartbeat sends a heartbeat when one is due. A missing or wrong reply is
// counted; MaxRetries in a row is fatal. A failed write is fatal at once.
func (e *Engine) heartbeat(ctx context.Context) error {
	now := e.clock.Now()
	e.mu.RLock()
	last := e.lastHeartbeat
	e.mu.RUnlock()
	if !last.IsZero() && now.Sub(last) < e.cfg.HeartbeatInterval {
		return nil
	}

	reply, err := e.conn.SendHeartbeat(ctx, protocol.Heartbeat{Sequence: e.seq, Timestamp: uint32(now.Unix())})
	if err != nil && !errors.Is(err, session.ErrNoReply) {
		observability.RecordHeartbeat("error")
		return err
	}
	if err == nil && reply.Valid() {
		observability.RecordHeartbeat("ok")
		e.mu.Lock()
		e.lastHeartbeat = now
		e.heartbeatFailures = 0
		e.mu.Unlock()
		return nil
	}

	cause := err
	if cause == nil {
		cause = fmt.Errorf("reply magic 0x%08X", reply.Response0)
	}
	e.mu.Lock()
	e.heartbeatFailures++
	failures := e.heartbeatFailures
	e.mu.Unlock()
	observability.RecordHeartbeat("failed")
	log.Warn().Err(cause).Int("failures", failures).Int("max", e.cfg.MaxRetries).Msg("engine.Engine.heartbeat failed")
	if failures >= e.cfg.MaxRetries {
		return fmt.Errorf("%w: %d consecutive: %w", ErrHeartbeatFailed, failures, cause)
	}
	return nil
}

func (e *Engine) setState(cs state.ConnectionState) {
	e.mu.Lock()
	changed := e.state != cs
	e.state = cs
	e.mu.Unlock()
	if !changed {
		return
	}
	observability.SetConnectionState(int(cs))
	log.Info().Str("state", cs.String()).Msg("engine.Engine.setState")
	e.persist()
}

// persist is advisory: a failed write is logged and the in-memory state stands.
func (e *Engine) persist() {
	st := e.Status()
	if err := e.store.Save(st.Sequence, st.State); err != nil {
		log.Warn().Err(err).Uint32("sequence", st.Sequence).Str("state", st.State.String()).Msg("engine.Engine.persist failed")
	}
}

// classify maps a cycle failure onto the error taxonomy. Every class gets
// the same reconnection response; the label feeds logs and metrics.
func classify(err error) string {
	switch {
	case errors.Is(err, audio.ErrHardware), errors.Is(err, audio.ErrClosed):
		return "capture"
	case errors.Is(err, ErrAudioNotAcked), errors.Is(err, session.ErrSend):
		return "send"
	case errors.Is(err, ErrHeartbeatFailed), errors.Is(err, session.ErrHeartbeat):
		return "heartbeat"
	case errors.Is(err, ErrConnectExhausted), errors.Is(err, session.ErrConnect):
		return "connect"
	default:
		return "unknown"
	}
}
