package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/danmuck/edgevox/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrConnect       = errors.New("session: connect failed")
	ErrSend          = errors.New("session: audio send failed")
	ErrHeartbeat     = errors.New("session: heartbeat failed")
	ErrNoReply       = errors.New("session: no reply")
	ErrSessionClosed = errors.New("session: closed")
)

// Dialer opens sessions against one collector address.
type Dialer struct {
	cfg Config
}

func NewDialer(cfg Config) (*Dialer, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Dialer{cfg: cfg}, nil
}

func (d *Dialer) Config() Config {
	return d.cfg
}

// Open dials the collector and performs the confirmation exchange carrying
// seq, the sequence the device resumes from.
func (d *Dialer) Open(ctx context.Context, seq uint32) (*Session, error) {
	dialer := net.Dialer{Timeout: d.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnect, d.cfg.Address, err)
	}

	s := &Session{conn: conn, cfg: d.cfg}
	reply, err := s.confirm(ctx, seq)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	log.Debug().
		Str("remote", conn.RemoteAddr().String()).
		Uint32("sequence", seq).
		Uint32("response", reply.Response).
		Msg("session.Dialer.Open confirmed")
	return s, nil
}

// Session is one confirmed TCP connection. Calls are not safe for concurrent
// use except Close.
type Session struct {
	mu   sync.Mutex
	conn net.Conn
	cfg  Config
}

func (s *Session) RemoteAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}

// Close releases the socket. Repeated calls return nil.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *Session) confirm(ctx context.Context, seq uint32) (protocol.ConfirmationReply, error) {
	buf := make([]byte, protocol.ConfirmationReplyLen)
	if err := s.exchange(ctx, protocol.EncodeConfirmation(protocol.Confirmation{Sequence: seq}), buf); err != nil {
		return protocol.ConfirmationReply{}, fmt.Errorf("confirmation: %w", err)
	}
	return protocol.DecodeConfirmationReply(buf)
}

// SendAudio writes one audio packet and waits once for its ack. A decoded
// ack is returned even when it does not match; matching is the caller's call.
func (s *Session) SendAudio(ctx context.Context, pkt protocol.AudioPacket) (protocol.AudioAck, error) {
	buf := make([]byte, protocol.AudioAckLen)
	if err := s.exchange(ctx, protocol.EncodeAudioPacket(pkt), buf); err != nil {
		return protocol.AudioAck{}, fmt.Errorf("%w: sequence=%d: %w", ErrSend, pkt.Sequence, err)
	}
	return protocol.DecodeAudioAck(buf)
}

// SendHeartbeat writes one heartbeat and waits once for the reply.
func (s *Session) SendHeartbeat(ctx context.Context, hb protocol.Heartbeat) (protocol.HeartbeatReply, error) {
	buf := make([]byte, protocol.HeartbeatReplyLen)
	if err := s.exchange(ctx, protocol.EncodeHeartbeat(hb), buf); err != nil {
		return protocol.HeartbeatReply{}, fmt.Errorf("%w: %w", ErrHeartbeat, err)
	}
	return protocol.DecodeHeartbeatReply(buf)
}

// exchange writes msg in full, then reads exactly len(reply) bytes.
// Read failures, timeouts and short reads wrap ErrNoReply.
func (s *Session) exchange(ctx context.Context, msg []byte, reply []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrSessionClosed
	}

	if err := conn.SetWriteDeadline(s.deadline(ctx, s.cfg.WriteTimeout)); err != nil {
		return err
	}
	if _, err := conn.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	if err := conn.SetReadDeadline(s.deadline(ctx, s.cfg.ReadTimeout)); err != nil {
		return err
	}
	if n, err := io.ReadFull(conn, reply); err != nil {
		return fmt.Errorf("%w: read %d/%d bytes: %w", ErrNoReply, n, len(reply), err)
	}
	return nil
}

func (s *Session) deadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	return deadline
}
