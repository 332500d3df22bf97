package collector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/edgevox/internal/observability"
	"github.com/danmuck/edgevox/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Device is the observed state of one connected device session.
type Device struct {
	ID          string
	ConnectedAt time.Time
	LastSeen    time.Time
	// Expected is the next sequence the collector will accept.
	Expected   uint32
	Confirmed  bool
	Accepted   uint64
	Duplicates uint64
	Dropped    uint64
}

// Server accepts device sessions. Device identity is the remote address,
// so every reconnect starts a new Device.
type Server struct {
	cfg Config
	hub *Hub

	mu      sync.RWMutex
	devices map[string]*Device
	conns   map[net.Conn]struct{}
}

// NewServer builds a collector; hub may be nil.
func NewServer(cfg Config, hub *Hub) (*Server, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.AudioDir != "" {
		if err := os.MkdirAll(cfg.AudioDir, 0o755); err != nil {
			return nil, fmt.Errorf("collector: audio dir: %w", err)
		}
	}
	return &Server{
		cfg:     cfg,
		hub:     hub,
		devices: make(map[string]*Device),
		conns:   make(map[net.Conn]struct{}),
	}, nil
}

func (s *Server) Config() Config {
	return s.cfg
}

// Serve accepts device connections on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("collector.Server.Serve listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		go s.handleConn(conn)
	}
}

// Devices returns a snapshot of connected devices ordered by id.
func (s *Server) Devices() []Device {
	s.mu.RLock()
	out := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, *d)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	defer s.untrackConn(conn)

	id := conn.RemoteAddr().String()
	now := time.Now()
	s.mu.Lock()
	s.devices[id] = &Device{ID: id, ConnectedAt: now, LastSeen: now}
	active := len(s.devices)
	s.mu.Unlock()
	observability.AddCollectorDevices(1)
	log.Info().Str("device_id", id).Int("active_devices", active).Msg("collector.Server.handleConn connected")
	defer func() {
		s.mu.Lock()
		delete(s.devices, id)
		remaining := len(s.devices)
		s.mu.Unlock()
		observability.AddCollectorDevices(-1)
		log.Info().Str("device_id", id).Int("active_devices", remaining).Msg("collector.Server.handleConn disconnected")
	}()

	reader := bufio.NewReader(conn)
	limits := protocol.Limits{MaxPayloadBytes: s.cfg.MaxPayloadBytes}
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HeartbeatTimeout))
		msg, err := protocol.ReadMessage(reader, limits)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownMagic) {
				observability.RecordCollectorMessage("unknown", "skipped")
				log.Warn().Err(err).Str("device_id", id).Msg("collector.Server.handleConn skipping word")
				continue
			}
			var netErr net.Error
			switch {
			case errors.Is(err, io.EOF):
			case errors.As(err, &netErr) && netErr.Timeout():
				log.Warn().Str("device_id", id).Dur("timeout", s.cfg.HeartbeatTimeout).Msg("collector.Server.handleConn heartbeat timeout")
			default:
				log.Warn().Err(err).Str("device_id", id).Msg("collector.Server.handleConn read")
			}
			return
		}

		reply := s.handleMessage(id, msg)
		if reply == nil {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if _, err := conn.Write(reply); err != nil {
			log.Warn().Err(err).Str("device_id", id).Msg("collector.Server.handleConn write reply")
			return
		}
	}
}

// handleMessage applies msg to the device and returns the reply bytes, or
// nil when the message gets no reply.
func (s *Server) handleMessage(id string, msg protocol.Message) []byte {
	s.mu.Lock()
	dev, ok := s.devices[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	dev.LastSeen = time.Now()

	switch m := msg.(type) {
	case protocol.Confirmation:
		dev.Expected = m.Sequence
		dev.Confirmed = true
		s.mu.Unlock()
		observability.RecordCollectorMessage(m.Kind().String(), "accepted")
		log.Info().Str("device_id", id).Uint32("sequence", m.Sequence).Msg("collector.Server.handleMessage confirmed")
		return protocol.EncodeConfirmationReply(protocol.ConfirmationReply{Response: protocol.MagicConfirmation})

	case protocol.Heartbeat:
		s.mu.Unlock()
		observability.RecordCollectorMessage(m.Kind().String(), "accepted")
		log.Debug().Str("device_id", id).Uint32("sequence", m.Sequence).Msg("collector.Server.handleMessage heartbeat")
		return protocol.EncodeHeartbeatReply(protocol.HeartbeatReply{Response0: protocol.MagicHeartbeat, Response1: m.Sequence})

	case protocol.AudioPacket:
		expected := dev.Expected
		switch {
		case m.Sequence == expected:
			dev.Expected++
			dev.Accepted++
		case seqBefore(m.Sequence, expected):
			dev.Duplicates++
		default:
			dev.Dropped++
		}
		s.mu.Unlock()
		return s.handleAudio(id, expected, m)

	default:
		s.mu.Unlock()
		return nil
	}
}

func (s *Server) handleAudio(id string, expected uint32, pkt protocol.AudioPacket) []byte {
	ack := protocol.EncodeAudioAck(protocol.AudioAck{Ack0: protocol.MagicAudio, Sequence: pkt.Sequence})
	switch {
	case pkt.Sequence == expected:
	case seqBefore(pkt.Sequence, expected):
		observability.RecordCollectorMessage(pkt.Kind().String(), "duplicate")
		log.Debug().Str("device_id", id).Uint32("sequence", pkt.Sequence).Uint32("expected", expected).Msg("collector.Server.handleAudio duplicate, re-acking")
		return ack
	default:
		observability.RecordCollectorMessage(pkt.Kind().String(), "dropped")
		log.Warn().Str("device_id", id).Uint32("sequence", pkt.Sequence).Uint32("expected", expected).Msg("collector.Server.handleAudio out of order, dropping")
		return nil
	}

	observability.RecordCollectorMessage(pkt.Kind().String(), "accepted")
	raw := make([]byte, pkt.PayloadBytes())
	protocol.EncodeSamples(raw, pkt.Samples)
	if s.cfg.AudioDir != "" {
		if err := s.writeAudio(id, pkt, raw); err != nil {
			log.Warn().Err(err).Str("device_id", id).Uint32("sequence", pkt.Sequence).Msg("collector.Server.handleAudio store")
		}
	}
	if s.hub != nil {
		s.hub.Publish(AudioEvent{DeviceID: id, Timestamp: pkt.Timestamp, Sequence: pkt.Sequence, Data: raw})
	}
	return ack
}

func (s *Server) writeAudio(id string, pkt protocol.AudioPacket, raw []byte) error {
	return os.WriteFile(filepath.Join(s.cfg.AudioDir, AudioFileName(id, pkt.Timestamp, pkt.Sequence)), raw, 0o644)
}

// AudioFileName names the stored payload of one accepted packet.
func AudioFileName(deviceID string, ts, seq uint32) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case ':', '/', '\\', '[', ']':
			return '-'
		}
		return r
	}, deviceID)
	return fmt.Sprintf("%s_%d_%d.raw", safe, ts, seq)
}

// seqBefore reports whether a precedes b on the wrapping uint32 sequence.
func seqBefore(a, b uint32) bool {
	return a != b && b-a < 1<<31
}

func (s *Server) trackConn(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrackConn(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) closeAllConns() {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}
