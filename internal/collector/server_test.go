package collector

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/edgevox/internal/audio"
	"github.com/danmuck/edgevox/internal/engine"
	"github.com/danmuck/edgevox/internal/protocol"
	"github.com/danmuck/edgevox/internal/protocol/session"
	"github.com/danmuck/edgevox/internal/state"
	"github.com/danmuck/edgevox/internal/testutil/testlog"
	"github.com/danmuck/edgevox/internal/vad"
	"github.com/gorilla/websocket"
)

func startServer(t *testing.T, cfg Config, hub *Hub) (*Server, string) {
	t.Helper()
	srv, err := NewServer(cfg, hub)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("serve did not stop")
		}
	})
	return srv, ln.Addr().String()
}

func openDevice(t *testing.T, addr string, seq uint32) *session.Session {
	t.Helper()
	cfg := session.DefaultConfig()
	cfg.Address = addr
	cfg.ConnectTimeout = time.Second
	cfg.ReadTimeout = 300 * time.Millisecond
	cfg.WriteTimeout = time.Second
	d, err := session.NewDialer(cfg)
	if err != nil {
		t.Fatalf("new dialer: %v", err)
	}
	s, err := d.Open(context.Background(), seq)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sendAudio(t *testing.T, s *session.Session, seq uint32) protocol.AudioAck {
	t.Helper()
	ack, err := s.SendAudio(context.Background(), protocol.AudioPacket{Sequence: seq, Timestamp: 1700000000, Samples: []int16{1, -1, 300}})
	if err != nil {
		t.Fatalf("send audio seq=%d: %v", seq, err)
	}
	return ack
}

func onlyDevice(t *testing.T, srv *Server) Device {
	t.Helper()
	devices := srv.Devices()
	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devices))
	}
	return devices[0]
}

func TestServerAcksInOrderAudio(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.AudioDir = dir
	srv, addr := startServer(t, cfg, nil)
	dev := openDevice(t, addr, 7)

	ack := sendAudio(t, dev, 7)
	if !ack.Matches(7) || ack.Ack0 != protocol.MagicAudio {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	got := onlyDevice(t, srv)
	if got.Expected != 8 || got.Accepted != 1 || !got.Confirmed {
		t.Fatalf("unexpected device: %+v", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), "_1700000000_7.raw") {
		t.Fatalf("unexpected audio files: %v", entries)
	}
	raw, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read audio: %v", err)
	}
	if want := []byte{0x01, 0x00, 0xFF, 0xFF, 0x2C, 0x01}; !bytes.Equal(raw, want) {
		t.Fatalf("raw payload got=% X want=% X", raw, want)
	}
}

func TestServerReacksDuplicates(t *testing.T) {
	testlog.Start(t)

	srv, addr := startServer(t, DefaultConfig(), nil)
	dev := openDevice(t, addr, 3)

	sendAudio(t, dev, 3)
	if ack := sendAudio(t, dev, 3); !ack.Matches(3) {
		t.Fatalf("duplicate must be re-acked, got %+v", ack)
	}
	got := onlyDevice(t, srv)
	if got.Accepted != 1 || got.Duplicates != 1 || got.Expected != 4 {
		t.Fatalf("unexpected device: %+v", got)
	}
}

func TestServerDropsAheadOfSequence(t *testing.T) {
	testlog.Start(t)

	srv, addr := startServer(t, DefaultConfig(), nil)
	dev := openDevice(t, addr, 0)

	_, err := dev.SendAudio(context.Background(), protocol.AudioPacket{Sequence: 5, Samples: []int16{1}})
	if !errors.Is(err, session.ErrNoReply) {
		t.Fatalf("expected no ack for gap, got %v", err)
	}
	if ack := sendAudio(t, dev, 0); !ack.Matches(0) {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	got := onlyDevice(t, srv)
	if got.Dropped != 1 || got.Accepted != 1 {
		t.Fatalf("unexpected device: %+v", got)
	}
}

func TestServerAnswersHeartbeat(t *testing.T) {
	testlog.Start(t)

	_, addr := startServer(t, DefaultConfig(), nil)
	dev := openDevice(t, addr, 0)

	reply, err := dev.SendHeartbeat(context.Background(), protocol.Heartbeat{Sequence: 11, Timestamp: 1})
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if !reply.Valid() || reply.Response1 != 11 {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestServerSkipsUnknownMagic(t *testing.T) {
	testlog.Start(t)

	_, addr := startServer(t, DefaultConfig(), nil)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	msg := append([]byte{0x01, 0x02, 0x03, 0x04}, protocol.EncodeHeartbeat(protocol.Heartbeat{Sequence: 2})...)
	if _, err := conn.Write(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, protocol.HeartbeatReplyLen)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	reply, err := protocol.DecodeHeartbeatReply(buf)
	if err != nil || !reply.Valid() {
		t.Fatalf("unexpected reply=%+v err=%v", reply, err)
	}
}

func TestServerClosesOversizedPayload(t *testing.T) {
	testlog.Start(t)

	cfg := DefaultConfig()
	cfg.MaxPayloadBytes = 16
	_, addr := startServer(t, cfg, nil)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hdr := make([]byte, protocol.AudioHeaderLen)
	binary.BigEndian.PutUint32(hdr[0:4], protocol.MagicAudio)
	binary.BigEndian.PutUint32(hdr[8:12], 1024)
	if _, err := conn.Write(hdr); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("expected server close, got %v", err)
	}
}

func TestServerClosesSilentDevice(t *testing.T) {
	testlog.Start(t)

	cfg := DefaultConfig()
	cfg.HeartbeatTimeout = 200 * time.Millisecond
	srv, addr := startServer(t, cfg, nil)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("expected timeout close, got %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for len(srv.Devices()) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("device not removed: %+v", srv.Devices())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubPublishesAcceptedAudio(t *testing.T) {
	testlog.Start(t)

	hub := NewHub()
	defer hub.Close()
	httpSrv := httptest.NewServer(hub.Handler())
	defer httpSrv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(httpSrv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer ws.Close()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_, addr := startServer(t, DefaultConfig(), hub)
	dev := openDevice(t, addr, 1)
	sendAudio(t, dev, 1)

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read ws: %v", err)
	}
	var ev AudioEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Type != "audio" || ev.Sequence != 1 || ev.Timestamp != 1700000000 || ev.DeviceID == "" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if want := []byte{0x01, 0x00, 0xFF, 0xFF, 0x2C, 0x01}; !bytes.Equal(ev.Data, want) {
		t.Fatalf("event data got=% X want=% X", ev.Data, want)
	}
}

func TestAudioFileName(t *testing.T) {
	if got := AudioFileName("127.0.0.1:5000", 10, 3); got != "127.0.0.1-5000_10_3.raw" {
		t.Fatalf("unexpected name %q", got)
	}
	if got := AudioFileName("[::1]:9", 0, 0); got != "---1--9_0_0.raw" {
		t.Fatalf("unexpected name %q", got)
	}
}

func TestSeqBeforeWraps(t *testing.T) {
	if !seqBefore(1, 2) || seqBefore(2, 2) || seqBefore(3, 2) {
		t.Fatalf("unexpected ordering near zero")
	}
	if !seqBefore(math.MaxUint32, 0) || seqBefore(0, math.MaxUint32) {
		t.Fatalf("unexpected ordering across wrap")
	}
}

func TestDeviceStreamsToCollector(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.AudioDir = filepath.Join(dir, "audio")
	_, addr := startServer(t, cfg, nil)

	var pcm bytes.Buffer
	for i := 0; i < 3*4; i++ {
		_ = binary.Write(&pcm, binary.LittleEndian, int16(4000))
	}
	for i := 0; i < 4; i++ {
		_ = binary.Write(&pcm, binary.LittleEndian, int16(0))
	}

	sessCfg := session.DefaultConfig()
	sessCfg.Address = addr
	sessCfg.ReadTimeout = time.Second
	dialer, err := session.NewDialer(sessCfg)
	if err != nil {
		t.Fatalf("new dialer: %v", err)
	}
	statePath := filepath.Join(dir, "state.json")
	engCfg := engine.DefaultConfig()
	engCfg.FrameSamples = 4
	eng, err := engine.New(engCfg, engine.Deps{
		Dialer:   engine.SessionDialer(dialer),
		Store:    state.NewFileStore(statePath),
		Source:   audio.NewPCMReader(bytes.NewReader(pcm.Bytes()), false),
		Detector: vad.NewEnergy(vad.DefaultThreshold),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := eng.Run(ctx); !errors.Is(err, audio.ErrClosed) {
		t.Fatalf("expected audio.ErrClosed, got %v", err)
	}

	snap, err := state.NewFileStore(statePath).Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Sequence != 3 || snap.ConnectionState != state.Disconnected.String() {
		t.Fatalf("unexpected persisted state: %+v", snap)
	}
	entries, err := os.ReadDir(cfg.AudioDir)
	if err != nil {
		t.Fatalf("read audio dir: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 stored packets, got %d", len(entries))
	}
}
