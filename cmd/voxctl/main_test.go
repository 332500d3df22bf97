package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/edgevox/internal/audio"
	"github.com/danmuck/edgevox/internal/config"
	"github.com/danmuck/edgevox/internal/engine"
	"github.com/danmuck/edgevox/internal/state"
	"github.com/danmuck/edgevox/internal/testutil/testlog"
	"github.com/danmuck/edgevox/internal/vad"
)

type nopSource struct{}

func (nopSource) ReadFrame(context.Context, int) ([]int16, error) {
	return nil, audio.ErrClosed
}

func TestStatusMuxReportsEngineState(t *testing.T) {
	testlog.Start(t)

	eng, err := engine.New(engine.DefaultConfig(), engine.Deps{
		Dialer:   engine.DialFunc(nil),
		Store:    state.NewFileStore(t.TempDir() + "/state.json"),
		Source:   nopSource{},
		Detector: vad.NewEnergy(0),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	rec := httptest.NewRecorder()
	statusMux(eng).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["state"] != "disconnected" || body["sequence"] != float64(0) {
		t.Fatalf("unexpected body: %v", body)
	}

	rec = httptest.NewRecorder()
	statusMux(eng).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected metrics status code %d", rec.Code)
	}
}

func TestOpenCapturePacesFileSources(t *testing.T) {
	testlog.Start(t)

	path := filepath.Join(t.TempDir(), "capture.raw")
	if err := os.WriteFile(path, make([]byte, 8), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg := config.DefaultDevice()
	cfg.Audio.Path = path
	src, err := openCapture(cfg, engine.SystemClock())
	if err != nil {
		t.Fatalf("open capture: %v", err)
	}
	defer src.Close()
	if _, ok := src.(*audio.Paced); !ok {
		t.Fatalf("expected paced file source, got %T", src)
	}

	cfg.Audio.SampleRate = 0
	cfg.Audio.Path = "portaudio"
	if _, err := openCapture(cfg, engine.SystemClock()); err == nil {
		t.Fatalf("expected live capture setup error")
	}
}

func TestPrintStateMissingFile(t *testing.T) {
	if err := printState(t.TempDir() + "/missing.json"); err == nil {
		t.Fatalf("expected error for missing state file")
	}
}
