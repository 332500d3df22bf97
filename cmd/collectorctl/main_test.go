package main

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/edgevox/internal/config"
	"github.com/danmuck/edgevox/internal/testutil/testlog"
)

func TestRunStopsOnCancel(t *testing.T) {
	testlog.Start(t)

	cfg := config.DefaultCollector()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Server.WSListenAddr = "127.0.0.1:0"
	cfg.Server.AudioDir = t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop")
	}
}
