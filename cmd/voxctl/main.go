package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/edgevox/internal/audio"
	"github.com/danmuck/edgevox/internal/config"
	"github.com/danmuck/edgevox/internal/engine"
	"github.com/danmuck/edgevox/internal/logging"
	"github.com/danmuck/edgevox/internal/observability"
	"github.com/danmuck/edgevox/internal/protocol/session"
	"github.com/danmuck/edgevox/internal/state"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to device config.toml (defaults when empty)")
	showState := flag.Bool("state", false, "print the persisted device state and exit")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg, err := config.LoadDevice(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxctl: %v\n", err)
		os.Exit(1)
	}

	if *showState {
		if err := printState(cfg.StateFile); err != nil {
			fmt.Fprintf(os.Stderr, "voxctl: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "voxctl: %v\n", err)
		os.Exit(1)
	}
}

func printState(path string) error {
	snap, err := state.NewFileStore(path).Snapshot()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// run wires the device and blocks until ctx ends or the audio source closes.
func run(ctx context.Context, cfg config.Device) error {
	clock := engine.SystemClock()
	src, err := openCapture(cfg, clock)
	if err != nil {
		return err
	}
	defer src.Close()

	dialer, err := session.NewDialer(cfg.Session)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	var source audio.Source = src
	if cfg.CaptureQueue > 0 {
		pf := audio.NewPrefetcher(src, cfg.Engine.FrameSamples, cfg.CaptureQueue)
		g.Go(func() error { return pf.Run(gctx) })
		source = pf
	}

	eng, err := engine.New(cfg.Engine, engine.Deps{
		Dialer:   engine.SessionDialer(dialer),
		Store:    state.NewFileStore(cfg.StateFile),
		Source:   source,
		Detector: cfg.Detector(),
		Clock:    clock,
	})
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           statusMux(eng),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error { return serveHTTP(gctx, srv) })
	}

	g.Go(func() error {
		defer cancel()
		err := eng.Run(gctx)
		if errors.Is(err, audio.ErrClosed) {
			log.Info().Uint32("sequence", eng.Status().Sequence).Msg("voxctl.run audio source exhausted")
			return nil
		}
		return err
	})

	log.Info().
		Str("collector", cfg.Session.Address).
		Str("audio_source", cfg.Audio.Path).
		Str("state_file", cfg.StateFile).
		Int("capture_queue", cfg.CaptureQueue).
		Msg("voxctl.run started")
	return g.Wait()
}

func statusMux(eng *engine.Engine) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		st := eng.Status()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"state":              st.State.String(),
			"sequence":           st.Sequence,
			"heartbeat_failures": st.HeartbeatFailures,
			"last_heartbeat":     st.LastHeartbeat,
		})
	})
	return observability.Middleware("voxctl", log.Logger, mux)
}

func serveHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
