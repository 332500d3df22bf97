package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/edgevox/internal/collector"
	"github.com/danmuck/edgevox/internal/config"
	"github.com/danmuck/edgevox/internal/logging"
	"github.com/danmuck/edgevox/internal/observability"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to collector config.toml (defaults when empty)")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg, err := config.LoadCollector(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "collectorctl: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "collectorctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Collector) error {
	var hub *collector.Hub
	if cfg.Server.WSListenAddr != "" {
		hub = collector.NewHub()
		defer hub.Close()
	}
	srv, err := collector.NewServer(cfg.Server, hub)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx, ln) })
	if hub != nil {
		g.Go(func() error {
			return serveHTTP(gctx, cfg.Server.WSListenAddr, observability.Middleware("collectorctl.ws", log.Logger, hub.Handler()))
		})
	}
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			return serveHTTP(gctx, cfg.MetricsAddr, observability.Middleware("collectorctl", log.Logger, mux))
		})
	}

	log.Info().
		Str("listen_addr", ln.Addr().String()).
		Str("ws_listen_addr", cfg.Server.WSListenAddr).
		Str("audio_dir", cfg.Server.AudioDir).
		Msg("collectorctl.run started")
	return g.Wait()
}

func serveHTTP(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
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
