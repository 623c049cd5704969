package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/meetmesh/signaling-relay/internal/config"
	"github.com/meetmesh/signaling-relay/internal/httpserver"
	"github.com/meetmesh/signaling-relay/internal/metrics"
	"github.com/meetmesh/signaling-relay/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	// Local .env for development; missing files are fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting meet-signaling-relay",
		"listen_addr", cfg.ListenAddr,
		"allowed_origins", cfg.AllowedOrigins,
		"ws_idle_timeout", cfg.WSIdleTimeout,
		"ws_ping_interval", cfg.WSPingInterval,
		"max_message_bytes", cfg.MaxMessageBytes,
		"max_messages_per_second", cfg.MaxMessagesPerSecond,
		"send_queue_size", cfg.SendQueueSize,
		"ice_servers", len(cfg.ICEServers),
	)

	met := metrics.New()
	router := signaling.NewRouter(logger, met)
	wsServer := signaling.NewWebSocketServer(cfg, logger, met, router)

	srv := httpserver.New(cfg, logger, met, resolveBuildInfo())
	srv.Mux().Handle("GET /ws", wsServer)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	conns, activeRooms := router.Stats()
	logger.Info("shutting down", "connections", conns, "rooms", activeRooms)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete, closing", "err", err)
		_ = srv.Close()
	}

	logger.Info("shutdown complete")
}

// resolveBuildInfo prefers the -ldflags values and falls back to the VCS
// metadata embedded by the Go toolchain.
func resolveBuildInfo() httpserver.BuildInfo {
	build := httpserver.BuildInfo{Commit: buildCommit, BuildTime: buildTime}
	if build.Commit != "" && build.BuildTime != "" {
		return build
	}

	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if build.Commit == "" {
					build.Commit = setting.Value
				}
			case "vcs.time":
				if build.BuildTime == "" {
					build.BuildTime = setting.Value
				}
			}
		}
	}
	return build
}
