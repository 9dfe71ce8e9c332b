// Command simulator runs the OCPP 1.6-J fleet: it loads a YAML config and
// station templates, spawns the simulated stations, and serves the
// control-plane UI server (WS/HTTP) plus an optional gRPC introspection
// port. The emoji-prefixed log.Printf lines below are the one place this
// tree keeps that teacher CLI convention (SPEC_FULL §2.1); everything else
// logs through log/slog.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/evfleet/ocppsim/internal/bootstrap"
	"github.com/evfleet/ocppsim/internal/broadcast"
	"github.com/evfleet/ocppsim/internal/config"
	"github.com/evfleet/ocppsim/internal/introspection"
	"github.com/evfleet/ocppsim/internal/monitoring"
	"github.com/evfleet/ocppsim/internal/security"
	"github.com/evfleet/ocppsim/internal/ui"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the fleet YAML config")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("⚠️  failed to load .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("🛑 config load failed: %v", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	log.Printf("🚀 starting ocppsim fleet (config=%s)", *configPath)

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus, closeBus := newBus(ctx, cfg.Broadcast, logger)
	defer closeBus()

	fleet := bootstrap.New(cfg, metrics, logger)
	fleet.SetBus(bus)

	if err := fleet.Start(ctx); err != nil {
		log.Fatalf("🛑 fleet start failed: %v", err)
	}
	log.Printf("✅ fleet running with %d station(s)", len(fleet.List()))

	uiServer := ui.NewServer(cfg, fleet, bus, metrics, logger)
	auth, err := ui.NewAuthenticator(cfg.UIServer.Authentication)
	if err != nil {
		log.Fatalf("🛑 ui authenticator setup failed: %v", err)
	}

	httpSrv := ui.NewHTTPServer(uiServer, auth, cfg.UIServer.MaxBodyBytes, cfg.UIServer.GzipThresholdBytes, reg, logger)
	wsSrv := ui.NewWSServer(uiServer, auth, logger)

	addr := net.JoinHostPort(cfg.UIServer.Options.Host, strconv.Itoa(cfg.UIServer.Options.Port))
	var handler http.Handler
	switch cfg.UIServer.Type {
	case "ws":
		handler = wsSrv.Handler()
	default:
		handler = httpSrv.Handler()
	}
	log.Printf("🌐 ui server (%s) listening on %s", cfg.UIServer.Type, addr)

	errCh := make(chan error, 1)
	go func() { errCh <- ui.ListenAndServe(ctx, addr, handler) }()

	if cfg.Introspection.Enabled {
		go serveIntrospection(ctx, cfg, fleet, logger)
	}

	select {
	case err := <-errCh:
		if err != nil {
			log.Printf("🛑 ui server exited: %v", err)
		}
	case <-ctx.Done():
		log.Printf("🔻 shutdown signal received")
	}

	if err := fleet.Stop(context.Background()); err != nil {
		log.Printf("⚠️  fleet stop error: %v", err)
	}
	log.Printf("👋 ocppsim fleet stopped")
}

func newBus(ctx context.Context, cfg config.BroadcastConfig, log *slog.Logger) (broadcast.Bus, func()) {
	switch cfg.Driver {
	case "redis":
		rb, err := broadcast.NewRedisBus(ctx, cfg.RedisAddr, log)
		if err != nil {
			log.Error("broadcast: redis bus init failed, falling back to in-memory", "error", err)
			break
		}
		return rb, func() {}
	case "pubsub":
		cb, err := broadcast.NewCloudBus(ctx, cfg.PubSubProject, cfg.PubSubTopic, log)
		if err != nil {
			log.Error("broadcast: pubsub bus init failed, falling back to in-memory", "error", err)
			break
		}
		return cb, func() {}
	}
	return broadcast.NewInMemoryBus(256), func() {}
}

func serveIntrospection(ctx context.Context, cfg *config.Config, fleet *bootstrap.Fleet, log *slog.Logger) {
	lis, err := net.Listen("tcp", cfg.Introspection.Addr)
	if err != nil {
		log.Error("introspection: listen failed", "addr", cfg.Introspection.Addr, "error", err)
		return
	}

	var opts []grpc.ServerOption
	if cfg.Security.MTLS.Enabled {
		src, err := security.NewSource(ctx, cfg.Security.MTLS)
		if err != nil {
			log.Error("introspection: mTLS source unavailable, serving without it", "error", err)
		} else {
			defer src.Close()
			opts = append(opts, grpc.Creds(credentials.NewTLS(src.ServerTLSConfig())))
		}
	}

	srv := introspection.NewServer(fleet, opts...)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	log.Info("introspection: gRPC listening", "addr", cfg.Introspection.Addr)
	if err := srv.Serve(lis); err != nil {
		log.Error("introspection: serve exited", "error", err)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
