package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"MarketWatch/internal/core"
	"MarketWatch/internal/degraded"
	"MarketWatch/internal/fanout"
	"MarketWatch/internal/ingestion"
	"MarketWatch/internal/observability"
	"MarketWatch/internal/observer"
	"MarketWatch/internal/server"
	"MarketWatch/internal/state"
)

// Config holds all application configuration, loaded from environment
// variables (a .env file is honored when present).
type Config struct {
	NATSURL        string
	ConnectTimeout time.Duration

	MessageChanSize int

	HTTPAddr    string
	MetricsAddr string
	GRPCAddr    string

	DegradedTick time.Duration
	DegradedSeed int64
}

func DefaultConfig() Config {
	return Config{
		NATSURL:         envOrDefault("MW_NATS_URL", "nats://localhost:4222"),
		ConnectTimeout:  envDurOrDefault("MW_CONNECT_TIMEOUT", 5*time.Second),
		MessageChanSize: envIntOrDefault("MW_MESSAGE_CHAN_SIZE", 2048),
		HTTPAddr:        envOrDefault("MW_HTTP_ADDR", ":8080"),
		MetricsAddr:     envOrDefault("MW_METRICS_ADDR", ":9091"),
		GRPCAddr:        envOrDefault("MW_GRPC_ADDR", ":9090"),
		DegradedTick:    envDurOrDefault("MW_DEGRADED_TICK", 2*time.Second),
		DegradedSeed:    int64(envIntOrDefault("MW_DEGRADED_SEED", int(time.Now().UnixNano()))),
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	_ = godotenv.Load()

	cfg := DefaultConfig()
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	msgCh := make(chan ingestion.Message, cfg.MessageChanSize)

	// --- Bus (finite connect timeout, no retry; failure is degraded mode) ---
	busLog := observability.NewLogger("bus")
	bus, err := ingestion.Connect(cfg.NATSURL, cfg.ConnectTimeout, msgCh, busLog)
	if err != nil {
		if !errors.Is(err, ingestion.ErrBusUnavailable) {
			log.Fatalf("FATAL: bus connect: %v", err)
		}
		log.Printf("WARN: %v, entering degraded mode", err)
		bus = nil
	} else {
		log.Printf("INFO: connected to bus at %s", cfg.NATSURL)
	}

	// --- Aggregation core ---
	store := state.NewStore()
	dispatcher := fanout.NewDispatcher(observability.NewLogger("fanout"), metrics)
	engine := core.NewEngine(store, dispatcher, msgCh, observability.NewLogger("engine"), metrics)

	engineCtx, engineCancel := context.WithCancel(context.Background())
	engineDone := make(chan struct{})
	go func() {
		engine.Run(engineCtx)
		close(engineDone)
	}()

	// --- Feed: live subscriptions or synthesized data ---
	if bus != nil {
		if err := bus.Subscribe(ctx); err != nil {
			log.Printf("WARN: bus subscribe: %v, entering degraded mode", err)
			bus.Close()
			bus = nil
		}
	}
	if bus == nil {
		gen := degraded.NewGenerator(msgCh, cfg.DegradedTick, cfg.DegradedSeed, observability.NewLogger("degraded"))
		go gen.Run(ctx)
	}
	metrics.DegradedMode.Set(boolToGauge(bus == nil))

	// --- Terminal observer ---
	term := observer.NewTerminal(os.Stdout, observability.NewLogger("terminal"))
	go term.Run(ctx)
	engine.Attach(term)

	// --- Observer-facing HTTP endpoint (fatal if it cannot bind) ---
	httpServer := server.NewHTTPServer(cfg.HTTPAddr, engine, healthChecker, observability.NewLogger("http"))
	httpErr := make(chan error, 1)
	go func() {
		httpErr <- httpServer.ListenAndServe()
	}()

	// --- Metrics endpoint ---
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("ERROR: metrics server: %v", err)
		}
	}()

	// --- gRPC health server ---
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, observability.NewLogger("grpc"))
	if err := grpcServer.Start(); err != nil {
		log.Printf("ERROR: %v (continuing without grpc health)", err)
	}

	healthChecker.SetReady(true)
	log.Println("INFO: MarketWatch running")

	select {
	case sig := <-sigChan:
		log.Printf("INFO: received %v, shutting down", sig)
	case err := <-httpErr:
		if err != nil {
			log.Fatalf("FATAL: observer endpoint: %v", err)
		}
	}

	// Shutdown order: stop accepting bus messages, close observers, then
	// release the bus connection, so no observer sees a broadcast after
	// the bus is reported closed.
	healthChecker.SetReady(false)
	if bus != nil {
		bus.Drain()
	}
	cancel() // stops generator and terminal renderer

	engineCancel()
	<-engineDone

	if bus != nil {
		bus.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARN: http shutdown: %v", err)
	}
	_ = metricsServer.Shutdown(shutdownCtx)
	grpcServer.Stop()

	log.Println("INFO: shutdown complete")
}

func boolToGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDurOrDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
