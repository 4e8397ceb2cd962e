package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/aaronwang/live-auction/auction-engine/internal/arbiter"
	"github.com/aaronwang/live-auction/auction-engine/internal/dispatch"
	"github.com/aaronwang/live-auction/auction-engine/internal/engine"
	"github.com/aaronwang/live-auction/auction-engine/internal/events"
	"github.com/aaronwang/live-auction/auction-engine/internal/handlers"
	"github.com/aaronwang/live-auction/auction-engine/internal/room"
	"github.com/aaronwang/live-auction/auction-engine/internal/scheduler"
	"github.com/aaronwang/live-auction/auction-engine/internal/store"
	wsHandler "github.com/aaronwang/live-auction/auction-engine/internal/websocket"
	"github.com/aaronwang/live-auction/shared/config"
	"github.com/aaronwang/live-auction/shared/logger"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}
	log := logger.New("auction-engine")
	log.Info("starting auction engine")

	cfg := loadConfig()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Durable auction state
	var (
		st  store.Store
		rdb *redis.Client
	)
	switch cfg.StoreBackend {
	case "memory":
		log.Warn("using in-memory store, state is lost on restart")
		st = store.NewMemory()
	default:
		var err error
		rdb, err = store.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Error("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		st = store.NewRedis(rdb)
		log.Info("connected to redis", "addr", cfg.RedisAddr)
	}

	// Downstream publishers
	var publishers events.Multi
	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL, nats.Name("auction-engine"), nats.MaxReconnects(-1))
		if err != nil {
			log.Error("failed to connect to nats", "url", cfg.NatsURL, "error", err)
			os.Exit(1)
		}
		defer nc.Close()

		natsPub, err := events.NewNATSPublisher(ctx, nc, log)
		if err != nil {
			log.Error("failed to set up jetstream", "error", err)
			os.Exit(1)
		}
		publishers = append(publishers, natsPub)
		log.Info("connected to nats", "url", cfg.NatsURL)
	}
	if cfg.RedisRelayEnabled {
		if rdb == nil {
			var err error
			rdb, err = store.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
			if err != nil {
				log.Error("failed to connect to redis relay", "addr", cfg.RedisAddr, "error", err)
				os.Exit(1)
			}
			defer rdb.Close()
		}
		publishers = append(publishers, events.NewRedisRelay(rdb))
		log.Info("redis relay enabled")
	}
	publisher := events.NewAsync(publishers, cfg.EventQueueSize, log)

	// Core
	registry := room.NewRegistry(log)
	dispatcher := dispatch.New(registry, log)
	arb := arbiter.New(arbiter.Config{
		Store:      st,
		Registry:   registry,
		Dispatcher: dispatcher,
		Publisher:  publisher,
		Logger:     log,
		QueueSize:  cfg.WorkerQueueSize,
		TopBids:    cfg.TopBidsLimit,
	})
	eng := engine.New(arb, registry, dispatcher, log)

	sched := scheduler.New(st, arb, cfg.SweepInterval, nil, log)
	go sched.Run(ctx)

	// HTTP + WebSocket
	router := handlers.NewHandler(arb, st, registry, log).SetupRoutes()
	wsHandler.NewHandler(ctx, eng, cfg.ClientQueueSize, log).RegisterRoutes(router)

	server := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("auction engine listening", "addr", cfg.ServerAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	if err := arb.Close(shutdownCtx); err != nil {
		log.Error("failed to stop auction workers", "error", err)
	}
	if err := publisher.Close(shutdownCtx); err != nil {
		log.Error("failed to flush event queue", "error", err)
	}

	log.Info("server stopped gracefully")
}

// Config holds application configuration
type Config struct {
	ServerAddr        string
	StoreBackend      string // "redis" or "memory"
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	NatsURL           string // empty disables archival publishing
	RedisRelayEnabled bool
	SweepInterval     time.Duration
	TopBidsLimit      int
	ClientQueueSize   int
	WorkerQueueSize   int
	EventQueueSize    int
}

// loadConfig loads configuration from environment variables
func loadConfig() *Config {
	return &Config{
		ServerAddr:        config.GetEnv("SERVER_ADDR", ":8080"),
		StoreBackend:      config.GetEnv("STORE_BACKEND", "redis"),
		RedisAddr:         config.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     config.GetEnv("REDIS_PASSWORD", ""),
		RedisDB:           config.GetEnvInt("REDIS_DB", 0),
		NatsURL:           natsURL(),
		RedisRelayEnabled: config.GetEnvBool("REDIS_RELAY_ENABLED", false),
		SweepInterval:     config.GetEnvDuration("SWEEP_INTERVAL", time.Second),
		TopBidsLimit:      config.GetEnvInt("TOP_BIDS_LIMIT", 10),
		ClientQueueSize:   config.GetEnvInt("CLIENT_QUEUE_SIZE", 256),
		WorkerQueueSize:   config.GetEnvInt("WORKER_QUEUE_SIZE", 1024),
		EventQueueSize:    config.GetEnvInt("EVENT_QUEUE_SIZE", 1024),
	}
}

// natsURL distinguishes an unset NATS_URL (use the default) from one set to
// the empty string (archival publishing disabled)
func natsURL() string {
	if v, ok := os.LookupEnv("NATS_URL"); ok {
		return v
	}
	return "nats://localhost:4222"
}
