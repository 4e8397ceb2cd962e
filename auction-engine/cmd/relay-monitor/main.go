// Command relay-monitor follows the engine's Redis relay and logs every
// accepted bid and auction close it sees.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aaronwang/live-auction/auction-engine/internal/events"
	"github.com/aaronwang/live-auction/auction-engine/internal/store"
	"github.com/aaronwang/live-auction/shared/config"
	"github.com/aaronwang/live-auction/shared/logger"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}
	log := logger.New("relay-monitor")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := config.GetEnv("REDIS_ADDR", "localhost:6379")
	rdb, err := store.Connect(ctx, addr, config.GetEnv("REDIS_PASSWORD", ""), config.GetEnvInt("REDIS_DB", 0))
	if err != nil {
		log.Error("failed to connect to redis", "addr", addr, "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	pattern := config.GetEnv("RELAY_PATTERN", events.RelayPattern)
	sub, err := events.SubscribeRelay(ctx, rdb, pattern)
	if err != nil {
		log.Error("failed to subscribe", "pattern", pattern, "error", err)
		os.Exit(1)
	}
	defer sub.Close()
	log.Info("following relay", "pattern", pattern)

	messages := make(chan events.Relayed, 256)
	go func() {
		defer close(messages)
		if err := sub.Listen(ctx, messages); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("relay listener error", "error", err)
		}
	}()

	for msg := range messages {
		log.Info("relay event", "auction_id", msg.AuctionID, "type", msg.Type, "payload", string(msg.Payload))
	}
	log.Info("relay monitor stopped")
}
