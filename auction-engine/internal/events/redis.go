package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/aaronwang/live-auction/shared/models"
)

// Relay message types
const (
	RelayTypeBid   = "bid.accepted"
	RelayTypeEnded = "auction.ended"
)

// RelayMessage is the JSON published on the relay channel
type RelayMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// RedisRelay mirrors events onto Redis Pub/Sub so other services can follow
// auctions without connecting to the engine
type RedisRelay struct {
	client *redis.Client
}

// NewRedisRelay wraps an existing client
func NewRedisRelay(client *redis.Client) *RedisRelay {
	return &RedisRelay{client: client}
}

// RelayChannel is the Pub/Sub channel for an auction
func RelayChannel(auctionID string) string {
	return relayPrefix + auctionID
}

func (r *RedisRelay) PublishBid(ctx context.Context, event models.BidEvent) error {
	return r.publish(ctx, event.AuctionID, RelayMessage{Type: RelayTypeBid, Data: event})
}

func (r *RedisRelay) PublishAuctionEnded(ctx context.Context, event models.AuctionEndedEvent) error {
	return r.publish(ctx, event.AuctionID, RelayMessage{Type: RelayTypeEnded, Data: event})
}

func (r *RedisRelay) publish(ctx context.Context, auctionID string, msg RelayMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal relay message: %w", err)
	}
	if err := r.client.Publish(ctx, RelayChannel(auctionID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish relay message: %w", err)
	}
	return nil
}
