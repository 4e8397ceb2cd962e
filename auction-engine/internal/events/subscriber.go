package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

const relayPrefix = "auction_events:"

// RelayPattern matches every auction's relay channel
const RelayPattern = relayPrefix + "*"

// Relayed is one message received from the relay
type Relayed struct {
	AuctionID string
	Type      string
	Payload   json.RawMessage // event body
}

// RelaySubscriber follows relay channels with Redis pattern subscriptions
type RelaySubscriber struct {
	pubsub *redis.PubSub
}

// SubscribeRelay subscribes to pattern, typically RelayPattern
func SubscribeRelay(ctx context.Context, client *redis.Client, pattern string) (*RelaySubscriber, error) {
	pubsub := client.PSubscribe(ctx, pattern)
	// wait for the subscription confirmation so errors surface here
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	return &RelaySubscriber{pubsub: pubsub}, nil
}

// Listen delivers messages to out until ctx is done or the subscription is
// closed. Unparseable payloads are skipped.
func (s *RelaySubscriber) Listen(ctx context.Context, out chan<- Relayed) error {
	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("relay subscription closed")
			}
			relayed, err := parseRelayed(msg.Channel, msg.Payload)
			if err != nil {
				continue
			}
			select {
			case out <- relayed:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Close ends the subscription
func (s *RelaySubscriber) Close() error {
	return s.pubsub.Close()
}

func parseRelayed(channel, payload string) (Relayed, error) {
	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return Relayed{}, err
	}
	return Relayed{
		AuctionID: strings.TrimPrefix(channel, relayPrefix),
		Type:      msg.Type,
		Payload:   msg.Data,
	}, nil
}
