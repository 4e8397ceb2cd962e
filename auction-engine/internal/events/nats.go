package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/aaronwang/live-auction/shared/models"
	"github.com/aaronwang/live-auction/shared/stream"
)

// NATSPublisher publishes archival events to JetStream
// Uses JetStream for guaranteed delivery (at-least-once semantics)
type NATSPublisher struct {
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewNATSPublisher creates a JetStream context and ensures the stream exists
func NewNATSPublisher(ctx context.Context, nc *nats.Conn, logger *slog.Logger) (*NATSPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := stream.Ensure(ctx, js); err != nil {
		return nil, err
	}
	logger.Info("jetstream stream ready", "stream", stream.Name)

	return &NATSPublisher{js: js, logger: logger}, nil
}

// PublishBid publishes an accepted bid; it waits for the server ack
func (p *NATSPublisher) PublishBid(ctx context.Context, event models.BidEvent) error {
	return p.publish(ctx, stream.BidSubject(event.AuctionID), event.EventID, event)
}

// PublishAuctionEnded publishes an auction close
func (p *NATSPublisher) PublishAuctionEnded(ctx context.Context, event models.AuctionEndedEvent) error {
	return p.publish(ctx, stream.EndedSubject(event.AuctionID), event.EventID, event)
}

func (p *NATSPublisher) publish(ctx context.Context, subject, msgID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// The event id doubles as the dedup key so a retried publish is stored once
	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID))
	if err != nil {
		return fmt.Errorf("failed to publish to JetStream: %w", err)
	}

	p.logger.Debug("published event", "subject", subject, "seq", ack.Sequence)
	return nil
}
