package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/aaronwang/live-auction/shared/models"
	"github.com/aaronwang/live-auction/shared/stream"
)

// DurableName identifies the archival consumer on the stream
const DurableName = "archival-worker"

// errPoison marks messages that can never be processed
var errPoison = errors.New("unprocessable message")

// Archiver persists archival events
type Archiver interface {
	RecordBid(ctx context.Context, event *models.BidEvent) error
	RecordAuctionEnded(ctx context.Context, event *models.AuctionEndedEvent) error
}

// Consumer pulls archival events from JetStream and persists them.
// Messages are acked only after the write succeeds.
type Consumer struct {
	consumer jetstream.Consumer
	archive  Archiver
	logger   *slog.Logger
}

// NewConsumer ensures the stream and the durable consumer exist
func NewConsumer(ctx context.Context, nc *nats.Conn, archive Archiver, logger *slog.Logger) (*Consumer, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	s, err := stream.Ensure(ctx, js)
	if err != nil {
		return nil, err
	}

	cons, err := s.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       DurableName,
		FilterSubject: stream.SubjectAll,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	return &Consumer{
		consumer: cons,
		archive:  archive,
		logger:   logger,
	}, nil
}

// Start consumes until ctx is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	cc, err := c.consumer.Consume(func(msg jetstream.Msg) {
		c.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	c.logger.Info("consuming archival events", "stream", stream.Name, "filter", stream.SubjectAll)

	<-ctx.Done()
	cc.Stop()
	return nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg jetstream.Msg) {
	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := c.handle(dbCtx, msg.Subject(), msg.Data())
	switch {
	case errors.Is(err, errPoison):
		c.logger.Error("dropping unprocessable message", "subject", msg.Subject(), "error", err)
		_ = msg.Term()
	case err != nil:
		c.logger.Warn("failed to archive event, will redeliver", "subject", msg.Subject(), "error", err)
		_ = msg.Nak()
	default:
		_ = msg.Ack()
	}
}

// handle routes a message by subject to the archiver
func (c *Consumer) handle(ctx context.Context, subject string, data []byte) error {
	switch {
	case stream.IsBidSubject(subject):
		var event models.BidEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return fmt.Errorf("%w: %v", errPoison, err)
		}
		if err := c.archive.RecordBid(ctx, &event); err != nil {
			return err
		}
		c.logger.Debug("archived bid",
			"auction_id", event.AuctionID, "bid_id", event.BidID, "amount", event.Amount)

	case stream.IsEndedSubject(subject):
		var event models.AuctionEndedEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return fmt.Errorf("%w: %v", errPoison, err)
		}
		if err := c.archive.RecordAuctionEnded(ctx, &event); err != nil {
			return err
		}
		c.logger.Info("archived auction close",
			"auction_id", event.AuctionID, "final_price", event.FinalPrice, "bid_count", event.BidCount)

	default:
		return fmt.Errorf("%w: unexpected subject %q", errPoison, subject)
	}
	return nil
}
