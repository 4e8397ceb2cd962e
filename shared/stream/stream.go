// Package stream holds the JetStream layout shared by the engine (producer)
// and the archival worker (consumer).
package stream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Stream and subject names
const (
	Name          = "AUCTION_EVENTS"
	SubjectAll    = "auction.events.>"
	bidPrefix     = "auction.events.bid."
	endedPrefix   = "auction.events.ended."
	tokenReplacer = "_"
)

var subjectToken = strings.NewReplacer(".", tokenReplacer, " ", tokenReplacer, "*", tokenReplacer, ">", tokenReplacer)

// BidSubject is the subject accepted bids for an auction are published on
func BidSubject(auctionID string) string {
	return bidPrefix + subjectToken.Replace(auctionID)
}

// EndedSubject is the subject an auction's close is published on
func EndedSubject(auctionID string) string {
	return endedPrefix + subjectToken.Replace(auctionID)
}

// IsBidSubject reports whether subject carries a BidEvent
func IsBidSubject(subject string) bool {
	return strings.HasPrefix(subject, bidPrefix)
}

// IsEndedSubject reports whether subject carries an AuctionEndedEvent
func IsEndedSubject(subject string) bool {
	return strings.HasPrefix(subject, endedPrefix)
}

// Ensure creates or updates the stream (idempotent)
func Ensure(ctx context.Context, js jetstream.JetStream) (jetstream.Stream, error) {
	s, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        Name,
		Description: "Accepted bids and auction closes for archival",
		Subjects:    []string{SubjectAll},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.WorkQueuePolicy, // Each message consumed once
		MaxAge:      24 * time.Hour,
		Replicas:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream: %w", err)
	}
	return s, nil
}
