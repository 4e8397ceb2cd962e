package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/aaronwang/live-auction/shared/models"
)

// PostgresClient wraps the PostgreSQL database connection
type PostgresClient struct {
	db *sql.DB
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(connStr string) (*PostgresClient, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresClient{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS auctions (
	id VARCHAR(255) PRIMARY KEY,
	current_price DECIMAL(14, 2) NOT NULL DEFAULT 0,
	increment_amount DECIMAL(14, 2) NOT NULL DEFAULT 0,
	bid_count INTEGER NOT NULL DEFAULT 0,
	winning_bid_id VARCHAR(255),
	winning_bidder_id VARCHAR(255),
	status VARCHAR(50) NOT NULL DEFAULT 'active',
	end_time TIMESTAMPTZ,
	final_price DECIMAL(14, 2),
	ended_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS bids (
	id VARCHAR(255) PRIMARY KEY,
	auction_id VARCHAR(255) NOT NULL REFERENCES auctions(id) ON DELETE CASCADE,
	bidder_id VARCHAR(255) NOT NULL,
	bidder_name VARCHAR(255),
	amount DECIMAL(14, 2) NOT NULL,
	outcome VARCHAR(50) NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_bids_auction_id ON bids(auction_id);
CREATE INDEX IF NOT EXISTS idx_bids_bidder_id ON bids(bidder_id);
CREATE INDEX IF NOT EXISTS idx_bids_timestamp ON bids(timestamp);
`

// InitSchema creates the necessary database tables
func (c *PostgresClient) InitSchema(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// RecordBid archives an accepted bid. Events may arrive more than once or
// out of order; the auction row only moves forward by bid count and every
// bid other than the auction's winning bid ends up accepted-then-outbid.
func (c *PostgresClient) RecordBid(ctx context.Context, event *models.BidEvent) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO auctions (id, current_price, increment_amount, bid_count, winning_bid_id, winning_bidder_id, end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET current_price = EXCLUDED.current_price,
		    increment_amount = EXCLUDED.increment_amount,
		    bid_count = EXCLUDED.bid_count,
		    winning_bid_id = EXCLUDED.winning_bid_id,
		    winning_bidder_id = EXCLUDED.winning_bidder_id,
		    end_time = EXCLUDED.end_time,
		    updated_at = CURRENT_TIMESTAMP
		WHERE auctions.bid_count < EXCLUDED.bid_count
	`, event.AuctionID, event.Amount, event.Increment, event.BidCount, event.BidID, event.BidderID, event.EndTime)
	if err != nil {
		return fmt.Errorf("failed to upsert auction: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bids (id, auction_id, bidder_id, bidder_name, amount, outcome, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, event.BidID, event.AuctionID, event.BidderID, event.BidderName, event.Amount,
		models.BidOutcomeAcceptedWinning, event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert bid: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE bids SET outcome = $1
		WHERE auction_id = $2
		  AND outcome = $3
		  AND id <> (SELECT winning_bid_id FROM auctions WHERE id = $2)
	`, models.BidOutcomeAcceptedOutbid, event.AuctionID, models.BidOutcomeAcceptedWinning)
	if err != nil {
		return fmt.Errorf("failed to mark outbid bids: %w", err)
	}

	return tx.Commit()
}

// RecordAuctionEnded archives an auction's close
func (c *PostgresClient) RecordAuctionEnded(ctx context.Context, event *models.AuctionEndedEvent) error {
	winningBidID := sql.NullString{String: event.WinningBidID, Valid: event.WinningBidID != ""}
	winningBidderID := sql.NullString{String: event.WinningBidderID, Valid: event.WinningBidderID != ""}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO auctions (id, current_price, bid_count, winning_bid_id, winning_bidder_id, status, final_price, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $2, $7)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    final_price = EXCLUDED.final_price,
		    ended_at = EXCLUDED.ended_at,
		    current_price = EXCLUDED.current_price,
		    bid_count = GREATEST(auctions.bid_count, EXCLUDED.bid_count),
		    winning_bid_id = EXCLUDED.winning_bid_id,
		    winning_bidder_id = EXCLUDED.winning_bidder_id,
		    updated_at = CURRENT_TIMESTAMP
	`, event.AuctionID, event.FinalPrice, event.BidCount, winningBidID, winningBidderID,
		models.AuctionStatusEnded, event.EndedAt)
	if err != nil {
		return fmt.Errorf("failed to record auction end: %w", err)
	}
	return nil
}

// Close closes the database connection
func (c *PostgresClient) Close() error {
	return c.db.Close()
}
