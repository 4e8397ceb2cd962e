package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aaronwang/live-auction/shared/models"
)

const endingKey = "auctions:ending"

// applyBidScript re-checks the stored state and applies an accepted bid in
// one round trip. It runs atomically on the Redis server, so a second engine
// instance pointed at the same keys can never double-accept.
//
// KEYS[1]: auction:{id}          (hash)
// KEYS[2]: auction:{id}:bidders  (set)
// KEYS[3]: auction:{id}:bids     (list of bid JSON, acceptance order)
// ARGV[1]: new price
// ARGV[2]: new bid count
// ARGV[3]: new winning bid id
// ARGV[4]: bidder id
// ARGV[5]: new bid JSON
// ARGV[6]: outbid bid JSON ("" for the first bid)
var applyBidScript = redis.NewScript(`
	local status = redis.call('HGET', KEYS[1], 'status')
	if not status then
		return -1
	end
	if status ~= 'active' then
		return 0
	end

	local current = tonumber(redis.call('HGET', KEYS[1], 'current_price') or '0')
	if tonumber(ARGV[1]) <= current then
		return 0
	end

	redis.call('HSET', KEYS[1], 'current_price', ARGV[1], 'bid_count', ARGV[2], 'winning_bid_id', ARGV[3])
	redis.call('SADD', KEYS[2], ARGV[4])
	-- the previous winner is always the most recently accepted bid
	if ARGV[6] ~= '' then
		redis.call('LSET', KEYS[3], -1, ARGV[6])
	end
	redis.call('RPUSH', KEYS[3], ARGV[5])
	return 1
`)

// Redis is the durable Store backed by Redis
type Redis struct {
	client *redis.Client
}

// Connect creates a Redis client and verifies the connection
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// NewRedis wraps an existing client
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func auctionKey(id string) string { return "auction:" + id }
func biddersKey(id string) string { return "auction:" + id + ":bidders" }
func bidsKey(id string) string    { return "auction:" + id + ":bids" }

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func auctionFields(a *models.Auction) map[string]any {
	fields := map[string]any{
		"id":               a.ID,
		"title":            a.Title,
		"current_price":    formatAmount(a.CurrentPrice),
		"increment_amount": formatAmount(a.IncrementAmount),
		"bid_count":        a.BidCount,
		"end_time":         a.EndTime.UnixMilli(),
		"status":           string(a.Status),
		"winning_bid_id":   a.WinningBidID,
	}
	if a.ReservePrice != nil {
		fields["reserve_price"] = formatAmount(*a.ReservePrice)
	}
	return fields
}

// writeAuction queues the commands that replace every key of the auction,
// including any bids left over from an earlier auction with the same id
func writeAuction(ctx context.Context, pipe redis.Pipeliner, a *models.Auction) {
	pipe.Del(ctx, auctionKey(a.ID), biddersKey(a.ID), bidsKey(a.ID))
	pipe.HSet(ctx, auctionKey(a.ID), auctionFields(a))
	if len(a.UniqueBidders) > 0 {
		members := make([]any, len(a.UniqueBidders))
		for i, b := range a.UniqueBidders {
			members[i] = b
		}
		pipe.SAdd(ctx, biddersKey(a.ID), members...)
	}
	if a.Status == models.AuctionStatusActive {
		pipe.ZAdd(ctx, endingKey, redis.Z{Score: float64(a.EndTime.UnixMilli()), Member: a.ID})
	} else {
		pipe.ZRem(ctx, endingKey, a.ID)
	}
}

// PutAuction writes the auction hash, its bidder set and the ending index
func (r *Redis) PutAuction(ctx context.Context, a *models.Auction) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("auction id is required")
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		writeAuction(ctx, pipe, a)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put auction %s: %w", a.ID, err)
	}
	return nil
}

// CreateAuction writes the auction only if its hash does not exist yet. The
// hash key is WATCHed so a concurrent create makes the transaction fail.
func (r *Redis) CreateAuction(ctx context.Context, a *models.Auction) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("auction id is required")
	}

	key := auctionKey(a.ID)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			writeAuction(ctx, pipe, a)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrExists), errors.Is(err, redis.TxFailedErr):
		return ErrExists
	default:
		return fmt.Errorf("failed to create auction %s: %w", a.ID, err)
	}
}

// GetAuction loads the auction hash and bidder set
func (r *Redis) GetAuction(ctx context.Context, auctionID string) (*models.Auction, error) {
	pipe := r.client.Pipeline()
	hashCmd := pipe.HGetAll(ctx, auctionKey(auctionID))
	biddersCmd := pipe.SMembers(ctx, biddersKey(auctionID))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to get auction %s: %w", auctionID, err)
	}

	h := hashCmd.Val()
	if len(h) == 0 {
		return nil, ErrNotFound
	}
	return decodeAuction(h, biddersCmd.Val())
}

func decodeAuction(h map[string]string, bidders []string) (*models.Auction, error) {
	a := &models.Auction{
		ID:            h["id"],
		Title:         h["title"],
		Status:        models.AuctionStatus(h["status"]),
		WinningBidID:  h["winning_bid_id"],
		UniqueBidders: bidders,
	}

	var err error
	if a.CurrentPrice, err = strconv.ParseFloat(h["current_price"], 64); err != nil {
		return nil, fmt.Errorf("invalid current_price for %s: %w", a.ID, err)
	}
	if a.IncrementAmount, err = strconv.ParseFloat(h["increment_amount"], 64); err != nil {
		return nil, fmt.Errorf("invalid increment_amount for %s: %w", a.ID, err)
	}
	if a.BidCount, err = strconv.Atoi(h["bid_count"]); err != nil {
		return nil, fmt.Errorf("invalid bid_count for %s: %w", a.ID, err)
	}
	endMs, err := strconv.ParseInt(h["end_time"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid end_time for %s: %w", a.ID, err)
	}
	a.EndTime = time.UnixMilli(endMs).UTC()

	if rp, ok := h["reserve_price"]; ok && rp != "" {
		v, err := strconv.ParseFloat(rp, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid reserve_price for %s: %w", a.ID, err)
		}
		a.ReservePrice = &v
	}
	return a, nil
}

// ListBids returns accepted bids in acceptance order
func (r *Redis) ListBids(ctx context.Context, auctionID string) ([]models.Bid, error) {
	raw, err := r.client.LRange(ctx, bidsKey(auctionID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to list bids for %s: %w", auctionID, err)
	}

	bids := make([]models.Bid, 0, len(raw))
	for _, s := range raw {
		var b models.Bid
		if err := json.Unmarshal([]byte(s), &b); err != nil {
			return nil, fmt.Errorf("failed to decode bid for %s: %w", auctionID, err)
		}
		bids = append(bids, b)
	}
	return bids, nil
}

// ApplyBid atomically persists an accepted bid
func (r *Redis) ApplyBid(ctx context.Context, update BidUpdate) error {
	a := update.Auction
	bidJSON, err := json.Marshal(update.Bid)
	if err != nil {
		return fmt.Errorf("failed to marshal bid: %w", err)
	}
	outbidJSON := ""
	if update.Outbid != nil {
		b, err := json.Marshal(update.Outbid)
		if err != nil {
			return fmt.Errorf("failed to marshal outbid bid: %w", err)
		}
		outbidJSON = string(b)
	}

	keys := []string{auctionKey(a.ID), biddersKey(a.ID), bidsKey(a.ID)}
	res, err := applyBidScript.Run(ctx, r.client, keys,
		formatAmount(update.Bid.Amount),
		a.BidCount,
		update.Bid.ID,
		update.Bid.BidderID,
		string(bidJSON),
		outbidJSON,
	).Int64()
	if err != nil {
		return fmt.Errorf("failed to execute bid script: %w", err)
	}

	switch res {
	case 1:
		return nil
	case -1:
		return ErrNotFound
	default:
		return ErrConflict
	}
}

// EndAuction sets status=ended and removes the auction from the ending index
func (r *Redis) EndAuction(ctx context.Context, auctionID string) error {
	n, err := r.client.Exists(ctx, auctionKey(auctionID)).Result()
	if err != nil {
		return fmt.Errorf("failed to end auction %s: %w", auctionID, err)
	}
	if n == 0 {
		return ErrNotFound
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, auctionKey(auctionID), "status", string(models.AuctionStatusEnded))
		pipe.ZRem(ctx, endingKey, auctionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to end auction %s: %w", auctionID, err)
	}
	return nil
}

// ListEndingBy reads the ending index up to t
func (r *Redis) ListEndingBy(ctx context.Context, t time.Time) ([]string, error) {
	ids, err := r.client.ZRangeByScore(ctx, endingKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(t.UnixMilli(), 10),
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to list ending auctions: %w", err)
	}
	return ids, nil
}
