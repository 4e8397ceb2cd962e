package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/aaronwang/live-auction/shared/models"
)

func TestDecodeCommand_PlaceBid(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"type":"place-bid","auctionId":"a1","bidderId":"u1","bidderName":"Ann","amount":1100}`))
	assert.NoError(t, err)

	check.Equal(t, CommandPlaceBid, cmd.Type)
	check.Equal(t, "a1", cmd.AuctionID)
	check.Equal(t, "u1", cmd.BidderID)
	check.Equal(t, "Ann", cmd.BidderName)
	check.Equal(t, 1100.0, cmd.Amount)
}

func TestDecodeCommand_Rejects(t *testing.T) {
	inputs := []string{
		`not json`,
		`{"type":"dance","auctionId":"a1"}`,
		`{"type":"join-auction"}`,
		`{"type":"place-bid","auctionId":"a1","amount":5}`,
	}
	for _, in := range inputs {
		_, err := DecodeCommand([]byte(in))
		check.True(t, errors.Is(err, ErrMalformedCommand))
	}
}

func TestEventWireFormat(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := NewNewBidEvent(models.Bid{ID: "b1", AuctionID: "a1", BidderName: "Ann", Amount: 1200, Timestamp: ts}, 2)

	raw, err := json.Marshal(ev)
	assert.NoError(t, err)

	var decoded struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(raw, &decoded))
	check.Equal(t, "new-bid", decoded.Type)
	check.Equal(t, "a1", decoded.Data["auctionId"])
	check.Equal(t, 1200.0, decoded.Data["amount"])
	check.Equal(t, "Ann", decoded.Data["bidderName"])
	check.Equal(t, 2.0, decoded.Data["bidsCount"])
}
