package arbiter

import (
	"errors"
	"fmt"
)

// Rejection reasons. All are client-recoverable and reported only to the
// submitter.
var (
	ErrAuctionNotFound    = errors.New("auction not found")
	ErrAuctionEnded       = errors.New("auction has ended")
	ErrBidTooLow          = errors.New("bid too low")
	ErrInvalidAmount      = errors.New("invalid bid amount")
	ErrAuctionUnavailable = errors.New("auction temporarily unavailable")
)

// Reason codes sent to clients
const (
	CodeAuctionNotFound    = "AUCTION_NOT_FOUND"
	CodeAuctionEnded       = "AUCTION_ENDED"
	CodeBidTooLow          = "BID_TOO_LOW"
	CodeInvalidAmount      = "INVALID_AMOUNT"
	CodeAuctionUnavailable = "AUCTION_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

var reasonCodes = map[error]string{
	ErrAuctionNotFound:    CodeAuctionNotFound,
	ErrAuctionEnded:       CodeAuctionEnded,
	ErrBidTooLow:          CodeBidTooLow,
	ErrInvalidAmount:      CodeInvalidAmount,
	ErrAuctionUnavailable: CodeAuctionUnavailable,
}

// RejectionError carries an actionable message for a rejected command.
// It unwraps to one of the Err* sentinels.
type RejectionError struct {
	Reason     error
	Message    string
	MinimumBid float64 // set for ErrBidTooLow
}

func (e *RejectionError) Error() string { return e.Message }

func (e *RejectionError) Unwrap() error { return e.Reason }

// Code returns the wire reason code
func (e *RejectionError) Code() string {
	if code, ok := reasonCodes[e.Reason]; ok {
		return code
	}
	return CodeInternal
}

func reject(reason error, format string, args ...any) *RejectionError {
	return &RejectionError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func notFound(auctionID string) *RejectionError {
	return reject(ErrAuctionNotFound, "Auction %s not found", auctionID)
}

func unavailable() *RejectionError {
	return reject(ErrAuctionUnavailable, "Auction is temporarily unavailable, please try again shortly")
}

// ReasonCode maps any error returned by the arbiter to a wire reason code
func ReasonCode(err error) string {
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Code()
	}
	return CodeInternal
}

// Message returns the client-facing message for err
func Message(err error) string {
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Message
	}
	return "Failed to process request"
}

// MinimumBid returns the minimum acceptable amount carried by a BidTooLow
// rejection, or 0
func MinimumBid(err error) float64 {
	var re *RejectionError
	if errors.As(err, &re) {
		return re.MinimumBid
	}
	return 0
}
