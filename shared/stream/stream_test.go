package stream

import (
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestSubjects(t *testing.T) {
	check.Equal(t, "auction.events.bid.a1", BidSubject("a1"))
	check.Equal(t, "auction.events.ended.a1", EndedSubject("a1"))

	// Tokens that would split or wildcard the subject are replaced
	check.Equal(t, "auction.events.bid.lot_7_b", BidSubject("lot.7 b"))
	check.Equal(t, "auction.events.ended.x___", EndedSubject("x*>."))

	check.True(t, IsBidSubject(BidSubject("a1")))
	check.False(t, IsBidSubject(EndedSubject("a1")))
	check.True(t, IsEndedSubject(EndedSubject("a1")))
}
