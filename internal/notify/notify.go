// Package notify composes and delivers outcome messages after settlement.
// Delivery is best-effort and fire-and-forget: a failed send is logged and
// never blocks or rolls back settlement or history, and one failed recipient
// never blocks the others.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/farmlot/auctioneer/internal/history"
	"github.com/farmlot/auctioneer/internal/lot"
)

// Kind identifies the outcome message variant.
type Kind string

const (
	KindSellerSold   Kind = "seller.sold"
	KindSellerNoBids Kind = "seller.no_bids"
	KindBidderWon    Kind = "bidder.won"
	KindBidderLost   Kind = "bidder.lost"
)

// Message is one outcome notification for one participant.
type Message struct {
	LotID         string           `json:"lot_id"`
	RecipientID   string           `json:"recipient_id"`
	Kind          Kind             `json:"kind"`
	CommodityName string           `json:"commodity_name"`
	Body          string           `json:"body"`
	WinnerName    string           `json:"winner_name,omitempty"`
	FinalAmount   *decimal.Decimal `json:"final_amount,omitempty"`
	Contact       *lot.Contact     `json:"contact,omitempty"`
	SentAt        time.Time        `json:"sent_at"`
}

// Dispatcher delivers outcome messages.
type Dispatcher interface {
	// Dispatch sends all messages, isolating failures per recipient.
	Dispatch(ctx context.Context, msgs []Message)
}

// Compose builds one message per history record of a settled lot. The seller
// learns who won (with contact details) or that no bids arrived; the winner
// receives the seller's contact; losing bidders learn the final amount.
func Compose(l *lot.Lot, records []history.Record, now time.Time) []Message {
	msgs := make([]Message, 0, len(records))
	for _, rec := range records {
		m := Message{
			LotID:         l.ID,
			RecipientID:   rec.ParticipantID,
			CommodityName: l.Commodity.Name,
			FinalAmount:   rec.WinningAmount,
			SentAt:        now,
		}

		switch {
		case rec.Role == history.RoleCreator && l.Outcome != nil:
			m.Kind = KindSellerSold
			m.WinnerName = l.Outcome.WinnerName
			m.Contact = rec.ContactExchange
			m.Body = fmt.Sprintf("Your lot %q sold to %s for %s.",
				l.Commodity.Name, l.Outcome.WinnerName, l.Outcome.WinningAmount.StringFixed(2))
		case rec.Role == history.RoleCreator:
			m.Kind = KindSellerNoBids
			m.Body = fmt.Sprintf("Your lot %q closed with no bids.", l.Commodity.Name)
		case rec.IsWinner:
			m.Kind = KindBidderWon
			m.Contact = rec.ContactExchange
			m.Body = fmt.Sprintf("You won the lot %q. The seller's contact details are attached.",
				l.Commodity.Name)
		default:
			m.Kind = KindBidderLost
			if rec.WinningAmount != nil {
				m.Body = fmt.Sprintf("You did not win the lot %q; the final amount was %s.",
					l.Commodity.Name, rec.WinningAmount.StringFixed(2))
			} else {
				m.Body = fmt.Sprintf("The lot %q closed.", l.Commodity.Name)
			}
		}

		msgs = append(msgs, m)
	}
	return msgs
}
