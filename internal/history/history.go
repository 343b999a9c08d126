// Package history records one immutable outcome fact per (lot, participant)
// pair at settlement time. Records are built from a snapshot of the settled
// lot so later mutation elsewhere can never alter them, and are written with
// upsert semantics so a retried settlement is harmless.
package history

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/farmlot/auctioneer/internal/lot"
)

// Role identifies how a participant relates to a lot.
type Role string

const (
	RoleCreator Role = "creator"
	RoleBidder  Role = "bidder"
)

// Record is one participant's view of a settled lot.
type Record struct {
	LotID         string
	ParticipantID string
	Role          Role

	// Commodity is copied from the lot at settlement, not referenced.
	Commodity lot.Commodity

	// MyHighestBid is set on bidder records only.
	MyHighestBid *decimal.Decimal

	FinalStatus   lot.Status
	WinnerName    string
	WinningAmount *decimal.Decimal
	IsWinner      bool

	// ContactExchange carries the counterpart's contact details. It is set
	// only on the winner's record (seller contact) and on the creator's
	// record (winner contact).
	ContactExchange *lot.Contact

	RecordedAt time.Time
}

// Filter narrows participant history queries.
type Filter struct {
	// Status restricts records to a final lot status when non-empty.
	Status lot.Status
	// WonOnly keeps only records with IsWinner set.
	WonOnly bool
}

// Repository persists history records.
type Repository interface {
	// Upsert writes records keyed by (lot_id, participant_id), replacing any
	// existing row so retried settlements converge on the same facts.
	Upsert(ctx context.Context, records ...Record) error
	// ListByParticipant returns a participant's records, newest first.
	ListByParticipant(ctx context.Context, participantID string, f Filter) ([]Record, error)
	// ListByLot returns all records for one lot.
	ListByLot(ctx context.Context, lotID string) ([]Record, error)
}

// Build derives the full record set for a settled lot: one creator record
// plus one record per distinct bidder. At most one bidder record carries
// IsWinner, and contact payloads land only on the winner and creator rows.
func Build(l *lot.Lot, now time.Time) []Record {
	winnerID := ""
	var winningAmount *decimal.Decimal
	winnerName := ""
	var sellerContact, winnerContact *lot.Contact
	if l.Outcome != nil {
		winnerID = l.Outcome.WinnerID
		winnerName = l.Outcome.WinnerName
		amt := l.Outcome.WinningAmount
		winningAmount = &amt
		sellerContact = l.Outcome.SellerContact
		winnerContact = l.Outcome.WinnerContact
	}

	records := make([]Record, 0, 1+l.UniqueBidders)

	creator := Record{
		LotID:         l.ID,
		ParticipantID: l.SellerID,
		Role:          RoleCreator,
		Commodity:     l.Commodity,
		FinalStatus:   l.Status,
		WinnerName:    winnerName,
		WinningAmount: winningAmount,
		RecordedAt:    now,
	}
	if winnerID != "" {
		creator.ContactExchange = winnerContact
	}
	records = append(records, creator)

	for _, b := range l.Bidders() {
		highest, _ := l.HighestBidBy(b.ID)
		rec := Record{
			LotID:         l.ID,
			ParticipantID: b.ID,
			Role:          RoleBidder,
			Commodity:     l.Commodity,
			MyHighestBid:  &highest,
			FinalStatus:   l.Status,
			WinnerName:    winnerName,
			WinningAmount: winningAmount,
			IsWinner:      b.ID == winnerID,
			RecordedAt:    now,
		}
		if rec.IsWinner {
			rec.ContactExchange = sellerContact
		}
		records = append(records, rec)
	}

	return records
}
