package notify_test

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/farmlot/auctioneer/internal/history"
	"github.com/farmlot/auctioneer/internal/lot"
	"github.com/farmlot/auctioneer/internal/notify"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func soldLot() *lot.Lot {
	return &lot.Lot{
		ID:       "lot-1",
		SellerID: "seller-1",
		Commodity: lot.Commodity{
			Name:     "Basmati Rice",
			Quantity: decimal.NewFromInt(500),
			Unit:     lot.UnitKilogram,
			Grade:    lot.GradeA,
		},
		Status: lot.StatusCompleted,
		Bids: []lot.Bid{
			{Position: 1, BidderID: "bidder-1", BidderName: "Amit", Amount: decimal.NewFromInt(5200)},
			{Position: 2, BidderID: "bidder-2", BidderName: "Bina", Amount: decimal.NewFromInt(5500)},
		},
		Outcome: &lot.Outcome{
			WinnerID:      "bidder-2",
			WinnerName:    "Bina",
			WinningAmount: decimal.NewFromInt(5500),
			SellerContact: &lot.Contact{ID: "seller-1", Name: "Ramesh", Phone: "9800000001"},
			WinnerContact: &lot.Contact{ID: "bidder-2", Name: "Bina", Phone: "9800000003"},
		},
		UniqueBidders: 2,
		BidCount:      2,
	}
}

func TestCompose_SoldLot(t *testing.T) {
	l := soldLot()
	records := history.Build(l, testNow)

	msgs := notify.Compose(l, records, testNow)
	if len(msgs) != 3 {
		t.Fatalf("Compose() = %d messages, want 3", len(msgs))
	}

	byRecipient := make(map[string]notify.Message, len(msgs))
	for _, m := range msgs {
		byRecipient[m.RecipientID] = m
	}

	seller := byRecipient["seller-1"]
	if seller.Kind != notify.KindSellerSold {
		t.Errorf("seller kind = %q, want %q", seller.Kind, notify.KindSellerSold)
	}
	if seller.WinnerName != "Bina" {
		t.Errorf("seller winner name = %q, want %q", seller.WinnerName, "Bina")
	}
	if seller.Contact == nil || seller.Contact.ID != "bidder-2" {
		t.Errorf("seller contact = %+v, want winner contact", seller.Contact)
	}
	if !strings.Contains(seller.Body, "5500.00") {
		t.Errorf("seller body %q should carry the final amount", seller.Body)
	}

	winner := byRecipient["bidder-2"]
	if winner.Kind != notify.KindBidderWon {
		t.Errorf("winner kind = %q, want %q", winner.Kind, notify.KindBidderWon)
	}
	if winner.Contact == nil || winner.Contact.ID != "seller-1" {
		t.Errorf("winner contact = %+v, want seller contact", winner.Contact)
	}

	loser := byRecipient["bidder-1"]
	if loser.Kind != notify.KindBidderLost {
		t.Errorf("loser kind = %q, want %q", loser.Kind, notify.KindBidderLost)
	}
	if loser.Contact != nil {
		t.Errorf("loser got contact payload: %+v", loser.Contact)
	}
	if loser.FinalAmount == nil || !loser.FinalAmount.Equal(decimal.NewFromInt(5500)) {
		t.Errorf("loser final amount = %v, want 5500", loser.FinalAmount)
	}
}

func TestCompose_NoBids(t *testing.T) {
	l := soldLot()
	l.Bids = nil
	l.Outcome = nil
	l.Status = lot.StatusEnded
	l.UniqueBidders = 0
	records := history.Build(l, testNow)

	msgs := notify.Compose(l, records, testNow)
	if len(msgs) != 1 {
		t.Fatalf("Compose() = %d messages, want seller only", len(msgs))
	}
	m := msgs[0]
	if m.Kind != notify.KindSellerNoBids {
		t.Errorf("kind = %q, want %q", m.Kind, notify.KindSellerNoBids)
	}
	if m.RecipientID != "seller-1" {
		t.Errorf("recipient = %q, want seller", m.RecipientID)
	}
	if m.Contact != nil {
		t.Errorf("no-bid message carries contact: %+v", m.Contact)
	}
}

func TestCompose_SentAt(t *testing.T) {
	l := soldLot()
	records := history.Build(l, testNow)

	msgs := notify.Compose(l, records, testNow)
	for _, m := range msgs {
		if !m.SentAt.Equal(testNow) {
			t.Errorf("SentAt = %v, want %v", m.SentAt, testNow)
		}
		if m.LotID != "lot-1" {
			t.Errorf("LotID = %q, want lot-1", m.LotID)
		}
		if m.CommodityName != "Basmati Rice" {
			t.Errorf("CommodityName = %q, want Basmati Rice", m.CommodityName)
		}
	}
}

func TestLogDispatcher_Dispatch(t *testing.T) {
	l := soldLot()
	records := history.Build(l, testNow)
	msgs := notify.Compose(l, records, testNow)

	// Must not panic and must handle an empty batch.
	d := notify.NewLogDispatcher(slog.Default())
	d.Dispatch(context.Background(), msgs)
	d.Dispatch(context.Background(), nil)
}
