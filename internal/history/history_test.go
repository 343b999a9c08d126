package history_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/farmlot/auctioneer/internal/clock"
	"github.com/farmlot/auctioneer/internal/history"
	"github.com/farmlot/auctioneer/internal/lot"
	"github.com/farmlot/auctioneer/internal/store/memory"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func settledLot() *lot.Lot {
	sellerContact := &lot.Contact{ID: "seller-1", Name: "Ramesh", Phone: "9800000001"}
	winnerContact := &lot.Contact{ID: "bidder-2", Name: "Bina", Phone: "9800000003"}
	return &lot.Lot{
		ID:         "lot-1",
		SellerID:   "seller-1",
		SellerName: "Ramesh",
		Commodity: lot.Commodity{
			Name:     "Basmati Rice",
			Quantity: decimal.NewFromInt(500),
			Unit:     lot.UnitKilogram,
			Grade:    lot.GradeA,
		},
		Status: lot.StatusCompleted,
		Bids: []lot.Bid{
			{Position: 1, BidderID: "bidder-1", BidderName: "Amit", Amount: decimal.NewFromInt(5200), PlacedAt: testNow.Add(-2 * time.Hour)},
			{Position: 2, BidderID: "bidder-2", BidderName: "Bina", Amount: decimal.NewFromInt(5500), PlacedAt: testNow.Add(-time.Hour)},
		},
		Outcome: &lot.Outcome{
			WinnerID:      "bidder-2",
			WinnerName:    "Bina",
			WinningAmount: decimal.NewFromInt(5500),
			SellerContact: sellerContact,
			WinnerContact: winnerContact,
		},
		UniqueBidders: 2,
		BidCount:      2,
	}
}

func TestBuild_SoldLot(t *testing.T) {
	records := history.Build(settledLot(), testNow)

	if len(records) != 3 {
		t.Fatalf("Build() = %d records, want 3", len(records))
	}

	byParticipant := make(map[string]history.Record, len(records))
	for _, r := range records {
		byParticipant[r.ParticipantID] = r
	}

	creator, ok := byParticipant["seller-1"]
	if !ok {
		t.Fatal("missing creator record")
	}
	if creator.Role != history.RoleCreator {
		t.Errorf("creator role = %q, want %q", creator.Role, history.RoleCreator)
	}
	if creator.WinnerName != "Bina" {
		t.Errorf("creator winner name = %q, want %q", creator.WinnerName, "Bina")
	}
	if creator.ContactExchange == nil || creator.ContactExchange.ID != "bidder-2" {
		t.Errorf("creator contact = %+v, want winner contact", creator.ContactExchange)
	}
	if creator.IsWinner {
		t.Error("creator record must not be marked winner")
	}

	winner, ok := byParticipant["bidder-2"]
	if !ok {
		t.Fatal("missing winner record")
	}
	if !winner.IsWinner {
		t.Error("winner record not marked")
	}
	if winner.ContactExchange == nil || winner.ContactExchange.ID != "seller-1" {
		t.Errorf("winner contact = %+v, want seller contact", winner.ContactExchange)
	}
	if winner.MyHighestBid == nil || !winner.MyHighestBid.Equal(decimal.NewFromInt(5500)) {
		t.Errorf("winner highest bid = %v, want 5500", winner.MyHighestBid)
	}

	loser, ok := byParticipant["bidder-1"]
	if !ok {
		t.Fatal("missing losing bidder record")
	}
	if loser.IsWinner {
		t.Error("losing bidder marked winner")
	}
	if loser.ContactExchange != nil {
		t.Errorf("losing bidder got contact payload: %+v", loser.ContactExchange)
	}
	if loser.MyHighestBid == nil || !loser.MyHighestBid.Equal(decimal.NewFromInt(5200)) {
		t.Errorf("loser highest bid = %v, want 5200", loser.MyHighestBid)
	}
	if loser.WinningAmount == nil || !loser.WinningAmount.Equal(decimal.NewFromInt(5500)) {
		t.Errorf("loser winning amount = %v, want 5500", loser.WinningAmount)
	}
}

func TestBuild_SingleWinnerRecord(t *testing.T) {
	records := history.Build(settledLot(), testNow)

	winners := 0
	for _, r := range records {
		if r.IsWinner {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("winner records = %d, want exactly 1", winners)
	}
}

func TestBuild_NoBids(t *testing.T) {
	l := settledLot()
	l.Bids = nil
	l.Outcome = nil
	l.Status = lot.StatusEnded
	l.UniqueBidders = 0
	l.BidCount = 0

	records := history.Build(l, testNow)
	if len(records) != 1 {
		t.Fatalf("Build() = %d records, want creator only", len(records))
	}
	rec := records[0]
	if rec.Role != history.RoleCreator {
		t.Errorf("role = %q, want %q", rec.Role, history.RoleCreator)
	}
	if rec.WinningAmount != nil {
		t.Errorf("winning amount = %v, want nil", rec.WinningAmount)
	}
	if rec.ContactExchange != nil {
		t.Errorf("contact = %+v, want nil for no-bid close", rec.ContactExchange)
	}
	if rec.FinalStatus != lot.StatusEnded {
		t.Errorf("final status = %q, want %q", rec.FinalStatus, lot.StatusEnded)
	}
}

func TestBuild_RepeatBidderOneRecord(t *testing.T) {
	l := settledLot()
	l.Bids = append(l.Bids, lot.Bid{
		Position: 3, BidderID: "bidder-1", BidderName: "Amit",
		Amount: decimal.NewFromInt(5600), PlacedAt: testNow.Add(-30 * time.Minute),
	})
	l.Outcome.WinnerID = "bidder-1"
	l.Outcome.WinnerName = "Amit"
	l.Outcome.WinningAmount = decimal.NewFromInt(5600)

	records := history.Build(l, testNow)
	if len(records) != 3 {
		t.Fatalf("Build() = %d records, want 3 despite repeat bids", len(records))
	}

	for _, r := range records {
		if r.ParticipantID == "bidder-1" {
			if r.MyHighestBid == nil || !r.MyHighestBid.Equal(decimal.NewFromInt(5600)) {
				t.Errorf("repeat bidder highest = %v, want 5600", r.MyHighestBid)
			}
			if !r.IsWinner {
				t.Error("repeat bidder should be the winner")
			}
		}
	}
}

func TestRecorder_Record(t *testing.T) {
	clk := clock.Mock{T: testNow}
	s := memory.New(clk)
	rec := history.NewRecorder(s, slog.Default(), noop.NewTracerProvider(), clk)

	records, err := rec.Record(context.Background(), settledLot())
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Record() = %d records, want 3", len(records))
	}

	stored, err := s.ListByLot(context.Background(), "lot-1")
	if err != nil {
		t.Fatalf("ListByLot() error = %v", err)
	}
	if len(stored) != 3 {
		t.Errorf("stored = %d records, want 3", len(stored))
	}
}

func TestRecorder_Record_Idempotent(t *testing.T) {
	clk := clock.Mock{T: testNow}
	s := memory.New(clk)
	rec := history.NewRecorder(s, slog.Default(), noop.NewTracerProvider(), clk)

	l := settledLot()
	if _, err := rec.Record(context.Background(), l); err != nil {
		t.Fatalf("first Record() error = %v", err)
	}
	if _, err := rec.Record(context.Background(), l); err != nil {
		t.Fatalf("second Record() error = %v", err)
	}

	stored, _ := s.ListByLot(context.Background(), "lot-1")
	if len(stored) != 3 {
		t.Errorf("stored after retry = %d records, want 3", len(stored))
	}
}

func TestRecorder_Participant_Filters(t *testing.T) {
	clk := clock.Mock{T: testNow}
	s := memory.New(clk)
	rec := history.NewRecorder(s, slog.Default(), noop.NewTracerProvider(), clk)

	if _, err := rec.Record(context.Background(), settledLot()); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	won, err := rec.Participant(context.Background(), "bidder-2", history.Filter{WonOnly: true})
	if err != nil {
		t.Fatalf("Participant() error = %v", err)
	}
	if len(won) != 1 {
		t.Errorf("won records = %d, want 1", len(won))
	}

	lost, err := rec.Participant(context.Background(), "bidder-1", history.Filter{WonOnly: true})
	if err != nil {
		t.Fatalf("Participant() error = %v", err)
	}
	if len(lost) != 0 {
		t.Errorf("won records for loser = %d, want 0", len(lost))
	}

	completed, err := rec.Participant(context.Background(), "seller-1", history.Filter{Status: lot.StatusCompleted})
	if err != nil {
		t.Fatalf("Participant() error = %v", err)
	}
	if len(completed) != 1 {
		t.Errorf("completed records = %d, want 1", len(completed))
	}

	cancelled, err := rec.Participant(context.Background(), "seller-1", history.Filter{Status: lot.StatusCancelled})
	if err != nil {
		t.Fatalf("Participant() error = %v", err)
	}
	if len(cancelled) != 0 {
		t.Errorf("cancelled records = %d, want 0", len(cancelled))
	}
}
