// Package settlement turns claimed lots into durable outcomes. The expiry
// sweeper claims lots past their closing time with an atomic conditional
// status transition; the engine then computes the winner, exchanges contact
// details, writes history and hands the outcome to the notifier. Settlement
// is a pure function of the claimed bid sequence, so every step after the
// claim may be retried.
package settlement

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/farmlot/auctioneer/internal/clock"
	"github.com/farmlot/auctioneer/internal/history"
	"github.com/farmlot/auctioneer/internal/lot"
	"github.com/farmlot/auctioneer/internal/notify"
	"github.com/farmlot/auctioneer/internal/store"
)

// Engine settles claimed lots.
type Engine struct {
	lots       store.LotRepository
	contacts   store.ContactDirectory
	recorder   *history.Recorder
	dispatcher notify.Dispatcher
	logger     *slog.Logger
	tracer     trace.Tracer
	clock      clock.Clock
}

// NewEngine returns a settlement Engine.
func NewEngine(
	lots store.LotRepository,
	contacts store.ContactDirectory,
	recorder *history.Recorder,
	dispatcher notify.Dispatcher,
	logger *slog.Logger,
	tp trace.TracerProvider,
	clk clock.Clock,
) *Engine {
	return &Engine{
		lots:       lots,
		contacts:   contacts,
		recorder:   recorder,
		dispatcher: dispatcher,
		logger:     logger,
		tracer:     tp.Tracer("github.com/farmlot/auctioneer/internal/settlement"),
		clock:      clk,
	}
}

// Settle finishes a claimed lot: outcome, history, settled marker, then
// notifications. The lot must already be out of the active state (claim won).
// Each write is idempotent, so a lot left half-done by a crash is simply run
// through Settle again by the repair pass.
func (e *Engine) Settle(ctx context.Context, l *lot.Lot) error {
	ctx, span := e.tracer.Start(ctx, "Engine.Settle",
		trace.WithAttributes(
			attribute.String("lot.id", l.ID),
			attribute.Int("lot.bids", len(l.Bids)),
		),
	)
	defer span.End()

	if l.Status == lot.StatusActive {
		return fmt.Errorf("lot %s has not been claimed", l.ID)
	}

	now := e.clock.Now().UTC()

	winning := l.WinningBid()
	if winning != nil {
		if e.tieExists(l, winning) {
			// Strictly increasing amounts make ties impossible; seeing one
			// means the ledger invariant was violated upstream.
			e.logger.ErrorContext(ctx, "equal bid amounts detected, using earliest",
				slog.String("lot_id", l.ID),
				slog.String("amount", winning.Amount.String()),
			)
		}

		seller, err := e.contacts.Get(ctx, l.SellerID)
		if err != nil {
			return fmt.Errorf("looking up seller contact: %w", err)
		}
		winner, err := e.contacts.Get(ctx, winning.BidderID)
		if err != nil {
			return fmt.Errorf("looking up winner contact: %w", err)
		}

		out := &lot.Outcome{
			WinnerID:      winning.BidderID,
			WinnerName:    winning.BidderName,
			WinningAmount: winning.Amount,
			SellerContact: seller,
			WinnerContact: winner,
		}
		if err := e.lots.RecordOutcome(ctx, l.ID, out); err != nil {
			return fmt.Errorf("recording outcome: %w", err)
		}
		l.Outcome = out
		l.Status = lot.StatusCompleted
	}

	records, err := e.recorder.Record(ctx, l)
	if err != nil {
		return err
	}

	if err := e.lots.MarkSettled(ctx, l.ID, now); err != nil {
		return fmt.Errorf("marking settled: %w", err)
	}
	l.SettledAt = &now

	e.logger.InfoContext(ctx, "lot settled",
		slog.String("lot_id", l.ID),
		slog.String("status", string(l.Status)),
		slog.Int("participants", len(records)),
	)

	// Delivery is best-effort and must not block or fail settlement.
	msgs := notify.Compose(l, records, now)
	go e.dispatcher.Dispatch(context.WithoutCancel(ctx), msgs)

	return nil
}

// tieExists reports whether any bid other than the winner carries the same
// amount.
func (e *Engine) tieExists(l *lot.Lot, winning *lot.Bid) bool {
	for i := range l.Bids {
		b := &l.Bids[i]
		if b.Position != winning.Position && b.Amount.Equal(winning.Amount) {
			return true
		}
	}
	return false
}
