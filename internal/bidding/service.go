// Package bidding is the synchronous request path of the auction engine:
// lot creation, bid placement, cancellation and listings. Bid placement is
// optimistic: the service validates against the lot state it read, then asks
// the store for a conditional append guarded on that read; losing a race
// surfaces as a stale-price conflict the caller retries with a higher amount.
package bidding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/farmlot/auctioneer/internal/clock"
	"github.com/farmlot/auctioneer/internal/lot"
	"github.com/farmlot/auctioneer/internal/store"
)

// Service handles lot registry and bid ledger operations.
type Service struct {
	lots     store.LotRepository
	contacts store.ContactDirectory
	logger   *slog.Logger
	tracer   trace.Tracer
	clock    clock.Clock
}

// NewService returns a bidding Service.
func NewService(
	lots store.LotRepository,
	contacts store.ContactDirectory,
	logger *slog.Logger,
	tp trace.TracerProvider,
	clk clock.Clock,
) *Service {
	return &Service{
		lots:     lots,
		contacts: contacts,
		logger:   logger,
		tracer:   tp.Tracer("github.com/farmlot/auctioneer/internal/bidding"),
		clock:    clk,
	}
}

// CreateLot validates the spec and persists a new active lot. The seller's
// display name is resolved from the contact directory.
func (s *Service) CreateLot(ctx context.Context, spec lot.CreateSpec) (*lot.Lot, error) {
	ctx, span := s.tracer.Start(ctx, "Service.CreateLot",
		trace.WithAttributes(
			attribute.String("seller.id", spec.SellerID),
			attribute.String("commodity", spec.CommodityName),
		),
	)
	defer span.End()

	now := s.clock.Now().UTC()
	if err := spec.Validate(now); err != nil {
		return nil, err
	}

	seller, err := s.contacts.Get(ctx, spec.SellerID)
	if err != nil {
		if errors.Is(err, lot.ErrNotFound) {
			return nil, fmt.Errorf("seller %s: %w", spec.SellerID, lot.ErrNotFound)
		}
		return nil, fmt.Errorf("resolving seller: %w", err)
	}

	l := lot.New(uuid.NewString(), spec, seller.Name, now)
	if err := s.lots.Create(ctx, l); err != nil {
		return nil, fmt.Errorf("creating lot: %w", err)
	}

	s.logger.InfoContext(ctx, "lot created",
		slog.String("lot_id", l.ID),
		slog.String("seller_id", l.SellerID),
		slog.String("commodity", l.Commodity.Name),
		slog.Time("closes_at", l.ClosesAt),
	)
	return l, nil
}

// PlaceBid validates and applies one bid, returning the new current price.
// The append is a single atomic conditional write guarded on the price read
// here; two bidders racing on the same price cannot both succeed, and the
// loser receives lot.ErrStalePrice to refetch and retry.
func (s *Service) PlaceBid(ctx context.Context, lotID, bidderID string, amount decimal.Decimal) (decimal.Decimal, error) {
	ctx, span := s.tracer.Start(ctx, "Service.PlaceBid",
		trace.WithAttributes(
			attribute.String("lot.id", lotID),
			attribute.String("bidder.id", bidderID),
			attribute.String("bid.amount", amount.String()),
		),
	)
	defer span.End()

	l, err := s.lots.Get(ctx, lotID)
	if err != nil {
		return decimal.Zero, err
	}

	now := s.clock.Now().UTC()
	if err := l.CheckBid(bidderID, amount, now); err != nil {
		return decimal.Zero, err
	}

	bidder, err := s.contacts.Get(ctx, bidderID)
	if err != nil {
		if errors.Is(err, lot.ErrNotFound) {
			return decimal.Zero, fmt.Errorf("bidder %s: %w", bidderID, lot.ErrNotFound)
		}
		return decimal.Zero, fmt.Errorf("resolving bidder: %w", err)
	}

	b := lot.Bid{
		BidderID:   bidderID,
		BidderName: bidder.Name,
		Amount:     amount,
		PlacedAt:   now,
	}
	if err := s.lots.AppendBid(ctx, lotID, b, l.CurrentPrice); err != nil {
		return decimal.Zero, err
	}

	s.logger.InfoContext(ctx, "bid accepted",
		slog.String("lot_id", lotID),
		slog.String("bidder_id", bidderID),
		slog.String("amount", amount.String()),
	)
	return amount, nil
}

// CancelLot withdraws an active lot before its closing time. Only the seller
// may cancel. The transition uses the same claim discipline as the sweeper,
// so a cancel racing a scheduler claim resolves to whichever lands first.
func (s *Service) CancelLot(ctx context.Context, lotID, callerID string) error {
	ctx, span := s.tracer.Start(ctx, "Service.CancelLot",
		trace.WithAttributes(
			attribute.String("lot.id", lotID),
			attribute.String("caller.id", callerID),
		),
	)
	defer span.End()

	l, err := s.lots.Get(ctx, lotID)
	if err != nil {
		return err
	}
	if l.SellerID != callerID {
		return lot.ErrNotSeller
	}

	now := s.clock.Now().UTC()
	if l.Status != lot.StatusActive || !now.Before(l.ClosesAt) {
		return lot.ErrLotClosed
	}

	cancelled, err := s.lots.Cancel(ctx, lotID, now)
	if err != nil {
		return fmt.Errorf("cancelling lot: %w", err)
	}
	if !cancelled {
		return lot.ErrLotClosed
	}

	s.logger.InfoContext(ctx, "lot cancelled",
		slog.String("lot_id", lotID),
		slog.String("seller_id", callerID),
	)
	return nil
}

// GetLot returns one lot with its bid sequence.
func (s *Service) GetLot(ctx context.Context, lotID string) (*lot.Lot, error) {
	return s.lots.Get(ctx, lotID)
}

// ListActive returns active lots, optionally filtered by location.
func (s *Service) ListActive(ctx context.Context, f store.ListFilter) ([]lot.Lot, error) {
	ctx, span := s.tracer.Start(ctx, "Service.ListActive")
	defer span.End()

	lots, err := s.lots.ListActive(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("listing active lots: %w", err)
	}
	return lots, nil
}
