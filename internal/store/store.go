package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/farmlot/auctioneer/internal/lot"
)

// ListFilter narrows active-lot listings.
type ListFilter struct {
	District string
	State    string
	Limit    int
}

// LotRepository defines lot persistence operations. The conditional writes
// (AppendBid, Claim, Cancel, Settle) are the correctness core: each is a
// single atomic compare-and-set in the underlying store so that racing
// writers resolve to exactly one winner.
type LotRepository interface {
	// Create persists a new active lot.
	Create(ctx context.Context, l *lot.Lot) error
	// Get returns a lot with its full bid sequence, or lot.ErrNotFound.
	Get(ctx context.Context, id string) (*lot.Lot, error)
	// ListActive returns active lots matching the filter, without bids.
	ListActive(ctx context.Context, f ListFilter) ([]lot.Lot, error)

	// AppendBid atomically appends b and raises the current price, guarded
	// on the lot still being active at priorPrice. A lost race returns
	// lot.ErrStalePrice; a lot that left the active state returns
	// lot.ErrLotClosed. No partial application is possible.
	AppendBid(ctx context.Context, lotID string, b lot.Bid, priorPrice decimal.Decimal) error

	// Claim attempts the atomic transition active→ended. It returns false
	// when another actor already moved the lot out of active.
	Claim(ctx context.Context, lotID string, at time.Time) (bool, error)
	// Cancel attempts the atomic transition active→cancelled with the same
	// claim discipline.
	Cancel(ctx context.Context, lotID string, at time.Time) (bool, error)

	// RecordOutcome populates the winner fields on a claimed lot, moving it
	// ended→completed. Re-running it for an already-completed, not yet
	// settled lot is benign: the same bids produce the same outcome.
	RecordOutcome(ctx context.Context, lotID string, out *lot.Outcome) error
	// MarkSettled stamps the lot as fully settled once outcome and history
	// are durably recorded. Lots claimed but not yet marked are picked up
	// by the repair pass.
	MarkSettled(ctx context.Context, lotID string, at time.Time) error

	// ListExpired returns active lots whose closing time has passed.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]lot.Lot, error)
	// ListUnsettled returns claimed lots that never finished settlement,
	// with their bid sequences, for the repair pass.
	ListUnsettled(ctx context.Context) ([]lot.Lot, error)
}

// ContactDirectory looks up participant contact details. The user directory
// is an external collaborator; the engine only reads it to snapshot contacts
// at settlement and to resolve display names.
type ContactDirectory interface {
	// Get returns the contact for a participant, or lot.ErrNotFound.
	Get(ctx context.Context, participantID string) (*lot.Contact, error)
}
