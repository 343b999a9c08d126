// Package lot holds the auction domain model: the Lot aggregate, its closed
// status machine, bid acceptance rules and winner computation. Everything in
// this package is pure; durability and atomicity live in the store drivers.
package lot

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Errors returned by lot operations. The HTTP layer maps these onto the
// response taxonomy: not-found, conflict (closed lot / stale price, caller
// should refresh and retry) and authorization (self-bid, foreign cancel).
var (
	ErrNotFound          = errors.New("lot not found")
	ErrLotClosed         = errors.New("lot is closed")
	ErrStalePrice        = errors.New("bid does not beat current price")
	ErrSelfBid           = errors.New("seller cannot bid on own lot")
	ErrNotSeller         = errors.New("only the seller may cancel the lot")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError reports a malformed lot creation field. It is reported
// synchronously to the caller and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Status is the closed set of lot lifecycle states.
type Status string

const (
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// transitions is the single authoritative transition table. ended→completed
// is the outcome fill performed by settlement after a successful claim.
var transitions = map[Status][]Status{
	StatusActive: {StatusEnded, StatusCancelled},
	StatusEnded:  {StatusCompleted},
}

// CanTransitionTo reports whether the move s→next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// ParseStatus converts a string into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusActive, StatusEnded, StatusCancelled, StatusCompleted:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown lot status %q", s)
}

// Unit is the quantity unit of a commodity lot.
type Unit string

const (
	UnitKilogram Unit = "kg"
	UnitQuintal  Unit = "quintal"
	UnitCount    Unit = "count"
)

// ParseUnit converts a string into a Unit.
func ParseUnit(s string) (Unit, error) {
	switch Unit(s) {
	case UnitKilogram, UnitQuintal, UnitCount:
		return Unit(s), nil
	}
	return "", fmt.Errorf("unknown unit %q", s)
}

// Grade is the ordinal quality grade of a commodity.
type Grade string

const (
	GradePremium  Grade = "premium"
	GradeA        Grade = "grade-a"
	GradeB        Grade = "grade-b"
	GradeStandard Grade = "standard"
)

// gradeRanks orders grades, highest quality first.
var gradeRanks = map[Grade]int{
	GradePremium:  3,
	GradeA:        2,
	GradeB:        1,
	GradeStandard: 0,
}

// Rank returns the ordinal position of the grade; premium ranks highest.
func (g Grade) Rank() int { return gradeRanks[g] }

// ParseGrade converts a string into a Grade.
func ParseGrade(s string) (Grade, error) {
	if _, ok := gradeRanks[Grade(s)]; !ok {
		return "", fmt.Errorf("unknown grade %q", s)
	}
	return Grade(s), nil
}

// Commodity describes what is being auctioned.
type Commodity struct {
	Name     string
	Quantity decimal.Decimal
	Unit     Unit
	Grade    Grade
}

// Contact is a reachable contact snapshot exchanged between the seller and
// the winning bidder at settlement.
type Contact struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Village  string `json:"village,omitempty"`
	District string `json:"district,omitempty"`
}

// Bid is one accepted offer against a lot. Positions are 1-based and
// insertion-ordered; amounts are strictly increasing along positions.
type Bid struct {
	Position   int
	BidderID   string
	BidderName string
	Amount     decimal.Decimal
	PlacedAt   time.Time
}

// Outcome holds settlement results. It is populated exactly once per lot,
// and only when the lot closed with at least one bid.
type Outcome struct {
	WinnerID      string
	WinnerName    string
	WinningAmount decimal.Decimal
	SellerContact *Contact
	WinnerContact *Contact
}

// Lot is one auction instance.
type Lot struct {
	ID         string
	SellerID   string
	SellerName string

	Commodity   Commodity
	HarvestDate time.Time
	ExpiryDate  time.Time
	ClosesAt    time.Time

	StartingPrice decimal.Decimal
	CurrentPrice  decimal.Decimal

	Status Status
	Bids   []Bid

	Outcome *Outcome

	District string
	State    string

	BidCount      int
	UniqueBidders int

	CreatedAt time.Time
	SettledAt *time.Time
}

// CreateSpec carries the caller-supplied fields for a new lot.
type CreateSpec struct {
	SellerID      string
	CommodityName string
	Quantity      decimal.Decimal
	Unit          Unit
	Grade         Grade
	HarvestDate   time.Time
	ExpiryDate    time.Time
	ClosesAt      time.Time
	StartingPrice decimal.Decimal
	District      string
	State         string
}

// Validate checks all required commodity, timing and pricing fields.
// The closing time must be strictly in the future and precede the
// commodity's expiry date.
func (s CreateSpec) Validate(now time.Time) error {
	if s.SellerID == "" {
		return &ValidationError{Field: "seller_id", Reason: "required"}
	}
	if s.CommodityName == "" {
		return &ValidationError{Field: "commodity_name", Reason: "required"}
	}
	if s.Quantity.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if _, err := ParseUnit(string(s.Unit)); err != nil {
		return &ValidationError{Field: "unit", Reason: err.Error()}
	}
	if _, err := ParseGrade(string(s.Grade)); err != nil {
		return &ValidationError{Field: "grade", Reason: err.Error()}
	}
	if s.HarvestDate.IsZero() {
		return &ValidationError{Field: "harvest_date", Reason: "required"}
	}
	if s.ExpiryDate.IsZero() {
		return &ValidationError{Field: "expiry_date", Reason: "required"}
	}
	if s.ClosesAt.IsZero() {
		return &ValidationError{Field: "closes_at", Reason: "required"}
	}
	if !s.ClosesAt.After(now) {
		return &ValidationError{Field: "closes_at", Reason: "must be in the future"}
	}
	if !s.ClosesAt.Before(s.ExpiryDate) {
		return &ValidationError{Field: "closes_at", Reason: "must precede expiry_date"}
	}
	if s.StartingPrice.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Field: "starting_price", Reason: "must be positive"}
	}
	return nil
}

// New builds an active lot from a validated spec. The current price starts
// at the starting price and only moves up as bids are accepted.
func New(id string, spec CreateSpec, sellerName string, now time.Time) *Lot {
	return &Lot{
		ID:         id,
		SellerID:   spec.SellerID,
		SellerName: sellerName,
		Commodity: Commodity{
			Name:     spec.CommodityName,
			Quantity: spec.Quantity,
			Unit:     spec.Unit,
			Grade:    spec.Grade,
		},
		HarvestDate:   spec.HarvestDate,
		ExpiryDate:    spec.ExpiryDate,
		ClosesAt:      spec.ClosesAt,
		StartingPrice: spec.StartingPrice,
		CurrentPrice:  spec.StartingPrice,
		Status:        StatusActive,
		District:      spec.District,
		State:         spec.State,
		CreatedAt:     now,
	}
}

// CheckBid applies the bid acceptance preconditions against the lot state as
// read. Passing this check does not accept the bid; the store applies the
// append as a conditional write guarded on the price read here, so a racing
// bidder still loses with ErrStalePrice.
func (l *Lot) CheckBid(bidderID string, amount decimal.Decimal, now time.Time) error {
	if l.Status != StatusActive || !now.Before(l.ClosesAt) {
		return ErrLotClosed
	}
	if bidderID == l.SellerID {
		return ErrSelfBid
	}
	if amount.LessThanOrEqual(l.CurrentPrice) {
		return ErrStalePrice
	}
	return nil
}

// WinningBid returns the winning bid, or nil when the lot has no bids.
// Amounts are strictly increasing along the sequence, so the last bid is the
// maximum. The scan below is a defensive check: equal amounts would mean the
// ledger invariant was violated, in which case the earliest bid wins.
func (l *Lot) WinningBid() *Bid {
	if len(l.Bids) == 0 {
		return nil
	}
	best := &l.Bids[len(l.Bids)-1]
	for i := range l.Bids {
		b := &l.Bids[i]
		if b.Amount.GreaterThan(best.Amount) ||
			(b.Amount.Equal(best.Amount) && b.PlacedAt.Before(best.PlacedAt)) {
			best = b
		}
	}
	return best
}

// HighestBidBy returns the highest amount the given bidder submitted and
// whether they bid at all.
func (l *Lot) HighestBidBy(bidderID string) (decimal.Decimal, bool) {
	var highest decimal.Decimal
	found := false
	for _, b := range l.Bids {
		if b.BidderID != bidderID {
			continue
		}
		if !found || b.Amount.GreaterThan(highest) {
			highest = b.Amount
			found = true
		}
	}
	return highest, found
}

// Bidders returns the distinct bidder ids in order of first appearance,
// together with the display name seen on their bids.
func (l *Lot) Bidders() []struct{ ID, Name string } {
	seen := make(map[string]struct{}, len(l.Bids))
	var out []struct{ ID, Name string }
	for _, b := range l.Bids {
		if _, ok := seen[b.BidderID]; ok {
			continue
		}
		seen[b.BidderID] = struct{}{}
		out = append(out, struct{ ID, Name string }{ID: b.BidderID, Name: b.BidderName})
	}
	return out
}
