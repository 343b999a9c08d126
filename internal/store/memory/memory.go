// Package memory implements the store interfaces in process memory. The
// conditional writes hold a mutex only for the duration of the in-memory
// mutation, mirroring the compare-and-set semantics of the postgres driver,
// so the concurrency-sensitive paths behave identically in tests and dev.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/farmlot/auctioneer/internal/clock"
	"github.com/farmlot/auctioneer/internal/config"
	"github.com/farmlot/auctioneer/internal/history"
	"github.com/farmlot/auctioneer/internal/lot"
	"github.com/farmlot/auctioneer/internal/store"
)

func init() {
	store.Register("memory", openMemory)
}

func openMemory(_ context.Context, _ config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
	s := New(clk)
	return &store.Repositories{
		Lots:     s,
		History:  s,
		Contacts: s.Contacts(),
		Closer:   s,
		Ping:     func(context.Context) error { return nil },
	}, nil
}

// Store holds all state behind one mutex. It implements
// store.LotRepository, history.Repository and store.ContactDirectory.
type Store struct {
	mu       sync.Mutex
	lots     map[string]*lot.Lot
	records  map[string]map[string]history.Record // lot id -> participant id
	contacts map[string]lot.Contact
	clock    clock.Clock
}

// New returns an empty in-memory store.
func New(clk clock.Clock) *Store {
	return &Store{
		lots:     make(map[string]*lot.Lot),
		records:  make(map[string]map[string]history.Record),
		contacts: make(map[string]lot.Contact),
		clock:    clk,
	}
}

// Close implements io.Closer.
func (s *Store) Close() error { return nil }

// SeedContact registers a participant in the contact directory.
func (s *Store) SeedContact(c lot.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.ID] = c
}

func cloneLot(l *lot.Lot) *lot.Lot {
	cp := *l
	cp.Bids = append([]lot.Bid(nil), l.Bids...)
	if l.Outcome != nil {
		out := *l.Outcome
		if l.Outcome.SellerContact != nil {
			sc := *l.Outcome.SellerContact
			out.SellerContact = &sc
		}
		if l.Outcome.WinnerContact != nil {
			wc := *l.Outcome.WinnerContact
			out.WinnerContact = &wc
		}
		cp.Outcome = &out
	}
	if l.SettledAt != nil {
		t := *l.SettledAt
		cp.SettledAt = &t
	}
	return &cp
}

func (s *Store) Create(_ context.Context, l *lot.Lot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.clock.Now().UTC()
	}
	s.lots[l.ID] = cloneLot(l)
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*lot.Lot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lots[id]
	if !ok {
		return nil, lot.ErrNotFound
	}
	return cloneLot(l), nil
}

func (s *Store) ListActive(_ context.Context, f store.ListFilter) ([]lot.Lot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []lot.Lot
	for _, l := range s.lots {
		if l.Status != lot.StatusActive {
			continue
		}
		if f.District != "" && l.District != f.District {
			continue
		}
		if f.State != "" && l.State != f.State {
			continue
		}
		cp := cloneLot(l)
		cp.Bids = nil
		out = append(out, *cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosesAt.Before(out[j].ClosesAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) AppendBid(_ context.Context, lotID string, b lot.Bid, priorPrice decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lots[lotID]
	if !ok {
		return lot.ErrNotFound
	}
	if l.Status != lot.StatusActive {
		return lot.ErrLotClosed
	}
	if !l.CurrentPrice.Equal(priorPrice) {
		return lot.ErrStalePrice
	}

	if _, bidBefore := l.HighestBidBy(b.BidderID); !bidBefore {
		l.UniqueBidders++
	}
	l.BidCount++
	b.Position = l.BidCount
	l.Bids = append(l.Bids, b)
	l.CurrentPrice = b.Amount
	return nil
}

func (s *Store) Claim(_ context.Context, lotID string, _ time.Time) (bool, error) {
	return s.transition(lotID, lot.StatusEnded)
}

func (s *Store) Cancel(_ context.Context, lotID string, _ time.Time) (bool, error) {
	return s.transition(lotID, lot.StatusCancelled)
}

func (s *Store) transition(lotID string, next lot.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lots[lotID]
	if !ok {
		return false, lot.ErrNotFound
	}
	if l.Status != lot.StatusActive {
		return false, nil
	}
	l.Status = next
	return true, nil
}

func (s *Store) RecordOutcome(_ context.Context, lotID string, out *lot.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lots[lotID]
	if !ok {
		return lot.ErrNotFound
	}
	if l.SettledAt != nil {
		return nil
	}
	if l.Status != lot.StatusEnded && l.Status != lot.StatusCompleted {
		return lot.ErrInvalidTransition
	}
	o := *out
	l.Outcome = &o
	l.Status = lot.StatusCompleted
	return nil
}

func (s *Store) MarkSettled(_ context.Context, lotID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lots[lotID]
	if !ok {
		return lot.ErrNotFound
	}
	if l.SettledAt != nil {
		return nil
	}
	if l.Status != lot.StatusEnded && l.Status != lot.StatusCompleted {
		return lot.ErrInvalidTransition
	}
	t := at
	l.SettledAt = &t
	return nil
}

func (s *Store) ListExpired(_ context.Context, now time.Time, limit int) ([]lot.Lot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []lot.Lot
	for _, l := range s.lots {
		if l.Status == lot.StatusActive && !now.Before(l.ClosesAt) {
			out = append(out, *cloneLot(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosesAt.Before(out[j].ClosesAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListUnsettled(_ context.Context) ([]lot.Lot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []lot.Lot
	for _, l := range s.lots {
		if (l.Status == lot.StatusEnded || l.Status == lot.StatusCompleted) && l.SettledAt == nil {
			out = append(out, *cloneLot(l))
		}
	}
	return out, nil
}

func (s *Store) Upsert(_ context.Context, records ...history.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		byParticipant, ok := s.records[rec.LotID]
		if !ok {
			byParticipant = make(map[string]history.Record)
			s.records[rec.LotID] = byParticipant
		}
		byParticipant[rec.ParticipantID] = rec
	}
	return nil
}

func (s *Store) ListByParticipant(_ context.Context, participantID string, f history.Filter) ([]history.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []history.Record
	for _, byParticipant := range s.records {
		rec, ok := byParticipant[participantID]
		if !ok {
			continue
		}
		if f.Status != "" && rec.FinalStatus != f.Status {
			continue
		}
		if f.WonOnly && !rec.IsWinner {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	return out, nil
}

func (s *Store) ListByLot(_ context.Context, lotID string) ([]history.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []history.Record
	for _, rec := range s.records[lotID] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Role != out[j].Role {
			return out[i].Role < out[j].Role
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return out, nil
}

// Contacts returns the contact directory view of the store. A separate view
// type is needed because the lot repository already owns the Get name.
func (s *Store) Contacts() store.ContactDirectory {
	return contactsView{s: s}
}

type contactsView struct {
	s *Store
}

func (v contactsView) Get(_ context.Context, participantID string) (*lot.Contact, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	c, ok := v.s.contacts[participantID]
	if !ok {
		return nil, lot.ErrNotFound
	}
	cp := c
	return &cp, nil
}
