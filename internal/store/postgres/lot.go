package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/farmlot/auctioneer/internal/clock"
	"github.com/farmlot/auctioneer/internal/lot"
	"github.com/farmlot/auctioneer/internal/store"
)

// LotRepo implements store.LotRepository with sqlx.
type LotRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewLotRepo returns a new LotRepo.
func NewLotRepo(db *sqlx.DB, clk clock.Clock) *LotRepo {
	return &LotRepo{db: db, clock: clk}
}

type lotRow struct {
	ID            string              `db:"id"`
	SellerID      string              `db:"seller_id"`
	SellerName    string              `db:"seller_name"`
	CommodityName string              `db:"commodity_name"`
	Quantity      decimal.Decimal     `db:"quantity"`
	Unit          string              `db:"unit"`
	Grade         string              `db:"grade"`
	HarvestDate   time.Time           `db:"harvest_date"`
	ExpiryDate    time.Time           `db:"expiry_date"`
	ClosesAt      time.Time           `db:"closes_at"`
	StartingPrice decimal.Decimal     `db:"starting_price"`
	CurrentPrice  decimal.Decimal     `db:"current_price"`
	Status        string              `db:"status"`
	WinnerID      *string             `db:"winner_id"`
	WinnerName    *string             `db:"winner_name"`
	WinningAmount decimal.NullDecimal `db:"winning_amount"`
	SellerContact []byte              `db:"seller_contact"`
	WinnerContact []byte              `db:"winner_contact"`
	District      string              `db:"district"`
	State         string              `db:"state"`
	BidCount      int                 `db:"bid_count"`
	UniqueBidders int                 `db:"unique_bidders"`
	CreatedAt     time.Time           `db:"created_at"`
	EndedAt       *time.Time          `db:"ended_at"`
	SettledAt     *time.Time          `db:"settled_at"`
}

type bidRow struct {
	LotID      string          `db:"lot_id"`
	Position   int             `db:"position"`
	BidderID   string          `db:"bidder_id"`
	BidderName string          `db:"bidder_name"`
	Amount     decimal.Decimal `db:"amount"`
	PlacedAt   time.Time       `db:"placed_at"`
}

func (row *lotRow) toDomain(bids []bidRow) (*lot.Lot, error) {
	l := &lot.Lot{
		ID:         row.ID,
		SellerID:   row.SellerID,
		SellerName: row.SellerName,
		Commodity: lot.Commodity{
			Name:     row.CommodityName,
			Quantity: row.Quantity,
			Unit:     lot.Unit(row.Unit),
			Grade:    lot.Grade(row.Grade),
		},
		HarvestDate:   row.HarvestDate,
		ExpiryDate:    row.ExpiryDate,
		ClosesAt:      row.ClosesAt,
		StartingPrice: row.StartingPrice,
		CurrentPrice:  row.CurrentPrice,
		Status:        lot.Status(row.Status),
		District:      row.District,
		State:         row.State,
		BidCount:      row.BidCount,
		UniqueBidders: row.UniqueBidders,
		CreatedAt:     row.CreatedAt,
		SettledAt:     row.SettledAt,
	}

	if row.WinnerID != nil {
		out := &lot.Outcome{WinnerID: *row.WinnerID}
		if row.WinnerName != nil {
			out.WinnerName = *row.WinnerName
		}
		if row.WinningAmount.Valid {
			out.WinningAmount = row.WinningAmount.Decimal
		}
		if len(row.SellerContact) > 0 {
			out.SellerContact = &lot.Contact{}
			if err := json.Unmarshal(row.SellerContact, out.SellerContact); err != nil {
				return nil, fmt.Errorf("decoding seller contact: %w", err)
			}
		}
		if len(row.WinnerContact) > 0 {
			out.WinnerContact = &lot.Contact{}
			if err := json.Unmarshal(row.WinnerContact, out.WinnerContact); err != nil {
				return nil, fmt.Errorf("decoding winner contact: %w", err)
			}
		}
		l.Outcome = out
	}

	for _, b := range bids {
		l.Bids = append(l.Bids, lot.Bid{
			Position:   b.Position,
			BidderID:   b.BidderID,
			BidderName: b.BidderName,
			Amount:     b.Amount,
			PlacedAt:   b.PlacedAt,
		})
	}

	return l, nil
}

func (r *LotRepo) Create(ctx context.Context, l *lot.Lot) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = r.clock.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO lots (id, seller_id, seller_name, commodity_name, quantity, unit, grade,
		                   harvest_date, expiry_date, closes_at, starting_price, current_price,
		                   status, district, state, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		l.ID, l.SellerID, l.SellerName, l.Commodity.Name, l.Commodity.Quantity,
		string(l.Commodity.Unit), string(l.Commodity.Grade),
		l.HarvestDate, l.ExpiryDate, l.ClosesAt, l.StartingPrice, l.CurrentPrice,
		string(l.Status), l.District, l.State, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting lot: %w", err)
	}
	return nil
}

func (r *LotRepo) Get(ctx context.Context, id string) (*lot.Lot, error) {
	var row lotRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM lots WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lot.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting lot: %w", err)
	}

	bids, err := r.loadBids(ctx, id)
	if err != nil {
		return nil, err
	}
	return row.toDomain(bids)
}

func (r *LotRepo) loadBids(ctx context.Context, lotID string) ([]bidRow, error) {
	var bids []bidRow
	err := r.db.SelectContext(ctx, &bids,
		`SELECT * FROM bids WHERE lot_id = $1 ORDER BY position ASC`, lotID)
	if err != nil {
		return nil, fmt.Errorf("loading bids: %w", err)
	}
	return bids, nil
}

func (r *LotRepo) ListActive(ctx context.Context, f store.ListFilter) ([]lot.Lot, error) {
	query := `SELECT * FROM lots WHERE status = 'active'`
	args := []any{}
	if f.District != "" {
		args = append(args, f.District)
		query += fmt.Sprintf(" AND district = $%d", len(args))
	}
	if f.State != "" {
		args = append(args, f.State)
		query += fmt.Sprintf(" AND state = $%d", len(args))
	}
	query += " ORDER BY closes_at ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []lotRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing active lots: %w", err)
	}
	return toDomainList(rows)
}

// AppendBid is the hot concurrent write path. The price raise and counter
// bumps are one conditional UPDATE guarded on (status, current_price); under
// read committed a racing writer re-evaluates the predicate after the lock
// holder commits and matches zero rows, which surfaces as ErrStalePrice.
func (r *LotRepo) AppendBid(ctx context.Context, lotID string, b lot.Bid, priorPrice decimal.Decimal) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning bid tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE lots
		 SET current_price = $1,
		     bid_count = bid_count + 1,
		     unique_bidders = unique_bidders + CASE WHEN EXISTS (
		         SELECT 1 FROM bids WHERE lot_id = $2 AND bidder_id = $3
		     ) THEN 0 ELSE 1 END
		 WHERE id = $2 AND status = 'active' AND current_price = $4`,
		b.Amount, lotID, b.BidderID, priorPrice,
	)
	if err != nil {
		return fmt.Errorf("applying bid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.classifyBidConflict(ctx, tx, lotID)
	}

	// position = bid_count after the increment above keeps insertion order.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bids (lot_id, position, bidder_id, bidder_name, amount, placed_at)
		 SELECT id, bid_count, $2, $3, $4, $5 FROM lots WHERE id = $1`,
		lotID, b.BidderID, b.BidderName, b.Amount, b.PlacedAt,
	); err != nil {
		return fmt.Errorf("inserting bid: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing bid: %w", err)
	}
	return nil
}

// classifyBidConflict distinguishes the reasons a guarded bid update matched
// zero rows so the caller gets the right typed rejection.
func (r *LotRepo) classifyBidConflict(ctx context.Context, tx *sqlx.Tx, lotID string) error {
	var status string
	err := tx.GetContext(ctx, &status, `SELECT status FROM lots WHERE id = $1`, lotID)
	if errors.Is(err, sql.ErrNoRows) {
		return lot.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("classifying bid conflict: %w", err)
	}
	if status != string(lot.StatusActive) {
		return lot.ErrLotClosed
	}
	return lot.ErrStalePrice
}

func (r *LotRepo) Claim(ctx context.Context, lotID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE lots SET status = 'ended', ended_at = $1 WHERE id = $2 AND status = 'active'`,
		at, lotID,
	)
	if err != nil {
		return false, fmt.Errorf("claiming lot: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *LotRepo) Cancel(ctx context.Context, lotID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE lots SET status = 'cancelled', ended_at = $1 WHERE id = $2 AND status = 'active'`,
		at, lotID,
	)
	if err != nil {
		return false, fmt.Errorf("cancelling lot: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *LotRepo) RecordOutcome(ctx context.Context, lotID string, out *lot.Outcome) error {
	sellerJSON, err := json.Marshal(out.SellerContact)
	if err != nil {
		return fmt.Errorf("encoding seller contact: %w", err)
	}
	winnerJSON, err := json.Marshal(out.WinnerContact)
	if err != nil {
		return fmt.Errorf("encoding winner contact: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE lots
		 SET status = 'completed', winner_id = $1, winner_name = $2, winning_amount = $3,
		     seller_contact = $4, winner_contact = $5
		 WHERE id = $6 AND status IN ('ended', 'completed') AND settled_at IS NULL`,
		out.WinnerID, out.WinnerName, out.WinningAmount, sellerJSON, winnerJSON, lotID,
	)
	if err != nil {
		return fmt.Errorf("recording outcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.checkAlreadySettled(ctx, lotID, "record outcome")
	}
	return nil
}

func (r *LotRepo) MarkSettled(ctx context.Context, lotID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE lots SET settled_at = $1
		 WHERE id = $2 AND status IN ('ended', 'completed') AND settled_at IS NULL`,
		at, lotID,
	)
	if err != nil {
		return fmt.Errorf("marking lot settled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.checkAlreadySettled(ctx, lotID, "mark settled")
	}
	return nil
}

// checkAlreadySettled resolves a zero-row settlement write. A concurrent
// sweep may already have finished this lot; recomputing the same winner from
// the same bids makes that benign.
func (r *LotRepo) checkAlreadySettled(ctx context.Context, lotID, op string) error {
	var done bool
	err := r.db.GetContext(ctx, &done,
		`SELECT settled_at IS NOT NULL FROM lots WHERE id = $1`, lotID)
	if errors.Is(err, sql.ErrNoRows) {
		return lot.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking settlement state: %w", err)
	}
	if done {
		return nil
	}
	return fmt.Errorf("%s: lot %s is not awaiting settlement", op, lotID)
}

func (r *LotRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]lot.Lot, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []lotRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM lots WHERE status = 'active' AND closes_at <= $1 ORDER BY closes_at ASC LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing expired lots: %w", err)
	}
	return toDomainList(rows)
}

func (r *LotRepo) ListUnsettled(ctx context.Context) ([]lot.Lot, error) {
	var rows []lotRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM lots WHERE status IN ('ended', 'completed') AND settled_at IS NULL ORDER BY ended_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing unsettled lots: %w", err)
	}

	lots := make([]lot.Lot, 0, len(rows))
	for i := range rows {
		bids, err := r.loadBids(ctx, rows[i].ID)
		if err != nil {
			return nil, err
		}
		l, err := rows[i].toDomain(bids)
		if err != nil {
			return nil, err
		}
		lots = append(lots, *l)
	}
	return lots, nil
}

func toDomainList(rows []lotRow) ([]lot.Lot, error) {
	lots := make([]lot.Lot, 0, len(rows))
	for i := range rows {
		l, err := rows[i].toDomain(nil)
		if err != nil {
			return nil, err
		}
		lots = append(lots, *l)
	}
	return lots, nil
}
