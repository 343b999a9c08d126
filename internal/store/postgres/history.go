package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/farmlot/auctioneer/internal/history"
	"github.com/farmlot/auctioneer/internal/lot"
)

// HistoryRepo implements history.Repository with sqlx.
type HistoryRepo struct {
	db *sqlx.DB
}

// NewHistoryRepo returns a new HistoryRepo.
func NewHistoryRepo(db *sqlx.DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

type historyRow struct {
	LotID           string              `db:"lot_id"`
	ParticipantID   string              `db:"participant_id"`
	Role            string              `db:"role"`
	CommodityName   string              `db:"commodity_name"`
	Quantity        decimal.Decimal     `db:"quantity"`
	Unit            string              `db:"unit"`
	Grade           string              `db:"grade"`
	MyHighestBid    decimal.NullDecimal `db:"my_highest_bid"`
	FinalStatus     string              `db:"final_status"`
	WinnerName      string              `db:"winner_name"`
	WinningAmount   decimal.NullDecimal `db:"winning_amount"`
	IsWinner        bool                `db:"is_winner"`
	ContactExchange []byte              `db:"contact_exchange"`
	RecordedAt      time.Time           `db:"recorded_at"`
}

func (row *historyRow) toDomain() (history.Record, error) {
	rec := history.Record{
		LotID:         row.LotID,
		ParticipantID: row.ParticipantID,
		Role:          history.Role(row.Role),
		Commodity: lot.Commodity{
			Name:     row.CommodityName,
			Quantity: row.Quantity,
			Unit:     lot.Unit(row.Unit),
			Grade:    lot.Grade(row.Grade),
		},
		FinalStatus: lot.Status(row.FinalStatus),
		WinnerName:  row.WinnerName,
		IsWinner:    row.IsWinner,
		RecordedAt:  row.RecordedAt,
	}
	if row.MyHighestBid.Valid {
		d := row.MyHighestBid.Decimal
		rec.MyHighestBid = &d
	}
	if row.WinningAmount.Valid {
		d := row.WinningAmount.Decimal
		rec.WinningAmount = &d
	}
	if len(row.ContactExchange) > 0 {
		rec.ContactExchange = &lot.Contact{}
		if err := json.Unmarshal(row.ContactExchange, rec.ContactExchange); err != nil {
			return history.Record{}, fmt.Errorf("decoding contact exchange: %w", err)
		}
	}
	return rec, nil
}

// Upsert writes all records in one transaction, keyed by
// (lot_id, participant_id), so a retried settlement replaces rather than
// duplicates.
func (r *HistoryRepo) Upsert(ctx context.Context, records ...history.Record) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning history tx: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		var contactJSON []byte
		if rec.ContactExchange != nil {
			contactJSON, err = json.Marshal(rec.ContactExchange)
			if err != nil {
				return fmt.Errorf("encoding contact exchange: %w", err)
			}
		}
		var myHighest, winning decimal.NullDecimal
		if rec.MyHighestBid != nil {
			myHighest = decimal.NullDecimal{Decimal: *rec.MyHighestBid, Valid: true}
		}
		if rec.WinningAmount != nil {
			winning = decimal.NullDecimal{Decimal: *rec.WinningAmount, Valid: true}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO history_records (lot_id, participant_id, role, commodity_name, quantity,
			                              unit, grade, my_highest_bid, final_status, winner_name,
			                              winning_amount, is_winner, contact_exchange, recorded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			 ON CONFLICT (lot_id, participant_id) DO UPDATE SET
			     role = EXCLUDED.role,
			     my_highest_bid = EXCLUDED.my_highest_bid,
			     final_status = EXCLUDED.final_status,
			     winner_name = EXCLUDED.winner_name,
			     winning_amount = EXCLUDED.winning_amount,
			     is_winner = EXCLUDED.is_winner,
			     contact_exchange = EXCLUDED.contact_exchange`,
			rec.LotID, rec.ParticipantID, string(rec.Role), rec.Commodity.Name, rec.Commodity.Quantity,
			string(rec.Commodity.Unit), string(rec.Commodity.Grade), myHighest, string(rec.FinalStatus),
			rec.WinnerName, winning, rec.IsWinner, contactJSON, rec.RecordedAt,
		); err != nil {
			return fmt.Errorf("upserting history record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing history tx: %w", err)
	}
	return nil
}

func (r *HistoryRepo) ListByParticipant(ctx context.Context, participantID string, f history.Filter) ([]history.Record, error) {
	query := `SELECT * FROM history_records WHERE participant_id = $1`
	args := []any{participantID}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" AND final_status = $%d", len(args))
	}
	if f.WonOnly {
		query += " AND is_winner"
	}
	query += " ORDER BY recorded_at DESC"

	var rows []historyRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing participant history: %w", err)
	}
	return toRecords(rows)
}

func (r *HistoryRepo) ListByLot(ctx context.Context, lotID string) ([]history.Record, error) {
	var rows []historyRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM history_records WHERE lot_id = $1 ORDER BY role ASC, participant_id ASC`, lotID)
	if err != nil {
		return nil, fmt.Errorf("listing lot history: %w", err)
	}
	return toRecords(rows)
}

func toRecords(rows []historyRow) ([]history.Record, error) {
	records := make([]history.Record, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// ContactDir implements store.ContactDirectory against the users table.
type ContactDir struct {
	db *sqlx.DB
}

// NewContactDirectory returns a new ContactDir.
func NewContactDirectory(db *sqlx.DB) *ContactDir {
	return &ContactDir{db: db}
}

// Get looks up a participant's contact details.
func (d *ContactDir) Get(ctx context.Context, participantID string) (*lot.Contact, error) {
	var c lot.Contact
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name, phone, village, district FROM users WHERE id = $1`, participantID,
	).Scan(&c.ID, &c.Name, &c.Phone, &c.Village, &c.District)
	if err == sql.ErrNoRows {
		return nil, lot.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting contact: %w", err)
	}
	return &c, nil
}
