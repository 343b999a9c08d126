// Package postgres implements the store interfaces on PostgreSQL through
// sqlx with OTEL-instrumented connections. All correctness-critical writes
// are single conditional statements guarded on the row state, checked via
// RowsAffected, so concurrent writers resolve without locks held across I/O.
package postgres

import (
	"context"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/farmlot/auctioneer/internal/clock"
	"github.com/farmlot/auctioneer/internal/config"
	"github.com/farmlot/auctioneer/internal/store"
)

func init() {
	store.Register("sqlx", openSQLX)
}

// openSQLX is the store.Driver for the "sqlx" backend.
func openSQLX(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
	db, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &store.Repositories{
		Lots:     NewLotRepo(db, clk),
		History:  NewHistoryRepo(db),
		Contacts: NewContactDirectory(db),
		Closer:   db,
		Ping:     db.PingContext,
	}, nil
}

// Connect opens and verifies a Postgres connection with OTEL instrumentation.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := cfg.DSN()

	// Register the OTel-instrumented driver wrapping lib/pq.
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("registering otel driver: %w", err)
	}

	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}
