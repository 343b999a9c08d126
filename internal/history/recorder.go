package history

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/farmlot/auctioneer/internal/clock"
	"github.com/farmlot/auctioneer/internal/lot"
)

// Recorder writes the per-participant outcome records for settled lots.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
	tracer trace.Tracer
	clock  clock.Clock
}

// NewRecorder returns a new Recorder.
func NewRecorder(repo Repository, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Recorder {
	return &Recorder{
		repo:   repo,
		logger: logger,
		tracer: tp.Tracer("github.com/farmlot/auctioneer/internal/history"),
		clock:  clk,
	}
}

// Record upserts one record per participant of the settled lot and returns
// the written records. It is safe to call again for the same lot; the
// records converge on identical facts.
func (r *Recorder) Record(ctx context.Context, l *lot.Lot) ([]Record, error) {
	ctx, span := r.tracer.Start(ctx, "Recorder.Record",
		trace.WithAttributes(attribute.String("lot.id", l.ID)),
	)
	defer span.End()

	records := Build(l, r.clock.Now().UTC())
	if err := r.repo.Upsert(ctx, records...); err != nil {
		return nil, fmt.Errorf("upserting history for lot %s: %w", l.ID, err)
	}

	r.logger.InfoContext(ctx, "history recorded",
		slog.String("lot_id", l.ID),
		slog.Int("records", len(records)),
	)
	return records, nil
}

// Participant returns history records for one participant.
func (r *Recorder) Participant(ctx context.Context, participantID string, f Filter) ([]Record, error) {
	ctx, span := r.tracer.Start(ctx, "Recorder.Participant",
		trace.WithAttributes(attribute.String("participant.id", participantID)),
	)
	defer span.End()

	records, err := r.repo.ListByParticipant(ctx, participantID, f)
	if err != nil {
		return nil, fmt.Errorf("listing history for %s: %w", participantID, err)
	}
	return records, nil
}
