package settlement

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/farmlot/auctioneer/internal/clock"
	"github.com/farmlot/auctioneer/internal/store"
)

// maxBackoffFactor caps the sweep backoff after consecutive failures.
const maxBackoffFactor = 8

// Sweeper periodically claims lots past their closing time and settles them.
// Several replicas may sweep the same store concurrently: the claim is an
// atomic conditional transition, so for every lot exactly one sweeper wins
// and the rest skip it. Correctness needs no leader election or mutual
// exclusion between sweepers.
type Sweeper struct {
	lots     store.LotRepository
	engine   *Engine
	interval time.Duration
	batch    int
	logger   *slog.Logger
	tracer   trace.Tracer
	clock    clock.Clock
}

// NewSweeper returns a Sweeper claiming at most batch lots per sweep.
func NewSweeper(
	lots store.LotRepository,
	engine *Engine,
	interval time.Duration,
	batch int,
	logger *slog.Logger,
	tp trace.TracerProvider,
	clk clock.Clock,
) *Sweeper {
	return &Sweeper{
		lots:     lots,
		engine:   engine,
		interval: interval,
		batch:    batch,
		logger:   logger,
		tracer:   tp.Tracer("github.com/farmlot/auctioneer/internal/settlement"),
		clock:    clk,
	}
}

// Run sweeps on the configured interval until ctx is cancelled. Sweep
// failures are logged and backed off, never fatal.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.InfoContext(ctx, "expiry sweeper started",
		slog.Duration("interval", s.interval),
	)

	delay := s.interval
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-timer.C:
		}

		if _, err := s.Sweep(ctx); err != nil {
			if delay < maxBackoffFactor*s.interval {
				delay *= 2
			}
			s.logger.ErrorContext(ctx, "sweep failed, backing off",
				slog.Duration("next_attempt", delay),
				slog.Any("error", err),
			)
		} else {
			delay = s.interval
		}
		timer.Reset(delay)
	}
}

// Sweep claims every expired lot it can and settles the claimed ones, then
// runs the repair pass over lots that were claimed earlier but never finished
// settlement. It returns the number of lots settled.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "Sweeper.Sweep")
	defer span.End()

	now := s.clock.Now().UTC()

	expired, err := s.lots.ListExpired(ctx, now, s.batch)
	if err != nil {
		return 0, err
	}

	settled := 0
	for i := range expired {
		id := expired[i].ID

		claimed, err := s.lots.Claim(ctx, id, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "claim failed",
				slog.String("lot_id", id), slog.Any("error", err))
			continue
		}
		if !claimed {
			// Another sweeper or a cancel got there first.
			continue
		}

		if err := s.settleByID(ctx, id); err != nil {
			// The lot stays claimed but unsettled; the repair pass below or
			// the next sweep resumes it without re-claiming.
			s.logger.ErrorContext(ctx, "settlement failed",
				slog.String("lot_id", id), slog.Any("error", err))
			continue
		}
		settled++
	}

	repaired := s.repair(ctx)
	settled += repaired

	if settled > 0 {
		s.logger.InfoContext(ctx, "sweep complete",
			slog.Int("expired", len(expired)),
			slog.Int("settled", settled),
			slog.Int("repaired", repaired),
		)
	}
	span.SetAttributes(attribute.Int("sweep.settled", settled))
	return settled, nil
}

// repair resumes settlement for lots claimed in an earlier sweep that never
// got their settled marker.
func (s *Sweeper) repair(ctx context.Context) int {
	pending, err := s.lots.ListUnsettled(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "listing unsettled lots failed", slog.Any("error", err))
		return 0
	}

	repaired := 0
	for i := range pending {
		l := pending[i]
		if err := s.engine.Settle(ctx, &l); err != nil {
			s.logger.ErrorContext(ctx, "repair settlement failed",
				slog.String("lot_id", l.ID), slog.Any("error", err))
			continue
		}
		repaired++
	}
	return repaired
}

func (s *Sweeper) settleByID(ctx context.Context, id string) error {
	l, err := s.lots.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.engine.Settle(ctx, l)
}
