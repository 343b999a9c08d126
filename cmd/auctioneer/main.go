package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/farmlot/auctioneer/internal/bidding"
	"github.com/farmlot/auctioneer/internal/cache"
	"github.com/farmlot/auctioneer/internal/clock"
	"github.com/farmlot/auctioneer/internal/config"
	"github.com/farmlot/auctioneer/internal/health"
	"github.com/farmlot/auctioneer/internal/history"
	"github.com/farmlot/auctioneer/internal/httpapi"
	"github.com/farmlot/auctioneer/internal/leader"
	"github.com/farmlot/auctioneer/internal/notify"
	"github.com/farmlot/auctioneer/internal/settlement"
	"github.com/farmlot/auctioneer/internal/store"
	"github.com/farmlot/auctioneer/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/farmlot/auctioneer/internal/store/memory"
	_ "github.com/farmlot/auctioneer/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	// Open store using the configured driver (sqlx or memory).
	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "store opened", slog.String("driver", cfg.Database.Driver))

	// Outcome notifications: NATS when configured and reachable, otherwise
	// log-only. Notification delivery is best-effort by design, so a broker
	// outage degrades rather than fails startup.
	var dispatcher notify.Dispatcher = notify.NewLogDispatcher(logger)
	if cfg.Notifier.Driver == "nats" {
		nc, natsErr := nats.Connect(cfg.Notifier.URL)
		if natsErr != nil {
			logger.WarnContext(ctx, "nats unavailable, notifications go to log only",
				slog.String("url", cfg.Notifier.URL), slog.Any("error", natsErr))
		} else {
			defer nc.Drain()
			dispatcher = notify.NewNATSDispatcher(nc, cfg.Notifier.SubjectPrefix, logger)
		}
	}

	// Listing cache: optional redis, degrades to uncached reads.
	var listings *cache.Listings
	if cfg.Cache.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		if pingErr := rdb.Ping(ctx).Err(); pingErr != nil {
			logger.WarnContext(ctx, "redis unavailable, listing cache disabled",
				slog.String("addr", cfg.Cache.Addr), slog.Any("error", pingErr))
			rdb = nil
		}
		listings = cache.NewListings(rdb, cfg.Cache.TTL, logger)
	}

	recorder := history.NewRecorder(repos.History, logger, tp.TracerProvider, clk)
	engine := settlement.NewEngine(repos.Lots, repos.Contacts, recorder, dispatcher, logger, tp.TracerProvider, clk)
	sweeper := settlement.NewSweeper(repos.Lots, engine, cfg.Scheduler.SweepInterval, cfg.Scheduler.ClaimBatch, logger, tp.TracerProvider, clk)
	bids := bidding.NewService(repos.Lots, repos.Contacts, logger, tp.TracerProvider, clk)

	healthHandler := health.NewHandler(clk,
		health.Checker{
			Name:  "database",
			Check: repos.Ping,
		},
	)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.GET("/healthz", echo.WrapHandler(healthHandler.LivenessHandler()))
	e.GET("/readyz", echo.WrapHandler(healthHandler.ReadinessHandler()))
	httpapi.NewHandler(bids, recorder, listings, logger).Register(e)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		logger.InfoContext(ctx, "starting http server", slog.String("addr", addr))
		if listenErr := e.Start(addr); listenErr != nil && listenErr != http.ErrServerClosed {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
		}
	}()

	// The sweeper runs on every replica unless leader election narrows it to
	// one; either way the atomic claim keeps settlement exactly-once.
	if cfg.LeaderElection.Enabled {
		go func() {
			leaderErr := leader.Run(ctx, cfg.LeaderElection, logger, sweeper.Run, func() {
				logger.Info("lost sweeper leadership, shutting down...")
				cancel()
			})
			if leaderErr != nil {
				logger.ErrorContext(ctx, "leader election error", slog.Any("error", leaderErr))
				cancel()
			}
		}()
	} else {
		go sweeper.Run(ctx)
	}

	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "auctioneer is running", slog.String("version", version))

	<-ctx.Done()
	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}
