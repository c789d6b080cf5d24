package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/colemanlowe/fibhedge/internal/domain"
	"github.com/colemanlowe/fibhedge/internal/engine"
	"github.com/colemanlowe/fibhedge/internal/feed"
	"github.com/colemanlowe/fibhedge/internal/server"
	"github.com/colemanlowe/fibhedge/internal/server/handler"
	"github.com/colemanlowe/fibhedge/internal/server/ws"
	"github.com/colemanlowe/fibhedge/internal/service"
)

// services bundles the domain services built per run.
type services struct {
	registry  *engine.Registry
	hedge     *service.HedgeService
	plans     *service.PlanService
	portfolio *service.PortfolioService
}

// buildServices constructs the registry and domain services and warm-starts
// the registry from the store so restored positions resume tick routing.
func (a *App) buildServices(ctx context.Context, deps *Dependencies) (*services, error) {
	registry := engine.NewRegistry(a.logger)
	hedge := service.NewHedgeService(
		registry,
		deps.PositionStore,
		deps.PlanStore,
		deps.TriggerStore,
		deps.PriceCache,
		deps.SignalBus,
		deps.Notifier,
		a.logger,
	)
	if err := hedge.WarmStart(ctx); err != nil {
		return nil, fmt.Errorf("warm start: %w", err)
	}

	return &services{
		registry:  registry,
		hedge:     hedge,
		plans:     service.NewPlanService(deps.PlanStore, a.logger),
		portfolio: service.NewPortfolioService(deps.AllocationStore, deps.PositionStore, deps.PriceCache, a.logger),
	}, nil
}

// ServeMode runs the REST + WebSocket API without any market data feeds.
// Ticks only arrive through POST /api/ticks.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	svcs, err := a.buildServices(ctx, deps)
	if err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svcs)
	return g.Wait()
}

// TrackMode runs the feeds and the hedging engine plus the API when enabled.
func (a *App) TrackMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting track mode")

	svcs, err := a.buildServices(ctx, deps)
	if err != nil {
		return fmt.Errorf("track mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startFeeds(ctx, g, deps, svcs)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}
	return g.Wait()
}

// ArchiveMode runs one export of closed positions and trigger history older
// than the retention window, then exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	cutoff := archiveCutoff(a.cfg.Archive.RetentionDays)
	a.logger.InfoContext(ctx, "starting archive mode", slog.Time("cutoff", cutoff))

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: s3 archiver is not configured")
	}
	return deps.Archiver.Run(ctx, cutoff)
}

// FullMode runs all subsystems: feeds, engine, API, and the periodic archive
// exporter when enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	svcs, err := a.buildServices(ctx, deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startFeeds(ctx, g, deps, svcs)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps)
		})
	}
	return g.Wait()
}

// startFeeds adds the market data feed goroutines to the errgroup: the Redis
// bus feed always, the venue websocket feed when a URL is configured.
func (a *App) startFeeds(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	feeder := feed.NewTickFeeder(deps.SignalBus, svcs.hedge, a.logger)
	g.Go(func() error {
		return feeder.Run(ctx)
	})

	if a.cfg.Feed.WsURL != "" {
		onTick := func(ctx context.Context, tick domain.Tick) {
			if err := svcs.hedge.HandleTick(ctx, tick); err != nil {
				a.logger.DebugContext(ctx, "ws tick rejected",
					slog.String("coin", tick.Coin),
					slog.String("error", err.Error()),
				)
			}
		}
		wsFeed := feed.NewVenueWSFeed(a.cfg.Feed.WsURL, a.cfg.Feed.Coins, onTick, a.logger)
		g.Go(func() error {
			defer wsFeed.Close()
			return wsFeed.Run(ctx)
		})
	}
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	status := func() (int, int) {
		return svcs.registry.ActiveCount(), svcs.hedge.DirtyCount()
	}
	hub := ws.NewHub(deps.SignalBus, status, a.cfg.Mode, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.PG, deps.Redis, svcs.hedge, a.logger),
		Plans:     handler.NewPlanHandler(svcs.plans, a.logger),
		Positions: handler.NewPositionHandler(svcs.hedge, deps.PositionStore, deps.TriggerStore, a.logger),
		Portfolio: handler.NewPortfolioHandler(svcs.portfolio, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}

// runArchiveLoop exports eligible rows on every interval tick until the
// context is cancelled. Export failures are logged and retried on the next
// tick.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := archiveCutoff(a.cfg.Archive.RetentionDays)
			if err := deps.Archiver.Run(ctx, cutoff); err != nil {
				a.logger.ErrorContext(ctx, "archive export failed",
					slog.Time("cutoff", cutoff),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func archiveCutoff(retentionDays int) time.Time {
	return time.Now().UTC().AddDate(0, 0, -retentionDays)
}
