package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kevinmok/hypertracker/internal/bus"
	"github.com/kevinmok/hypertracker/internal/domain"
	"github.com/kevinmok/hypertracker/internal/feed"
	"github.com/kevinmok/hypertracker/internal/leaderboard"
	"github.com/kevinmok/hypertracker/internal/platform/hyperliquid"
	"github.com/kevinmok/hypertracker/internal/processor"
	"github.com/kevinmok/hypertracker/internal/router"
	"github.com/kevinmok/hypertracker/internal/server"
	"github.com/kevinmok/hypertracker/internal/service"
)

// healthInterval is the cadence of the collector health log line.
const healthInterval = 60 * time.Second

// collector bundles the running pipeline so modes can query live counters.
type collector struct {
	bus       *bus.Bus
	pool      *feed.Pool
	router    *router.Router
	generator *processor.SignalGenerator
	detector  *processor.WhaleDetector
	refresher *leaderboard.Refresher
}

// stats assembles the health-tick snapshot from the live components.
func (c *collector) stats() domain.CollectorStats {
	ps := c.pool.Stats()
	rs := c.router.Stats()
	published, delivered := c.bus.Totals()
	return domain.CollectorStats{
		ConnectedClients: ps.Connected,
		TrackedTraders:   ps.Tracked,
		BufferedFrames:   rs.Buffered,
		FramesReceived:   rs.FramesReceived,
		ParseErrors:      rs.ParseErrors,
		PositionsEmitted: rs.PositionsEmitted,
		PositionsSkipped: rs.PositionsSkipped,
		SignalsEmitted:   c.generator.Emitted(),
		AlertsRaised:     c.detector.Raised(),
		EventsPublished:  published,
		EventsDelivered:  delivered,
	}
}

// CollectMode runs the collector pipeline without the read API.
func (a *App) CollectMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting collect mode")

	g, ctx := errgroup.WithContext(ctx)
	if _, err := a.startCollector(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

// ServerMode serves the read API over the stores and caches with no live
// collector behind it.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	query := service.NewQuery(service.QueryDeps{
		Signals:     deps.Signals,
		State:       deps.State,
		Snapshots:   deps.Snapshots,
		Candles:     deps.Candles,
		SignalCache: deps.SignalCache,
		AlertCache:  deps.AlertCache,
	}, a.logger)
	a.startServer(ctx, g, query)
	return g.Wait()
}

// FullMode runs the collector pipeline and the read API together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	col, err := a.startCollector(ctx, g, deps)
	if err != nil {
		return err
	}

	if a.cfg.Server.Enabled {
		query := service.NewQuery(service.QueryDeps{
			Signals:     deps.Signals,
			State:       deps.State,
			Snapshots:   deps.Snapshots,
			Candles:     deps.Candles,
			SignalCache: deps.SignalCache,
			AlertCache:  deps.AlertCache,
			LocalAlerts: col.detector.ActiveAlerts,
			Stats:       col.stats,
		}, a.logger)
		a.startServer(ctx, g, query)
	}
	return g.Wait()
}

// startCollector builds the event bus, subscribers, router, leaderboard
// refresher, and connection pool, and registers their goroutines on g.
func (a *App) startCollector(ctx context.Context, g *errgroup.Group, deps *Dependencies) (*collector, error) {
	cfg := a.cfg

	evBus := bus.New(a.logger)

	// Projector persists everything; chatty topics divert to the archive.
	proj := processor.NewProjector(
		processor.DefaultProjectorOptions(),
		processor.ProjectorStores{
			Events:    deps.Events,
			State:     deps.State,
			Snapshots: deps.Snapshots,
			Signals:   deps.Signals,
			Candles:   deps.Candles,
		},
		deps.BlobWriter,
		a.logger,
	)
	evBus.Subscribe("projector", "*", proj.HandleEvent)

	generator := processor.NewSignalGenerator(processor.SignalOptions{
		Symbol:         cfg.Exchange.Symbol,
		TTL:            cfg.Signal.TTL.Duration,
		MaxTraders:     cfg.Signal.MaxTraders,
		DefaultScore:   cfg.Signal.DefaultScore,
		BuyThreshold:   cfg.Signal.BuyThreshold,
		SellThreshold:  cfg.Signal.SellThreshold,
		EmitBiasDelta:  cfg.Signal.EmitBiasDelta,
		EmitConfidence: cfg.Signal.EmitConfidence,
	}, evBus, a.logger)
	evBus.Subscribe("signal-positions", domain.TopicTraderPositions, generator.HandlePositions)
	evBus.Subscribe("signal-scores", domain.TopicScoredTraders, generator.HandleScores)
	evBus.Subscribe("signal-price", domain.TopicMarkPrice, generator.HandleMarkPrice)

	tiers := domain.TierThresholds{
		AlphaWhale: cfg.Whale.AlphaWhaleThreshold,
		Whale:      cfg.Whale.WhaleThreshold,
	}
	detector := processor.NewWhaleDetector(processor.WhaleOptions{
		ChangeWindow:  cfg.Whale.ChangeWindow.Duration,
		PositionTTL:   cfg.Whale.PositionTTL.Duration,
		MinChangePct:  cfg.Whale.MinChangePct,
		MaxChanges:    cfg.Whale.MaxChanges,
		MaxAlerts:     cfg.Whale.MaxAlerts,
		FlipThreshold: cfg.Whale.FlipThreshold,
		Thresholds:    tiers,
	}, evBus, a.logger)
	evBus.Subscribe("whale-positions", domain.TopicTraderPositions, detector.HandlePositions)

	a.subscribeBridges(evBus, deps)

	rt := router.New(router.Options{
		Coins:           []string{cfg.Exchange.Symbol},
		BufferMaxSize:   cfg.Router.BufferMaxSize,
		FlushInterval:   cfg.Router.FlushInterval.Duration,
		MaxSaveInterval: cfg.Router.MaxSaveInterval.Duration,
	}, evBus, a.logger)
	routerDone := make(chan struct{})
	g.Go(func() error {
		defer close(routerDone)
		return rt.Run(ctx)
	})

	info := hyperliquid.NewInfoClient(cfg.Exchange.InfoURL)
	refresher := leaderboard.New(leaderboard.Options{
		Interval:   cfg.Traders.RefreshInterval.Duration,
		TopN:       cfg.Traders.TopN,
		Thresholds: tiers,
	}, info, evBus, a.logger)
	g.Go(func() error {
		return refresher.Run(ctx)
	})

	roster, err := a.roster(ctx, refresher)
	if err != nil {
		return nil, err
	}

	wsPool := feed.NewPool(feed.PoolOptions{
		URL:        cfg.Exchange.WSURL,
		NumClients: cfg.Pool.NumClients,
		BatchSize:  cfg.Pool.BatchSize,
		WS: hyperliquid.WSOptions{
			Heartbeat:     cfg.Pool.HeartbeatInterval.Duration,
			ReconnectBase: cfg.Pool.ReconnectBase.Duration,
			ReconnectMax:  cfg.Pool.ReconnectMax.Duration,
			MaxAttempts:   cfg.Pool.MaxReconnectAttempts,
		},
		ReplacementCooldown: cfg.Pool.ReplacementCooldown.Duration,
		MaxRestarts:         cfg.Pool.MaxRestarts,
		RestartBackoff:      cfg.Pool.RestartBackoff.Duration,
	}, rt.HandleFrame, a.logger)
	if err := wsPool.Start(ctx, roster); err != nil {
		return nil, err
	}
	// Shutdown order: stop the feed first so no new frames arrive, let the
	// router finish its final drain, then close the bus behind it.
	g.Go(func() error {
		<-ctx.Done()
		wsPool.Stop()
		<-routerDone
		evBus.Close()
		return ctx.Err()
	})

	col := &collector{
		bus:       evBus,
		pool:      wsPool,
		router:    rt,
		generator: generator,
		detector:  detector,
		refresher: refresher,
	}
	g.Go(func() error {
		return a.healthTick(ctx, col)
	})
	return col, nil
}

// subscribeBridges mirrors bus output to Redis and the notifier. Bridge
// failures are reported by the bus; they never stall the pipeline.
func (a *App) subscribeBridges(evBus *bus.Bus, deps *Dependencies) {
	signalChannel := a.cfg.Redis.SignalChannel
	alertChannel := a.cfg.Redis.AlertChannel

	if deps.SignalCache != nil {
		evBus.Subscribe("signal-cache", domain.TopicTradingSignal, func(ctx context.Context, ev domain.Event) error {
			sig, ok := ev.Payload.(domain.Signal)
			if !ok {
				return nil
			}
			if err := deps.SignalCache.SetLatest(ctx, sig); err != nil {
				return err
			}
			if deps.Publisher != nil {
				payload, err := json.Marshal(sig)
				if err != nil {
					return err
				}
				return deps.Publisher.Publish(ctx, signalChannel, payload)
			}
			return nil
		})
	}

	evBus.Subscribe("alert-egress", domain.TopicWhaleAlert, func(ctx context.Context, ev domain.Event) error {
		alert, ok := ev.Payload.(domain.WhaleAlert)
		if !ok {
			return nil
		}
		if deps.AlertCache != nil {
			if err := deps.AlertCache.Add(ctx, alert); err != nil {
				return err
			}
		}
		if deps.Publisher != nil {
			payload, err := json.Marshal(alert)
			if err != nil {
				return err
			}
			if err := deps.Publisher.Publish(ctx, alertChannel, payload); err != nil {
				return err
			}
		}
		return deps.Notifier.NotifyAlert(ctx, alert)
	})

	if deps.PriceCache != nil {
		evBus.Subscribe("price-cache", domain.TopicMarkPrice, func(ctx context.Context, ev domain.Event) error {
			mp, ok := ev.Payload.(domain.MarkPrice)
			if !ok {
				return nil
			}
			return deps.PriceCache.SetPrice(ctx, mp.Symbol, mp.Price, mp.Timestamp)
		})
	}
}

// roster resolves the tracked addresses: the configured list when present,
// otherwise the top of the leaderboard.
func (a *App) roster(ctx context.Context, refresher *leaderboard.Refresher) ([]string, error) {
	if len(a.cfg.Traders.Addresses) > 0 {
		roster := make([]string, 0, len(a.cfg.Traders.Addresses))
		for _, raw := range a.cfg.Traders.Addresses {
			addr, err := domain.ParseAddress(raw)
			if err != nil {
				a.logger.Warn("skipping invalid roster address",
					slog.String("address", raw),
					slog.String("error", err.Error()),
				)
				continue
			}
			roster = append(roster, addr)
		}
		return roster, nil
	}

	roster, err := refresher.Roster(ctx, a.cfg.Traders.RosterSize)
	if err != nil {
		return nil, err
	}
	a.logger.InfoContext(ctx, "roster seeded from leaderboard",
		slog.Int("traders", len(roster)),
	)
	return roster, nil
}

// healthTick logs the collector counters at a fixed cadence.
func (a *App) healthTick(ctx context.Context, col *collector) error {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s := col.stats()
			a.logger.InfoContext(ctx, "collector health",
				slog.Int("connected_clients", s.ConnectedClients),
				slog.Int("tracked_traders", s.TrackedTraders),
				slog.Int("buffered_frames", s.BufferedFrames),
				slog.Int64("frames_received", s.FramesReceived),
				slog.Int64("parse_errors", s.ParseErrors),
				slog.Int64("positions_emitted", s.PositionsEmitted),
				slog.Int64("positions_skipped", s.PositionsSkipped),
				slog.Int64("signals_emitted", s.SignalsEmitted),
				slog.Int64("alerts_raised", s.AlertsRaised),
				slog.Int64("events_published", s.EventsPublished),
				slog.Int64("events_delivered", s.EventsDelivered),
			)
		}
	}
}

// startServer registers the HTTP server goroutines on g.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, query *service.Query) {
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, query, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
