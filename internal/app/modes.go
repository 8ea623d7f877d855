package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/alanyoungcy/agentmarket/internal/report"
	"github.com/alanyoungcy/agentmarket/internal/server"
	"github.com/alanyoungcy/agentmarket/internal/server/handler"
	"github.com/alanyoungcy/agentmarket/internal/server/ws"
)

// ServerMode serves the HTTP API and the live feed. Settlements interrupted
// by a previous crash are finished before the listener starts, and the
// monthly archive runs on its cron schedule when enabled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering server mode")

	if n, err := deps.Resolutions.SettlePending(ctx); err != nil {
		a.logger.ErrorContext(ctx, "server mode: pending settlement failed",
			slog.String("error", err.Error()),
		)
	} else if n > 0 {
		a.logger.InfoContext(ctx, "server mode: finished pending settlements",
			slog.Int("markets", n),
		)
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Archive.Enabled && deps.Archive != nil {
		if err := a.startArchiveSchedule(ctx, g, deps); err != nil {
			return fmt.Errorf("server mode: %w", err)
		}
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	} else {
		a.logger.WarnContext(ctx, "server mode: http server disabled")
		g.Go(func() error {
			<-ctx.Done()
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// SettleMode finishes every interrupted settlement, then replays each open
// market's trade log against its stored pool.
func (a *App) SettleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering settle mode")

	n, err := deps.Resolutions.SettlePending(ctx)
	if err != nil {
		return fmt.Errorf("settle mode: %w", err)
	}
	a.logger.InfoContext(ctx, "settle mode: settlements finished", slog.Int("markets", n))

	open, err := deps.Ledger.Stores().Markets.ListUnresolved(ctx)
	if err != nil {
		return fmt.Errorf("settle mode: list open markets: %w", err)
	}
	var failed int
	for _, m := range open {
		if err := deps.Prices.VerifyMarket(ctx, m.ID); err != nil {
			failed++
			a.logger.ErrorContext(ctx, "settle mode: pool verification failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if failed > 0 {
		return fmt.Errorf("settle mode: %d of %d markets failed verification: %w",
			failed, len(open), domain.ErrConsistency)
	}
	a.logger.InfoContext(ctx, "settle mode: pools verified", slog.Int("markets", len(open)))
	return nil
}

// ReportMode prints the leaderboard and every agent's performance summary.
func (a *App) ReportMode(ctx context.Context, deps *Dependencies) error {
	board, err := deps.Agents.Leaderboard(ctx)
	if err != nil {
		return fmt.Errorf("report mode: %w", err)
	}
	perfs, err := deps.Performance.ReconstructAll(ctx)
	if err != nil {
		return fmt.Errorf("report mode: %w", err)
	}
	return report.NewConsole(a.out).Write(time.Now().UTC(), board, perfs)
}

// ArchiveMode exports the previous calendar month once and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archive == nil {
		return errors.New("archive mode: s3 is not configured")
	}
	if _, err := deps.Archive.ArchivePreviousMonth(ctx); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	return nil
}

// startArchiveSchedule runs the monthly archive on the configured cron
// expression until ctx is cancelled.
func (a *App) startArchiveSchedule(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(a.cfg.Archive.Cron, func() {
		if _, err := deps.Archive.ArchivePreviousMonth(ctx); err != nil {
			a.logger.ErrorContext(ctx, "archive: scheduled run failed",
				slog.String("error", err.Error()),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("archive schedule %q: %w", a.cfg.Archive.Cron, err)
	}

	g.Go(func() error {
		c.Start()
		a.logger.InfoContext(ctx, "archive schedule started",
			slog.String("cron", a.cfg.Archive.Cron),
		)
		<-ctx.Done()
		// Wait for a run in progress.
		<-c.Stop().Done()
		return nil
	})
	return nil
}

// startHTTPServer adds the HTTP server and websocket hub to the errgroup. The
// server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
		TrustProxy:  a.cfg.Server.TrustProxy,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Agents:  handler.NewAgentHandler(deps.Agents, deps.Performance, a.logger),
		Markets: handler.NewMarketHandler(deps.Markets, deps.Prices, a.logger),
		Trades:  handler.NewTradeHandler(deps.Trades, deps.Resolutions, a.logger),
	}, server.Deps{
		Auth:    deps.Agents,
		Limiter: deps.RateLimiter,
		Hub:     hub,
	}, a.logger)

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
		return srv.Shutdown(shutCtx)
	})
}
