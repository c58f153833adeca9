package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketengine/internal/server"
	"github.com/alanyoungcy/marketengine/internal/server/handler"
	"github.com/alanyoungcy/marketengine/internal/server/middleware"
	"github.com/alanyoungcy/marketengine/internal/server/ws"
	"github.com/alanyoungcy/marketengine/internal/service"
)

// ServerMode serves the HTTP and WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startNotifier(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return ignoreCancel(g.Wait())
}

// KeeperMode finalizes expired resolutions and archives old events.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startNotifier(ctx, g, deps)
	if err := a.startKeeper(ctx, g, deps); err != nil {
		return fmt.Errorf("keeper mode: %w", err)
	}
	return ignoreCancel(g.Wait())
}

// FullMode runs the server and the keeper in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startNotifier(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	if err := a.startKeeper(ctx, g, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	return ignoreCancel(g.Wait())
}

func (a *App) startNotifier(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return deps.Notifier.Run(ctx)
	})
}

// startHTTPServer adds the API server, and the WebSocket hub when a signal bus
// is wired, to g. The server shuts down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, ws.Config{
			Channel:        service.EventChannel,
			Stream:         service.EventStream,
			AllowedOrigins: a.cfg.Server.CORSOrigins,
		}, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	} else {
		a.logger.WarnContext(ctx, "redis disabled; /ws is not served")
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		Auth: middleware.AuthConfig{
			APIKey:   a.cfg.Server.APIKey,
			Operator: deps.Operator,
			MaxSkew:  a.cfg.Server.SignatureSkew.Duration,
		},
		RatePerMinute: a.cfg.Server.RatePerMinute,
	}, server.Handlers{
		Health:      handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Markets:     handler.NewMarketHandler(deps.Engine, a.logger),
		Resolutions: handler.NewResolutionHandler(deps.Engine, a.logger),
		Fees:        handler.NewFeeHandler(deps.Engine, a.logger),
		Admin:       handler.NewAdminHandler(deps.Engine, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
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

// startKeeper adds the finalization loop and, when an archive is wired, the
// archival cron job to g.
func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	keeper := service.NewKeeper(deps.Engine, deps.Operator, a.cfg.Keeper.FinalizeInterval.Duration, a.logger)
	g.Go(func() error {
		return keeper.Run(ctx)
	})

	if deps.Archiver == nil || a.cfg.Keeper.ArchiveCron == "" {
		return nil
	}
	retention := time.Duration(a.cfg.Keeper.RetentionDays) * 24 * time.Hour
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(a.cfg.Keeper.ArchiveCron, func() {
		cutoff := time.Now().UTC().Add(-retention)
		n, err := deps.Archiver.ArchiveEvents(ctx, cutoff)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive: events failed", slog.String("error", err.Error()))
			return
		}
		a.logger.InfoContext(ctx, "archive: events moved",
			slog.Int64("count", n),
			slog.Time("cutoff", cutoff),
		)
	})
	if err != nil {
		return fmt.Errorf("archive cron %q: %w", a.cfg.Keeper.ArchiveCron, err)
	}
	c.Start()
	g.Go(func() error {
		<-ctx.Done()
		<-c.Stop().Done()
		return nil
	})
	return nil
}

// ignoreCancel treats a shutdown triggered by ctx cancellation as success.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
