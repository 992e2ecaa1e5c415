package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
	"github.com/Runner89/mexc-trading-bot/internal/engine"
	"github.com/Runner89/mexc-trading-bot/internal/notify"
	"github.com/Runner89/mexc-trading-bot/internal/platform/bingx"
	"github.com/Runner89/mexc-trading-bot/internal/platform/paper"
	"github.com/Runner89/mexc-trading-bot/internal/server"
	"github.com/Runner89/mexc-trading-bot/internal/server/handler"
	"github.com/Runner89/mexc-trading-bot/internal/server/ws"
	"github.com/Runner89/mexc-trading-bot/internal/signal"
)

// journalTimeout bounds the observer writes that follow every event.
const journalTimeout = 5 * time.Second

const sweepInterval = time.Minute

// LiveMode serves webhooks against the BingX perpetual swap API.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	factory := bingx.NewFactory(
		a.cfg.Exchange.BaseURL,
		a.cfg.Exchange.Timeout.Duration,
		int32(a.cfg.Exchange.Precision),
	)
	return a.serve(ctx, deps, factory, nil)
}

// PaperMode serves webhooks against simulated accounts priced from the
// public BingX quotes.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	factory := paper.NewFactory(a.cfg.Exchange.PaperBalance, deps.Quotes, a.logger)
	interval := a.cfg.Exchange.PaperTick.Duration

	tick := func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := factory.Tick(ctx); err != nil {
					a.logger.WarnContext(ctx, "paper price tick failed",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
	return a.serve(ctx, deps, factory, tick)
}

// serve builds the engine on top of exchanges and runs the HTTP server,
// the WebSocket hub, the archive flusher and extra until ctx is cancelled.
func (a *App) serve(ctx context.Context, deps *Dependencies, exchanges domain.ExchangeFactory, extra func(context.Context) error) error {
	secret, err := a.cfg.WebhookSecret()
	if err != nil {
		return err
	}
	if secret == "" {
		a.logger.WarnContext(ctx, "webhook secret not configured, webhook endpoint is unauthenticated")
	}

	eng := engine.New(engine.Deps{
		Exchanges: exchanges,
		Ledger:    deps.Ledger,
		Notifier:  deps.Notifier,
		Locks:     deps.Locks,
		Dedup:     deps.Dedup,
	}, a.engineConfig(), a.logger)
	eng.Observe(a.journal(deps))

	hub := ws.NewHub(deps.SignalBus, a.cfg.Mode, a.cfg.Server.CORSOrigins, a.logger)
	h := server.Handlers{
		Health: handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Webhook: handler.NewWebhookHandler(eng, signal.Defaults{
			SafetyBuffer:    a.cfg.Webhook.SafetyBuffer,
			BaseOrderFactor: a.cfg.Webhook.BaseOrderFactor,
		}, a.cfg.Webhook.Timeout.Duration, a.logger),
		Bots: handler.NewBotHandler(eng, a.logger),
		Hub:  hub,
	}
	if deps.EventStore != nil {
		h.Events = handler.NewEventsHandler(deps.EventStore, a.logger)
	}

	srvCfg := server.Config{
		Port:          a.cfg.Server.Port,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		APIKey:        a.cfg.Server.APIKey,
		WebhookSecret: secret,
		WebhookPath:   a.cfg.Webhook.Path,
		RateLimit:     a.cfg.Webhook.RateLimit,
		RateWindow:    a.cfg.Webhook.RateWindow.Duration,

		WebhookTimeout: a.cfg.Webhook.Timeout.Duration,
	}
	if a.cfg.Metrics.Enabled {
		srvCfg.MetricsPath = a.cfg.Metrics.Path
	}
	srv := server.NewServer(srvCfg, h, deps.RateLimiter, a.logger)

	a.lifecycle(ctx, deps, "Started", fmt.Sprintf("mode=%s port=%d", a.cfg.Mode, a.cfg.Server.Port))
	defer a.lifecycle(context.WithoutCancel(ctx), deps, "Stopped", "mode="+a.cfg.Mode)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})
	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx, a.cfg.S3.FlushInterval.Duration)
		})
	}
	if deps.Sweep != nil {
		g.Go(func() error {
			ticker := time.NewTicker(sweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					deps.Sweep()
				}
			}
		})
	}
	if a.cfg.Notify.TelegramCommands {
		bot, err := notify.NewCommandBot(a.cfg.Notify.TelegramAPIURL, a.cfg.Notify.TelegramToken, a.cfg.Notify.TelegramChatID, eng, a.logger)
		if err != nil {
			a.logger.WarnContext(ctx, "telegram commands disabled", slog.String("error", err.Error()))
		} else {
			g.Go(func() error {
				return bot.Run(ctx)
			})
		}
	}
	if extra != nil {
		g.Go(func() error {
			return extra(ctx)
		})
	}

	return g.Wait()
}

// engineConfig maps the engine section onto engine.Config.
func (a *App) engineConfig() engine.Config {
	c := a.cfg.Engine
	return engine.Config{
		CallTimeout:            c.CallTimeout.Duration,
		SettleDelay:            c.SettleDelay.Duration,
		RetryBackoffMin:        c.RetryBackoffMin.Duration,
		RetryBackoffMax:        c.RetryBackoffMax.Duration,
		FallbackEpsilonPercent: c.FallbackEpsilonPercent,
		AllowMissingStopLoss:   c.AllowMissingStopLoss,
		AlertAfterSafetyOrders: c.AlertAfterSafetyOrders,
		LockTTL:                c.LockTTL.Duration,
		LockWait:               c.LockWait.Duration,
		IdempotencyTTL:         a.cfg.Webhook.IdempotencyTTL.Duration,
	}
}

// journal returns the observer that records every event result: the
// Postgres journal, the S3 archive batch and the dashboard bus.
func (a *App) journal(deps *Dependencies) engine.ResultObserver {
	return func(ctx context.Context, res domain.EventResult) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
		defer cancel()

		rec := eventRecord(res, time.Now().UTC())
		if deps.EventStore != nil {
			if err := deps.EventStore.Insert(ctx, rec); err != nil {
				a.logger.WarnContext(ctx, "journal insert failed",
					slog.String("event_id", res.EventID),
					slog.String("error", err.Error()),
				)
			}
		}
		if deps.Archiver != nil {
			deps.Archiver.Add(rec)
		}

		payload, err := json.Marshal(res)
		if err != nil {
			return
		}
		if err := deps.SignalBus.Publish(ctx, ws.EventsChannelFor(res.Identity.Symbol), payload); err != nil {
			a.logger.WarnContext(ctx, "publish event failed",
				slog.String("event_id", res.EventID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func eventRecord(res domain.EventResult, now time.Time) domain.EventRecord {
	return domain.EventRecord{
		ID:        res.EventID,
		Symbol:    res.Identity.Symbol,
		BotName:   res.Identity.BotName,
		Action:    string(res.Action),
		Failed:    res.Error,
		Result:    res,
		CreatedAt: now,
	}
}

// lifecycle sends a start or stop notice. Failures are only logged.
func (a *App) lifecycle(ctx context.Context, deps *Dependencies, title, message string) {
	if deps.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()
	if err := deps.Notifier.Notify(ctx, notify.EventLifecycle, title, message); err != nil {
		a.logger.WarnContext(ctx, "lifecycle notification failed", slog.String("error", err.Error()))
	}
}
