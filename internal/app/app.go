// Package app wires the escrow bot: storage, deal services, the flow router and
// the Telegram runtime options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fihsr/giftescrow/core/bootstrap"
	"github.com/fihsr/giftescrow/core/logger"
	tg "github.com/fihsr/giftescrow/core/telegram"
	tgmiddleware "github.com/fihsr/giftescrow/core/telegram/middleware"
	tgrouter "github.com/fihsr/giftescrow/core/telegram/router"
	tgsender "github.com/fihsr/giftescrow/core/telegram/sender"
	"github.com/fihsr/giftescrow/internal/bot"
	"github.com/fihsr/giftescrow/internal/config"
	"github.com/fihsr/giftescrow/internal/deal"
	"github.com/fihsr/giftescrow/internal/events"
	"github.com/fihsr/giftescrow/internal/flow"
	"github.com/fihsr/giftescrow/internal/ledger"
	"github.com/fihsr/giftescrow/internal/ledger/memory"
	"github.com/fihsr/giftescrow/internal/ledger/postgres"
	"github.com/fihsr/giftescrow/internal/metrics"
	"github.com/fihsr/giftescrow/internal/session"
)

const eventQueueSize = 256

// App holds the wired escrow bot.
type App struct {
	cfg *config.Config

	store      ledger.Store
	metrics    *metrics.Collector
	metricsSrv *metrics.Server
	publisher  events.Publisher
	notifier   *bot.Notifier
	router     *flow.Router
	registry   *tg.Registry
	queue      *tgmiddleware.UserQueue
}

// Options lets tests replace the bootstrap pipeline.
type Options struct {
	Bootstrap func(bootstrap.Options) (*bootstrap.Result, error)
}

// New runs the bootstrap pipeline and builds every service.
func New(cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	run := opts.Bootstrap
	if run == nil {
		run = bootstrap.Run
	}
	res, err := run(bootstrap.Options{
		Config:       cfg.CoreConfig(),
		Database:     cfg.Database,
		SkipDatabase: !cfg.UsesDatabase(),
	})
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, metrics: metrics.New()}
	if res.DB != nil {
		a.store = postgres.New(res.DB)
	} else {
		a.store = memory.New()
	}

	newID, err := deal.NewIDGenerator(cfg.Escrow.IDLength)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	deals, err := deal.NewService(deal.Options{
		Store:         a.store,
		NewID:         newID,
		MaxIDAttempts: cfg.Escrow.MaxIDAttempts,
		Metrics:       a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a.publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		a.publisher = events.NewAsync(events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic), eventQueueSize)
	}
	if cfg.Metrics.Listen != "" {
		a.metricsSrv = metrics.NewServer(cfg.Metrics.Listen, a.metrics)
	}

	a.notifier = bot.NewNotifier(bot.Texts{
		BotUsername:    cfg.Escrow.BotUsername,
		SupportContact: cfg.Escrow.SupportContact,
		ReviewsChannel: cfg.Escrow.ReviewsChannel,
	})
	a.router, err = flow.NewRouter(flow.Options{
		Store:     a.store,
		Deals:     deals,
		Sessions:  session.New(a.store, a.metrics),
		Notifier:  a.notifier,
		Publisher: a.publisher,
		Metrics:   a.metrics,
		AdminID:   cfg.Telegram.AdminID,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a.queue = tgmiddleware.NewUserQueue()
	a.registry = tg.NewRegistry()
	if err := bot.Register(a.registry, a.router); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	logger.Info(context.Background(), logger.ComponentWire, "app.wire",
		slog.String("status", "ok"),
		slog.String("driver", cfg.Storage.Driver),
		slog.Bool("kafka", len(cfg.Kafka.Brokers) > 0),
		slog.Bool("metrics", a.metricsSrv != nil),
	)
	return a, nil
}

// TelegramRunOptions builds the runtime options for the shared runner.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	core := a.cfg.CoreConfig()
	routes := tgrouter.CommandRoutes(a.registry, tgrouter.CommandRouteOptions{
		AdminID:       core.Telegram.AdminID,
		OnAdminReject: bot.AdminReject(a.router),
	})
	routes = append(routes, tgrouter.CallbackRoute(a.registry, tgrouter.CallbackOptions{}))
	routes = append(routes, tgrouter.TextRoutes(a.registry, tgrouter.TextOptions{})...)

	return tg.RunOptions{
		Config:   core,
		Registry: a.registry,
		DispatcherOptions: tgsender.Options{
			MaxRetries: 2,
			OnFailure:  bot.CountFailures(a.metrics),
		},
		Queue: a.queue,
		Middlewares: tg.DefaultMiddlewares(core, tg.Hooks{
			OnLimited: bot.Limited,
			OnPanic:   a.notifier.OnPanic,
		}),
		Routes:  routes,
		OnStart: a.start,
		OnStop:  a.stop,
	}, nil
}

func (a *App) start(ctx context.Context, rt tg.Runtime) error {
	if rt.Bot == nil {
		return errors.New("app: runtime without bot")
	}
	var username string
	if rt.Bot.Me != nil {
		username = rt.Bot.Me.Username
	}
	if username == "" && a.cfg.Escrow.BotUsername == "" {
		return errors.New("app: bot username unknown; set escrow.bot_username")
	}
	a.notifier.Attach(rt.Bot, username)
	if a.metricsSrv != nil {
		a.metricsSrv.Start(ctx)
	}
	return nil
}

func (a *App) stop(ctx context.Context, _ tg.Runtime) error {
	a.notifier.Detach()
	return a.Close(ctx)
}

// Close releases the metrics listener, the event stream and the store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}
	if err := a.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("events: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	err := errors.Join(errs...)
	logger.Info(ctx, logger.ComponentWire, "app.close",
		slog.String("status", logger.Status(err)),
	)
	return err
}
