package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"TradeAlchemist/internal/handler/stream"
	"TradeAlchemist/internal/usecase"
	"TradeAlchemist/pkg/config"
	xhttp "TradeAlchemist/pkg/http"
	pkgkafka "TradeAlchemist/pkg/kafka"
	"TradeAlchemist/pkg/logger"
)

// App owns the process lifecycle for every run mode.
type App struct {
	cfg         *config.Config
	log         *logger.Logger
	ticks       usecase.TickRunner
	initializer *usecase.MarketInitializer
	scheduler   *usecase.TickScheduler
	consumer    *pkgkafka.Consumer
	trigger     pkgkafka.MessageHandler
	httpServer  *xhttp.Server
	hub         *stream.Hub
}

// Components groups what New needs. Scheduler, Consumer and Trigger may be nil.
type Components struct {
	Ticks       usecase.TickRunner
	Initializer *usecase.MarketInitializer
	Scheduler   *usecase.TickScheduler
	Consumer    *pkgkafka.Consumer
	Trigger     pkgkafka.MessageHandler
	HTTPServer  *xhttp.Server
	Hub         *stream.Hub
}

// New creates an App. Backend clients are released by the caller.
func New(cfg *config.Config, log *logger.Logger, c Components) *App {
	return &App{
		cfg:         cfg,
		log:         log.With(logger.String("component", "app")),
		ticks:       c.Ticks,
		initializer: c.Initializer,
		scheduler:   c.Scheduler,
		consumer:    c.Consumer,
		trigger:     c.Trigger,
		httpServer:  c.HTTPServer,
		hub:         c.Hub,
	}
}

// InitMarket resets the regime and rebuilds live prices from history.
func (a *App) InitMarket(ctx context.Context) (usecase.InitReport, error) {
	if _, err := a.initializer.InitRegime(ctx); err != nil {
		return usecase.InitReport{}, err
	}
	return a.initializer.InitLivePrices(ctx)
}

// RunOnce runs a single tick against the configured backend.
func (a *App) RunOnce(ctx context.Context) error {
	if err := a.prepare(ctx); err != nil {
		return err
	}
	res, err := a.ticks.RunTick(ctx)
	if err != nil {
		return fmt.Errorf("run tick: %w", err)
	}
	a.log.Info("single tick done",
		logger.String("tick_id", res.TickID),
		logger.String("regime", string(res.Regime)),
		logger.Int("updated", res.Updated),
	)
	return nil
}

// Run serves HTTP, the tick stream, the scheduler and the trigger consumer until
// SIGINT/SIGTERM or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.prepare(ctx); err != nil {
		return err
	}

	if a.consumer != nil && a.trigger != nil {
		a.consumer.RegisterHandler(a.trigger)
		a.consumer.WithConsumerHook(pkgkafka.TraceHook(a.log, a.cfg.Scheduler.Interval))
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("start trigger consumer: %w", err)
		}
		a.log.Info("tick trigger consumer started", logger.String("topic", a.trigger.Topic()))
	}

	schedDone := make(chan struct{})
	if a.scheduler != nil {
		go func() {
			defer close(schedDone)
			_ = a.scheduler.Run(ctx)
		}()
	} else {
		close(schedDone)
	}

	errCh := a.httpServer.Start()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err, ok := <-errCh:
		if ok && err != nil {
			runErr = err
			a.log.Error("http server failed", logger.Error(err))
		}
		stop()
	}

	<-schedDone
	return errors.Join(runErr, a.shutdown())
}

// prepare makes sure a regime and a live snapshot exist before the first tick.
func (a *App) prepare(ctx context.Context) error {
	st, created, err := a.initializer.EnsureRegime(ctx)
	if err != nil {
		return err
	}
	if !created {
		a.log.Info("resuming market",
			logger.String("regime", string(st.Regime)),
			logger.Int("remaining", st.RemainingTicks),
		)
	}
	rep, seeded, err := a.initializer.EnsureLivePrices(ctx)
	if err != nil {
		return err
	}
	if seeded {
		a.log.Info("live prices seeded from history", logger.Int("initialized", rep.Initialized))
	}
	return nil
}

func (a *App) shutdown() error {
	a.log.Info("shutting down")
	ctx := context.Background()

	var errs []error
	if err := a.httpServer.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.consumer != nil && a.trigger != nil {
		stopCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.consumer.Stop(stopCtx); err != nil {
			a.log.Warn("kafka consumer stop error", logger.Error(err))
		}
	}
	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}
