package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"golang.org/x/sync/errgroup"

	"github.com/raterudder/homeplug/pkg/bus"
	"github.com/raterudder/homeplug/pkg/controller"
	"github.com/raterudder/homeplug/pkg/device"
	"github.com/raterudder/homeplug/pkg/forecast"
	"github.com/raterudder/homeplug/pkg/hostmetrics"
	"github.com/raterudder/homeplug/pkg/ingest"
	"github.com/raterudder/homeplug/pkg/log"
	"github.com/raterudder/homeplug/pkg/server"
	"github.com/raterudder/homeplug/pkg/settings"
	"github.com/raterudder/homeplug/pkg/storage"
	"github.com/raterudder/homeplug/pkg/utility"
)

func main() {
	// same sources as lflag.Configure
	src := lflag.NewSourceJSON(lflag.Sources{lflag.NewSourceEnv(), lflag.NewSourceCLI()})
	if err := run(src); err != nil {
		os.Exit(1)
	}
}

// run configures every package from src and blocks until every loop has
// stopped and the devices, bus and storage are closed.
func run(src lflag.Source) error {
	// init packages
	st := storage.Configured()
	devices := device.Configured()
	b := bus.Configured()
	sampler := hostmetrics.Configured()
	prices := utility.Configured()
	solar := forecast.Configured()
	runtimeSettings := settings.New(st)

	ctrl := controller.Configured(devices, b, runtimeSettings)
	ing := ingest.Configured(st, sampler, prices, solar, b)

	// init server
	srv := server.Configured(st, b, ctrl, runtimeSettings, solar, sampler)

	// parse flags
	lflag.Parse(src)

	// lflag automatically sets llog's level, but we need to set the slog level
	level, err := log.LevelFromLLog(llog.GetLevel())
	if err != nil {
		panic(err)
	}
	log.SetDefaultLogLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	log.Ctx(ctx).DebugContext(ctx, "logger configured", slog.String("level", level.String()))

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := st.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()
	defer devices.Close()
	defer func() {
		if err := b.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close bus mirror", slog.Any("error", err))
		}
	}()

	if err := runtimeSettings.Load(ctx); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to load settings, using defaults", slog.Any("error", err))
	}
	if err := ctrl.Reconcile(ctx); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to read relay state at startup", slog.Any("error", err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })
	g.Go(func() error { return ing.RunMetrics(gctx) })
	g.Go(func() error { return ing.RunForecasts(gctx) })
	g.Go(func() error { return b.Run(gctx) })
	g.Go(func() error {
		// Run will block until context is canceled or error happens
		return srv.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Ctx(ctx).ErrorContext(ctx, "homeplug failed", slog.Any("error", err))
		return err
	}
	log.Ctx(ctx).InfoContext(ctx, "homeplug exited cleanly")
	return nil
}
