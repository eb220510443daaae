package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"dev.acmcsuf.com/lampd"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"libdb.so/hrt"
	"libdb.so/hserve"
)

func main() {
	log.SetFlags(0)
	pflag.Parse()

	if err := loadConfig(configPath); err != nil {
		log.Fatal(err)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}

	logHandler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05 PM", // extended time.Kitchen
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})

	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	rgb, err := newRGBController(cfg)
	if err != nil {
		return fmt.Errorf("failed to create the %s LED driver: %w", cfg.Driver, err)
	}
	if closer, ok := rgb.(io.Closer); ok {
		defer closer.Close()
	}

	driver := newStripDriver(stripDriverConfig{
		Controller: rgb,
		FrameRate:  cfg.FrameRate,
		Logger:     logger.With("component", "driver"),
	})

	viewers := lampd.NewServer(lampd.ServerOpts{
		Logger: logger.With("component", "viewers"),
	})

	var store *lampd.PropertyStore

	controller := lampd.NewController(lampd.ControllerOpts{
		Sink:          lampd.MultiSink{driver, viewers},
		NumLEDs:       cfg.NumLEDs,
		FrameInterval: time.Second / time.Duration(cfg.FrameRate),
		OnStateChange: func(lampd.State) { store.SyncState() },
		Logger:        logger.With("component", "controller"),
	})
	defer controller.Close()

	store = lampd.NewPropertyStore(controller, controller.State(), logger.With("component", "properties"))

	errg, ctx := errgroup.WithContext(ctx)

	errg.Go(func() error {
		return driver.start(ctx)
	})

	if cfg.MQTTBroker != "" {
		errg.Go(func() error {
			return runHomie(ctx, store, logger.With("component", "homie"))
		})
	} else {
		logger.Warn("no MQTT broker configured, Homie is disabled")
	}

	errg.Go(func() error {
		httpLogger := httplog.NewLogger("lampd", httplog.Options{
			LogLevel: slog.LevelDebug,
			Concise:  true,
		})

		r := chi.NewRouter()
		r.Use(httplog.RequestLogger(httpLogger))
		r.Get("/ws", viewers.ServeHTTP)
		r.Get("/events", (&eventsHandler{
			store:  store,
			logger: logger.With("component", "events"),
		}).ServeHTTP)
		r.With(hrt.Use(hrtOpts)).Get("/properties", hrt.Wrap(
			func(ctx context.Context, _ getPropertiesRequest) (map[lampd.PropertyID]string, error) {
				return store.Values(), nil
			},
		))

		logger.Info(
			"starting public HTTP server",
			"addr", cfg.HTTPAddr)

		return hserve.ListenAndServe(ctx, cfg.HTTPAddr, r)
	})

	errg.Go(func() error {
		admin := newAdminHandler(store, viewers)

		logger.Info(
			"starting admin HTTP server",
			"addr", cfg.HTTPAdminAddr)

		return hserve.ListenAndServe(ctx, cfg.HTTPAdminAddr, admin)
	})

	return errg.Wait()
}

type getPropertiesRequest struct{}
