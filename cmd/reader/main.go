package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/diondokter/p1-reader/internal/config"
	"github.com/diondokter/p1-reader/internal/database"
	"github.com/diondokter/p1-reader/internal/gridmeter"
	httpHandlers "github.com/diondokter/p1-reader/internal/http"
	"github.com/diondokter/p1-reader/internal/logging"
	"github.com/diondokter/p1-reader/internal/reader"
	"github.com/diondokter/p1-reader/internal/repository"
	"github.com/diondokter/p1-reader/internal/service"
	"github.com/diondokter/p1-reader/internal/sink"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	logging.Setup(config.LogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("reader failed")
	}
	log.Info().Msg("reader stopped")
}

func run(ctx context.Context) error {
	log.Info().Msg("running database migrations")
	if err := database.Migrate(config.DatabaseURL(), database.ReaderSet); err != nil {
		return err
	}
	db, err := database.Connect(ctx, config.DatabaseURL())
	if err != nil {
		return err
	}
	defer db.Close()

	system, err := gridmeter.ParseMeasuringSystem(config.GridMeterMeasuringSystem())
	if err != nil {
		return err
	}
	image := gridmeter.NewImage(gridmeter.InstantaneousData{})
	handler, err := gridmeter.NewHandler(image, system, config.GridMeterSerial())
	if err != nil {
		return err
	}
	meter, err := gridmeter.Start(config.GridMeterAddress(), handler)
	if err != nil {
		return err
	}
	defer meter.Stop()

	mirror, err := sink.FromConfig(ctx, "p1-reader")
	if err != nil {
		return err
	}
	defer mirror.Close()

	src, err := openSource()
	if err != nil {
		return err
	}
	defer src.Close()

	svc := service.NewElectricityService(repository.New(db), mirror, image)
	log.Info().Str("source", config.P1Source()).Msg("ready")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	if addr := config.MetricsAddr(); addr != "" {
		g.Go(func() error { return httpHandlers.Serve(ctx, httpHandlers.NewApp(), addr) })
	}
	g.Go(func() error {
		// The pipeline also ends when a capture or stream source runs dry.
		defer cancel()
		return reader.NewPipeline(src, svc).Run(ctx)
	})
	return g.Wait()
}

func openSource() (reader.TelegramSource, error) {
	switch kind := config.P1Source(); kind {
	case "serial":
		return reader.OpenSerial(config.SerialPort(), config.SerialBaud(), config.SerialReadTimeout())
	case "mqtt":
		client, err := sink.DialMQTT(config.MQTTBroker(), "p1-reader-source")
		if err != nil {
			return nil, err
		}
		return reader.SubscribeMQTT(client, config.P1MQTTTopic())
	default:
		return nil, fmt.Errorf("P1_SOURCE %q: want serial or mqtt", kind)
	}
}
