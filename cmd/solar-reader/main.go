package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/diondokter/p1-reader/internal/cloud"
	"github.com/diondokter/p1-reader/internal/config"
	"github.com/diondokter/p1-reader/internal/database"
	"github.com/diondokter/p1-reader/internal/gridmeter"
	httpHandlers "github.com/diondokter/p1-reader/internal/http"
	"github.com/diondokter/p1-reader/internal/inverter"
	"github.com/diondokter/p1-reader/internal/logging"
	"github.com/diondokter/p1-reader/internal/repository"
	"github.com/diondokter/p1-reader/internal/service"
	"github.com/diondokter/p1-reader/internal/sink"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// The solar side presents itself as a second, single-phase EM24.
const solarMeterSerial = "BY24600320012"

func main() {
	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	logging.Setup(config.LogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("solar reader failed")
	}
	log.Info().Msg("solar reader stopped")
}

func run(ctx context.Context) error {
	addr := config.InverterSockAddr()
	if addr == "" {
		return errors.New("INVERTER_SOCKADDR is not set")
	}

	log.Info().Msg("running database migrations")
	if err := database.Migrate(config.DatabaseURL(), database.SolarSet); err != nil {
		return err
	}
	db, err := database.Connect(ctx, config.DatabaseURL())
	if err != nil {
		return err
	}
	defer db.Close()

	image := gridmeter.NewImage(gridmeter.InstantaneousData{})
	handler, err := gridmeter.NewHandler(image, gridmeter.Setup1P, solarMeterSerial)
	if err != nil {
		return err
	}
	meter, err := gridmeter.Start(config.GridMeterAddress(), handler)
	if err != nil {
		return err
	}
	defer meter.Stop()

	mirror, err := sink.FromConfig(ctx, "solar-reader")
	if err != nil {
		return err
	}
	defer mirror.Close()

	var notifier service.Notifier
	if config.UseCloudServices() {
		sns, err := cloud.NewSNSClient(ctx, config.AWSRegion(), config.SNSTopicArn())
		if err != nil {
			return err
		}
		notifier = sns
	}
	alerts := service.NewAlertService(notifier, addr, config.UseCloudServices())

	poller := inverter.NewPoller(inverter.Config{
		Addr:         addr,
		UnitID:       config.InverterUnitID(),
		Interval:     config.InverterPollInterval(),
		Timeout:      config.InverterTimeout(),
		OfflineAfter: config.AlertOfflineAfter(),
	}, service.NewSolarService(repository.New(db), mirror, image), alerts)
	log.Info().Str("inverter", addr).Msg("ready")

	g, ctx := errgroup.WithContext(ctx)
	if metricsAddr := config.MetricsAddr(); metricsAddr != "" {
		g.Go(func() error { return httpHandlers.Serve(ctx, httpHandlers.NewApp(), metricsAddr) })
	}
	g.Go(func() error { return poller.Run(ctx) })
	return g.Wait()
}
