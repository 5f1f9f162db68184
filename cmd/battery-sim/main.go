// Command battery-sim estimates what a home battery would have saved on the
// recorded electricity data.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/diondokter/p1-reader/internal/batterysim"
	"github.com/diondokter/p1-reader/internal/cloud"
	"github.com/diondokter/p1-reader/internal/config"
	"github.com/diondokter/p1-reader/internal/database"
	"github.com/diondokter/p1-reader/internal/domain"
	"github.com/diondokter/p1-reader/internal/logging"
	"github.com/diondokter/p1-reader/internal/repository"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	pflag.StringP("json-path", "j", "", "JSON export to simulate on")
	pflag.Bool("from-db", false, "read the data points from DATABASE_URL instead of a file")
	pflag.String("s3-key", "", "download the JSON export from the configured S3 bucket")
	pflag.StringP("battery-stats-out", "b", "", "write per-battery results as JSON to this file")
	pflag.Parse()

	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		log.Fatal().Err(err).Msg("bind flags")
	}
	logging.Setup(config.LogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	points, err := load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("loading data failed")
	}
	if len(points) == 0 {
		log.Warn().Msg("no data available")
		return
	}

	if batterysim.SortByTime(points) {
		log.Info().Msg("data was not sorted by time, sorted it")
	}
	gaps := batterysim.FindGaps(points)
	log.Info().Int("gaps", gaps.Count).Dur("largest", gaps.Largest).Msg("checked for gaps in data")

	scenarios := append([]batterysim.Scenario{batterysim.Baseline}, batterysim.Scenarios()...)
	results, err := batterysim.Run(ctx, batterysim.NetZero, points, scenarios)
	if err != nil {
		log.Fatal().Err(err).Msg("simulation interrupted")
	}

	baseline := results[0].Report
	if err := batterysim.WriteBaseline(os.Stdout, baseline); err != nil {
		log.Fatal().Err(err).Msg("write report")
	}
	comparisons := make([]batterysim.Comparison, 0, len(results)-1)
	for _, r := range results[1:] {
		c := batterysim.Compare(r, baseline)
		comparisons = append(comparisons, c)
		if err := batterysim.WriteComparison(os.Stdout, c); err != nil {
			log.Fatal().Err(err).Msg("write report")
		}
	}

	if path := viper.GetString("battery-stats-out"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			log.Fatal().Err(err).Msg("create stats file")
		}
		defer f.Close()
		if err := batterysim.WriteStats(f, comparisons); err != nil {
			log.Fatal().Err(err).Msg("write stats")
		}
		log.Info().Str("file", path).Msg("battery stats written")
	}
}

func load(ctx context.Context) ([]domain.ElectricityDataPoint, error) {
	switch {
	case viper.GetBool("from-db"):
		db, err := database.Connect(ctx, config.DatabaseURL())
		if err != nil {
			return nil, err
		}
		defer db.Close()
		return repository.New(db).ListElectricity(ctx, domain.TimeRange{}, 0)

	case viper.GetString("s3-key") != "":
		s3c, err := cloud.NewS3Client(ctx, config.AWSRegion(), config.S3Bucket())
		if err != nil {
			return nil, err
		}
		data, err := s3c.DownloadFile(ctx, viper.GetString("s3-key"))
		if err != nil {
			return nil, err
		}
		return batterysim.Decode(data)

	case viper.GetString("json-path") != "":
		return batterysim.LoadFile(viper.GetString("json-path"))

	default:
		return nil, errors.New("one of --json-path, --from-db or --s3-key is required")
	}
}
