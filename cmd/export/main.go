// Command export dumps electricity data points as the JSON array that
// battery-sim reads, and can push the dump to S3.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/diondokter/p1-reader/internal/cloud"
	"github.com/diondokter/p1-reader/internal/config"
	"github.com/diondokter/p1-reader/internal/database"
	"github.com/diondokter/p1-reader/internal/domain"
	"github.com/diondokter/p1-reader/internal/logging"
	"github.com/diondokter/p1-reader/internal/repository"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	start := pflag.String("start", "", "first sample time, RFC 3339 (default: everything)")
	end := pflag.String("end", "", "end of the range, exclusive, RFC 3339")
	out := pflag.String("out", "electricity.json", "output file")
	upload := pflag.Bool("upload", false, "upload the file to the configured S3 bucket")
	key := pflag.String("key", "", "S3 object key (default: exports/<file name>)")
	list := pflag.Bool("list", false, "list exports in the S3 bucket and exit")
	pflag.Parse()

	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	logging.Setup(config.LogLevel())
	ctx := context.Background()

	if *list {
		s3c, err := cloud.NewS3Client(ctx, config.AWSRegion(), config.S3Bucket())
		if err != nil {
			log.Fatal().Err(err).Msg("s3 client")
		}
		keys, err := s3c.ListDataFiles(ctx, "exports/")
		if err != nil {
			log.Fatal().Err(err).Msg("list exports")
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return
	}

	rng, err := parseRange(*start, *end)
	if err != nil {
		log.Fatal().Err(err).Msg("bad range")
	}

	db, err := database.Connect(ctx, config.DatabaseURL())
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()

	points, err := repository.New(db).ListElectricity(ctx, rng, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("query electricity data points")
	}
	if points == nil {
		points = []domain.ElectricityDataPoint{}
	}
	data, err := json.Marshal(points)
	if err != nil {
		log.Fatal().Err(err).Msg("encode")
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		log.Fatal().Err(err).Msg("write export")
	}
	log.Info().Str("file", *out).Int("entries", len(points)).Msg("export written")

	if !*upload {
		return
	}
	objectKey := *key
	if objectKey == "" {
		objectKey = "exports/" + filepath.Base(*out)
	}
	s3c, err := cloud.NewS3Client(ctx, config.AWSRegion(), config.S3Bucket())
	if err != nil {
		log.Fatal().Err(err).Msg("s3 client")
	}
	if err := s3c.UploadDataFile(ctx, objectKey, data); err != nil {
		log.Fatal().Err(err).Msg("upload export")
	}
	url, err := s3c.PresignDownload(ctx, objectKey)
	if err != nil {
		log.Warn().Err(err).Msg("presign download")
		return
	}
	fmt.Println(url)
}

func parseRange(start, end string) (domain.TimeRange, error) {
	var rng domain.TimeRange
	for _, b := range []struct {
		flag string
		v    string
		dst  **time.Time
	}{{"start", start, &rng.Start}, {"end", end, &rng.End}} {
		if b.v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, b.v)
		if err != nil {
			return domain.TimeRange{}, fmt.Errorf("--%s: %w", b.flag, err)
		}
		*b.dst = &t
	}
	if rng.Start != nil && rng.End != nil && rng.End.Before(*rng.Start) {
		return domain.TimeRange{}, fmt.Errorf("--end %s is before --start %s", end, start)
	}
	return rng, nil
}
