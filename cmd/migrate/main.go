// Command migrate applies every migration set and exits. Build scripts run it
// against a throwaway database before building images.
package main

import (
	"github.com/diondokter/p1-reader/internal/config"
	"github.com/diondokter/p1-reader/internal/database"
	"github.com/diondokter/p1-reader/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	logging.Setup(config.LogLevel())

	for _, set := range database.Sets {
		if err := database.Migrate(config.DatabaseURL(), set); err != nil {
			log.Fatal().Err(err).Str("set", set.Name).Msg("migration failed")
		}
	}
	log.Info().Int("sets", len(database.Sets)).Msg("database is up to date")
}
