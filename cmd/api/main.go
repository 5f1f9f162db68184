package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/diondokter/p1-reader/internal/config"
	"github.com/diondokter/p1-reader/internal/database"
	httpHandlers "github.com/diondokter/p1-reader/internal/http"
	"github.com/diondokter/p1-reader/internal/logging"
	"github.com/diondokter/p1-reader/internal/repository"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	logging.Setup(config.LogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, config.DatabaseURL())
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()

	app := httpHandlers.NewApp()
	httpHandlers.Register(app, repository.New(db))

	if err := httpHandlers.Serve(ctx, app, config.APIAddr()); err != nil {
		log.Fatal().Err(err).Msg("server exit")
	}
	log.Info().Msg("api stopped")
}
