package main

import (
	"context"

	"github.com/joho/godotenv"

	"slidecast/internal/app"
	"slidecast/internal/config"
	"slidecast/internal/pkg/logger"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("invalid configuration", err)
	}

	log := app.NewLogger(cfg, "slidecast-api")
	log.Info("starting slidecast API", "version", app.Version)

	ctx := context.Background()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.LogFatal("failed to initialize", err)
	}

	if err := a.Serve(ctx); err != nil {
		log.LogFatal("server stopped", err)
	}
}
