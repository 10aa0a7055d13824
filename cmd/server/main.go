package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pothole-prioritizer/backend/internal/config"
	"github.com/pothole-prioritizer/backend/internal/cooldown"
	"github.com/pothole-prioritizer/backend/internal/db"
	"github.com/pothole-prioritizer/backend/internal/detect"
	"github.com/pothole-prioritizer/backend/internal/geocode"
	httpapi "github.com/pothole-prioritizer/backend/internal/http"
	"github.com/pothole-prioritizer/backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "pothole-backend").Logger()

	ctx := context.Background()
	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect db")
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure schema")
	}

	var confirmCooldown cooldown.Cooldown
	if cfg.RedisURL == "" {
		confirmCooldown = cooldown.NewMemory(cfg.ConfirmCooldown)
		logger.Info().Msg("using in-memory confirmation cooldown")
	} else {
		rc, err := cooldown.NewRedis(cfg.RedisURL, cfg.ConfirmCooldown)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rc.Close()
		confirmCooldown = rc
	}

	var detector detect.Adapter
	if cfg.DetectorURL == "" {
		detector = detect.MockAdapter{ModelVersion: "mock-v1"}
		logger.Info().Msg("using mock detection adapter")
	} else {
		detector = detect.HTTPAdapter{BaseURL: cfg.DetectorURL}
	}

	geocoder := &geocode.NominatimGeocoder{BaseURL: cfg.GeocoderURL}

	intake := &service.IntakeService{
		Store:        store,
		Cooldown:     confirmCooldown,
		RadiusMeters: cfg.MatchRadiusM,
		Logger:       logger,
	}

	router := httpapi.Router(cfg, intake, detector, geocoder, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
