package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fazecat/signalpilot/Internal/app"
	settingshandler "github.com/fazecat/signalpilot/Internal/handlers/settings"
	"github.com/fazecat/signalpilot/Internal/utils/config"
	"github.com/fazecat/signalpilot/cmd/api/internal"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	autostart := flag.Bool("autostart", false, "start the pipeline and trading at boot")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	store := config.NewStore(cfg, config.ResolvedPath(*configPath))

	a, err := app.New(store)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	logger := a.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := internal.NewEventHub(logger)
	go hub.Run(ctx)
	unsubscribe := a.Bus.Subscribe(hub.Publish)

	jwtManager := internal.NewJWTManager(cfg.API.JWTSecret, cfg.API.TokenTTL)
	if jwtManager == nil {
		logger.Warn("JWT_SECRET_KEY not set, control routes are disabled")
	}

	apiServer := &internal.API{
		App:           a,
		Settings:      settingshandler.NewHandler(store),
		JWTManager:    jwtManager,
		Hub:           hub,
		AdminUser:     cfg.API.AdminUser,
		AdminPassword: cfg.API.AdminPassword,
		RunContext:    ctx,
	}

	if *autostart {
		if err := a.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to start pipeline")
		}
	}

	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           internal.NewRouter(apiServer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.API.Addr).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("API server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP shutdown did not finish cleanly")
	}
	unsubscribe()
	a.Shutdown()
}
