package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fazecat/signalpilot/Internal/app"
	"github.com/fazecat/signalpilot/Internal/utils/config"
	"github.com/fazecat/signalpilot/interactive"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (defaults to ./config.yaml when present)")
	headless := flag.Bool("headless", false, "run the pipeline without the console menu")
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
	defer a.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *headless {
		if err := a.Start(ctx); err != nil {
			log.Fatalf("Failed to start pipeline: %v", err)
		}
		a.Logger.Info("🚀 Running headless, press Ctrl+C to stop")
		<-ctx.Done()
		a.Logger.Info("Shutdown signal received")
		return
	}

	fmt.Println("📈 SignalPilot ready. Start the pipeline from the menu.")
	done := make(chan error, 1)
	go func() {
		done <- interactive.Run(ctx, a, os.Stdin)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.Logger.WithError(err).Error("Console stopped")
		}
	case <-ctx.Done():
		fmt.Println("\nShutdown signal received")
	}
}
