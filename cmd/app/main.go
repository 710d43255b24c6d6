package main

import (
	"context"
	"flag"
	"log"
	"os"

	"TradeAlchemist/internal/di"
	"TradeAlchemist/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	mode := flag.String("mode", "serve", "serve | tick | init")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	ctx := context.Background()
	switch *mode {
	case "serve":
		err = app.Run(ctx)
	case "tick":
		err = app.RunOnce(ctx)
	case "init":
		rep, initErr := app.InitMarket(ctx)
		if initErr == nil {
			log.Printf("market initialized: %d instruments, %d skipped", rep.Initialized, rep.Skipped)
		}
		err = initErr
	default:
		cleanup()
		log.Fatalf("unknown mode %q", *mode)
	}
	cleanup()

	if err != nil {
		log.Printf("%s failed: %v", *mode, err)
		os.Exit(1)
	}
}
