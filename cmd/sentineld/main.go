package main

import (
	"context"
	"flag"
	"log"

	"sentinel/internal/config"
	"sentinel/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "Configuration file path (default: $SENTINEL_CONFIG or ~/.config/sentinel/config.toml)")
	skipPreflight := flag.Bool("skip-preflight", false, "Start even when preflight checks fail")
	flag.Parse()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{SkipPreflight: *skipPreflight}); err != nil {
		log.Fatalf("daemon: %v", err)
	}
}
