// Command dispatchd runs the print dispatch service: it formats orders,
// queues them per printer and delivers them over the configured transports.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	_ "time/tzdata"

	"github.com/orrn/printdispatch/internal/bootstrap"
	"github.com/orrn/printdispatch/internal/config"
	"github.com/orrn/printdispatch/internal/logging"
)

func main() {
	if err := run(); err != nil {
		slog.Error("dispatchd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	defaultPath := os.Getenv("DISPATCH_CONFIG")
	if defaultPath == "" {
		defaultPath = "dispatch.yaml"
	}
	configPath := flag.String("config", defaultPath, "Path to config file")
	validateOnly := flag.Bool("validate", false, "Validate the config and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.New(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	if *validateOnly {
		logger.Info("configuration is valid", "config", *configPath, "printers", len(cfg.Printers))
		return nil
	}

	return bootstrap.RunDispatch(cfg, logger)
}
