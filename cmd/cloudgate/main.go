// Command cloudgate runs the secure cloud gateway in front of the print
// broker.
//
// Usage:
//
//	cloudgate [-config cloudgate.yaml]
//	cloudgate genkey
//	cloudgate seal <api-key>
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/orrn/printdispatch/internal/bootstrap"
	"github.com/orrn/printdispatch/internal/config"
	"github.com/orrn/printdispatch/internal/gateway"
	"github.com/orrn/printdispatch/internal/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("cloudgate failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "genkey":
			key, err := gateway.GenerateSealKey()
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		case "seal":
			return seal(args[1:])
		}
	}

	defaultPath := os.Getenv("CLOUDGATE_CONFIG")
	if defaultPath == "" {
		defaultPath = "cloudgate.yaml"
	}
	fs := flag.NewFlagSet("cloudgate", flag.ExitOnError)
	configPath := fs.String("config", defaultPath, "Path to config file")
	validateOnly := fs.Bool("validate", false, "Validate the config and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadGateway(*configPath)
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
		if _, err := bootstrap.LoadCredentials(cfg); err != nil {
			return err
		}
		logger.Info("configuration is valid", "config", *configPath, "credentials", len(cfg.Credentials))
		return nil
	}

	return bootstrap.RunGateway(cfg, logger)
}

// seal prints a "sealed:" value for the config file, encrypted with
// CLOUDGATE_SEAL_KEY.
func seal(args []string) error {
	if len(args) != 1 || args[0] == "" {
		return errors.New("usage: cloudgate seal <api-key>")
	}
	key, err := gateway.ParseSealKey(os.Getenv("CLOUDGATE_SEAL_KEY"))
	if err != nil {
		return fmt.Errorf("CLOUDGATE_SEAL_KEY: %w", err)
	}
	sealed, err := gateway.Seal(key, args[0])
	if err != nil {
		return err
	}
	fmt.Println(sealed)
	return nil
}
