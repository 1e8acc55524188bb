package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/orrn/printdispatch/internal/api/middleware"
	"github.com/orrn/printdispatch/internal/config"
	"github.com/orrn/printdispatch/internal/gateway"
)

// LoadCredentials opens sealed api keys and builds the tenant lookup.
func LoadCredentials(cfg *config.GatewayConfig) (*gateway.Credentials, error) {
	var key []byte
	if cfg.SealKey != "" {
		k, err := gateway.ParseSealKey(cfg.SealKey)
		if err != nil {
			return nil, err
		}
		key = k
	}

	specs := make([]gateway.CredentialSpec, 0, len(cfg.Credentials))
	for _, c := range cfg.Credentials {
		apiKey, err := gateway.Unseal(key, c.APIKey)
		if err != nil {
			return nil, fmt.Errorf("credential %s: %w", c.Key, err)
		}
		specs = append(specs, gateway.CredentialSpec{Key: c.Key, APIKey: apiKey, Aliases: c.Aliases})
	}
	return gateway.NewCredentials(specs, cfg.DefaultCredential)
}

// NewGatewayRouter mounts the gateway behind the per-IP limiter and the
// service token check.
func NewGatewayRouter(cfg *config.GatewayConfig, creds *gateway.Credentials, broker gateway.Broker, limiter *gateway.FixedWindow, logger *slog.Logger) (*gin.Engine, error) {
	router, err := newRouter(cfg.Server, logger)
	if err != nil {
		return nil, err
	}
	h := gateway.NewHandler(creds, broker, logger)
	gateway.RegisterRoutes(router, h,
		middleware.RateLimit(limiter, logger),
		middleware.ServiceAuth(cfg.ServiceSecret),
	)
	return router, nil
}

// RunGateway serves the cloud gateway until SIGINT or SIGTERM.
func RunGateway(cfg *config.GatewayConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	creds, err := LoadCredentials(cfg)
	if err != nil {
		return err
	}
	if creds.Len() == 0 {
		logger.Warn("no broker credentials configured; every dispatch will fail")
	}

	broker := gateway.NewBrokerClient(cfg.Broker.BaseURL, cfg.Broker.Timeout, cfg.Broker.RequestsPerSecond, cfg.Broker.Burst)
	limiter := gateway.NewFixedWindow(cfg.RateLimit.Requests, cfg.RateLimit.Window)

	router, err := NewGatewayRouter(cfg, creds, broker, limiter, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("cloud gateway listening", "addr", srv.Addr, "credentials", creds.Len(), "broker", cfg.Broker.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.RateLimit.Window)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := limiter.Sweep(); n > 0 {
					logger.Debug("rate limit windows swept", "removed", n)
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down cloud gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("cloud gateway stopped")
	return nil
}
