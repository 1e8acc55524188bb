// Package bootstrap wires configuration into running services.
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
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printdispatch/internal/api/handlers"
	"github.com/orrn/printdispatch/internal/api/middleware"
	"github.com/orrn/printdispatch/internal/config"
	"github.com/orrn/printdispatch/internal/core"
	"github.com/orrn/printdispatch/internal/db"
	"github.com/orrn/printdispatch/internal/document"
	"github.com/orrn/printdispatch/internal/events"
	"github.com/orrn/printdispatch/internal/metrics"
	"github.com/orrn/printdispatch/internal/transport"
)

const shutdownTimeout = 10 * time.Second

// Deps are the shared collaborators handed to every printer queue. Any of
// them may be nil.
type Deps struct {
	Events   core.EventSink
	Recorder core.Recorder
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// BuildRegistry resolves every configured printer into a formatter, an
// encoder and a transport chain, and registers its queue.
func BuildRegistry(cfg *config.Config, deps Deps) (*core.Registry, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	loc, err := cfg.Document.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid document timezone: %w", err)
	}

	var gw *transport.GatewayClient
	if needsGateway(cfg.Printers) {
		gw = transport.NewGatewayClient(cfg.Gateway.URL, cfg.Gateway.ServiceSecret, cfg.Gateway.Timeout)
	}

	taxes := make([]document.TaxRate, 0, len(cfg.Document.Taxes))
	for _, t := range cfg.Document.Taxes {
		taxes = append(taxes, document.TaxRate{Name: t.Name, RateBPS: t.RateBPS})
	}

	registry := core.NewRegistry(cfg.Queue.StatusTimeout, nil, logger)
	for _, p := range cfg.Printers {
		enc, err := document.NewEncoder(p.CodePage)
		if err != nil {
			return nil, fmt.Errorf("printer %s: %w", p.ID, err)
		}

		width := p.Width
		if width == 0 {
			width = cfg.Document.Width
		}
		f := document.NewFormatter(width)
		f.Taxes = taxes
		f.RoundToRupee = cfg.Document.RoundToRupee
		f.FeedLines = cfg.Document.FeedLines
		f.Location = loc
		f = f.WithCurrency(enc.CurrencyGlyph(cfg.Document.Currency, "Rs."))

		plog := logger.With("printer", p.ID)
		ts, err := transport.FromConfig(p.ID, p.Transports, gw, plog)
		if err != nil {
			return nil, fmt.Errorf("printer %s: %w", p.ID, err)
		}
		chain := transport.NewChain(ts, cfg.Queue.AttemptTimeout, plog)
		if deps.Metrics != nil {
			chain = chain.WithObserver(deps.Metrics.TransportObserver(p.ID))
		}
		kinds := chain.Kinds()

		target := core.Target{
			Info: core.PrinterInfo{
				ID:         p.ID,
				Tenant:     p.Tenant,
				Type:       p.Type,
				CodePage:   enc.Name(),
				Width:      width,
				Transports: kinds,
			},
			Tenant:     document.Tenant{Name: p.Tenant, AltBanner: p.AltBanner},
			Formatter:  f,
			Encoder:    enc,
			Dispatcher: chain,
			Prober:     chain.Prober(),
		}
		opts := core.QueueOptions{
			MaxAttempts: cfg.Queue.MaxAttempts,
			SettleDelay: cfg.Queue.SettleDelay,
			RetainJobs:  cfg.Queue.RetainJobs,
			Events:      deps.Events,
			Recorder:    deps.Recorder,
			Logger:      logger,
		}
		if deps.Metrics != nil {
			opts.Metrics = deps.Metrics
		}
		if err := registry.Add(target, opts); err != nil {
			return nil, err
		}
		logger.Info("printer registered", "printer", p.ID, "tenant", p.Tenant, "code_page", enc.Name(), "width", width, "transports", kinds)
	}

	return registry, nil
}

func needsGateway(printers []config.PrinterConfig) bool {
	for _, p := range printers {
		for _, t := range p.Transports {
			if strings.EqualFold(t.Kind, config.TransportCloud) {
				return true
			}
		}
	}
	return false
}

// BuildEvents creates the configured event sinks. The returned fanout is
// never nil; with no sinks it discards everything.
func BuildEvents(cfg config.EventsConfig, logger *slog.Logger) (*events.Fanout, error) {
	fanout := events.NewFanout()

	if len(cfg.Webhooks) > 0 {
		hooks := make([]events.Webhook, 0, len(cfg.Webhooks))
		for _, wh := range cfg.Webhooks {
			hooks = append(hooks, events.Webhook{
				URL:        wh.URL,
				Secret:     wh.Secret,
				Events:     wh.Events,
				MaxRetries: wh.MaxRetries,
			})
		}
		fanout.Add(events.NewWebhookSender(hooks, events.WebhookOptions{WorkerCount: cfg.Workers}, logger))
	}

	if cfg.NATS.URL != "" {
		pub, err := events.ConnectNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			_ = fanout.Close(context.Background())
			return nil, err
		}
		fanout.Add(pub)
	}

	return fanout, nil
}

// RunDispatch serves the control surface until SIGINT or SIGTERM, then
// drains the queues and closes the stores.
func RunDispatch(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Document.Location()
	if err != nil {
		return fmt.Errorf("invalid document timezone: %w", err)
	}

	router, err := newRouter(cfg.Server, logger)
	if err != nil {
		return err
	}

	var (
		store     *db.Store
		retention *db.Retention
		history   handlers.HistoryReader
		recorder  core.Recorder
	)
	if cfg.History.Driver != "" {
		store, err = db.Open(ctx, cfg.History.Driver, cfg.History.DSN)
		if err != nil {
			return err
		}
		defer store.Close()
		history, recorder = store, store
		logger.Info("job history enabled", "driver", store.Driver(), "retention_days", cfg.History.RetentionDays)

		retention = db.NewRetention(store, cfg.History.RetentionDays, logger)
		retention.Start()
		defer retention.Stop()
	}

	fanout, err := BuildEvents(cfg.Events, logger)
	if err != nil {
		return err
	}

	m := metrics.New()
	registry, err := BuildRegistry(cfg, Deps{
		Events:   fanout,
		Recorder: recorder,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		_ = fanout.Close(context.Background())
		return err
	}

	h := handlers.NewDispatchHandler(registry, history, loc, logger)
	handlers.RegisterDispatchRoutes(router, h, m.Handler())

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("dispatch service listening", "addr", srv.Addr, "printers", len(cfg.Printers))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := registry.Stop(shutdownCtx); err != nil {
		logger.Warn("queues did not drain before timeout", "error", err)
	}
	if err := fanout.Close(shutdownCtx); err != nil {
		logger.Warn("event sinks did not drain before timeout", "error", err)
	}

	logger.Info("dispatch service stopped")
	return nil
}

func newRouter(cfg config.ServerConfig, logger *slog.Logger) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	return router, nil
}
