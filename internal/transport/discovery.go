package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultProbeTimeout  = 500 * time.Millisecond
	DefaultMaxConcurrent = 4
)

var ErrNoResponder = errors.New("no printer answered on any candidate address")

// Discoverer finds the address of a printer accepting raw connections.
type Discoverer interface {
	Discover(ctx context.Context) (string, error)
}

// ProbeDiscoverer dials every candidate with a short timeout, a bounded
// number at a time, and returns the first responder in list order.
type ProbeDiscoverer struct {
	Candidates    []string
	ProbeTimeout  time.Duration
	MaxConcurrent int
}

func NewProbeDiscoverer(candidates []string, probeTimeout time.Duration, maxConcurrent int) *ProbeDiscoverer {
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	addrs := make([]string, len(candidates))
	for i, c := range candidates {
		addrs[i] = WithDefaultPort(c)
	}
	return &ProbeDiscoverer{
		Candidates:    addrs,
		ProbeTimeout:  probeTimeout,
		MaxConcurrent: maxConcurrent,
	}
}

func (d *ProbeDiscoverer) Discover(ctx context.Context) (string, error) {
	alive := make([]bool, len(d.Candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.MaxConcurrent)
	for i, addr := range d.Candidates {
		i, addr := i, addr
		g.Go(func() error {
			conn, err := dial(gctx, addr, d.ProbeTimeout)
			if err != nil {
				return nil
			}
			_ = conn.Close()
			alive[i] = true
			return nil
		})
	}
	_ = g.Wait()

	for i, ok := range alive {
		if ok {
			return d.Candidates[i], nil
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", ErrNoResponder
}

// Discovery is the last-resort transport: it sends to whatever printer the
// Discoverer finds, remembering the address for the next document.
type Discovery struct {
	discoverer     Discoverer
	connectTimeout time.Duration
	writeTimeout   time.Duration
	logger         *slog.Logger

	mu   sync.Mutex
	last string
}

func NewDiscovery(d Discoverer, connectTimeout, writeTimeout time.Duration, logger *slog.Logger) *Discovery {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discovery{
		discoverer:     d,
		connectTimeout: connectTimeout,
		writeTimeout:   writeTimeout,
		logger:         logger,
	}
}

func (d *Discovery) Kind() Kind {
	return KindDiscovery
}

// LastAddress is the most recent address that accepted a document.
func (d *Discovery) LastAddress() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func (d *Discovery) remember(addr string) {
	d.mu.Lock()
	d.last = addr
	d.mu.Unlock()
}

func (d *Discovery) Send(ctx context.Context, p Payload) error {
	if cached := d.LastAddress(); cached != "" {
		err := sendTCP(ctx, KindDiscovery, cached, p.Content, d.connectTimeout, d.writeTimeout)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		d.logger.Debug("cached printer address failed, probing again", "address", cached, "error", err)
		d.remember("")
	}

	addr, err := d.discoverer.Discover(ctx)
	if err != nil {
		if errors.Is(err, ErrNoResponder) {
			return newError(KindDiscovery, ReasonNotConnected, err)
		}
		return Classify(KindDiscovery, fmt.Errorf("discover: %w", err))
	}

	d.logger.Info("discovered printer", "printer", p.PrinterID, "address", addr)
	if err := sendTCP(ctx, KindDiscovery, addr, p.Content, d.connectTimeout, d.writeTimeout); err != nil {
		return err
	}
	d.remember(addr)
	return nil
}
