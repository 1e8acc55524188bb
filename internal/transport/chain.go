package transport

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

const DefaultAttemptTimeout = 10 * time.Second

var ErrNoTransports = errors.New("no transports configured")

// Observer is told about every transport attempt. err is nil on success.
type Observer func(kind Kind, err error, elapsed time.Duration)

// Chain tries its transports in order until one delivers.
type Chain struct {
	transports     []Transport
	attemptTimeout time.Duration
	logger         *slog.Logger
	observe        Observer
}

func NewChain(transports []Transport, attemptTimeout time.Duration, logger *slog.Logger) *Chain {
	if attemptTimeout <= 0 {
		attemptTimeout = DefaultAttemptTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		transports:     transports,
		attemptTimeout: attemptTimeout,
		logger:         logger,
	}
}

// WithObserver installs an attempt observer.
func (c *Chain) WithObserver(o Observer) *Chain {
	c.observe = o
	return c
}

// Kinds lists the transport kinds in delivery order.
func (c *Chain) Kinds() []string {
	kinds := make([]string, 0, len(c.transports))
	for _, t := range c.transports {
		kinds = append(kinds, string(t.Kind()))
	}
	return kinds
}

// Prober returns the first transport able to report printer status, or nil.
func (c *Chain) Prober() Prober {
	for _, t := range c.transports {
		if p, ok := t.(Prober); ok {
			return p
		}
	}
	return nil
}

// Deliver sends p through each transport in turn, each attempt bounded by
// the attempt timeout. It returns the kind that delivered, or a
// *ChainError holding every failure.
func (c *Chain) Deliver(ctx context.Context, p Payload) (Kind, error) {
	if len(c.transports) == 0 {
		return "", ErrNoTransports
	}

	failures := make([]error, 0, len(c.transports))
	for _, t := range c.transports {
		if err := ctx.Err(); err != nil {
			failures = append(failures, Classify(t.Kind(), err))
			break
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
		start := time.Now()
		err := t.Send(attemptCtx, p)
		if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ReasonOf(err) == "" {
			err = newError(t.Kind(), ReasonTimeout, err)
		}
		err = Classify(t.Kind(), err)
		cancel()

		if c.observe != nil {
			c.observe(t.Kind(), err, time.Since(start))
		}

		if err == nil {
			c.logger.Debug("delivered", "printer", p.PrinterID, "job", p.JobID, "transport", t.Kind())
			return t.Kind(), nil
		}

		c.logger.Warn("transport failed", "printer", p.PrinterID, "job", p.JobID,
			"transport", t.Kind(), "reason", ReasonOf(err), "error", err)
		failures = append(failures, err)
	}

	return "", &ChainError{Attempts: failures}
}

// ChainError aggregates the failure of every transport tried.
type ChainError struct {
	Attempts []error
}

func (e *ChainError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, err := range e.Attempts {
		parts[i] = err.Error()
	}
	return "all transports failed: " + strings.Join(parts, "; ")
}

func (e *ChainError) Unwrap() []error {
	return e.Attempts
}
