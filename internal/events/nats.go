package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/orrn/printdispatch/internal/core"
)

const DefaultSubjectPrefix = "printdispatch.jobs"

type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes each event on <prefix>.<printer>.<event>.
type NATSPublisher struct {
	conn   natsConn
	prefix string
	logger *slog.Logger
}

// ConnectNATS dials the server; the connection reconnects on its own.
func ConnectNATS(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats")

	nc, err := nats.Connect(url,
		nats.Name("printdispatch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return newNATSPublisher(nc, prefix, logger), nil
}

func newNATSPublisher(conn natsConn, prefix string, logger *slog.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: logger,
	}
}

func (p *NATSPublisher) Subject(ev core.Event) string {
	return p.prefix + "." + subjectToken(ev.PrinterID) + "." + string(ev.Type)
}

// Publish hands the event to the client's outbound buffer; it does not wait
// for the server.
func (p *NATSPublisher) Publish(ev core.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("failed to marshal event", "event", ev.Type, "error", err)
		return
	}
	if err := p.conn.Publish(p.Subject(ev), data); err != nil {
		p.logger.Warn("publish failed", "subject", p.Subject(ev), "error", err)
	}
}

func (p *NATSPublisher) Close(context.Context) error {
	return p.conn.Drain()
}

// subjectToken makes a printer id safe to use as one subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
