// Package transport delivers raw printer bytes over the configured
// connection strategies and chains them in fallback order.
package transport

import "context"

type Kind string

const (
	KindNetwork   Kind = "network"
	KindSerial    Kind = "serial"
	KindCloud     Kind = "cloud"
	KindDiscovery Kind = "discovery"
)

// Payload is one fully formatted and encoded document.
type Payload struct {
	PrinterID string
	JobID     string
	// Document is the document kind ("kot", "receipt", ...). The cloud
	// transport uses it to pick the gateway action.
	Document string
	Title    string
	Content  []byte
}

// Transport delivers a payload or returns an *Error carrying a Reason.
// Send must honour ctx cancellation.
type Transport interface {
	Kind() Kind
	Send(ctx context.Context, p Payload) error
}

// Prober is implemented by transports that can ask the printer (or the
// broker) for its current state.
type Prober interface {
	Probe(ctx context.Context) (*Status, error)
}
