package transport

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/orrn/printdispatch/internal/config"
)

// FromConfig resolves the transport list of printer printerID once, at
// startup. gw may be nil when no cloud transport is configured.
func FromConfig(printerID string, specs []config.TransportConfig, gw *GatewayClient, logger *slog.Logger) ([]Transport, error) {
	out := make([]Transport, 0, len(specs))
	for i, spec := range specs {
		switch Kind(strings.ToLower(spec.Kind)) {
		case KindNetwork:
			out = append(out, NewNetwork(spec.Address, spec.ConnectTimeout, spec.WriteTimeout))
		case KindSerial:
			out = append(out, NewSerial(spec.Device, spec.BaudRate, spec.AutoCut))
		case KindCloud:
			if gw == nil {
				return nil, fmt.Errorf("transports[%d]: cloud transport needs a gateway client", i)
			}
			out = append(out, NewCloud(gw, printerID, spec.Tenant, spec.PrinterID))
		case KindDiscovery:
			d := NewProbeDiscoverer(spec.Candidates, spec.ProbeTimeout, spec.MaxConcurrent)
			out = append(out, NewDiscovery(d, spec.ConnectTimeout, spec.WriteTimeout, logger))
		default:
			return nil, fmt.Errorf("transports[%d]: unknown kind %q", i, spec.Kind)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoTransports
	}
	return out, nil
}
