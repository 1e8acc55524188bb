package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

const (
	DefaultPort           = 9100
	DefaultConnectTimeout = 3 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
)

// Network writes raw bytes to a printer listening on a TCP socket,
// one connection per document.
type Network struct {
	Address        string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration

	now func() time.Time
}

func NewNetwork(address string, connectTimeout, writeTimeout time.Duration) *Network {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Network{
		Address:        WithDefaultPort(address),
		ConnectTimeout: connectTimeout,
		WriteTimeout:   writeTimeout,
		now:            time.Now,
	}
}

func (n *Network) Kind() Kind {
	return KindNetwork
}

func (n *Network) Send(ctx context.Context, p Payload) error {
	return sendTCP(ctx, KindNetwork, n.Address, p.Content, n.ConnectTimeout, n.WriteTimeout)
}

// Probe asks the printer for its printer and paper-roll status bytes.
// Printers that accept the connection but never answer are reported as
// connected with unknown paper state.
func (n *Network) Probe(ctx context.Context) (*Status, error) {
	st := &Status{Paper: PaperUnknown, CheckedAt: n.now()}

	conn, err := dial(ctx, n.Address, n.ConnectTimeout)
	if err != nil {
		err = Classify(KindNetwork, err)
		st.Error = err.Error()
		return st, err
	}
	defer conn.Close()

	st.Connected = true
	deadline := n.now().Add(n.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	printer, err := query(conn, requestPrinterStatus)
	if err != nil {
		if isTimeout(err) {
			st.Ready = true
			return st, nil
		}
		err = Classify(KindNetwork, err)
		st.Error = err.Error()
		return st, err
	}

	paper, err := query(conn, requestPaperStatus)
	if err != nil {
		err = Classify(KindNetwork, err)
		st.Error = err.Error()
		return st, err
	}

	decoded, err := decodeStatus(printer, paper, st.CheckedAt)
	if err != nil {
		st.Error = err.Error()
		return st, newError(KindNetwork, ReasonProtocol, err)
	}
	return decoded, nil
}

func query(conn net.Conn, req []byte) (byte, error) {
	if _, err := conn.Write(req); err != nil {
		return 0, err
	}
	var b [1]byte
	if _, err := io.ReadFull(conn, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func dial(ctx context.Context, address string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", address)
}

// sendTCP dials, writes content and closes. A cancelled ctx interrupts
// the write by moving the socket deadline to now.
func sendTCP(ctx context.Context, kind Kind, address string, content []byte, connectTimeout, writeTimeout time.Duration) error {
	conn, err := dial(ctx, address, connectTimeout)
	if err != nil {
		return Classify(kind, fmt.Errorf("dial %s: %w", address, err))
	}
	defer conn.Close()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.Write(content); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return Classify(kind, fmt.Errorf("write %s: %w", address, err))
	}

	return nil
}

// WithDefaultPort appends the raw printing port to a bare host.
func WithDefaultPort(address string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(DefaultPort))
}
