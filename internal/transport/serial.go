package transport

import (
	"context"
	"errors"
	"fmt"

	"go.bug.st/serial"
)

const DefaultBaudRate = 9600

// GS V 66 0: feed to the cutter and partial cut.
var cutCommand = []byte{0x1d, 0x56, 0x42, 0x00}

type openFunc func(name string, mode *serial.Mode) (serial.Port, error)

// Serial writes to a USB or RS-232 printer through the OS serial device.
type Serial struct {
	Device   string
	BaudRate int
	AutoCut  bool

	open openFunc
}

func NewSerial(device string, baudRate int, autoCut bool) *Serial {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	return &Serial{
		Device:   device,
		BaudRate: baudRate,
		AutoCut:  autoCut,
		open:     serial.Open,
	}
}

func (s *Serial) Kind() Kind {
	return KindSerial
}

func (s *Serial) Send(ctx context.Context, p Payload) error {
	if err := ctx.Err(); err != nil {
		return Classify(KindSerial, err)
	}

	mode := &serial.Mode{
		BaudRate: s.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := s.open(s.Device, mode)
	if err != nil {
		return newError(KindSerial, portReason(err), fmt.Errorf("open %s: %w", s.Device, err))
	}

	data := p.Content
	if s.AutoCut {
		data = make([]byte, 0, len(p.Content)+len(cutCommand))
		data = append(data, p.Content...)
		data = append(data, cutCommand...)
	}

	// Serial writes cannot take a deadline; closing the port is what
	// unblocks a stuck write.
	done := make(chan error, 1)
	go func() {
		err := writeFull(port, data)
		if err == nil {
			err = port.Drain()
		}
		done <- err
	}()

	select {
	case err := <-done:
		_ = port.Close()
		if err != nil {
			return newError(KindSerial, portReason(err), fmt.Errorf("write %s: %w", s.Device, err))
		}
		return nil
	case <-ctx.Done():
		_ = port.Close()
		return Classify(KindSerial, fmt.Errorf("write %s: %w", s.Device, ctx.Err()))
	}
}

func writeFull(port serial.Port, data []byte) error {
	for len(data) > 0 {
		n, err := port.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.New("short write")
		}
		data = data[n:]
	}
	return nil
}

func portReason(err error) Reason {
	var pe *serial.PortError
	if !errors.As(err, &pe) {
		return reasonFor(err)
	}
	switch pe.Code() {
	case serial.PortBusy, serial.PermissionDenied:
		return ReasonRefused
	case serial.InvalidSpeed, serial.InvalidDataBits, serial.InvalidParity, serial.InvalidStopBits:
		return ReasonProtocol
	default:
		return ReasonNotConnected
	}
}
