package transport

import (
	"fmt"
	"time"
)

type PaperStatus string

const (
	PaperOK      PaperStatus = "ok"
	PaperNearEnd PaperStatus = "near_end"
	PaperOut     PaperStatus = "out"
	PaperUnknown PaperStatus = "unknown"
)

// Status is a point-in-time view of a printer.
type Status struct {
	Connected bool
	Ready     bool
	Paper     PaperStatus
	Error     string
	CheckedAt time.Time
}

// ESC/POS real-time status requests: DLE EOT n.
var (
	requestPrinterStatus = []byte{0x10, 0x04, 0x01}
	requestPaperStatus   = []byte{0x10, 0x04, 0x04}
)

const (
	statusFixedMask  = 0x93
	statusFixedValue = 0x12

	printerOffline  = 0x08
	printerWaiting  = 0x20
	paperNearEndBit = 0x0c
	paperOutBit     = 0x60
)

// Every DLE EOT reply has bits 1 and 4 set and bits 0 and 7 clear.
func validStatusByte(b byte) bool {
	return b&statusFixedMask == statusFixedValue
}

func decodeStatus(printer, paper byte, at time.Time) (*Status, error) {
	if !validStatusByte(printer) || !validStatusByte(paper) {
		return nil, fmt.Errorf("%w: unexpected status bytes %#02x %#02x", ErrProtocol, printer, paper)
	}

	st := &Status{Connected: true, Ready: true, Paper: PaperOK, CheckedAt: at}

	switch {
	case paper&paperOutBit != 0:
		st.Paper = PaperOut
		st.Ready = false
		st.Error = "paper out"
	case paper&paperNearEndBit != 0:
		st.Paper = PaperNearEnd
	}

	if printer&printerOffline != 0 {
		st.Ready = false
		if st.Error == "" {
			st.Error = "printer offline"
		}
	} else if printer&printerWaiting != 0 {
		st.Ready = false
		st.Error = "waiting for online recovery"
	}

	return st, nil
}
