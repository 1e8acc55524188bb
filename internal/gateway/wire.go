package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Actions accepted on POST /v1/dispatch.
const (
	ActionPrintReceipt = "print_receipt"
	ActionPrintKOT     = "print_kot"
	ActionCheckPrinter = "check_printer"
	ActionListPrinters = "list_printers"
)

// FlexString accepts a JSON string or number. Callers send cafe and printer
// ids both ways.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string {
	return string(f)
}

// Int parses the value as a broker numeric id.
func (f FlexString) Int() (int64, error) {
	return strconv.ParseInt(string(f), 10, 64)
}

// Request is the gateway action contract. Exactly one of ReceiptData and
// KOTData carries base64 content for the print actions.
type Request struct {
	Action      string     `json:"action"`
	CafeID      FlexString `json:"cafe_id,omitempty"`
	CafeName    string     `json:"cafe_name,omitempty"`
	ReceiptData string     `json:"receipt_data,omitempty"`
	KOTData     string     `json:"kot_data,omitempty"`
	PrinterID   FlexString `json:"printer_id,omitempty"`
	Title       string     `json:"title,omitempty"`
}

// Tenant is the name used for credential lookup: cafe_name when present,
// else cafe_id.
func (r *Request) Tenant() string {
	if r.CafeName != "" {
		return r.CafeName
	}
	return r.CafeID.String()
}

// Content returns the base64 payload for print actions.
func (r *Request) Content() string {
	if r.Action == ActionPrintKOT && r.KOTData != "" {
		return r.KOTData
	}
	if r.ReceiptData != "" {
		return r.ReceiptData
	}
	return r.KOTData
}

type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	JobID   int64           `json:"jobId,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Printer is the subset of the broker's printer resource the gateway
// passes through.
type Printer struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	State       string `json:"state"`
	Computer    struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		State string `json:"state"`
	} `json:"computer"`
}

// Online reports whether the broker can reach the printer's host agent.
func (p *Printer) Online() bool {
	return p.State == "online" && (p.Computer.State == "" || p.Computer.State == "connected")
}
