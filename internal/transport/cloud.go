package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/orrn/printdispatch/internal/gateway"
)

// StatusCacheTTL is how long a broker status answer is reused. Status polls
// share the gateway's per-client request budget with print jobs.
const StatusCacheTTL = 5 * time.Second

// Cloud hands documents to the cloud gateway, which forwards them to the
// print broker. An accepted job only means the broker queued it.
//
// Every gateway call is signed with the logical printer id as subject.
type Cloud struct {
	PrinterID     string
	Tenant        string
	BrokerPrinter string
	client        *GatewayClient

	mu        sync.Mutex
	cached    *Status
	cachedErr error
	cachedAt  time.Time
}

func NewCloud(client *GatewayClient, printerID, tenant, brokerPrinter string) *Cloud {
	return &Cloud{PrinterID: printerID, Tenant: tenant, BrokerPrinter: brokerPrinter, client: client}
}

func (c *Cloud) Kind() Kind {
	return KindCloud
}

func (c *Cloud) Send(ctx context.Context, p Payload) error {
	req := &gateway.Request{
		CafeName:  c.Tenant,
		PrinterID: gateway.FlexString(c.BrokerPrinter),
		Title:     p.Title,
	}

	content := base64.StdEncoding.EncodeToString(p.Content)
	if p.Document == "kot" {
		req.Action = gateway.ActionPrintKOT
		req.KOTData = content
	} else {
		req.Action = gateway.ActionPrintReceipt
		req.ReceiptData = content
	}

	_, err := c.client.Do(ctx, c.PrinterID, req)
	return err
}

// Probe reports the broker's view of the printer. Answers, failures
// included, are reused for StatusCacheTTL.
func (c *Cloud) Probe(ctx context.Context) (*Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.client.now()
	if c.cached != nil && now.Sub(c.cachedAt) < StatusCacheTTL {
		st := *c.cached
		return &st, c.cachedErr
	}

	st, err := c.fetchStatus(ctx, now)
	if ctx.Err() == nil {
		cp := *st
		c.cached, c.cachedErr, c.cachedAt = &cp, err, now
	}
	return st, err
}

func (c *Cloud) fetchStatus(ctx context.Context, now time.Time) (*Status, error) {
	st := &Status{Paper: PaperUnknown, CheckedAt: now}

	resp, err := c.client.Do(ctx, c.PrinterID, &gateway.Request{
		Action:    gateway.ActionCheckPrinter,
		CafeName:  c.Tenant,
		PrinterID: gateway.FlexString(c.BrokerPrinter),
	})
	if err != nil {
		st.Error = err.Error()
		return st, err
	}

	var printer gateway.Printer
	if err := json.Unmarshal(resp.Data, &printer); err != nil {
		err = newError(KindCloud, ReasonProtocol, fmt.Errorf("decode printer: %w", err))
		st.Error = err.Error()
		return st, err
	}

	st.Connected = printer.Online()
	st.Ready = st.Connected
	if !st.Connected {
		st.Error = fmt.Sprintf("broker reports printer %s", printer.State)
	}
	return st, nil
}
