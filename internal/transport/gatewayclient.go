package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/orrn/printdispatch/internal/gateway"
	"github.com/orrn/printdispatch/internal/servicetoken"
)

const dispatchPath = "/v1/dispatch"

// GatewayClient calls the cloud gateway's action endpoint. It is shared by
// every cloud transport in the process.
type GatewayClient struct {
	baseURL string
	secret  []byte
	client  *http.Client
	now     func() time.Time
}

func NewGatewayClient(baseURL, secret string, timeout time.Duration) *GatewayClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GatewayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

// Do posts one action. Any non-success answer is returned as an *Error
// tagged with KindCloud.
func (g *GatewayClient) Do(ctx context.Context, subject string, req *gateway.Request) (*gateway.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gateway request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+dispatchPath, bytes.NewReader(body))
	if err != nil {
		return nil, newError(KindCloud, ReasonProtocol, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if len(g.secret) > 0 {
		token, err := servicetoken.Sign(g.secret, subject, g.now())
		if err != nil {
			return nil, fmt.Errorf("failed to sign service token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, Classify(KindCloud, fmt.Errorf("gateway %s: %w", req.Action, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, Classify(KindCloud, fmt.Errorf("gateway %s: read response: %w", req.Action, err))
	}

	var out gateway.Response
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode != http.StatusOK {
		msg := out.Message
		if msg == "" {
			msg = out.Error
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			msg += ", retry after " + ra + "s"
		}
		return nil, newError(KindCloud, statusReason(resp.StatusCode),
			fmt.Errorf("gateway %s: status %d: %s", req.Action, resp.StatusCode, msg))
	}

	if decodeErr != nil {
		return nil, newError(KindCloud, ReasonProtocol, fmt.Errorf("gateway %s: decode response: %w", req.Action, decodeErr))
	}

	if !out.Success {
		return nil, newError(KindCloud, ReasonProtocol, fmt.Errorf("gateway %s: %s", req.Action, out.Error))
	}

	return &out, nil
}

func statusReason(code int) Reason {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ReasonRefused
	case code == http.StatusGatewayTimeout:
		return ReasonTimeout
	case code == http.StatusBadGateway, code == http.StatusServiceUnavailable:
		return ReasonNotConnected
	default:
		return ReasonProtocol
	}
}
