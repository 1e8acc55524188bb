package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBrokerURL     = "https://api.printnode.com"
	DefaultBrokerTimeout = 15 * time.Second

	contentTypeRawBase64 = "raw_base64"
	jobSource            = "printdispatch"
)

// BrokerError is a non-2xx answer from the cloud print broker.
type BrokerError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *BrokerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("broker api error: %s (code: %s, status: %d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("broker api error: %s (status: %d)", e.Message, e.StatusCode)
}

// PrintJob is the body of POST /printjobs.
type PrintJob struct {
	PrinterID   int64  `json:"printerId"`
	Title       string `json:"title"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
	Source      string `json:"source"`
}

type brokerErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BrokerClient talks to a PrintNode-style REST API. Requests are paced so a
// burst of tenants cannot exhaust the account's upstream quota.
type BrokerClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewBrokerClient builds a client. rps <= 0 disables pacing.
func NewBrokerClient(baseURL string, timeout time.Duration, rps float64, burst int) *BrokerClient {
	if baseURL == "" {
		baseURL = DefaultBrokerURL
	}
	if timeout <= 0 {
		timeout = DefaultBrokerTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &BrokerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: limiter,
	}
}

func (c *BrokerClient) ListPrinters(ctx context.Context, cred Credential) ([]Printer, error) {
	var printers []Printer
	if err := c.do(ctx, cred, http.MethodGet, "/printers", nil, &printers); err != nil {
		return nil, err
	}
	return printers, nil
}

// Printer fetches one printer. The broker answers with a list even for a
// single id.
func (c *BrokerClient) Printer(ctx context.Context, cred Credential, id int64) (*Printer, error) {
	var printers []Printer
	if err := c.do(ctx, cred, http.MethodGet, "/printers/"+strconv.FormatInt(id, 10), nil, &printers); err != nil {
		return nil, err
	}
	if len(printers) == 0 {
		return nil, &BrokerError{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("printer %d not found", id)}
	}
	return &printers[0], nil
}

// SubmitJob queues base64 raw content on a printer and returns the broker's
// job id. Acceptance does not mean the page was printed.
func (c *BrokerClient) SubmitJob(ctx context.Context, cred Credential, printerID int64, title, contentB64 string) (int64, error) {
	job := PrintJob{
		PrinterID:   printerID,
		Title:       title,
		ContentType: contentTypeRawBase64,
		Content:     contentB64,
		Source:      jobSource,
	}
	var id int64
	if err := c.do(ctx, cred, http.MethodPost, "/printjobs", job, &id); err != nil {
		return 0, err
	}
	return id, nil
}

func (c *BrokerClient) do(ctx context.Context, cred Credential, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("broker pacing: %w", err)
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	// Basic auth with the api key as user and an empty password.
	req.SetBasicAuth(cred.APIKey(), "")
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb brokerErrorBody
		_ = json.Unmarshal(respBody, &eb)
		if eb.Message == "" {
			eb.Message = http.StatusText(resp.StatusCode)
		}
		return &BrokerError{StatusCode: resp.StatusCode, Code: eb.Code, Message: eb.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
