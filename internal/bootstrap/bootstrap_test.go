package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/printdispatch/internal/config"
	"github.com/orrn/printdispatch/internal/core"
	"github.com/orrn/printdispatch/internal/document"
	"github.com/orrn/printdispatch/internal/gateway"
	"github.com/orrn/printdispatch/internal/metrics"
	"github.com/orrn/printdispatch/internal/servicetoken"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func fakePrinter(t *testing.T) (string, <-chan []byte) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	received := make(chan []byte, 4)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			b, _ := io.ReadAll(c)
			c.Close()
			received <- b
		}
	}()
	return ln.Addr().String(), received
}

func dispatchConfig(addr string) *config.Config {
	return &config.Config{
		Queue: config.QueueConfig{
			MaxAttempts:    2,
			AttemptTimeout: 2 * time.Second,
			StatusTimeout:  time.Second,
		},
		Document: config.DocumentConfig{
			Width:     48,
			Currency:  "₹",
			Timezone:  "UTC",
			FeedLines: 3,
		},
		Printers: []config.PrinterConfig{{
			ID:       "kitchen-1",
			Tenant:   "Campus Cafe",
			CodePage: "cp437",
			Transports: []config.TransportConfig{
				{Kind: "network", Address: addr, ConnectTimeout: time.Second, WriteTimeout: time.Second},
			},
		}},
	}
}

func TestBuildRegistryDeliversOverNetwork(t *testing.T) {
	addr, received := fakePrinter(t)
	m := metrics.New()

	registry, err := BuildRegistry(dispatchConfig(addr), Deps{Metrics: m})
	require.NoError(t, err)
	t.Cleanup(func() { registry.Stop(context.Background()) })

	printers := registry.Printers()
	require.Len(t, printers, 1)
	assert.Equal(t, core.PrinterInfo{
		ID:         "kitchen-1",
		Tenant:     "Campus Cafe",
		CodePage:   "cp437",
		Width:      48,
		Transports: []string{"network"},
	}, printers[0])

	receipt, err := registry.Submit(core.Submission{
		PrinterID: "kitchen-1",
		Kind:      document.KindKOT,
		Order: &document.Order{
			Number: "TEST-001",
			Time:   time.Date(2026, time.March, 7, 19, 5, 0, 0, time.UTC),
			Items:  []document.Item{{Name: "Maggi", Quantity: 2}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, receipt.QueuePosition)

	select {
	case b := <-received:
		assert.Contains(t, string(b), "MAGGI")
		assert.Contains(t, string(b), "07/03/2026 19:05")
		assert.Contains(t, string(b), "Campus Cafe")
	case <-time.After(3 * time.Second):
		t.Fatal("printer never received the document")
	}
}

func TestBuildRegistryFallsBackToRupeeAbbreviation(t *testing.T) {
	addr, received := fakePrinter(t)
	registry, err := BuildRegistry(dispatchConfig(addr), Deps{})
	require.NoError(t, err)
	t.Cleanup(func() { registry.Stop(context.Background()) })

	_, err = registry.Submit(core.Submission{
		PrinterID: "kitchen-1",
		Kind:      document.KindReceipt,
		Order: &document.Order{
			Number: "R-7",
			Time:   time.Date(2026, time.March, 7, 19, 5, 0, 0, time.UTC),
			Items:  []document.Item{{Name: "Tea", Quantity: 3, UnitPrice: 1500}},
		},
	})
	require.NoError(t, err)

	select {
	case b := <-received:
		assert.Contains(t, string(b), "Rs.45.00")
	case <-time.After(3 * time.Second):
		t.Fatal("printer never received the document")
	}
}

func TestBuildRegistryRejectsUnknownCodePage(t *testing.T) {
	cfg := dispatchConfig("127.0.0.1:9100")
	cfg.Printers[0].CodePage = "klingon"

	_, err := BuildRegistry(cfg, Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kitchen-1")
}

func TestBuildEventsWithoutSinks(t *testing.T) {
	fanout, err := BuildEvents(config.EventsConfig{Workers: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, fanout.Len())
	assert.NoError(t, fanout.Close(context.Background()))

	fanout, err = BuildEvents(config.EventsConfig{
		Workers:  1,
		Webhooks: []config.WebhookConfig{{URL: "http://127.0.0.1:1/hook"}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, fanout.Len())
	assert.NoError(t, fanout.Close(context.Background()))
}

func TestLoadCredentialsUnsealsKeys(t *testing.T) {
	hexKey, err := gateway.GenerateSealKey()
	require.NoError(t, err)
	key, err := gateway.ParseSealKey(hexKey)
	require.NoError(t, err)
	sealed, err := gateway.Seal(key, "pn-live-123")
	require.NoError(t, err)

	cfg := &config.GatewayConfig{
		SealKey: hexKey,
		Credentials: []config.CredentialConfig{
			{Key: "Campus Cafe", APIKey: sealed},
			{Key: "Juice Bar", APIKey: "pn-plain-456"},
		},
	}
	creds, err := LoadCredentials(cfg)
	require.NoError(t, err)

	cred, err := creds.Resolve("Campus Cafe")
	require.NoError(t, err)
	assert.Equal(t, "pn-live-123", cred.APIKey())

	cred, err = creds.Resolve("Juice Bar")
	require.NoError(t, err)
	assert.Equal(t, "pn-plain-456", cred.APIKey())
}

func TestLoadCredentialsSealedWithoutKey(t *testing.T) {
	cfg := &config.GatewayConfig{
		Credentials: []config.CredentialConfig{{Key: "Campus Cafe", APIKey: gateway.SealedPrefix + "AAAA"}},
	}
	_, err := LoadCredentials(cfg)
	assert.ErrorIs(t, err, gateway.ErrSealKeyRequired)
}

type stubBroker struct{}

func (stubBroker) ListPrinters(context.Context, gateway.Credential) ([]gateway.Printer, error) {
	return []gateway.Printer{{ID: 42, Name: "Kitchen", State: "online"}}, nil
}

func (stubBroker) Printer(_ context.Context, _ gateway.Credential, id int64) (*gateway.Printer, error) {
	return &gateway.Printer{ID: id, State: "online"}, nil
}

func (stubBroker) SubmitJob(context.Context, gateway.Credential, int64, string, string) (int64, error) {
	return 7, nil
}

func gatewayRouter(t *testing.T, limit int) *gin.Engine {
	t.Helper()
	cfg := &config.GatewayConfig{
		ServiceSecret: "service-secret",
		Credentials:   []config.CredentialConfig{{Key: "Campus Cafe", APIKey: "pn-key"}},
	}
	creds, err := LoadCredentials(cfg)
	require.NoError(t, err)

	router, err := NewGatewayRouter(cfg, creds, stubBroker{}, gateway.NewFixedWindow(limit, time.Minute), nil)
	require.NoError(t, err)
	return router
}

func dispatchRequest(t *testing.T, token string) *http.Request {
	t.Helper()
	body, err := json.Marshal(gateway.Request{Action: gateway.ActionListPrinters, CafeName: "Campus Cafe"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/dispatch", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestGatewayRouterDispatch(t *testing.T) {
	router := gatewayRouter(t, 60)
	token, err := servicetoken.Sign([]byte("service-secret"), "dispatchd", time.Now())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, dispatchRequest(t, token))
	require.Equal(t, http.StatusOK, w.Code)

	var resp gateway.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Contains(t, string(resp.Data), `"Kitchen"`)
	assert.NotContains(t, w.Body.String(), "pn-key")
}

func TestGatewayRouterRequiresServiceToken(t *testing.T) {
	router := gatewayRouter(t, 60)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, dispatchRequest(t, ""))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGatewayRouterLimitsBeforeAuth(t *testing.T) {
	router := gatewayRouter(t, 60)

	for i := 0; i < 60; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, dispatchRequest(t, ""))
		require.Equal(t, http.StatusUnauthorized, w.Code, "request %d", i+1)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, dispatchRequest(t, ""))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.True(t, strings.Contains(w.Body.String(), "rate_limited"))
}
