package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/printdispatch/internal/gateway"
	"github.com/orrn/printdispatch/internal/servicetoken"
)

func fakeGateway(t *testing.T, handle func(w http.ResponseWriter, req gateway.Request, r *http.Request)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, dispatchPath, r.URL.Path)
		var req gateway.Request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		handle(w, req, r)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestCloudSendKOT(t *testing.T) {
	var got gateway.Request
	var auth string
	url := fakeGateway(t, func(w http.ResponseWriter, req gateway.Request, r *http.Request) {
		got = req
		auth = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, gateway.Response{Success: true, JobID: 42})
	})

	c := NewCloud(NewGatewayClient(url+"/", "secret", time.Second), "kitchen-1", "Campus Cafe", "73001")
	err := c.Send(context.Background(), Payload{PrinterID: "kitchen-1", Document: "kot", Content: []byte("MAGGI 2")})
	require.NoError(t, err)

	assert.Equal(t, gateway.ActionPrintKOT, got.Action)
	assert.Equal(t, "Campus Cafe", got.CafeName)
	assert.Equal(t, gateway.FlexString("73001"), got.PrinterID)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("MAGGI 2")), got.KOTData)
	assert.Empty(t, got.ReceiptData)

	require.True(t, strings.HasPrefix(auth, "Bearer "))
	claims, err := servicetoken.Verify([]byte("secret"), strings.TrimPrefix(auth, "Bearer "), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "kitchen-1", claims.Subject)
}

func TestCloudSendReceiptWithoutSecret(t *testing.T) {
	url := fakeGateway(t, func(w http.ResponseWriter, req gateway.Request, r *http.Request) {
		assert.Equal(t, gateway.ActionPrintReceipt, req.Action)
		assert.NotEmpty(t, req.ReceiptData)
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, gateway.Response{Success: true})
	})

	c := NewCloud(NewGatewayClient(url, "", time.Second), "kitchen-1", "Campus Cafe", "1")
	require.NoError(t, c.Send(context.Background(), Payload{Document: "receipt", Content: []byte("x")}))
}

func TestCloudSendFailures(t *testing.T) {
	cases := []struct {
		name   string
		code   int
		body   any
		header string
		reason Reason
	}{
		{"rate limited", http.StatusTooManyRequests, gateway.Response{Error: "rate_limited"}, "17", ReasonRefused},
		{"unauthorized", http.StatusUnauthorized, gateway.Response{Error: "unauthorized"}, "", ReasonRefused},
		{"credential missing", http.StatusInternalServerError, gateway.Response{Error: "credential_missing"}, "", ReasonProtocol},
		{"broker down", http.StatusBadGateway, gateway.Response{Error: "broker_error"}, "", ReasonNotConnected},
		{"not success", http.StatusOK, gateway.Response{Success: false, Error: "nope"}, "", ReasonProtocol},
		{"garbage", http.StatusOK, "<html>", "", ReasonProtocol},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			url := fakeGateway(t, func(w http.ResponseWriter, _ gateway.Request, _ *http.Request) {
				if tc.header != "" {
					w.Header().Set("Retry-After", tc.header)
				}
				writeJSON(w, tc.code, tc.body)
			})
			err := NewCloud(NewGatewayClient(url, "", time.Second), "kitchen-1", "t", "1").
				Send(context.Background(), Payload{Content: []byte("x")})
			require.Error(t, err)
			assert.Equal(t, tc.reason, ReasonOf(err))
			if tc.header != "" {
				assert.Contains(t, err.Error(), "retry after 17s")
			}
		})
	}
}

func TestCloudSendUnreachable(t *testing.T) {
	err := NewCloud(NewGatewayClient("http://"+closedAddress(t), "", time.Second), "kitchen-1", "t", "1").
		Send(context.Background(), Payload{Content: []byte("x")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestCloudProbe(t *testing.T) {
	state := "online"
	var subject string
	url := fakeGateway(t, func(w http.ResponseWriter, req gateway.Request, r *http.Request) {
		assert.Equal(t, gateway.ActionCheckPrinter, req.Action)
		claims, err := servicetoken.Verify([]byte("secret"), strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "), time.Now())
		if assert.NoError(t, err) {
			subject = claims.Subject
		}
		data, _ := json.Marshal(map[string]any{"id": 73001, "name": "Kitchen", "state": state})
		writeJSON(w, http.StatusOK, gateway.Response{Success: true, Data: data})
	})
	gw := NewGatewayClient(url, "secret", time.Second)
	clock := time.Now()
	gw.now = func() time.Time { return clock }
	c := NewCloud(gw, "kitchen-1", "Campus Cafe", "73001")

	st, err := c.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Connected)
	assert.True(t, st.Ready)
	assert.Equal(t, PaperUnknown, st.Paper)
	assert.Equal(t, "kitchen-1", subject, "status checks are signed like print jobs")

	state = "offline"
	clock = clock.Add(StatusCacheTTL)
	st, err = c.Probe(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Connected)
	assert.Contains(t, st.Error, "offline")
}

func TestCloudStatusReusesRecentAnswer(t *testing.T) {
	var calls atomic.Int32
	var fail atomic.Bool
	url := fakeGateway(t, func(w http.ResponseWriter, _ gateway.Request, _ *http.Request) {
		calls.Add(1)
		if fail.Load() {
			writeJSON(w, http.StatusTooManyRequests, gateway.Response{Error: "rate_limited"})
			return
		}
		data, _ := json.Marshal(map[string]any{"id": 73001, "state": "online"})
		writeJSON(w, http.StatusOK, gateway.Response{Success: true, Data: data})
	})
	gw := NewGatewayClient(url, "", time.Second)
	clock := time.Now()
	gw.now = func() time.Time { return clock }
	c := NewCloud(gw, "kitchen-1", "Campus Cafe", "73001")

	first, err := c.Probe(context.Background())
	require.NoError(t, err)
	first.Ready = false

	clock = clock.Add(StatusCacheTTL - time.Millisecond)
	st, err := c.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Ready, "cached answer is copied out")
	assert.Equal(t, int32(1), calls.Load())

	fail.Store(true)
	clock = clock.Add(time.Millisecond)
	_, err = c.Probe(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())

	st, err = c.Probe(context.Background())
	require.Error(t, err)
	assert.Equal(t, ReasonRefused, ReasonOf(err))
	assert.False(t, st.Connected)
	assert.Equal(t, int32(2), calls.Load(), "failures are reused too")
}
