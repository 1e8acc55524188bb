package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDispatch = `
server:
  port: 9000
queue:
  max_attempts: 5
  settle_delay: 500ms
document:
  width: 48
  taxes:
    - {name: CGST, rate_bps: 250}
    - {name: SGST, rate_bps: 250}
gateway:
  url: http://cloudgate:8090
printers:
  - id: kitchen-1
    tenant: Campus Cafe
    type: star_tsp143
    transports:
      - {kind: network, address: "192.168.1.50:9100", connect_timeout: 3s}
      - {kind: serial, device: /dev/ttyUSB0, baud_rate: 9600, auto_cut: true}
      - {kind: cloud, tenant: Campus Cafe, printer_id: 73001}
      - {kind: discovery, candidates: ["192.168.1.87"], probe_timeout: 500ms}
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDispatchConfig(t *testing.T) {
	cfg, err := Load(writeFile(t, "dispatch.yaml", sampleDispatch))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout, "defaults survive partial sections")
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Queue.SettleDelay)
	assert.Equal(t, 48, cfg.Document.Width)
	assert.Len(t, cfg.Document.Taxes, 2)

	require.Len(t, cfg.Printers, 1)
	p := cfg.Printers[0]
	require.Len(t, p.Transports, 4)
	assert.Equal(t, TransportNetwork, p.Transports[0].Kind)
	assert.Equal(t, 3*time.Second, p.Transports[0].ConnectTimeout)
	assert.True(t, p.Transports[1].AutoCut)
	assert.Equal(t, "73001", p.Transports[2].PrinterID)
	assert.Equal(t, 500*time.Millisecond, p.Transports[3].ProbeTimeout)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Queue.SettleDelay)
	assert.Error(t, cfg.Validate(), "no printers configured")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DISPATCH_PORT", "9999")
	t.Setenv("DISPATCH_LOG_LEVEL", "debug")
	t.Setenv("DISPATCH_GATEWAY_URL", "http://gw:1")
	t.Setenv("DISPATCH_GATEWAY_SECRET", "s3cret")

	cfg := defaults()
	cfg.ApplyEnv()
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "http://gw:1", cfg.Gateway.URL)
	assert.Equal(t, "s3cret", cfg.Gateway.ServiceSecret)
}

func TestValidateRejects(t *testing.T) {
	base := func() *Config {
		cfg := defaults()
		cfg.Printers = []PrinterConfig{{
			ID:         "p1",
			Transports: []TransportConfig{{Kind: TransportNetwork, Address: "10.0.0.5"}},
		}}
		return cfg
	}
	require.NoError(t, base().Validate())

	cases := map[string]func(*Config){
		"port":            func(c *Config) { c.Server.Port = 0 },
		"attempts":        func(c *Config) { c.Queue.MaxAttempts = 0 },
		"width":           func(c *Config) { c.Document.Width = 32 },
		"timezone":        func(c *Config) { c.Document.Timezone = "Mars/Olympus" },
		"tax":             func(c *Config) { c.Document.Taxes = []TaxConfig{{Name: "GST", RateBPS: 20000}} },
		"history driver":  func(c *Config) { c.History.Driver = "mysql" },
		"log level":       func(c *Config) { c.Logging.Level = "trace" },
		"duplicate id":    func(c *Config) { c.Printers = append(c.Printers, c.Printers[0]) },
		"no transports":   func(c *Config) { c.Printers[0].Transports = nil },
		"unknown kind":    func(c *Config) { c.Printers[0].Transports[0].Kind = "bluetooth" },
		"network address": func(c *Config) { c.Printers[0].Transports[0].Address = "" },
		"cloud without gateway": func(c *Config) {
			c.Printers[0].Transports = []TransportConfig{{Kind: TransportCloud, Tenant: "x", PrinterID: "1"}}
		},
		"discovery without candidates": func(c *Config) {
			c.Printers[0].Transports = []TransportConfig{{Kind: TransportDiscovery}}
		},
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestLoadGatewayConfig(t *testing.T) {
	body := `
rate_limit: {requests: 10, window: 30s}
default_credential: campus cafe
credentials:
  - {key: campus cafe, api_key: abc, aliases: [cafe-01]}
`
	cfg, err := LoadGateway(writeFile(t, "cloudgate.yaml", body))
	require.NoError(t, err)
	t.Setenv("CLOUDGATE_SEAL_KEY", "00ff")
	cfg.ApplyEnv()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 10, cfg.RateLimit.Requests)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, "https://api.printnode.com", cfg.Broker.BaseURL)
	assert.Equal(t, []string{"cafe-01"}, cfg.Credentials[0].Aliases)
	assert.Equal(t, "00ff", cfg.SealKey)

	cfg.DefaultCredential = "nobody"
	assert.Error(t, cfg.Validate())
}
