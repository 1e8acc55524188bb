package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport kinds accepted in printers[].transports[].kind.
const (
	TransportNetwork   = "network"
	TransportSerial    = "serial"
	TransportCloud     = "cloud"
	TransportDiscovery = "discovery"
)

const (
	MinWidth = 40
	MaxWidth = 64
)

type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Queue    QueueConfig     `yaml:"queue"`
	Document DocumentConfig  `yaml:"document"`
	Gateway  GatewayClient   `yaml:"gateway"`
	History  HistoryConfig   `yaml:"history"`
	Events   EventsConfig    `yaml:"events"`
	Logging  LoggingConfig   `yaml:"logging"`
	Printers []PrinterConfig `yaml:"printers"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	TrustedProxies []string      `yaml:"trusted_proxies"`
}

type QueueConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	StatusTimeout  time.Duration `yaml:"status_timeout"`
	RetainJobs     int           `yaml:"retain_jobs"`
}

type DocumentConfig struct {
	Width        int         `yaml:"width"`
	Currency     string      `yaml:"currency"`
	Timezone     string      `yaml:"timezone"`
	FeedLines    int         `yaml:"feed_lines"`
	RoundToRupee bool        `yaml:"round_to_rupee"`
	Taxes        []TaxConfig `yaml:"taxes"`
}

type TaxConfig struct {
	Name    string `yaml:"name"`
	RateBPS int    `yaml:"rate_bps"`
}

// GatewayClient is how dispatchd reaches the cloud gateway.
type GatewayClient struct {
	URL           string        `yaml:"url"`
	ServiceSecret string        `yaml:"service_secret"`
	Timeout       time.Duration `yaml:"timeout"`
}

type HistoryConfig struct {
	Driver        string `yaml:"driver"`
	DSN           string `yaml:"dsn"`
	RetentionDays int    `yaml:"retention_days"`
}

type EventsConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Workers  int             `yaml:"workers"`
	NATS     NATSConfig      `yaml:"nats"`
}

type WebhookConfig struct {
	URL        string   `yaml:"url"`
	Secret     string   `yaml:"secret"`
	Events     []string `yaml:"events"`
	MaxRetries int      `yaml:"max_retries"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type PrinterConfig struct {
	ID         string            `yaml:"id"`
	Tenant     string            `yaml:"tenant"`
	Type       string            `yaml:"type"`
	CodePage   string            `yaml:"code_page"`
	AltBanner  bool              `yaml:"alt_banner"`
	Width      int               `yaml:"width"`
	Transports []TransportConfig `yaml:"transports"`
}

// TransportConfig is a tagged union keyed by Kind; only the fields of that
// kind are read.
type TransportConfig struct {
	Kind string `yaml:"kind"`

	// network
	Address        string        `yaml:"address"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`

	// serial
	Device   string `yaml:"device"`
	BaudRate int    `yaml:"baud_rate"`
	AutoCut  bool   `yaml:"auto_cut"`

	// cloud
	Tenant    string `yaml:"tenant"`
	PrinterID string `yaml:"printer_id"`

	// discovery
	Candidates    []string      `yaml:"candidates"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Queue: QueueConfig{
			MaxAttempts:    3,
			SettleDelay:    time.Second,
			AttemptTimeout: 10 * time.Second,
			StatusTimeout:  2 * time.Second,
			RetainJobs:     500,
		},
		Document: DocumentConfig{
			Width:     40,
			Currency:  "₹",
			Timezone:  "Asia/Kolkata",
			FeedLines: 4,
		},
		Gateway: GatewayClient{
			Timeout: 10 * time.Second,
		},
		History: HistoryConfig{
			Driver:        "sqlite3",
			DSN:           "./data/history.db",
			RetentionDays: 30,
		},
		Events: EventsConfig{
			Workers: 2,
			NATS: NATSConfig{
				SubjectPrefix: "printdispatch.jobs",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a dispatchd config file over the defaults. A missing file is
// not an error.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overlays DISPATCH_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("DISPATCH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if v := os.Getenv("DISPATCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv("DISPATCH_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}

	if v := os.Getenv("DISPATCH_GATEWAY_URL"); v != "" {
		c.Gateway.URL = v
	}

	if v := os.Getenv("DISPATCH_GATEWAY_SECRET"); v != "" {
		c.Gateway.ServiceSecret = v
	}

	if v := os.Getenv("DISPATCH_HISTORY_DSN"); v != "" {
		c.History.DSN = v
	}
}

// Location resolves the document timezone.
func (d DocumentConfig) Location() (*time.Location, error) {
	if d.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(d.Timezone)
}

func (c *Config) Validate() error {
	if err := c.Server.validate(); err != nil {
		return err
	}

	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1")
	}

	if c.Queue.SettleDelay < 0 {
		return fmt.Errorf("settle delay must be non-negative")
	}

	if c.Queue.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt timeout must be positive")
	}

	if c.Queue.StatusTimeout <= 0 {
		return fmt.Errorf("status timeout must be positive")
	}

	if c.Queue.RetainJobs < 0 {
		return fmt.Errorf("retain jobs must be non-negative")
	}

	if err := c.Document.validate(); err != nil {
		return err
	}

	switch c.History.Driver {
	case "":
	case "sqlite3", "postgres":
		if c.History.DSN == "" {
			return fmt.Errorf("history dsn is required for driver %s", c.History.Driver)
		}
	default:
		return fmt.Errorf("invalid history driver: %s (valid: sqlite3, postgres)", c.History.Driver)
	}

	if c.History.RetentionDays < 0 {
		return fmt.Errorf("retention days must be non-negative")
	}

	for i, wh := range c.Events.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("events.webhooks[%d]: url is required", i)
		}
	}

	if c.Events.Workers < 1 {
		return fmt.Errorf("event workers must be at least 1")
	}

	if err := c.Logging.validate(); err != nil {
		return err
	}

	if len(c.Printers) == 0 {
		return fmt.Errorf("at least one printer is required")
	}

	seen := make(map[string]bool, len(c.Printers))
	for i := range c.Printers {
		p := &c.Printers[i]
		if p.ID == "" {
			return fmt.Errorf("printers[%d]: id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("printers[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true

		if p.Width != 0 && (p.Width < MinWidth || p.Width > MaxWidth) {
			return fmt.Errorf("printer %s: width must be between %d and %d, got %d", p.ID, MinWidth, MaxWidth, p.Width)
		}

		if len(p.Transports) == 0 {
			return fmt.Errorf("printer %s: at least one transport is required", p.ID)
		}
		for j, t := range p.Transports {
			if err := t.validate(c); err != nil {
				return fmt.Errorf("printer %s: transports[%d]: %w", p.ID, j, err)
			}
		}
	}

	return nil
}

func (s ServerConfig) validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", s.Port)
	}

	if s.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if s.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	return nil
}

func (d DocumentConfig) validate() error {
	if d.Width < MinWidth || d.Width > MaxWidth {
		return fmt.Errorf("document width must be between %d and %d, got %d", MinWidth, MaxWidth, d.Width)
	}

	if d.FeedLines < 2 {
		return fmt.Errorf("feed lines must be at least 2")
	}

	if _, err := d.Location(); err != nil {
		return fmt.Errorf("invalid document timezone %q: %w", d.Timezone, err)
	}

	for _, t := range d.Taxes {
		if t.Name == "" {
			return fmt.Errorf("tax name is required")
		}
		if t.RateBPS < 0 || t.RateBPS > 10000 {
			return fmt.Errorf("tax %s: rate_bps must be between 0 and 10000", t.Name)
		}
	}

	return nil
}

func (l LoggingConfig) validate() error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", l.Level)
	}

	validFormats := map[string]bool{
		"json":  true,
		"text":  true,
		"plain": true,
	}

	if !validFormats[l.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text, plain)", l.Format)
	}

	return nil
}

func (t TransportConfig) validate(c *Config) error {
	if t.ConnectTimeout < 0 || t.WriteTimeout < 0 || t.ProbeTimeout < 0 {
		return fmt.Errorf("timeouts must be non-negative")
	}

	switch strings.ToLower(t.Kind) {
	case TransportNetwork:
		if t.Address == "" {
			return fmt.Errorf("network transport requires address")
		}
	case TransportSerial:
		if t.Device == "" {
			return fmt.Errorf("serial transport requires device")
		}
		if t.BaudRate < 0 {
			return fmt.Errorf("baud rate must be non-negative")
		}
	case TransportCloud:
		if t.Tenant == "" || t.PrinterID == "" {
			return fmt.Errorf("cloud transport requires tenant and printer_id")
		}
		if c.Gateway.URL == "" {
			return fmt.Errorf("cloud transport requires gateway.url")
		}
	case TransportDiscovery:
		if len(t.Candidates) == 0 {
			return fmt.Errorf("discovery transport requires candidates")
		}
		if t.MaxConcurrent < 0 {
			return fmt.Errorf("max concurrent must be non-negative")
		}
	default:
		return fmt.Errorf("unknown transport kind %q (valid: network, serial, cloud, discovery)", t.Kind)
	}

	return nil
}
