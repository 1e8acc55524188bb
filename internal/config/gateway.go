package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GatewayConfig configures the cloudgate binary.
type GatewayConfig struct {
	Server            ServerConfig       `yaml:"server"`
	Broker            BrokerConfig       `yaml:"broker"`
	RateLimit         RateLimitConfig    `yaml:"rate_limit"`
	ServiceSecret     string             `yaml:"service_secret"`
	DefaultCredential string             `yaml:"default_credential"`
	Credentials       []CredentialConfig `yaml:"credentials"`
	Logging           LoggingConfig      `yaml:"logging"`

	// SealKey opens "sealed:" api keys. Only read from the environment.
	SealKey string `yaml:"-"`
}

type BrokerConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type CredentialConfig struct {
	Key     string   `yaml:"key"`
	APIKey  string   `yaml:"api_key"`
	Aliases []string `yaml:"aliases"`
}

func gatewayDefaults() *GatewayConfig {
	return &GatewayConfig{
		Server: ServerConfig{
			Port:         8090,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Broker: BrokerConfig{
			BaseURL:           "https://api.printnode.com",
			Timeout:           15 * time.Second,
			RequestsPerSecond: 5,
			Burst:             5,
		},
		RateLimit: RateLimitConfig{
			Requests: 60,
			Window:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadGateway reads a cloudgate config file over the defaults. A missing
// file is not an error.
func LoadGateway(configPath string) (*GatewayConfig, error) {
	cfg := gatewayDefaults()

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

// ApplyEnv overlays CLOUDGATE_* environment variables.
func (c *GatewayConfig) ApplyEnv() {
	if v := os.Getenv("CLOUDGATE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if v := os.Getenv("CLOUDGATE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv("CLOUDGATE_SERVICE_SECRET"); v != "" {
		c.ServiceSecret = v
	}

	if v := os.Getenv("CLOUDGATE_SEAL_KEY"); v != "" {
		c.SealKey = v
	}
}

func (c *GatewayConfig) Validate() error {
	if err := c.Server.validate(); err != nil {
		return err
	}

	u, err := url.Parse(c.Broker.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("broker base_url must be an absolute URL, got %q", c.Broker.BaseURL)
	}

	if c.Broker.Timeout <= 0 {
		return fmt.Errorf("broker timeout must be positive")
	}

	if c.Broker.RequestsPerSecond < 0 || c.Broker.Burst < 0 {
		return fmt.Errorf("broker pacing must be non-negative")
	}

	if c.RateLimit.Requests < 1 {
		return fmt.Errorf("rate limit requests must be at least 1")
	}

	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}

	if err := c.Logging.validate(); err != nil {
		return err
	}

	keys := make(map[string]bool, len(c.Credentials))
	for i, cred := range c.Credentials {
		if strings.TrimSpace(cred.Key) == "" {
			return fmt.Errorf("credentials[%d]: key is required", i)
		}
		if cred.APIKey == "" {
			return fmt.Errorf("credentials[%d]: api_key is required", i)
		}
		keys[cred.Key] = true
	}

	if c.DefaultCredential != "" && !keys[c.DefaultCredential] {
		return fmt.Errorf("default_credential %q does not name a configured credential", c.DefaultCredential)
	}

	return nil
}
