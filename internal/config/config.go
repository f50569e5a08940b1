package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/SynergiaOS/MojoRust-Polyglot-Trading-Bot-sub001/internal/router"
)

const (
	DefaultPort              = "8080"
	DefaultRateLimit         = 600
	DefaultTimeoutSeconds    = 10
	DefaultBreakerThreshold  = 5
	DefaultHealthIntervalSec = 30
)

type Config struct {
	Server      ServerConfig     `yaml:"server"`
	Providers   []ProviderConfig `yaml:"providers"`
	Routing     RoutingConfig    `yaml:"routing"`
	Cache       CacheConfig      `yaml:"cache"`
	DatabaseURL string           `yaml:"database_url"`
}

type ServerConfig struct {
	Port               string `yaml:"port"`
	AuthToken          string `yaml:"auth_token"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

type ProviderConfig struct {
	Name           string `yaml:"name"`
	URL            string `yaml:"url"`
	Priority       int    `yaml:"priority"`
	Enabled        *bool  `yaml:"enabled"`
	CostPerRequest string `yaml:"cost_per_request"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	HealthMethod   string `yaml:"health_method"`
}

func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// IsWebSocket reports whether the provider URL uses a WebSocket scheme.
func (p ProviderConfig) IsWebSocket() bool {
	u, err := url.Parse(p.URL)
	if err != nil {
		return false
	}
	return u.Scheme == "ws" || u.Scheme == "wss"
}

func (p ProviderConfig) Cost() (decimal.Decimal, error) {
	if p.CostPerRequest == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(p.CostPerRequest)
}

func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

type RoutingConfig struct {
	Policy                       string  `yaml:"policy"`
	HealthCheckIntervalSeconds   int     `yaml:"health_check_interval_seconds"`
	HealthCheckTimeoutSeconds    int     `yaml:"health_check_timeout_seconds"`
	MaxErrorRate                 float64 `yaml:"max_error_rate"`
	MaxLatencyMs                 float64 `yaml:"max_latency_ms"`
	CircuitBreakerThreshold      int     `yaml:"circuit_breaker_threshold"`
	CircuitBreakerTimeoutSeconds int     `yaml:"circuit_breaker_timeout_seconds"`
}

// ToRouter converts the file schema into the router's runtime config.
func (rc RoutingConfig) ToRouter() router.RoutingConfig {
	return router.RoutingConfig{
		Policy:                  router.Policy(rc.Policy),
		HealthCheckInterval:     time.Duration(rc.HealthCheckIntervalSeconds) * time.Second,
		HealthCheckTimeout:      time.Duration(rc.HealthCheckTimeoutSeconds) * time.Second,
		MaxErrorRate:            rc.MaxErrorRate,
		MaxLatencyMs:            rc.MaxLatencyMs,
		CircuitBreakerThreshold: rc.CircuitBreakerThreshold,
		CircuitBreakerTimeout:   time.Duration(rc.CircuitBreakerTimeoutSeconds) * time.Second,
	}
}

type CacheConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Methods    []string `yaml:"methods"`
	TTLSeconds int      `yaml:"ttl_seconds"`
}

func (c CacheConfig) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// Load reads the YAML config file, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = DefaultPort
	}
	if c.Server.RateLimitPerMinute <= 0 {
		c.Server.RateLimitPerMinute = DefaultRateLimit
	}
	if c.Routing.Policy == "" {
		c.Routing.Policy = string(router.PolicyHealthFirst)
	}
	if c.Routing.CircuitBreakerThreshold == 0 {
		c.Routing.CircuitBreakerThreshold = DefaultBreakerThreshold
	}
	if c.Routing.HealthCheckIntervalSeconds == 0 {
		c.Routing.HealthCheckIntervalSeconds = DefaultHealthIntervalSec
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("API_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("AUTH_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
}

func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider name is required")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true

		u, err := url.Parse(p.URL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("provider %q: invalid url %q", p.Name, p.URL)
		}
		switch u.Scheme {
		case "http", "https", "ws", "wss":
		default:
			return fmt.Errorf("provider %q: unsupported url scheme %q", p.Name, u.Scheme)
		}

		if _, err := p.Cost(); err != nil {
			return fmt.Errorf("provider %q: invalid cost_per_request %q", p.Name, p.CostPerRequest)
		}
	}

	if !router.Policy(c.Routing.Policy).Valid() {
		return fmt.Errorf("unknown routing policy %q", c.Routing.Policy)
	}
	if c.Routing.MaxErrorRate < 0 || c.Routing.MaxErrorRate > 1 {
		return fmt.Errorf("max_error_rate must be within [0,1]")
	}
	if c.Routing.CircuitBreakerThreshold < 1 {
		return fmt.Errorf("circuit_breaker_threshold must be >= 1")
	}

	return nil
}
