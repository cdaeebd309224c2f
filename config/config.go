// Package config loads runtime configuration for a process. Retry bounds and
// backoff growth are policy, not code, so they live here.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"proclink/address"
	"proclink/eth"
	"proclink/loadbalance"
	"proclink/registry"
)

// Duration wraps time.Duration so YAML can say "500ms" or "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// EndpointConfig describes one upstream RPC endpoint.
type EndpointConfig struct {
	Name    string `yaml:"name"`
	URL     string `yaml:"url"`
	Weight  int    `yaml:"weight"`
	ChainID uint64 `yaml:"chain_id"`
}

// EthConfig is the provider's failover policy plus its static endpoint set.
type EthConfig struct {
	Gateway         string           `yaml:"gateway"`
	ChainID         uint64           `yaml:"chain_id"`
	MaxAttempts     int              `yaml:"max_attempts"`
	CallTimeout     Duration         `yaml:"call_timeout"`
	InitialCooldown Duration         `yaml:"initial_cooldown"`
	CooldownGrowth  float64          `yaml:"cooldown_growth"`
	MaxCooldown     Duration         `yaml:"max_cooldown"`
	DeadThreshold   int              `yaml:"dead_threshold"`
	Balancer        string           `yaml:"balancer"`
	Endpoints       []EndpointConfig `yaml:"endpoints"`
}

// RegistryConfig points at the etcd cluster endpoints are discovered from.
// Empty means static endpoints only.
type RegistryConfig struct {
	Etcd []string `yaml:"etcd"`
	TTL  int64    `yaml:"ttl"`
}

// Config is the whole per-process file.
type Config struct {
	Self           string         `yaml:"self"`
	TimerService   string         `yaml:"timer_service"`
	DefaultTimeout Duration       `yaml:"default_timeout"`
	Eth            EthConfig      `yaml:"eth"`
	Registry       RegistryConfig `yaml:"registry"`
}

// Default returns the configuration used when the file omits a field.
func Default() Config {
	return Config{
		DefaultTimeout: Duration{5 * time.Second},
		Eth: EthConfig{
			ChainID:         10,
			MaxAttempts:     3,
			CallTimeout:     Duration{10 * time.Second},
			InitialCooldown: Duration{500 * time.Millisecond},
			CooldownGrowth:  2.0,
			MaxCooldown:     Duration{30 * time.Second},
			DeadThreshold:   8,
		},
		Registry: RegistryConfig{TTL: 30},
	}
}

// Load reads a YAML file over the defaults: anything the file sets wins,
// everything else keeps its Default() value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the runtime could not act on.
func (c Config) Validate() error {
	if c.Self != "" {
		if _, err := address.Parse(c.Self); err != nil {
			return fmt.Errorf("config: self: %w", err)
		}
	}
	if c.TimerService != "" {
		if _, err := address.Parse(c.TimerService); err != nil {
			return fmt.Errorf("config: timer_service: %w", err)
		}
	}
	if c.Eth.Gateway != "" {
		if _, err := address.Parse(c.Eth.Gateway); err != nil {
			return fmt.Errorf("config: eth.gateway: %w", err)
		}
	}
	if c.Eth.MaxAttempts < 1 {
		return fmt.Errorf("config: eth.max_attempts must be at least 1, got %d", c.Eth.MaxAttempts)
	}
	if c.Eth.CooldownGrowth < 1.0 {
		return fmt.Errorf("config: eth.cooldown_growth must be >= 1.0, got %g", c.Eth.CooldownGrowth)
	}
	if c.Eth.DeadThreshold < 1 {
		return fmt.Errorf("config: eth.dead_threshold must be at least 1, got %d", c.Eth.DeadThreshold)
	}
	switch c.Eth.Balancer {
	case "", "round_robin", "weighted_random":
	default:
		return fmt.Errorf("config: eth.balancer %q is not a known strategy", c.Eth.Balancer)
	}
	for i, ep := range c.Eth.Endpoints {
		if ep.Name == "" || ep.URL == "" {
			return fmt.Errorf("config: eth.endpoints[%d] needs name and url", i)
		}
	}
	return nil
}

// PoolBalancer maps the configured strategy name to a balancer. Nil means
// the pool's default round-robin over pool order.
func (c EthConfig) PoolBalancer() loadbalance.Balancer {
	if c.Balancer == "weighted_random" {
		return &loadbalance.WeightedRandomBalancer{}
	}
	return nil
}

// PoolConfig converts the eth section into the pool's policy type.
func (c EthConfig) PoolConfig() eth.PoolConfig {
	return eth.PoolConfig{
		InitialCooldown: c.InitialCooldown.Duration,
		CooldownGrowth:  c.CooldownGrowth,
		MaxCooldown:     c.MaxCooldown.Duration,
		DeadThreshold:   c.DeadThreshold,
	}
}

// EndpointList converts the static endpoint entries for pool seeding or
// registry registration.
func (c EthConfig) EndpointList() []registry.Endpoint {
	out := make([]registry.Endpoint, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		chain := ep.ChainID
		if chain == 0 {
			chain = c.ChainID
		}
		out[i] = registry.Endpoint{Name: ep.Name, URL: ep.URL, Weight: ep.Weight, ChainID: chain}
	}
	return out
}
