package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Bookflow    BookflowConfig     `yaml:"bookflow"`
	Engine      EngineConfig       `yaml:"engine"`
	Feed        FeedConfig         `yaml:"feed"`
	Instruments []InstrumentConfig `yaml:"instruments"`
	Channels    ChannelsConfig     `yaml:"channels"`
	Storage     StorageConfig      `yaml:"storage"`
	API         APIConfig          `yaml:"api"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Logging     LoggingConfig      `yaml:"logging"`
}

type BookflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type EngineConfig struct {
	// UpdateIntervalMs is the reconciliation drain cadence. The feed
	// may emit many updates between drains; this bounds how often the
	// book is rebuilt.
	UpdateIntervalMs int `yaml:"update_interval_ms"`
	// MaxLevelCount bounds the rows a rendered depth view exposes per
	// side. Truncation is a presentation concern; the engine keeps the
	// full book.
	MaxLevelCount  int `yaml:"max_level_count"`
	ViewIntervalMs int `yaml:"view_interval_ms"`
}

type FeedConfig struct {
	Endpoint       string            `yaml:"endpoint"`
	DialTimeoutMs  int               `yaml:"dial_timeout_ms"`
	ReadTimeoutMs  int               `yaml:"read_timeout_ms"`
	WriteTimeoutMs int               `yaml:"write_timeout_ms"`
	PingIntervalMs int               `yaml:"ping_interval_ms"`
	ControlRate    ControlRateConfig `yaml:"control_rate"`
}

// DialTimeout returns the websocket dial timeout, defaulting to 10s.
func (f FeedConfig) DialTimeout() time.Duration {
	return msOrDefault(f.DialTimeoutMs, 10*time.Second)
}

// ReadTimeout returns the read deadline, defaulting to 60s. The pong
// handler extends it on every keepalive.
func (f FeedConfig) ReadTimeout() time.Duration {
	return msOrDefault(f.ReadTimeoutMs, 60*time.Second)
}

// WriteTimeout returns the per-frame write deadline, defaulting to 10s.
func (f FeedConfig) WriteTimeout() time.Duration {
	return msOrDefault(f.WriteTimeoutMs, 10*time.Second)
}

// PingInterval returns the keepalive cadence, defaulting to 20s.
func (f FeedConfig) PingInterval() time.Duration {
	return msOrDefault(f.PingIntervalMs, 20*time.Second)
}

func msOrDefault(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// ControlRateConfig bounds outgoing subscribe/unsubscribe frames.
type ControlRateConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

// InstrumentConfig maps a display instrument to its wire identifier
// and the grouping intervals offered for it. The first grouping is
// the instrument's native tick size.
type InstrumentConfig struct {
	Name      string    `yaml:"name"`
	ProductID string    `yaml:"product_id"`
	Groupings []float64 `yaml:"groupings"`
}

type ChannelsConfig struct {
	BatchBuffer int `yaml:"batch_buffer"`
	ViewBuffer  int `yaml:"view_buffer"`
}

type StorageConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// UpdateInterval returns the drain cadence as a duration, falling back
// to the 100ms default when unset.
func (c *Config) UpdateInterval() time.Duration {
	if c.Engine.UpdateIntervalMs <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(c.Engine.UpdateIntervalMs) * time.Millisecond
}

// ViewInterval returns the render/publish cadence, defaulting to the
// update interval when unset.
func (c *Config) ViewInterval() time.Duration {
	if c.Engine.ViewIntervalMs <= 0 {
		return c.UpdateInterval()
	}
	return time.Duration(c.Engine.ViewIntervalMs) * time.Millisecond
}

// Instrument looks up an instrument by display name, case-insensitive.
func (c *Config) Instrument(name string) (InstrumentConfig, bool) {
	for _, inst := range c.Instruments {
		if strings.EqualFold(inst.Name, name) {
			return inst, true
		}
	}
	return InstrumentConfig{}, false
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Engine: EngineConfig{
			UpdateIntervalMs: 100,
			MaxLevelCount:    25,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment overrides for deploy-specific values
	if v := os.Getenv("FEED_ENDPOINT"); v != "" {
		config.Feed.Endpoint = strings.TrimSpace(v)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		config.Storage.Kafka.Brokers = splitAndTrim(v)
	}
	if config.Metrics.CloudWatch.Enabled {
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Metrics.CloudWatch.Region = strings.TrimSpace(v)
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Bookflow.Name == "" {
		return fmt.Errorf("bookflow.name is required")
	}

	if cfg.Bookflow.Version == "" {
		return fmt.Errorf("bookflow.version is required")
	}

	if cfg.Feed.Endpoint == "" {
		return fmt.Errorf("feed.endpoint is required")
	}
	if !strings.HasPrefix(cfg.Feed.Endpoint, "ws://") && !strings.HasPrefix(cfg.Feed.Endpoint, "wss://") {
		return fmt.Errorf("feed.endpoint '%s' must be a ws:// or wss:// URL", cfg.Feed.Endpoint)
	}

	if cfg.Engine.UpdateIntervalMs <= 0 {
		return fmt.Errorf("engine.update_interval_ms must be greater than 0")
	}
	if cfg.Engine.MaxLevelCount <= 0 {
		return fmt.Errorf("engine.max_level_count must be greater than 0")
	}

	if len(cfg.Instruments) == 0 {
		return fmt.Errorf("at least one instrument is required")
	}
	seen := make(map[string]struct{}, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		if inst.Name == "" || inst.ProductID == "" {
			return fmt.Errorf("instrument name and product_id are required")
		}
		key := strings.ToLower(inst.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate instrument '%s'", inst.Name)
		}
		seen[key] = struct{}{}
		if len(inst.Groupings) == 0 {
			return fmt.Errorf("instrument '%s' needs at least one grouping interval", inst.Name)
		}
		for _, g := range inst.Groupings {
			if g <= 0 {
				return fmt.Errorf("instrument '%s' has invalid grouping %v", inst.Name, g)
			}
		}
	}

	if cfg.Storage.Kafka.Enabled {
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required when kafka is enabled")
		}
		if cfg.Storage.Kafka.Topic == "" {
			return fmt.Errorf("storage.kafka.topic is required when kafka is enabled")
		}
	}

	if cfg.API.Enabled && cfg.API.Address == "" {
		return fmt.Errorf("api.address is required when the api is enabled")
	}

	return nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
