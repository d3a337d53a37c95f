package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// SubsystemConfigs holds per-subsystem configuration sections keyed by
// subsystem kind (e.g. "economy", "crop_growth"). Sections are passed
// verbatim to the subsystem factory at construction time.
type SubsystemConfigs map[string]map[string]any

// Config is the complete kernel configuration
type Config struct {
	Platform   PlatformConfig   `json:"platform"`
	NATS       NATSConfig       `json:"nats"`
	Kernel     KernelConfig     `json:"kernel"`
	Subsystems SubsystemConfigs `json:"subsystems"`
}

// PlatformConfig identifies the running installation
type PlatformConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Environment string `json:"environment"` // dev, staging, production
}

// NATSConfig holds the external bus connection settings. Leave URL
// empty to run on the in-process bus only.
type NATSConfig struct {
	URL            string        `json:"url"`
	Name           string        `json:"name"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	MaxReconnects  int           `json:"max_reconnects"`
	ReconnectWait  time.Duration `json:"reconnect_wait"`
	DrainTimeout   time.Duration `json:"drain_timeout"`
}

// KernelConfig tunes the orchestration loops
type KernelConfig struct {
	HealthInterval    time.Duration `json:"health_interval"`
	DrainInterval     time.Duration `json:"drain_interval"`
	DrainBatchSize    int           `json:"drain_batch_size"`
	QueueCapacity     int           `json:"queue_capacity"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout"`
	MaxRestarts       int           `json:"max_restarts"`
	DegradedErrorMax  int           `json:"degraded_error_max"`
	DegradedLatencyMs int           `json:"degraded_latency_ms"`
}

// Default returns a configuration with working values for every field
func Default() *Config {
	return &Config{
		Platform: PlatformConfig{
			ID:          "simkernel",
			Name:        "simkernel",
			Environment: "dev",
		},
		NATS: NATSConfig{
			ConnectTimeout: 5 * time.Second,
			MaxReconnects:  -1,
			ReconnectWait:  2 * time.Second,
			DrainTimeout:   5 * time.Second,
		},
		Kernel: KernelConfig{
			HealthInterval:    30 * time.Second,
			DrainInterval:     50 * time.Millisecond,
			DrainBatchSize:    32,
			QueueCapacity:     256,
			ShutdownTimeout:   10 * time.Second,
			MaxRestarts:       3,
			DegradedErrorMax:  10,
			DegradedLatencyMs: 500,
		},
		Subsystems: make(SubsystemConfigs),
	}
}

// Validate checks required fields and loop tunables
func (c *Config) Validate() error {
	if c.Platform.ID == "" {
		return fmt.Errorf("platform.id is required")
	}
	if c.Kernel.HealthInterval <= 0 {
		return fmt.Errorf("kernel.health_interval must be positive")
	}
	if c.Kernel.DrainInterval <= 0 {
		return fmt.Errorf("kernel.drain_interval must be positive")
	}
	if c.Kernel.QueueCapacity <= 0 {
		return fmt.Errorf("kernel.queue_capacity must be positive")
	}
	if c.Kernel.DrainBatchSize <= 0 {
		return fmt.Errorf("kernel.drain_batch_size must be positive")
	}
	if c.Kernel.MaxRestarts < 0 {
		return fmt.Errorf("kernel.max_restarts must not be negative")
	}
	return nil
}

// Clone returns a deep copy of the configuration
func (c *Config) Clone() *Config {
	out := *c
	out.Subsystems = make(SubsystemConfigs, len(c.Subsystems))
	for kind, section := range c.Subsystems {
		copied := make(map[string]any, len(section))
		for k, v := range section {
			copied[k] = v
		}
		out.Subsystems[kind] = copied
	}
	return &out
}

// Load reads a JSON config file, applies defaults for zero-valued
// kernel tunables, applies environment overrides and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override connection
// settings without editing the config file
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SIMKERNEL_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("SIMKERNEL_PLATFORM_ID"); v != "" {
		cfg.Platform.ID = v
	}
	if v := os.Getenv("SIMKERNEL_ENVIRONMENT"); v != "" {
		cfg.Platform.Environment = v
	}
	if v := os.Getenv("SIMKERNEL_HEALTH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Kernel.HealthInterval = d
		}
	}
	if v := os.Getenv("SIMKERNEL_MAX_RESTARTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Kernel.MaxRestarts = n
		}
	}
}

// SafeConfig provides thread-safe access to a live configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig wraps a configuration for concurrent access
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Subsystem returns the configuration section for a subsystem kind,
// or an empty map when no section exists
func (sc *SafeConfig) Subsystem(kind string) map[string]any {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	section, ok := sc.config.Subsystems[kind]
	if !ok {
		return map[string]any{}
	}
	copied := make(map[string]any, len(section))
	for k, v := range section {
		copied[k] = v
	}
	return copied
}
