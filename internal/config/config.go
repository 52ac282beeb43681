package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the healing engine.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Monitor   MonitorConfig    `yaml:"monitor"`
	Trend     TrendConfig      `yaml:"trend"`
	Recovery  RecoveryConfig   `yaml:"recovery"`
	Rules     RulesConfig      `yaml:"rules"`
	Ledger    LedgerConfig     `yaml:"ledger"`
	Notify    NotifyConfig     `yaml:"notify"`
	Probes    ProbesConfig     `yaml:"probes"`
	Actuators []ActuatorConfig `yaml:"actuators"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// ServerConfig controls the HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// MonitorConfig controls snapshot cadence and probe execution.
type MonitorConfig struct {
	Interval     time.Duration `yaml:"interval"`
	ProbeTimeout time.Duration `yaml:"probeTimeout"`

	// Weights biases the health score per metric; unlisted metrics
	// weigh 1. UNKNOWN readings are excluded from the average.
	Weights map[string]float64 `yaml:"weights"`

	// Bounds maps numeric metrics onto a 0-100 health scale.
	Bounds map[string]MetricBounds `yaml:"bounds"`
}

// MetricBounds normalises a numeric metric: at or below Healthy scores 100,
// at or above Failing scores 0, linear in between. Swapped bounds invert
// the scale for metrics where higher is better.
type MetricBounds struct {
	Healthy float64 `yaml:"healthy"`
	Failing float64 `yaml:"failing"`
}

// TrendConfig bounds the in-memory trend store.
type TrendConfig struct {
	MaxAge     time.Duration `yaml:"maxAge"`
	MaxSamples int           `yaml:"maxSamples"`
}

// RecoveryConfig tunes the orchestrator.
type RecoveryConfig struct {
	Workers            int           `yaml:"workers"`
	ActionTimeout      time.Duration `yaml:"actionTimeout"`
	MaxAttempts        int           `yaml:"maxAttempts"`
	BackoffBase        time.Duration `yaml:"backoffBase"`
	BackoffMax         time.Duration `yaml:"backoffMax"`
	EscalationCooldown time.Duration `yaml:"escalationCooldown"`
	RetryExhausted     bool          `yaml:"retryExhausted"`
	DrainTimeout       time.Duration `yaml:"drainTimeout"`
}

// RulesConfig locates the diagnostic rule pack.
type RulesConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// LedgerConfig selects outcome ledger storage.
type LedgerConfig struct {
	Driver      string `yaml:"driver"` // memory | postgres
	DatabaseURL string `yaml:"databaseURL"`

	// Decay is the moving-average weight applied to the newest outcome
	// when computing per-action success rates.
	Decay float64 `yaml:"decay"`
}

// ProbesConfig selects which built-in probes to register. Custom probes
// are registered programmatically before the engine starts.
type ProbesConfig struct {
	// System enables the loadavg, memory, and disk probes.
	System bool `yaml:"system"`

	// Services adds one HTTP reachability probe per entry.
	Services []ServiceProbeConfig `yaml:"services"`
}

// ServiceProbeConfig describes one HTTP reachability probe.
type ServiceProbeConfig struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ActuatorConfig registers one named remediation. Type selects the
// implementation: command runs a local process, webhook POSTs to an
// external controller.
type ActuatorConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // command | webhook

	// Command fields.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	// Webhook fields.
	URL     string        `yaml:"url"`
	Body    string        `yaml:"body"`
	Timeout time.Duration `yaml:"timeout"`
}

// NotifyConfig configures escalation webhooks; empty URL disables delivery.
type NotifyConfig struct {
	WebhookURL string        `yaml:"webhookURL"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("VIGIL_HEAL_CONFIG")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns production defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8880",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Monitor: MonitorConfig{
			Interval:     30 * time.Second,
			ProbeTimeout: 5 * time.Second,
		},
		Trend: TrendConfig{
			MaxAge:     24 * time.Hour,
			MaxSamples: 2880,
		},
		Recovery: RecoveryConfig{
			Workers:            runtime.NumCPU(),
			ActionTimeout:      60 * time.Second,
			MaxAttempts:        3,
			BackoffBase:        time.Second,
			BackoffMax:         30 * time.Second,
			EscalationCooldown: 10 * time.Minute,
			DrainTimeout:       30 * time.Second,
		},
		Rules: RulesConfig{
			Path:  "configs/rules/default.yaml",
			Watch: true,
		},
		Ledger: LedgerConfig{
			Driver: "memory",
			Decay:  0.3,
		},
		Notify: NotifyConfig{
			Timeout:    10 * time.Second,
			MaxRetries: 2,
		},
		Probes: ProbesConfig{System: true},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}
	if c.Monitor.ProbeTimeout <= 0 {
		return fmt.Errorf("monitor.probeTimeout must be positive")
	}
	if c.Trend.MaxSamples <= 0 {
		return fmt.Errorf("trend.maxSamples must be positive")
	}
	if c.Trend.MaxAge <= 0 {
		return fmt.Errorf("trend.maxAge must be positive")
	}
	if c.Recovery.Workers <= 0 {
		return fmt.Errorf("recovery.workers must be positive")
	}
	if c.Recovery.MaxAttempts <= 0 {
		return fmt.Errorf("recovery.maxAttempts must be positive")
	}
	switch c.Ledger.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("ledger.driver must be memory or postgres, got %q", c.Ledger.Driver)
	}
	if c.Ledger.Driver == "postgres" && c.Ledger.DatabaseURL == "" {
		return fmt.Errorf("ledger.databaseURL required for postgres driver")
	}
	if c.Ledger.Decay <= 0 || c.Ledger.Decay > 1 {
		return fmt.Errorf("ledger.decay must be in (0, 1]")
	}
	for i, sp := range c.Probes.Services {
		if sp.Name == "" || sp.URL == "" {
			return fmt.Errorf("probes.services[%d] needs name and url", i)
		}
	}
	for i, act := range c.Actuators {
		if act.Name == "" {
			return fmt.Errorf("actuators[%d] has no name", i)
		}
		switch act.Type {
		case "command":
			if act.Command == "" {
				return fmt.Errorf("actuator %q needs a command", act.Name)
			}
		case "webhook":
			if act.URL == "" {
				return fmt.Errorf("actuator %q needs a url", act.Name)
			}
		default:
			return fmt.Errorf("actuator %q has unknown type %q", act.Name, act.Type)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VIGIL_HEAL_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("VIGIL_HEAL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("VIGIL_HEAL_MONITOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.Interval = d
		}
	}
	if v := os.Getenv("VIGIL_HEAL_PROBE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.ProbeTimeout = d
		}
	}
	if v := os.Getenv("VIGIL_HEAL_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("VIGIL_HEAL_RECOVERY_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Recovery.Workers = n
		}
	}
	if v := os.Getenv("VIGIL_HEAL_ACTION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Recovery.ActionTimeout = d
		}
	}
	if v := os.Getenv("VIGIL_HEAL_LEDGER_DRIVER"); v != "" {
		cfg.Ledger.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Ledger.DatabaseURL = v
	}
	if v := os.Getenv("VIGIL_HEAL_NOTIFY_WEBHOOK"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := os.Getenv("VIGIL_HEAL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VIGIL_HEAL_LOG_FORMAT"); strings.EqualFold(v, "json") {
		cfg.Logging.JSON = true
	}
}
