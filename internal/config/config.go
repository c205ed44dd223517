package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the flow status service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Clients  ClientsConfig  `yaml:"clients"`
	Polling  PollingConfig  `yaml:"polling"`
	Limits   LimitsConfig   `yaml:"limits"`
	Playback PlaybackConfig `yaml:"playback"`
	Flow     FlowConfig     `yaml:"flow"`
	Logging  LoggingConfig  `yaml:"logging"`
	Cache    CacheConfig    `yaml:"cache"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// ClientsConfig groups integrations with telemetry backends.
type ClientsConfig struct {
	Telemetry TelemetryClientConfig `yaml:"telemetry"`
}

// TelemetryClientConfig configures access to the telemetry query service.
type TelemetryClientConfig struct {
	BaseURL           string        `yaml:"baseURL"`
	SearchPath        string        `yaml:"searchPath"`
	EntityStatusPath  string        `yaml:"entityStatusPath"`
	ConditionsPath    string        `yaml:"conditionsPath"`
	IssuesPath        string        `yaml:"issuesPath"`
	IncidentsPath     string        `yaml:"incidentsPath"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
}

// PollingConfig controls the live refresh loop.
type PollingConfig struct {
	RefreshInterval    time.Duration `yaml:"refreshInterval"`
	MinRefreshInterval time.Duration `yaml:"minRefreshInterval"`
	TimeRange          time.Duration `yaml:"timeRange"`
}

// Enabled reports whether the refresh interval is long enough to poll.
func (p PollingConfig) Enabled() bool {
	return p.RefreshInterval > 0 && p.RefreshInterval >= p.MinRefreshInterval
}

// TypeLimits is a per-signal-type quota.
type TypeLimits struct {
	Entity int `yaml:"entity"`
	Alert  int `yaml:"alert"`
}

// LimitsConfig bounds how many signals are fetched.
type LimitsConfig struct {
	MaxEntitiesInStep TypeLimits `yaml:"maxEntitiesInStep"`
	MaxEntitiesInFlow TypeLimits `yaml:"maxEntitiesInFlow"`
	MaxParamsInQuery  int        `yaml:"maxParamsInQuery"`
}

// PlaybackConfig controls historical preload.
type PlaybackConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// FlowConfig locates the flow document and the caller's accessible accounts.
type FlowConfig struct {
	Path     string  `yaml:"path"`
	Watch    bool    `yaml:"watch"`
	Accounts []int64 `yaml:"accounts"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	Debug bool   `yaml:"debug"`
}

// CacheConfig controls Valkey-backed caching of alert condition metadata.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	PoolSize     int           `yaml:"poolSize"`
	KeyPrefix    string        `yaml:"keyPrefix"`
	ConditionTTL time.Duration `yaml:"conditionTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_FLOWS_CONFIG")
	}

	cfg := defaultConfig()

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
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50061",
			MetricsAddress:  ":2113",
			GracefulTimeout: 10 * time.Second,
		},
		Clients: ClientsConfig{
			Telemetry: TelemetryClientConfig{
				SearchPath:        "/api/v1/signals/search",
				EntityStatusPath:  "/api/v1/entities/status",
				ConditionsPath:    "/api/v1/alerts/conditions",
				IssuesPath:        "/api/v1/alerts/issues",
				IncidentsPath:     "/api/v1/alerts/incidents",
				Timeout:           10 * time.Second,
				RequestsPerSecond: 20,
				Burst:             5,
			},
		},
		Polling: PollingConfig{
			RefreshInterval:    time.Minute,
			MinRefreshInterval: 10 * time.Second,
			TimeRange:          30 * time.Minute,
		},
		Limits: LimitsConfig{
			MaxEntitiesInStep: TypeLimits{Entity: 25, Alert: 25},
			MaxEntitiesInFlow: TypeLimits{Entity: 250, Alert: 250},
			MaxParamsInQuery:  25,
		},
		Playback: PlaybackConfig{Concurrency: 4},
		Flow:     FlowConfig{Path: "configs/flow.yaml", Watch: true},
		Logging:  LoggingConfig{Level: "info"},
		Cache: CacheConfig{
			ConditionTTL: 5 * time.Minute,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			PoolSize:     4,
		},
	}
}

func (c *Config) validate() error {
	if c.Limits.MaxParamsInQuery <= 0 {
		return fmt.Errorf("limits.maxParamsInQuery must be positive, got %d", c.Limits.MaxParamsInQuery)
	}
	for name, v := range map[string]int{
		"maxEntitiesInStep.entity": c.Limits.MaxEntitiesInStep.Entity,
		"maxEntitiesInStep.alert":  c.Limits.MaxEntitiesInStep.Alert,
		"maxEntitiesInFlow.entity": c.Limits.MaxEntitiesInFlow.Entity,
		"maxEntitiesInFlow.alert":  c.Limits.MaxEntitiesInFlow.Alert,
	} {
		if v < 0 {
			return fmt.Errorf("limits.%s must not be negative", name)
		}
	}
	if c.Playback.Concurrency <= 0 {
		c.Playback.Concurrency = 1
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_FLOWS_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_FLOWS_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_TELEMETRY_BASE_URL"); v != "" {
		cfg.Clients.Telemetry.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_TELEMETRY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Clients.Telemetry.Timeout = d
		}
	}
	if v := os.Getenv("MIRADOR_TELEMETRY_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Clients.Telemetry.RequestsPerSecond = rps
		}
	}
	if v := os.Getenv("MIRADOR_FLOWS_REFRESH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Polling.RefreshInterval = d
		}
	}
	if v := os.Getenv("MIRADOR_FLOWS_TIME_RANGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Polling.TimeRange = d
		}
	}
	if v := os.Getenv("MIRADOR_FLOWS_MAX_PARAMS_IN_QUERY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxParamsInQuery = n
		}
	}
	if v := os.Getenv("MIRADOR_FLOWS_FLOW_PATH"); v != "" {
		cfg.Flow.Path = v
	}
	if v := os.Getenv("MIRADOR_FLOWS_ACCOUNTS"); v != "" {
		cfg.Flow.Accounts = parseAccounts(v)
	}
	if v := os.Getenv("MIRADOR_FLOWS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_FLOWS_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_FLOWS_DEBUG"); v != "" {
		cfg.Logging.Debug = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("MIRADOR_FLOWS_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MIRADOR_FLOWS_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("MIRADOR_FLOWS_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MIRADOR_FLOWS_CACHE_CONDITION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ConditionTTL = d
		}
	}
}

func parseAccounts(raw string) []int64 {
	var accounts []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			accounts = append(accounts, id)
		}
	}
	return accounts
}
