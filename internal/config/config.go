package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mtzanidakis/orca/internal/schedule"
)

// Transports supported by capability server pools.
const (
	TransportHTTP = "http"
	TransportMCP  = "mcp"
)

type Config struct {
	Gateway    GatewayConfig           `yaml:"gateway"`
	Servers    map[string]ServerConfig `yaml:"servers"`
	Health     HealthConfig            `yaml:"health"`
	NATS       NATSConfig              `yaml:"nats"`
	Store      StoreConfig             `yaml:"store"`
	Web        WebConfig               `yaml:"web"`
	Scheduler  SchedulerConfig         `yaml:"scheduler"`
	Workflows  WorkflowsConfig         `yaml:"workflows"`
	Governance GovernanceConfig        `yaml:"governance"`
	Telemetry  TelemetryConfig         `yaml:"telemetry"`
	Log        LogConfig               `yaml:"log"`
	Agents     AgentsConfig            `yaml:"agents"`
}

type GatewayConfig struct {
	BaseURL      string                `yaml:"base_url"`
	APIKey       string                `yaml:"api_key"`
	VirtualKey   string                `yaml:"virtual_key"`
	DefaultModel string                `yaml:"default_model"`
	Temperature  float64               `yaml:"temperature"`
	MaxTokens    int                   `yaml:"max_tokens"`
	Timeout      time.Duration         `yaml:"timeout"`
	Stream       bool                  `yaml:"stream"`
	Routing      map[string]string     `yaml:"routing"` // task -> model
	Pricing      map[string]ModelPrice `yaml:"pricing"` // model -> USD per 1k tokens
}

type ModelPrice struct {
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// RetryConfig is the per-server retry policy. MaxAttempts counts the first call.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// ServerConfig describes one capability server. It is not mutated after Load.
type ServerConfig struct {
	Name             string        `yaml:"name"`
	URL              string        `yaml:"url"`
	Transport        string        `yaml:"transport"`
	PoolSize         int           `yaml:"pool_size"`
	Timeout          time.Duration `yaml:"timeout"`
	HealthEndpoint   string        `yaml:"health_endpoint"`
	AllowedEndpoints []string      `yaml:"allowed_endpoints"`
	Retry            RetryConfig   `yaml:"retry"`
}

type HealthConfig struct {
	Interval       time.Duration `yaml:"interval"`
	Timeout        time.Duration `yaml:"timeout"`
	UnhealthyAfter int           `yaml:"unhealthy_after"`
}

type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"` // external server; empty starts an embedded one
	Port    int    `yaml:"port"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type SchedulerConfig struct {
	PollInterval time.Duration    `yaml:"poll_interval"`
	Schedules    []ScheduleConfig `yaml:"schedules"`
}

type ScheduleConfig struct {
	Name     string `yaml:"name"`
	Workflow string `yaml:"workflow"`
	Schedule string `yaml:"schedule"` // cron expression, "@every <duration>" or "@at <RFC 3339 time>"
}

type WorkflowsConfig struct {
	Path       string `yaml:"path"`
	MaxWorkers int    `yaml:"max_workers"`
}

type GovernanceConfig struct {
	PIIMask           bool `yaml:"pii_mask"`
	SafeMode          bool `yaml:"safe_mode"`
	RestrictEndpoints bool `yaml:"restrict_endpoints"`
}

type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type AgentsConfig struct {
	Default       string                     `yaml:"default"`
	Aliases       map[string]string          `yaml:"aliases"`
	Definitions   map[string]AgentDefinition `yaml:"definitions"`
	MemoryKey     string                     `yaml:"memory_key"`
	RecordResults bool                       `yaml:"record_results"`
}

type AgentDefinition struct {
	Description string `yaml:"description"`
	Model       string `yaml:"model"`
	System      string `yaml:"system"`
}

func defaultRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     5 * time.Second,
	}
}

func defaultServers() map[string]ServerConfig {
	return map[string]ServerConfig{
		"memory": {
			Name:             "Knowledge Graph Memory",
			URL:              "http://localhost:8081",
			AllowedEndpoints: []string{"health", "store", "retrieve", "search", "delete"},
		},
		"filesystem": {
			Name:             "File System Access",
			URL:              "http://localhost:8082",
			AllowedEndpoints: []string{"health", "read", "write", "list", "delete"},
		},
		"git": {
			Name:             "Git Repository Control",
			URL:              "http://localhost:8084",
			AllowedEndpoints: []string{"health", "status", "diff", "log", "symbols", "commit", "push"},
		},
		"vector": {
			Name:             "Vector Embeddings",
			URL:              "http://localhost:8085",
			AllowedEndpoints: []string{"health", "embed", "search", "index", "store", "delete", "stats"},
		},
	}
}

func defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			BaseURL:      "https://api.portkey.ai/v1",
			DefaultModel: "@openai/gpt-4o-mini",
			Temperature:  0.2,
			MaxTokens:    1024,
			Timeout:      120 * time.Second,
		},
		Servers: defaultServers(),
		Health: HealthConfig{
			Interval:       30 * time.Second,
			Timeout:        5 * time.Second,
			UnhealthyAfter: 3,
		},
		NATS: NATSConfig{
			Enabled: true,
			Port:    4222,
		},
		Store: StoreConfig{
			Path: "data/orca.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Workflows: WorkflowsConfig{
			Path:       "config/workflows.yaml",
			MaxWorkers: 4,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "orca",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Agents: AgentsConfig{
			Default: "developer",
			Aliases: map[string]string{
				"architect": "orchestrator",
				"coder":     "developer",
				"reviewer":  "monitor",
				"tester":    "developer",
			},
			MemoryKey: "system_status",
		},
	}
}

func Load() (*Config, error) {
	if err := godotenv.Load(envFile()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	path := os.Getenv("ORCA_CONFIG")
	if path == "" {
		path = "config/orca.yaml"
	}
	return LoadFile(path)
}

// LoadFile reads the YAML config at path. A missing file yields defaults plus
// environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envFile() string {
	if v := os.Getenv("ORCA_ENV_FILE"); v != "" {
		return v
	}
	return ".env"
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ORCA_GATEWAY_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("PORTKEY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Gateway.APIKey == "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("PORTKEY_VIRTUAL_KEY"); v != "" {
		cfg.Gateway.VirtualKey = v
	}
	if v := os.Getenv("ORCA_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("ORCA_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("ORCA_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("ORCA_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("ORCA_WORKFLOWS"); v != "" {
		cfg.Workflows.Path = v
	}
	if v := os.Getenv("ORCA_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.Endpoint = v
	}
	if v := os.Getenv("ORCA_PII_MASK"); v != "" {
		cfg.Governance.PIIMask = parseBool(v)
	}
	if v := os.Getenv("ORCA_SAFE_MODE"); v != "" {
		cfg.Governance.SafeMode = parseBool(v)
	}
	if v := os.Getenv("RESTRICT_MCP_PROXY"); v != "" {
		cfg.Governance.RestrictEndpoints = parseBool(v)
	}

	// ORCA_SERVER_<NAME>_URL overrides a single server address.
	for name, srv := range cfg.Servers {
		key := "ORCA_SERVER_" + strings.ToUpper(name) + "_URL"
		if v := os.Getenv(key); v != "" {
			srv.URL = v
			cfg.Servers[name] = srv
		}
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// normalize fills per-server zero values with defaults. YAML decoding replaces
// whole map entries, so defaults cannot be relied on for nested server fields.
func (c *Config) normalize() {
	def := defaultRetry()
	for name, srv := range c.Servers {
		if srv.Name == "" {
			srv.Name = name
		}
		if srv.Transport == "" {
			srv.Transport = TransportHTTP
		}
		if srv.PoolSize <= 0 {
			srv.PoolSize = 2
		}
		if srv.Timeout <= 0 {
			srv.Timeout = 5 * time.Second
		}
		if srv.HealthEndpoint == "" {
			srv.HealthEndpoint = "health"
		}
		if srv.Retry.MaxAttempts <= 0 {
			srv.Retry.MaxAttempts = def.MaxAttempts
		}
		if srv.Retry.InitialDelay <= 0 {
			srv.Retry.InitialDelay = def.InitialDelay
		}
		if srv.Retry.Multiplier <= 0 {
			srv.Retry.Multiplier = def.Multiplier
		}
		if srv.Retry.MaxDelay <= 0 {
			srv.Retry.MaxDelay = def.MaxDelay
		}
		c.Servers[name] = srv
	}
	if c.Health.UnhealthyAfter <= 0 {
		c.Health.UnhealthyAfter = 3
	}
	if c.Workflows.MaxWorkers <= 0 {
		c.Workflows.MaxWorkers = 1
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	var errs []error
	for _, name := range c.ServerNames() {
		srv := c.Servers[name]
		if srv.URL == "" {
			errs = append(errs, fmt.Errorf("config: server %q has no url", name))
		}
		if srv.Transport != TransportHTTP && srv.Transport != TransportMCP {
			errs = append(errs, fmt.Errorf("config: server %q has unknown transport %q", name, srv.Transport))
		}
		if srv.Retry.Multiplier < 1 {
			errs = append(errs, fmt.Errorf("config: server %q retry multiplier must be >= 1", name))
		}
	}
	if c.Health.Interval <= 0 {
		errs = append(errs, errors.New("config: health interval must be positive"))
	}
	for _, s := range c.Scheduler.Schedules {
		if s.Workflow == "" || s.Schedule == "" {
			errs = append(errs, fmt.Errorf("config: schedule %q needs workflow and schedule", s.Name))
			continue
		}
		if _, err := schedule.Parse(s.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("config: schedule %q: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// ServerNames returns the configured server names in sorted order.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
