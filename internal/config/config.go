// Package config loads per-binary configuration from the environment.
// A .env file is honored when present; real environment variables win.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Edge configures the commenter-edge binary.
type Edge struct {
	Broker  string `env:"BROKER"`
	Topic   string `env:"TOPIC" envDefault:"comments"`
	GroupID string `env:"GROUP_ID" envDefault:"commenter-edge"`

	ListenAddress string `env:"LISTEN_ADDRESS" envDefault:"0.0.0.0"`
	ListenPort    int    `env:"LISTEN_PORT" envDefault:"8080"`

	// Lookup tier the edge resolves prior state against.
	WarpAddress string `env:"WARP_ADDRESS" envDefault:"127.0.0.1"`
	WarpPort    int    `env:"WARP_PORT" envDefault:"8000"`

	ResolverTimeout time.Duration `env:"RESOLVER_TIMEOUT" envDefault:"3s"`
	ProduceTimeout  time.Duration `env:"PRODUCE_TIMEOUT" envDefault:"5s"`

	QueueSize      int           `env:"QUEUE_SIZE" envDefault:"256"`
	MaxConnections int           `env:"MAX_CONNECTIONS" envDefault:"4096"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT" envDefault:"60s"`

	// Per-connection inbound frame limit.
	MsgRate  float64 `env:"MSG_RATE" envDefault:"50"`
	MsgBurst int     `env:"MSG_BURST" envDefault:"100"`

	// Admission limits for new connections.
	ConnRate  float64 `env:"CONN_RATE" envDefault:"100"`
	ConnBurst int     `env:"CONN_BURST" envDefault:"200"`

	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"10s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Hotstorage configures the commenter-hotstorage binary.
type Hotstorage struct {
	Broker      string `env:"BROKER"`
	Topic       string `env:"TOPIC" envDefault:"comments"`
	GroupID     string `env:"GROUP_ID" envDefault:"commenter-hotstorage"`
	DatabaseURL string `env:"DATABASE_URL"`

	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`

	// Diagnostics listener for /metrics and /healthz; empty disables.
	DiagAddress string `env:"DIAG_ADDRESS" envDefault:":9091"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// API configures the commenter-api binary.
type API struct {
	DatabaseURL string `env:"DATABASE_URL"`
	WarpAddress string `env:"WARP_ADDRESS" envDefault:"0.0.0.0"`
	WarpPort    int    `env:"WARP_PORT" envDefault:"8000"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// LoadEdge parses and validates edge configuration.
func LoadEdge() (Edge, error) {
	loadDotenv()
	var cfg Edge
	if err := env.Parse(&cfg); err != nil {
		return Edge{}, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Edge{}, err
	}
	return cfg, nil
}

// LoadHotstorage parses and validates projector configuration.
func LoadHotstorage() (Hotstorage, error) {
	loadDotenv()
	var cfg Hotstorage
	if err := env.Parse(&cfg); err != nil {
		return Hotstorage{}, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Hotstorage{}, err
	}
	return cfg, nil
}

// LoadAPI parses and validates lookup API configuration.
func LoadAPI() (API, error) {
	loadDotenv()
	var cfg API
	if err := env.Parse(&cfg); err != nil {
		return API{}, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return API{}, err
	}
	return cfg, nil
}

// Validate checks edge settings.
func (c Edge) Validate() error {
	if len(c.Brokers()) == 0 {
		return fmt.Errorf("config: BROKER is required")
	}
	if c.Topic == "" {
		return fmt.Errorf("config: TOPIC must not be empty")
	}
	if c.GroupID == "" {
		return fmt.Errorf("config: GROUP_ID must not be empty")
	}
	if err := validPort("LISTEN_PORT", c.ListenPort); err != nil {
		return err
	}
	if err := validPort("WARP_PORT", c.WarpPort); err != nil {
		return err
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("config: QUEUE_SIZE must be > 0, got %d", c.QueueSize)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("config: MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.ResolverTimeout <= 0 {
		return fmt.Errorf("config: RESOLVER_TIMEOUT must be positive, got %s", c.ResolverTimeout)
	}
	if c.ProduceTimeout <= 0 {
		return fmt.Errorf("config: PRODUCE_TIMEOUT must be positive, got %s", c.ProduceTimeout)
	}
	return validLogging(c.LogLevel, c.LogFormat)
}

// Validate checks projector settings.
func (c Hotstorage) Validate() error {
	if len(c.Brokers()) == 0 {
		return fmt.Errorf("config: BROKER is required")
	}
	if c.Topic == "" {
		return fmt.Errorf("config: TOPIC must not be empty")
	}
	if c.GroupID == "" {
		return fmt.Errorf("config: GROUP_ID must not be empty")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	return validLogging(c.LogLevel, c.LogFormat)
}

// Validate checks lookup API settings.
func (c API) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if err := validPort("WARP_PORT", c.WarpPort); err != nil {
		return err
	}
	return validLogging(c.LogLevel, c.LogFormat)
}

// Brokers splits the comma-separated BROKER list.
func (c Edge) Brokers() []string { return splitBrokers(c.Broker) }

// Brokers splits the comma-separated BROKER list.
func (c Hotstorage) Brokers() []string { return splitBrokers(c.Broker) }

// ListenAddr returns the edge bind address.
func (c Edge) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenAddress, c.ListenPort)
}

// LookupBaseURL returns the base URL of the lookup tier.
func (c Edge) LookupBaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.WarpAddress, c.WarpPort)
}

// ListenAddr returns the API bind address.
func (c API) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.WarpAddress, c.WarpPort)
}

func loadDotenv() {
	// Best effort; production supplies real environment variables.
	_ = godotenv.Load()
}

func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func validPort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("config: %s must be 1-65535, got %d", name, port)
	}
	return nil
}

func validLogging(level, format string) error {
	switch level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: LOG_LEVEL must be debug, info, warn or error, got %q", level)
	}
	switch format {
	case "json", "console":
	default:
		return fmt.Errorf("config: LOG_FORMAT must be json or console, got %q", format)
	}
	return nil
}
