// Package config provides the server configuration for trickle.
//
// Configuration is built in layers, later layers win:
//  1. Built-in defaults
//  2. Config files: YAML, TOML or Java-style properties
//  3. Environment variable overrides (TRICKLE_ prefix)
//  4. Typed setters on the Builder
//  5. File reference resolution (_file suffix fields)
//  6. Validation
package config

import (
	"fmt"
	"net"
	"runtime"
	"strconv"
	"time"
)

// Config holds all configuration for a trickle server.
type Config struct {
	Server        ServerConfig        `yaml:"server" toml:"server"`
	Transmit      TransmitConfig      `yaml:"transmit" toml:"transmit"`
	Database      DatabaseConfig      `yaml:"database" toml:"database"`
	Debug         DebugConfig         `yaml:"debug" toml:"debug"`
	Observability ObservabilityConfig `yaml:"observability" toml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address          string        `yaml:"address" toml:"address"`                       // default: all interfaces
	Port             int           `yaml:"port" toml:"port"`                             // default: 5050, 0 picks a free port
	Development      bool          `yaml:"development" toml:"development"`               // default: false
	Threads          int           `yaml:"threads" toml:"threads"`                       // default: 2 x NumCPU
	PublicAddress    string        `yaml:"public_address" toml:"public_address"`         // optional
	MaxContentLength int64         `yaml:"max_content_length" toml:"max_content_length"` // default: 1 MiB
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`     // default: 30s
	BaseDir          string        `yaml:"base_dir" toml:"base_dir"`                     // optional
	TLS              TLSConfig     `yaml:"tls" toml:"tls"`
}

// TLSConfig enables HTTPS when both files are set.
type TLSConfig struct {
	CertFile string `yaml:"cert_file" toml:"cert_file"`
	KeyFile  string `yaml:"key_file" toml:"key_file"`
}

// Enabled reports whether TLS is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// TransmitConfig holds per-response transmission settings.
type TransmitConfig struct {
	HighWaterMark int           `yaml:"high_water_mark" toml:"high_water_mark"` // default: 64 KiB
	LowWaterMark  int           `yaml:"low_water_mark" toml:"low_water_mark"`   // default: 32 KiB
	WriteTimeout  time.Duration `yaml:"write_timeout" toml:"write_timeout"`     // default: none
}

// DatabaseConfig holds the PostgreSQL settings for the row source.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" toml:"dsn"`
	DSNFile         string        `yaml:"dsn_file" toml:"dsn_file"` // _file variant for dsn
	MaxConns        int32         `yaml:"max_conns" toml:"max_conns"`
	MinConns        int32         `yaml:"min_conns" toml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" toml:"max_conn_lifetime"`
}

// DebugConfig holds category debug logging settings. The TRICKLE_DEBUG and
// TRICKLE_LOG_LEVEL variables take precedence.
type DebugConfig struct {
	Categories string `yaml:"categories" toml:"categories"` // comma separated
	Level      string `yaml:"level" toml:"level"`           // TRACE, DEBUG, INFO, WARN, ERROR
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"` // default: true
	Path    string `yaml:"path" toml:"path"`       // default: "/metrics"
}

// Default values.
const (
	DefaultPort             = 5050
	DefaultMaxContentLength = 1 << 20
)

// DefaultThreads is the execution permit count used when server.threads
// is zero or less.
func DefaultThreads() int {
	return 2 * runtime.NumCPU()
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:             DefaultPort,
			Threads:          DefaultThreads(),
			MaxContentLength: DefaultMaxContentLength,
			ShutdownTimeout:  30 * time.Second,
		},
		Transmit: TransmitConfig{
			HighWaterMark: 64 << 10,
			LowWaterMark:  32 << 10,
		},
		Database: DatabaseConfig{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: 5 * time.Minute,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// ListenAddr returns the address the server listens on.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port))
}

// PublicURL returns the address clients use to reach the server: the
// configured public address, or one derived from the listen address.
func (c *Config) PublicURL() string {
	if c.Server.PublicAddress != "" {
		return c.Server.PublicAddress
	}
	scheme := "http"
	if c.Server.TLS.Enabled() {
		scheme = "https"
	}
	host := c.Server.Address
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, strconv.Itoa(c.Server.Port)))
}
