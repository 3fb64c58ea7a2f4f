package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/magiconair/properties"
	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix prefixes the environment variables read by Env.
const DefaultEnvPrefix = "TRICKLE_"

// DefaultPropertiesFile is the file FindBaseDirProps looks for.
const DefaultPropertiesFile = "trickle.properties"

// Builder assembles a Config from layered sources. Sources are applied in
// call order; errors are collected and reported by Build.
type Builder struct {
	cfg  Config
	errs []error
}

// NewBuilder returns a builder starting from Defaults.
func NewBuilder() *Builder {
	return &Builder{cfg: Defaults()}
}

// Embedded returns a builder for running inside tests or another
// program: development mode on a free port.
func Embedded() *Builder {
	b := NewBuilder()
	b.cfg.Server.Development = true
	b.cfg.Server.Port = 0
	return b
}

// FindBaseDirProps walks up from the working directory looking for the
// properties file name (DefaultPropertiesFile if empty). The directory it
// is found in becomes the base dir, and the file is loaded as the first
// source.
func FindBaseDirProps(name string) (*Builder, error) {
	if name == "" {
		name = DefaultPropertiesFile
	}
	dir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("finding base dir: %w", err)
	}
	for {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return NewBuilder().BaseDir(dir).Props(path), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, fmt.Errorf("finding base dir: %s not found in working directory or its parents", name)
		}
		dir = parent
	}
}

// YAML loads a YAML file. Fields not present keep their current values.
func (b *Builder) YAML(path string) *Builder {
	data, err := os.ReadFile(path)
	if err != nil {
		return b.fail(fmt.Errorf("loading config file %s: %w", path, err))
	}
	if err := yaml.Unmarshal(data, &b.cfg); err != nil {
		return b.fail(fmt.Errorf("loading config file %s: %w", path, err))
	}
	return b
}

// TOML loads a TOML file. Fields not present keep their current values.
func (b *Builder) TOML(path string) *Builder {
	if _, err := toml.DecodeFile(path, &b.cfg); err != nil {
		return b.fail(fmt.Errorf("loading config file %s: %w", path, err))
	}
	return b
}

// Props loads a properties file with dotted keys, e.g. server.port=8080.
func (b *Builder) Props(path string) *Builder {
	p, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return b.fail(fmt.Errorf("loading properties %s: %w", path, err))
	}
	return b.applyProps(p, path)
}

// PropsMap applies dotted keys from m.
func (b *Builder) PropsMap(m map[string]string) *Builder {
	return b.applyProps(properties.LoadMap(m), "map")
}

func (b *Builder) applyProps(p *properties.Properties, source string) *Builder {
	for _, key := range Keys() {
		if v, ok := p.Get(key); ok {
			if err := b.cfg.Set(key, v); err != nil {
				b.fail(fmt.Errorf("%s: %w", source, err))
			}
		}
	}
	return b
}

// Env applies environment variables named prefix plus the upper-cased key
// with dots replaced by underscores, e.g. TRICKLE_SERVER_PORT. An empty
// prefix means DefaultEnvPrefix.
func (b *Builder) Env(prefix string) *Builder {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	for _, key := range Keys() {
		name := prefix + EnvName(key)
		if v, ok := os.LookupEnv(name); ok && v != "" {
			if err := b.cfg.Set(key, v); err != nil {
				b.fail(fmt.Errorf("%s: %w", name, err))
			}
		}
	}
	return b
}

// Port sets server.port.
func (b *Builder) Port(port int) *Builder { b.cfg.Server.Port = port; return b }

// Address sets server.address.
func (b *Builder) Address(addr string) *Builder { b.cfg.Server.Address = addr; return b }

// Development sets server.development.
func (b *Builder) Development(dev bool) *Builder { b.cfg.Server.Development = dev; return b }

// Threads sets server.threads. Zero or less means DefaultThreads.
func (b *Builder) Threads(n int) *Builder { b.cfg.Server.Threads = n; return b }

// PublicAddress sets server.public_address.
func (b *Builder) PublicAddress(addr string) *Builder { b.cfg.Server.PublicAddress = addr; return b }

// MaxContentLength sets server.max_content_length.
func (b *Builder) MaxContentLength(n int64) *Builder { b.cfg.Server.MaxContentLength = n; return b }

// TLS sets the certificate and key files.
func (b *Builder) TLS(certFile, keyFile string) *Builder {
	b.cfg.Server.TLS = TLSConfig{CertFile: certFile, KeyFile: keyFile}
	return b
}

// BaseDir sets server.base_dir.
func (b *Builder) BaseDir(dir string) *Builder { b.cfg.Server.BaseDir = dir; return b }

// Build resolves file references, validates and returns the Config.
func (b *Builder) Build() (*Config, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	cfg := b.cfg
	if cfg.Server.Threads <= 0 {
		cfg.Server.Threads = DefaultThreads()
	}
	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

func (b *Builder) fail(err error) *Builder {
	b.errs = append(b.errs, err)
	return b
}

// keys lists the settable keys in the order they are applied.
var keys = []string{
	"server.address",
	"server.port",
	"server.development",
	"server.threads",
	"server.public_address",
	"server.max_content_length",
	"server.shutdown_timeout",
	"server.base_dir",
	"server.tls.cert_file",
	"server.tls.key_file",
	"transmit.high_water_mark",
	"transmit.low_water_mark",
	"transmit.write_timeout",
	"database.dsn",
	"database.dsn_file",
	"database.max_conns",
	"database.min_conns",
	"database.max_conn_lifetime",
	"debug.categories",
	"debug.level",
	"observability.metrics.enabled",
	"observability.metrics.path",
}

// Keys returns the dotted keys understood by Set.
func Keys() []string {
	return append([]string(nil), keys...)
}

// EnvName returns the environment variable suffix for key.
func EnvName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Set assigns the string value v to the field named by the dotted key.
func (c *Config) Set(key, v string) error {
	var err error
	switch key {
	case "server.address":
		c.Server.Address = v
	case "server.port":
		c.Server.Port, err = strconv.Atoi(v)
	case "server.development":
		c.Server.Development, err = strconv.ParseBool(v)
	case "server.threads":
		c.Server.Threads, err = strconv.Atoi(v)
	case "server.public_address":
		c.Server.PublicAddress = v
	case "server.max_content_length":
		c.Server.MaxContentLength, err = strconv.ParseInt(v, 10, 64)
	case "server.shutdown_timeout":
		c.Server.ShutdownTimeout, err = time.ParseDuration(v)
	case "server.base_dir":
		c.Server.BaseDir = v
	case "server.tls.cert_file":
		c.Server.TLS.CertFile = v
	case "server.tls.key_file":
		c.Server.TLS.KeyFile = v
	case "transmit.high_water_mark":
		c.Transmit.HighWaterMark, err = strconv.Atoi(v)
	case "transmit.low_water_mark":
		c.Transmit.LowWaterMark, err = strconv.Atoi(v)
	case "transmit.write_timeout":
		c.Transmit.WriteTimeout, err = time.ParseDuration(v)
	case "database.dsn":
		c.Database.DSN = v
	case "database.dsn_file":
		c.Database.DSNFile = v
	case "database.max_conns":
		c.Database.MaxConns, err = parseInt32(v)
	case "database.min_conns":
		c.Database.MinConns, err = parseInt32(v)
	case "database.max_conn_lifetime":
		c.Database.MaxConnLifetime, err = time.ParseDuration(v)
	case "debug.categories":
		c.Debug.Categories = v
	case "debug.level":
		c.Debug.Level = v
	case "observability.metrics.enabled":
		c.Observability.Metrics.Enabled, err = strconv.ParseBool(v)
	case "observability.metrics.path":
		c.Observability.Metrics.Path = v
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

func parseInt32(v string) (int32, error) {
	n, err := strconv.ParseInt(v, 10, 32)
	return int32(n), err
}
