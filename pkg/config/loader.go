package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. Config file (explicit path, TRICKLE_CONFIG env, ./trickle.yaml, /etc/trickle/config.yaml)
//  3. Environment variables (TRICKLE_ prefix)
//  4. File reference resolution (_file suffix)
//  5. Validation
//
// The file format follows the extension: .toml, .properties, anything
// else is read as YAML.
func Load(configPath string) (*Config, error) {
	b := NewBuilder()
	if path := Discover(configPath); path != "" {
		b.File(path)
	}
	return b.Env(DefaultEnvPrefix).Build()
}

// File loads path with the source matching its extension.
func (b *Builder) File(path string) *Builder {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return b.TOML(path)
	case ".properties", ".props":
		return b.Props(path)
	default:
		return b.YAML(path)
	}
}

// Discover finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. TRICKLE_CONFIG environment variable
// 3. ./trickle.yaml in the current directory
// 4. /etc/trickle/config.yaml
//
// Returns empty string if no config file is found.
func Discover(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("TRICKLE_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"trickle.yaml",
		"/etc/trickle/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// If the value field is empty and the file field is set, the file is read,
// whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// database.dsn_file -> database.dsn
	if cfg.Database.DSNFile != "" && cfg.Database.DSN == "" {
		val, err := readSecretFile(cfg.Database.DSNFile)
		if err != nil {
			return fmt.Errorf("database.dsn_file: %w", err)
		}
		cfg.Database.DSN = val
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
