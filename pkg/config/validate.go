package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	// server.port 0 asks the OS for a free port.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 0 and 65535, got %d", c.Server.Port))
	}

	if c.Server.MaxContentLength <= 0 {
		errs = append(errs, fmt.Errorf("server.max_content_length must be > 0, got %d", c.Server.MaxContentLength))
	}

	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative, got %s", c.Server.ShutdownTimeout))
	}

	if c.Server.PublicAddress != "" {
		u, err := url.Parse(c.Server.PublicAddress)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.public_address must be an absolute http(s) URL, got %q", c.Server.PublicAddress))
		}
	}

	// Both TLS files or neither.
	if (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
		errs = append(errs, fmt.Errorf("server.tls.cert_file and server.tls.key_file must be set together"))
	}

	if c.Transmit.HighWaterMark <= 0 {
		errs = append(errs, fmt.Errorf("transmit.high_water_mark must be > 0, got %d", c.Transmit.HighWaterMark))
	}
	if c.Transmit.LowWaterMark < 0 || c.Transmit.LowWaterMark > c.Transmit.HighWaterMark {
		errs = append(errs, fmt.Errorf("transmit.low_water_mark must be between 0 and transmit.high_water_mark, got %d", c.Transmit.LowWaterMark))
	}
	if c.Transmit.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("transmit.write_timeout must not be negative, got %s", c.Transmit.WriteTimeout))
	}

	if c.Database.MinConns > c.Database.MaxConns {
		errs = append(errs, fmt.Errorf("database.min_conns (%d) must not exceed database.max_conns (%d)", c.Database.MinConns, c.Database.MaxConns))
	}

	switch strings.ToUpper(c.Debug.Level) {
	case "", "TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
		// valid
	default:
		errs = append(errs, fmt.Errorf("debug.level must be one of TRACE, DEBUG, INFO, WARN, ERROR, got %q", c.Debug.Level))
	}

	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("observability.metrics.path must start with \"/\", got %q", c.Observability.Metrics.Path))
	}

	return errors.Join(errs...)
}
