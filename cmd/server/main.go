// Command server runs a trickle streaming server.
//
// Configuration is read from a YAML or TOML file (-config, TRICKLE_CONFIG,
// ./trickle.yaml or /etc/trickle/config.yaml), an optional properties file
// (-props) and TRICKLE_* environment variables, e.g.:
//
//	TRICKLE_SERVER_PORT            - Listen port (default: 5050)
//	TRICKLE_SERVER_THREADS         - Execution permits (default: 2 x NumCPU)
//	TRICKLE_SERVER_BASE_DIR        - Directory served under /files/
//	TRICKLE_DATABASE_DSN           - PostgreSQL DSN enabling /rows
//	TRICKLE_TRANSMIT_WRITE_TIMEOUT - Deadline for every response write
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rhuss/trickle/pkg/config"
	"github.com/rhuss/trickle/pkg/debug"
	"github.com/rhuss/trickle/pkg/exec"
	"github.com/rhuss/trickle/pkg/observability"
	"github.com/rhuss/trickle/pkg/source/pgrows"
	transporthttp "github.com/rhuss/trickle/pkg/transport/http"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML or TOML config file")
	propsPath := flag.String("props", "", "path to a properties file, applied after the config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *propsPath)
	if err != nil {
		return err
	}

	debug.Init(cfg.Debug.Categories, cfg.Debug.Level, cfg.Server.Development)

	ctrl := exec.New(cfg.Server.Threads)

	rt := &routes{
		exec:    ctrl.Go,
		baseDir: cfg.Server.BaseDir,
	}

	if cfg.Database.DSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		src, err := pgrows.Open(ctx, pgrows.Config{
			DSN:             cfg.Database.DSN,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
		}, ctrl.Go)
		cancel()
		if err != nil {
			return fmt.Errorf("opening row source: %w", err)
		}
		defer src.Close()
		rt.rows = src
		slog.Info("row source enabled", "max_conns", cfg.Database.MaxConns)
	}

	srv := transporthttp.NewServer(ctrl,
		transporthttp.WithAddr(cfg.ListenAddr()),
		transporthttp.WithTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile),
		transporthttp.WithMaxContentLength(cfg.Server.MaxContentLength),
		transporthttp.WithWaterMarks(cfg.Transmit.LowWaterMark, cfg.Transmit.HighWaterMark),
		transporthttp.WithWriteTimeout(cfg.Transmit.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithLogger(slog.Default()),
	)
	rt.register(srv.Adapter())

	if cfg.Observability.Metrics.Enabled {
		prometheus.MustRegister(observability.NewExecutorGauge(ctrl))
		srv.Adapter().HandleHTTP("GET "+cfg.Observability.Metrics.Path, observability.Handler())
	}

	slog.Info("configuration loaded",
		"public_url", cfg.PublicURL(),
		"threads", ctrl.Size(),
		"development", cfg.Server.Development,
		"base_dir", cfg.Server.BaseDir,
	)

	if err := srv.ListenAndServe(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := ctrl.Wait(ctx); err != nil {
		slog.Warn("background tasks still running", "error", err)
	}
	return nil
}

func loadConfig(configPath, propsPath string) (*config.Config, error) {
	b := config.NewBuilder()
	if path := config.Discover(configPath); path != "" {
		b.File(path)
	}
	if propsPath != "" {
		b.Props(propsPath)
	}
	cfg, err := b.Env(config.DefaultEnvPrefix).Build()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}
