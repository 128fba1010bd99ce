package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/zavora-ai/imagegen/core/controlplane/gateway"
	"github.com/zavora-ai/imagegen/core/infra/buildinfo"
	"github.com/zavora-ai/imagegen/core/infra/config"
	"github.com/zavora-ai/imagegen/core/infra/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	envFile     string
	configPath  string
	httpAddr    string
	metricsAddr string
	dataDir     string
	remoteTier  string
	version     bool
}

func parseFlags(args []string) (*flags, *pflag.FlagSet, error) {
	f := &flags{}
	fs := pflag.NewFlagSet("imagegen-api-gateway", pflag.ContinueOnError)
	fs.StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	fs.StringVar(&f.configPath, "config", "", "YAML overlay (overrides CONFIG_PATH)")
	fs.StringVar(&f.httpAddr, "http-addr", "", "API listen address (overrides GATEWAY_HTTP_ADDR)")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "metrics listen address (overrides GATEWAY_METRICS_ADDR)")
	fs.StringVar(&f.dataDir, "data-dir", "", "local tier root (overrides DATA_DIR)")
	fs.StringVar(&f.remoteTier, "remote-tier", "", "gcs, redis or none (overrides REMOTE_TIER)")
	fs.BoolVar(&f.version, "version", false, "print build information and exit")
	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	return f, fs, nil
}

// apply overrides cfg with the flags given on the command line.
func (f *flags) apply(fs *pflag.FlagSet, cfg *config.Config) error {
	if fs.Changed("config") {
		cfg.ConfigPath = f.configPath
		if err := config.ApplyOverlayFile(cfg, f.configPath); err != nil {
			return err
		}
	}
	if fs.Changed("http-addr") {
		cfg.HTTPAddr = f.httpAddr
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if fs.Changed("data-dir") {
		cfg.DataDir = f.dataDir
	}
	if fs.Changed("remote-tier") {
		cfg.RemoteTier = f.remoteTier
	}
	return nil
}

func run(args []string) error {
	f, fs, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if f.version {
		fmt.Println(buildinfo.Info())
		return nil
	}

	// A missing .env is normal outside local development.
	if err := godotenv.Load(f.envFile); err != nil && fs.Changed("env-file") {
		return fmt.Errorf("load %s: %w", f.envFile, err)
	}

	buildinfo.Log("imagegen-api-gateway")
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := f.apply(fs, cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logging.Info("imagegen-api-gateway", "starting", "http", cfg.HTTPAddr, "metrics", cfg.MetricsAddr, "remote_tier", cfg.RemoteTier, "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return gateway.Run(ctx, cfg)
}
