package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/fsstore/internal/logger"
	"github.com/marmos91/fsstore/pkg/backend"
	"github.com/marmos91/fsstore/pkg/config"
	"github.com/marmos91/fsstore/pkg/server"
	"github.com/spf13/pflag"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

const usage = `fsstore - filesystem-backed key/value storage

Usage:
  fsstore <command> [flags]

Commands:
  init      Write a sample configuration file
  start     Open the configured storages and serve them
  version   Print version information

Run 'fsstore <command> --help' for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(os.Args[2:])
	case "start":
		err = runStart(os.Args[2:])
	case "version":
		fmt.Printf("fsstore %s (commit %s)\n", version, commit)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runInit(args []string) error {
	fs := pflag.NewFlagSet("init", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "Path of the config file to write (default: "+config.GetDefaultConfigPath()+")")
	force := fs.BoolP("force", "f", false, "Overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := *configPath
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if err := config.InitConfigToPath(path, *force); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", path)
	return nil
}

func runStart(args []string) error {
	fs := pflag.NewFlagSet("start", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "Path to the config file (default: "+config.GetDefaultConfigPath()+")")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	if err := configureLogging(cfg.Logging); err != nil {
		return err
	}

	backend.Version = version
	logger.Info("fsstore %s starting", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics must be initialized before storages are created so they
	// record into the registry.
	metricsResult := config.InitializeMetrics(cfg)

	b, err := config.NewBackend(cfg)
	if err != nil {
		return err
	}

	reg, err := config.InitializeRegistry(ctx, cfg, b)
	if err != nil {
		return err
	}

	srv := server.New(reg, server.Config{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Metrics:         metricsResult.Server,
	})

	for _, a := range config.CreateAdapters(cfg, metricsResult.NATSMetrics) {
		if err := srv.AddAdapter(a); err != nil {
			_ = reg.CloseAll(context.Background())
			return err
		}
	}

	logger.Info("Server is running. Press Ctrl+C to stop.")
	return srv.Serve(ctx)
}

func configureLogging(cfg config.LoggingConfig) error {
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)
	if err := logger.SetOutput(cfg.Output); err != nil {
		return fmt.Errorf("failed to configure log output: %w", err)
	}
	return nil
}
