// Command dwnd serves the DWN event stream and blob store over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/config"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/eventstream"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/gateway"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/logging"
)

const shutdownTimeout = 15 * time.Second

type flags struct {
	configPath string
	projectID  string
	listenAddr string
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "Path to the YAML config (default ~/.dwn/dwnd.yaml when present)")
	flag.StringVar(&f.projectID, "project", "", "Broker project id (overrides config and DWN_PROJECT_ID)")
	flag.StringVar(&f.listenAddr, "listen", "", "HTTP listen address (overrides config)")
	flag.Parse()
	return f
}

// loadConfig resolves the config path, loads it and applies flag overrides.
func loadConfig(f flags) (*config.Config, string, error) {
	path := f.configPath
	if path == "" {
		p, exists, err := config.DefaultPath("dwnd.yaml")
		if err == nil && exists {
			path = p
		}
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, path, err
	}
	if f.projectID != "" {
		cfg.Stream.ProjectID = f.projectID
	}
	if f.listenAddr != "" {
		cfg.Gateway.ListenAddr = f.listenAddr
	}
	return cfg, path, nil
}

func main() {
	f := parseFlags()

	cfg, path, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		fmt.Fprintf(os.Stderr, "\nConfiguration errors (%d):\n", len(errs))
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "  - %s\n", e)
		}
		fmt.Fprintf(os.Stderr, "\nPlease fix the configuration and try again.\n")
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		OutputFile:   cfg.Logging.OutputFile,
		EnableColors: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.ComponentInfo(logging.ComponentGeneral, "Loaded configuration",
		zap.String("path", path),
		zap.String("project_id", cfg.Stream.ProjectID),
		zap.String("broker", cfg.Broker.Backend),
		zap.String("datastore", cfg.DataStore.Backend),
	)

	if err := run(cfg, logger); err != nil {
		logger.ComponentError(logging.ComponentGeneral, "dwnd exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.ColoredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory, err := brokerFactory(cfg.Broker, logger.For(logging.ComponentBroker))
	if err != nil {
		return err
	}
	stream := eventstream.New(eventstream.FromConfig(cfg.Stream),
		eventstream.WithBrokerFactory(factory),
		eventstream.WithLogger(logger.For(logging.ComponentStream)),
	)
	if err := stream.Open(ctx); err != nil {
		return fmt.Errorf("failed to open event stream: %w", err)
	}

	store, err := buildDataStore(ctx, cfg.DataStore, logger.For(logging.ComponentDataStore))
	if err != nil {
		return err
	}
	if err := store.Open(ctx); err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}

	g, err := gateway.New(gateway.ConfigFrom(cfg.Gateway), logger, stream, store)
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- g.ListenAndServe() }()

	select {
	case <-ctx.Done():
		logger.ComponentInfo(logging.ComponentGeneral, "Shutdown signal received")
	case err = <-serveErr:
		if err != nil {
			logger.ComponentError(logging.ComponentGateway, "HTTP server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if serr := g.Shutdown(shutdownCtx); serr != nil {
		logger.ComponentWarn(logging.ComponentGateway, "HTTP server shutdown error", zap.Error(serr))
	}
	if serr := stream.Close(shutdownCtx); serr != nil {
		logger.ComponentWarn(logging.ComponentStream, "Event stream close error", zap.Error(serr))
	}
	if serr := store.Close(shutdownCtx); serr != nil {
		logger.ComponentWarn(logging.ComponentDataStore, "Blob store close error", zap.Error(serr))
	}

	logger.ComponentInfo(logging.ComponentGeneral, "dwnd shutdown complete")
	return err
}
