// mobilityd is the mobility metrics daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtxerr/mobility/internal/config"
	"github.com/xtxerr/mobility/internal/engine"
	"github.com/xtxerr/mobility/internal/errors"
	"github.com/xtxerr/mobility/internal/handler"
	"github.com/xtxerr/mobility/internal/logging"
	"github.com/xtxerr/mobility/internal/server"
)

// Version is set at build time via ldflags
var Version = "dev"

var log = logging.Component("mobilityd")

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mobilityd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// CLI flags
	cfgPath := flag.String("config", "mobilityd.yaml", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	noTLS := flag.Bool("no-tls", false, "disable TLS")
	tlsCert := flag.String("tls-cert", "", "TLS certificate file")
	tlsKey := flag.String("tls-key", "", "TLS key file")
	backend := flag.String("store", "", "store backend: memory, duckdb, pebble (overrides config)")
	dataDir := flag.String("data-dir", "", "store data directory (overrides config)")
	platformVersion := flag.String("platform-version", "", "capability tier, e.g. 17.0 (overrides config)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	watch := flag.Bool("watch", false, "reload the logging section when the config file changes")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("mobilityd", Version)
		return nil
	}

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		cfg = config.DefaultConfig()
		*watch = false
	}

	// CLI overrides
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *noTLS {
		cfg.TLS.CertFile = ""
		cfg.TLS.KeyFile = ""
	}
	if *tlsCert != "" {
		cfg.TLS.CertFile = *tlsCert
	}
	if *tlsKey != "" {
		cfg.TLS.KeyFile = *tlsKey
	}
	if *backend != "" {
		cfg.Store.Backend = *backend
	}
	if *dataDir != "" {
		cfg.Store.DataDir = *dataDir
	}
	if *platformVersion != "" {
		cfg.Platform.Version = *platformVersion
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if err := config.Validate(cfg); err != nil {
		return err
	}

	logging.Init(cfg.LogLevel(), cfg.Logging.JSON)
	log.Info("starting", "version", Version, "config", *cfgPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// =========================================================================
	// Sample store
	// =========================================================================

	st, err := cfg.OpenStore(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("store close", "error", err)
		}
	}()

	log.Info("store opened",
		"backend", cfg.Store.Backend,
		"data_dir", cfg.Store.DataDir,
		"platform", cfg.Platform.Name+" "+cfg.Platform.Version)

	// =========================================================================
	// Engine, handler, server
	// =========================================================================

	eng := engine.New(st, cfg.EngineOptions())
	h := handler.NewHandler(eng, cfg.HandlerOptions())
	srv := server.New(cfg.ServerConfig(h))

	if err := srv.Listen(); err != nil {
		return err
	}

	if *watch {
		watcher := config.NewWatcher(*cfgPath, config.DefaultWatchInterval, func(next *config.Config, err error) {
			if err != nil {
				return
			}
			logging.Init(next.LogLevel(), next.Logging.JSON)
		})
		watcher.Start()
		defer watcher.Stop()
	}

	// =========================================================================
	// Signal handling and graceful shutdown
	// =========================================================================

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve()
	}()

	select {
	case <-ctx.Done():
		log.Info("signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	srv.Shutdown()

	stats := srv.Stats()
	es := eng.Stats()
	log.Info("stopped",
		"requests", stats.Requests,
		"rejected", stats.Rejected,
		"queries", es.Queries)
	return nil
}
