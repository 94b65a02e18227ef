package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/history/factory"
	"github.com/agentdeck/agentdeck/internal/logger"
	"github.com/agentdeck/agentdeck/internal/metrics"
	"github.com/agentdeck/agentdeck/internal/server"
	"github.com/agentdeck/agentdeck/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

const shutdownTimeout = 30 * time.Second

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agentdeck daemon",
		Long: `Start the daemon: one supervisor per configured worker kind, the HTTP
API, the app reverse proxy, and Prometheus metrics.

Example:
  agentdeck serve --config=/etc/agentdeck/agentdeck.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(globalFlags.ConfigPath)
		},
	}
}

func runServe(configPath string) error {
	fc := &config.FileConfig{}
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		fc = loaded
	} else {
		fc.ApplyDefaults()
	}

	log := logger.New(os.Stderr, logger.ParseLevel(fc.LogLevel))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	supers := make([]*supervisor.Supervisor, 0, len(fc.Supervisors))
	for _, sc := range fc.Supervisors {
		sc.Logger = log
		supers = append(supers, supervisor.New(sc))
	}

	if fc.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(fc.History.DSN)
		if err != nil {
			return fmt.Errorf("history sink: %w", err)
		}
		defer func() { _ = sink.Close() }()
		for _, s := range supers {
			s.SetHistorySinks(sink)
		}
	}

	srv := server.NewServer(fc.Listen, fc.BasePath, log, supers...)
	log.Info("daemon listening", "addr", fc.Listen, "base_path", fc.BasePath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, s := range supers {
		s.StopAll(ctx)
	}
	return srv.Close()
}
