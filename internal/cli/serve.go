package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Dearborn-Open-AI/neural-structured-learning/internal/config"
	"github.com/Dearborn-Open-AI/neural-structured-learning/internal/logger"
	"github.com/Dearborn-Open-AI/neural-structured-learning/internal/observability"
	"github.com/Dearborn-Open-AI/neural-structured-learning/pkg/gateway"
	"github.com/Dearborn-Open-AI/neural-structured-learning/pkg/kbservice"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the knowledge bank server",
	Long: `Run the knowledge bank server in the foreground.
The server accepts JSON-RPC requests on /rpc and serves Prometheus metrics
on /metrics until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.File = cfg.Logging.File
	lg, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer lg.Close()
	log := lg.GetZerolog()

	observability.EnsureRegistered()

	service := kbservice.NewService(log)
	defer service.Close()

	server, err := gateway.NewServer(gateway.Config{
		Port:         cfg.Gateway.Port,
		Host:         cfg.Gateway.Host,
		SharedSecret: cfg.Gateway.SharedSecret,
		Service:      service,
		Logger:       log,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	var exporter *kbservice.SnapshotExporter
	if cfg.Snapshot.Enabled {
		exporter, err = kbservice.NewSnapshotExporter(service, cfg.Snapshot.Directory, cfg.Snapshot.Schedule, log)
		if err != nil {
			return fmt.Errorf("failed to create snapshot exporter: %w", err)
		}
		exporter.Start()
		log.Info().Str("schedule", cfg.Snapshot.Schedule).
			Str("directory", cfg.Snapshot.Directory).
			Msg("Periodic snapshots enabled")
	}

	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	log.Info().
		Str("host", cfg.Gateway.Host).
		Int("port", cfg.Gateway.Port).
		Msg("Knowledge bank server running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	if exporter != nil {
		exporter.Stop()
	}
	if err := server.Stop(); err != nil {
		return fmt.Errorf("failed to stop gateway: %w", err)
	}
	return nil
}
