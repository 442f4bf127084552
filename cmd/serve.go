package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/studioml/beacon/api"
	"github.com/studioml/beacon/internal/config"
	"github.com/studioml/beacon/internal/log"
	"github.com/studioml/beacon/internal/telemetry"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve [addr]",
	Short: "Start the telemetry guard HTTP server",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (host:port), overrides BEACON_ADDR")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	if len(args) > 0 {
		addr = args[0]
	}
	if err := validateAddr(addr); err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(log.Config{JSON: !cfg.Dev})
	logger.Info("starting beacon", "version", AppVersion, "addr", addr)

	env := "prod"
	if cfg.Dev {
		env = "dev"
	}
	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.Dev,
		Environment: env,
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if shutdownErr := shutdown(context.Background()); shutdownErr != nil {
			logger.Warn("telemetry shutdown error", "error", shutdownErr)
		}
	}()

	srv, err := api.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx, addr)
}
