package main

import (
	"context"
	"time"

	"PoseService/internal/config"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var channelFlags struct {
	host string
	port int
}

var channelCmd = &cobra.Command{
	Use:   "channel",
	Short: "Serve the pose protocol over websocket connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("host") {
			cfg.WSHost = channelFlags.host
		}
		if cmd.Flags().Changed("port") {
			cfg.WSPort = channelFlags.port
		}
		return runChannel(cmd)
	},
}

func init() {
	channelCmd.Flags().StringVar(&channelFlags.host, "host", "", "listen host (default $POSE_WS_HOST)")
	channelCmd.Flags().IntVar(&channelFlags.port, "port", 0, "listen port (default $POSE_WS_PORT)")
	rootCmd.AddCommand(channelCmd)
}

func runChannel(cmd *cobra.Command) error {
	ctx := cmd.Context()

	provider := config.NewEngineProvider(cfg, logger)
	sinks := config.OpenSinks(ctx, cfg, logger)
	defer sinks.Close()

	server, err := config.NewServer(
		config.WithFiber(config.NewFiber(cfg)),
		config.WithLogger(logger),
		config.WithConfig(cfg),
		config.WithValidator(validate),
		config.WithEngine(provider),
		config.WithSinks(sinks),
		config.WithMiddleware(),
		config.WithUtils(),
	)
	if err != nil {
		return err
	}
	server.RegisterHandler()

	ln, err := server.Listen()
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(ln)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.WithField("error", err.Error()).Error("Channel server stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err.Error()).Warn("Channel shutdown incomplete")
	}

	logger.Info("Channel transport stopped")
	return nil
}
