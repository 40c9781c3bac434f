package main

import (
	"time"

	"PoseService/internal/config"
	"PoseService/internal/entity"
	"PoseService/internal/mailbox"

	"github.com/spf13/cobra"
)

var mailboxFlags struct {
	commandDir   string
	responseDir  string
	pollInterval time.Duration
}

var mailboxCmd = &cobra.Command{
	Use:   "mailbox",
	Short: "Serve requests dropped as JSON files into the command directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("command-dir") {
			cfg.CommandDir = mailboxFlags.commandDir
		}
		if cmd.Flags().Changed("response-dir") {
			cfg.ResponseDir = mailboxFlags.responseDir
		}
		if cmd.Flags().Changed("poll-interval") {
			cfg.PollInterval = mailboxFlags.pollInterval
		}
		return runMailbox(cmd)
	},
}

func init() {
	mailboxCmd.Flags().StringVar(&mailboxFlags.commandDir, "command-dir", "", "request directory (default $POSE_COMMAND_DIR)")
	mailboxCmd.Flags().StringVar(&mailboxFlags.responseDir, "response-dir", "", "response directory (default $POSE_RESPONSE_DIR)")
	mailboxCmd.Flags().DurationVar(&mailboxFlags.pollInterval, "poll-interval", 0, "scan interval (default $POSE_POLL_INTERVAL)")
	rootCmd.AddCommand(mailboxCmd)
}

func runMailbox(cmd *cobra.Command) error {
	ctx := cmd.Context()

	provider := config.NewEngineProvider(cfg, logger)
	sinks := config.OpenSinks(ctx, cfg, logger)
	defer sinks.Close()

	mb := mailbox.New(
		mailbox.Config{
			CommandDir:   cfg.CommandDir,
			ResponseDir:  cfg.ResponseDir,
			PIDFile:      cfg.PIDFile,
			PollInterval: cfg.PollInterval,
		},
		config.SessionFactory(cfg, logger, provider, sinks, entity.TransportMailbox),
		provider.Available(),
		logger,
		config.DispatcherOptions(cfg, logger, entity.TransportMailbox)...,
	)

	if err := mb.Setup(); err != nil {
		mb.Cleanup()
		return err
	}
	defer mb.Cleanup()

	logger.WithField("engine_available", provider.Available()).Info("Mailbox transport started")

	if err := mb.Run(ctx); err != nil {
		logger.WithField("error", err.Error()).Error("Mailbox loop stopped")
		return nil
	}

	logger.Info("Shutdown signal received")
	return nil
}
