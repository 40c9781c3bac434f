package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"PoseService/internal/config"
	"PoseService/pkg/log"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const Version = "0.3.0"

var (
	logger    *logrus.Logger
	cfg       *config.Config
	validate  = validator.New()
	engineCmd string
)

var rootCmd = &cobra.Command{
	Use:           "posed",
	Short:         "Local pose-estimation service over a file mailbox or a websocket channel",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = log.NewLogger()
		config.LoadEnv(logger)

		loaded, err := config.Load(validate)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("engine") {
			loaded.EngineCommand = engineCmd
		}
		cfg = loaded
		return nil
	},
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the command context; the
// serving commands treat that as a clean shutdown and exit 0.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&engineCmd, "engine", "", "pose worker executable, \"none\" to run without an engine (default $POSE_ENGINE_COMMAND)")
}
